package app

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
	"github.com/shpitdev/contact-reveal/pkg/failover"
	"github.com/shpitdev/contact-reveal/pkg/poller"
)

// tracedRevealer logs every attempt with its per-target attempt number.
type tracedRevealer struct {
	next  Revealer
	log   logrus.FieldLogger
	pool  *credential.Pool
	runID string

	mu       sync.Mutex
	attempts map[string]int
}

func newTracedRevealer(next Revealer, log logrus.FieldLogger, pool *credential.Pool, runID string) *tracedRevealer {
	return &tracedRevealer{
		next:     next,
		log:      log,
		pool:     pool,
		runID:    runID,
		attempts: make(map[string]int),
	}
}

func (t *tracedRevealer) Reveal(ctx context.Context, cred credential.Credential, target string) (poller.Outcome, error) {
	attempt := t.nextAttempt(target)
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	log := t.log.WithFields(logrus.Fields{
		"run_id":     t.runID,
		"target":     target,
		"attempt":    attempt,
		"credential": cred.Index(),
	})
	log.WithField("deadline_in", deadlineIn).Debug("reveal request")

	start := time.Now()
	out, err := t.next.Reveal(ctx, cred, target)
	log = log.WithFields(logrus.Fields{
		"duration": time.Since(start).Round(time.Millisecond).String(),
		"polls":    out.Polls,
		"job_id":   out.JobID,
	})

	if err != nil {
		log.WithFields(logrus.Fields{
			"status":  "error",
			"code":    rerr.CodeOf(err),
			"outcome": failover.Classify(err),
		}).Info("reveal response: " + t.pool.Redact(err.Error()))
		return out, err
	}
	log.WithFields(logrus.Fields{
		"status":          "ok",
		"billing_warning": out.BillingWarning,
	}).Info("reveal response")
	return out, nil
}

func (t *tracedRevealer) nextAttempt(target string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[target]++
	return t.attempts[target]
}
