package failover

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

// DefaultCooldown applies to rate-limited credentials when the provider
// sends no Retry-After.
const DefaultCooldown = 30 * time.Second

// CreditHinter is implemented by results that carry a remaining-credit hint.
type CreditHinter interface {
	CreditHint() *float64
}

// Outcome is the classification of one attempt.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeCredentialFailure Outcome = "credential_failure"
	OutcomePoolFatal         Outcome = "pool_fatal"
	OutcomeItemTerminal      Outcome = "item_terminal"
	OutcomeCanceled          Outcome = "canceled"
)

// Classify maps an attempt error onto an Outcome. Unclassified errors count
// against the credential.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case rerr.IsCanceled(err):
		return OutcomeCanceled
	case rerr.IsPoolFatal(err):
		return OutcomePoolFatal
	case rerr.IsRateLimited(err):
		return OutcomeRateLimited
	case rerr.IsItemTerminal(err):
		return OutcomeItemTerminal
	default:
		return OutcomeCredentialFailure
	}
}

// Recorder observes attempts (metrics).
type Recorder interface {
	Attempt(op string, outcome Outcome, d time.Duration)
}

type Options struct {
	Cooldown time.Duration
	Logger   logrus.FieldLogger
	Recorder Recorder
}

// Executor runs one logical operation against the credential pool, moving
// to the next candidate when a credential fails.
type Executor struct {
	tracker  *credential.Tracker
	cooldown time.Duration
	log      logrus.FieldLogger
	recorder Recorder
}

func New(tracker *credential.Tracker, opts Options) *Executor {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Executor{
		tracker:  tracker,
		cooldown: opts.Cooldown,
		log:      log,
		recorder: opts.Recorder,
	}
}

func (e *Executor) Tracker() *credential.Tracker { return e.tracker }

// CooldownFor returns the provider hint or the configured cooldown.
func (e *Executor) CooldownFor(err error) time.Duration {
	if d := rerr.RetryAfter(err); d > 0 {
		return d
	}
	return e.cooldown
}

// Record reports one attempt to the recorder, if any.
func (e *Executor) Record(name string, outcome Outcome, d time.Duration) {
	if e.recorder != nil {
		e.recorder.Attempt(name, outcome, d)
	}
}

// Execute tries op with each eligible credential in preference order until
// one succeeds or a pool-wide condition stops the loop.
func Execute[T any](
	ctx context.Context,
	e *Executor,
	name string,
	op func(context.Context, credential.Credential) (T, error),
) (T, error) {
	var zero T

	candidates := e.tracker.Candidates()
	if len(candidates) == 0 {
		return zero, rerr.New(rerr.CodeNoHealthyCredentials, "no healthy credentials available", rerr.FieldOp(name))
	}

	var lastErr error
	for _, cred := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		log := e.log.WithFields(logrus.Fields{"op": name, "credential": cred.Index()})
		start := time.Now()
		out, err := op(ctx, cred)
		outcome := Classify(err)
		e.Record(name, outcome, time.Since(start))

		switch outcome {
		case OutcomeSuccess:
			var hint *float64
			if h, ok := any(out).(CreditHinter); ok {
				hint = h.CreditHint()
			}
			e.tracker.MarkSuccess(cred, hint)
			return out, nil

		case OutcomeCanceled:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			return zero, err

		case OutcomePoolFatal:
			e.tracker.MarkFailure(cred)
			log.WithField("code", rerr.CodeOf(err)).Warn("aborting failover: " + e.tracker.Pool().Redact(err.Error()))
			return zero, err

		case OutcomeRateLimited:
			d := e.CooldownFor(err)
			e.tracker.SetCooldown(cred, d)
			log.WithField("cooldown", d.String()).Info("credential rate limited")
			lastErr = err

		case OutcomeItemTerminal:
			return zero, err

		default:
			e.tracker.MarkFailure(cred)
			log.WithField("code", rerr.CodeOf(err)).Warn("attempt failed, trying next credential: " + e.tracker.Pool().Redact(err.Error()))
			lastErr = err
		}
	}

	if lastErr != nil {
		return zero, lastErr
	}
	return zero, rerr.New(rerr.CodeAllCredentialsFailed, "all credentials failed", rerr.FieldOp(name))
}
