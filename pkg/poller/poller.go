package poller

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shpitdev/contact-reveal/pkg/contact"
	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
	"github.com/shpitdev/contact-reveal/pkg/provider"
)

// JobAPI is the provider surface the poller drives.
type JobAPI interface {
	CreateJob(ctx context.Context, cred credential.Credential, target string) (provider.JobRef, error)
	GetJob(ctx context.Context, cred credential.Credential, id string) (provider.Job, error)
}

// Recorder observes polling (metrics).
type Recorder interface {
	Poll(status provider.Status)
	JobFinished(result string, d time.Duration)
	BillingWarning()
}

type Options struct {
	// FastInterval is used for the first FastPolls status checks.
	FastInterval time.Duration
	FastPolls    int
	// SteadyInterval is used after the fast phase.
	SteadyInterval time.Duration
	// MaxWait bounds one job from creation to terminal state.
	MaxWait time.Duration
	// MaxPollErrors is how many consecutive transient poll errors are tolerated.
	MaxPollErrors int

	Logger   logrus.FieldLogger
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.FastInterval <= 0 {
		o.FastInterval = 500 * time.Millisecond
	}
	if o.FastPolls < 0 {
		o.FastPolls = 0
	} else if o.FastPolls == 0 {
		o.FastPolls = 6
	}
	if o.SteadyInterval <= 0 {
		o.SteadyInterval = 3 * time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 180 * time.Second
	}
	if o.MaxPollErrors <= 0 {
		o.MaxPollErrors = 3
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	return o
}

// Outcome is the result of one successful reveal.
type Outcome struct {
	Target  string
	JobID   string
	Contact *contact.Contact

	// BillingWarning is set when the provider flagged the job failed for a
	// billing reason but still returned usable data.
	BillingWarning bool

	Polls   int
	Credits *float64
}

func (o Outcome) CreditHint() *float64 { return o.Credits }

// Poller runs create → poll → normalize for a single credential.
type Poller struct {
	api  JobAPI
	opts Options
}

func New(api JobAPI, opts Options) *Poller {
	return &Poller{api: api, opts: opts.withDefaults()}
}

// Interval returns the wait before poll number n (zero-based).
func (p *Poller) Interval(n int) time.Duration {
	if n < p.opts.FastPolls {
		return p.opts.FastInterval
	}
	return p.opts.SteadyInterval
}

// Reveal creates a job for target and waits for its terminal state.
func (p *Poller) Reveal(ctx context.Context, cred credential.Credential, target string) (Outcome, error) {
	start := time.Now()
	log := p.opts.Logger.WithField("credential", cred.Index())

	ref, err := p.api.CreateJob(ctx, cred, target)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Target: target, JobID: ref.ID, Credits: ref.Credits}
	log = log.WithField("job_id", ref.ID)

	budget, cancel := context.WithTimeout(ctx, p.opts.MaxWait)
	defer cancel()

	pollErrs := 0
	var extraWait time.Duration
	for {
		wait := p.Interval(out.Polls)
		if extraWait > wait {
			wait = extraWait
		}
		extraWait = 0
		if err := sleep(budget, wait); err != nil {
			return out, p.stopped(ctx, out, start)
		}

		job, err := p.api.GetJob(budget, cred, ref.ID)
		out.Polls++
		if err != nil {
			if ctx.Err() != nil || budget.Err() != nil {
				return out, p.stopped(ctx, out, start)
			}
			if !transientPollError(err) {
				p.finish("error", start)
				return out, err
			}
			pollErrs++
			if pollErrs > p.opts.MaxPollErrors {
				p.finish("error", start)
				return out, rerr.With(err, rerr.Field("poll_errors", pollErrs))
			}
			extraWait = rerr.RetryAfter(err)
			log.WithField("poll_errors", pollErrs).Debug("transient poll error")
			continue
		}
		pollErrs = 0

		if p.opts.Recorder != nil {
			p.opts.Recorder.Poll(job.Status)
		}
		if job.Credits != nil {
			out.Credits = job.Credits
		}

		switch job.Status {
		case provider.StatusComplete:
			return p.complete(out, job, start)
		case provider.StatusFailed:
			return p.failed(log, out, job, start)
		}
	}
}

func (p *Poller) stopped(ctx context.Context, out Outcome, start time.Time) error {
	if err := ctx.Err(); err != nil {
		p.finish("canceled", start)
		return err
	}
	p.finish("timeout", start)
	return rerr.New(rerr.CodeTimeout, "job did not finish in time",
		rerr.Field("job_id", out.JobID),
		rerr.Field("polls", out.Polls),
		rerr.Field("max_wait", p.opts.MaxWait.String()),
	)
}

func (p *Poller) complete(out Outcome, job provider.Job, start time.Time) (Outcome, error) {
	c, err := contact.Parse(job.Result)
	if err != nil {
		p.finish("error", start)
		return out, rerr.Wrap(err, rerr.CodeResponseInvalid, "job result is not valid JSON", rerr.Field("job_id", out.JobID))
	}
	if !c.HasUsableData() {
		p.finish("no_data", start)
		return out, rerr.New(rerr.CodeNoUsableData, "job completed without contact data", rerr.Field("job_id", out.JobID))
	}
	out.Contact = c
	p.finish("complete", start)
	return out, nil
}

func (p *Poller) failed(log logrus.FieldLogger, out Outcome, job provider.Job, start time.Time) (Outcome, error) {
	reason := job.Reason
	fields := []rerr.Attr{rerr.Field("job_id", out.JobID), rerr.Field("reason", reason)}

	if isBillingReason(reason) {
		if c, err := contact.Parse(job.Result); err == nil && c.HasUsableData() {
			out.Contact = c
			out.BillingWarning = true
			log.WithField("reason", reason).Warn("job flagged failed for billing but returned data; treating as complete")
			if p.opts.Recorder != nil {
				p.opts.Recorder.BillingWarning()
			}
			p.finish("complete_billing_warning", start)
			return out, nil
		}
		p.finish("failed", start)
		if job.AccountLevel || strings.HasPrefix(reason, "account") {
			return out, rerr.New(rerr.CodeAccountBillingIssue, "provider account billing issue", fields...)
		}
		return out, rerr.New(rerr.CodeCredentialExhausted, "provider credits exhausted", fields...)
	}

	p.finish("failed", start)
	switch {
	case containsAny(reason, "not_found", "notfound", "no_match", "does_not_exist"):
		return out, rerr.New(rerr.CodeTargetNotFound, "profile not found", fields...)
	case containsAny(reason, "private", "inaccessible", "restricted", "forbidden"):
		return out, rerr.New(rerr.CodeTargetInaccessible, "profile is not accessible", fields...)
	case containsAny(reason, "plan", "no_data", "no_contact", "empty"):
		return out, rerr.New(rerr.CodeNoUsableData, "no contact data under current plan", fields...)
	default:
		return out, rerr.New(rerr.CodeUpstreamFailure, "job failed", fields...)
	}
}

func (p *Poller) finish(result string, start time.Time) {
	if p.opts.Recorder != nil {
		p.opts.Recorder.JobFinished(result, time.Since(start))
	}
}

func isBillingReason(reason string) bool {
	return containsAny(reason, "billing", "credit", "insufficient", "quota", "payment")
}

func transientPollError(err error) bool {
	switch rerr.CodeOf(err) {
	case rerr.CodeRateLimited, rerr.CodeUpstreamFailure, rerr.CodeTimeout, rerr.CodeResponseInvalid:
		return true
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
