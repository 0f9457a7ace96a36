package dispatch

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
	"github.com/shpitdev/contact-reveal/pkg/failover"
)

const opName = "dispatch"

type Options struct {
	// ConcurrencyPerCredential is the number of workers bound to each credential.
	ConcurrencyPerCredential int

	// CooldownWaitSlice caps a single sleep of a worker whose credential is
	// cooling down, so it notices cancellation and health changes.
	CooldownWaitSlice time.Duration

	// MaxAttempts bounds how often one item may be requeued after a failed
	// attempt. Rate-limited attempts are not counted here.
	MaxAttempts int

	// MaxRateLimited bounds requeues caused by provider throttling, which
	// says nothing about the item itself.
	MaxRateLimited int

	Logger   logrus.FieldLogger
	Recorder Recorder
}

// Recorder observes requeues (metrics).
type Recorder interface {
	Requeued(reason failover.Outcome)
}

func (o Options) withDefaults() Options {
	if o.ConcurrencyPerCredential <= 0 {
		o.ConcurrencyPerCredential = 2
	}
	if o.CooldownWaitSlice <= 0 {
		o.CooldownWaitSlice = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.MaxRateLimited <= 0 {
		o.MaxRateLimited = 64
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	return o
}

// Result holds the output for one input item.
type Result[T any] struct {
	Item     string
	Value    T
	Err      error
	Attempts int
}

// Dispatcher spreads a batch across credentials, each worker bound to one
// credential and pulling from a shared queue.
type Dispatcher struct {
	exec *failover.Executor
	opts Options
}

func New(exec *failover.Executor, opts Options) *Dispatcher {
	return &Dispatcher{exec: exec, opts: opts.withDefaults()}
}

// run is the mutable state of one Run call.
type run[T any] struct {
	mu        sync.Mutex
	results   map[string]Result[T]
	attempts  map[string]int
	failed    map[string]int
	throttled map[string]int
	lastErr   map[string]error
	completed int
	total     int
	fatal     error

	onProgress func(completed, total int)
}

func (r *run[T]) record(res Result[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[res.Item]; ok {
		return
	}
	res.Attempts = r.attempts[res.Item]
	r.results[res.Item] = res
	r.completed++
	if r.onProgress != nil {
		r.onProgress(r.completed, r.total)
	}
}

// attempt counts one call for item and returns how many calls ended with
// the same kind of outcome: throttled or otherwise failed.
func (r *run[T]) attempt(item string, err error, outcome failover.Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[item]++
	if err == nil {
		return 0
	}
	r.lastErr[item] = err
	if outcome == failover.OutcomeRateLimited {
		r.throttled[item]++
		return r.throttled[item]
	}
	r.failed[item]++
	return r.failed[item]
}

func (r *run[T]) setFatal(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal != nil {
		return false
	}
	r.fatal = err
	return true
}

func (r *run[T]) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Run processes every distinct item and returns one result per item. The
// error is non-nil only for pool-wide conditions (no healthy credentials,
// account billing, network, cancellation); the map is complete regardless.
func Run[T any](
	ctx context.Context,
	d *Dispatcher,
	items []string,
	op func(context.Context, credential.Credential, string) (T, error),
	onProgress func(completed, total int),
) (map[string]Result[T], error) {
	unique := dedupe(items)
	st := &run[T]{
		results:    make(map[string]Result[T], len(unique)),
		attempts:   make(map[string]int, len(unique)),
		failed:     make(map[string]int),
		throttled:  make(map[string]int),
		lastErr:    make(map[string]error),
		total:      len(unique),
		onProgress: onProgress,
	}
	if len(unique) == 0 {
		return st.results, nil
	}

	tracker := d.exec.Tracker()
	runID := uuid.NewString()
	log := d.opts.Logger.WithField("run_id", runID)

	creds := workerCredentials(tracker)
	if len(creds) == 0 {
		err := rerr.New(rerr.CodeNoHealthyCredentials, "no healthy credentials available", rerr.FieldOp(opName))
		for _, item := range unique {
			st.record(Result[T]{Item: item, Err: err})
		}
		return st.results, err
	}

	log.WithFields(logrus.Fields{
		"items":       len(unique),
		"credentials": len(creds),
		"workers":     len(creds) * d.opts.ConcurrencyPerCredential,
	}).Info("dispatch started")

	q := newQueue(unique)
	g, gctx := errgroup.WithContext(ctx)
	for _, cred := range creds {
		cred := cred
		for w := 0; w < d.opts.ConcurrencyPerCredential; w++ {
			w := w
			g.Go(func() error {
				wlog := log.WithFields(logrus.Fields{"credential": cred.Index(), "worker": w})
				worker(gctx, d, st, q, cred, op, wlog)
				return nil
			})
		}
	}
	_ = g.Wait()

	var leftoverErr error
	switch {
	case st.fatalErr() != nil:
		leftoverErr = st.fatalErr()
	case ctx.Err() != nil:
		leftoverErr = ctx.Err()
	default:
		leftoverErr = rerr.New(rerr.CodeNoHealthyCredentials, "no healthy credentials left for remaining items", rerr.FieldOp(opName))
	}
	leftover := q.drain()
	for _, item := range leftover {
		st.record(Result[T]{Item: item, Err: leftoverErr})
	}

	completed := func() int {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.completed
	}()
	log.WithFields(logrus.Fields{"completed": completed, "leftover": len(leftover)}).Info("dispatch finished")

	if err := st.fatalErr(); err != nil {
		return st.results, err
	}
	if err := ctx.Err(); err != nil {
		return st.results, err
	}
	if len(leftover) > 0 {
		return st.results, leftoverErr
	}
	return st.results, nil
}

func worker[T any](
	ctx context.Context,
	d *Dispatcher,
	st *run[T],
	q *queue,
	cred credential.Credential,
	op func(context.Context, credential.Credential, string) (T, error),
	log logrus.FieldLogger,
) {
	tracker := d.exec.Tracker()
	for {
		if ctx.Err() != nil {
			return
		}
		if !tracker.Healthy(cred) {
			log.Debug("credential unhealthy, worker exiting")
			return
		}
		if rem := tracker.CooldownRemaining(cred); rem > 0 {
			if rem > d.opts.CooldownWaitSlice {
				rem = d.opts.CooldownWaitSlice
			}
			if err := sleep(ctx, rem); err != nil {
				return
			}
			continue
		}

		item, ok := q.pop(ctx)
		if !ok {
			return
		}
		if !tracker.Eligible(cred) {
			q.done(item, true)
			continue
		}

		start := time.Now()
		val, err := op(ctx, cred, item)
		outcome := failover.Classify(err)
		d.exec.Record(opName, outcome, time.Since(start))

		switch outcome {
		case failover.OutcomeSuccess:
			st.attempt(item, nil, outcome)
			var hint *float64
			if h, ok := any(val).(failover.CreditHinter); ok {
				hint = h.CreditHint()
			}
			tracker.MarkSuccess(cred, hint)
			st.record(Result[T]{Item: item, Value: val})
			q.done(item, false)

		case failover.OutcomeCanceled:
			q.done(item, true)
			return

		case failover.OutcomeRateLimited:
			cd := d.exec.CooldownFor(err)
			tracker.SetCooldown(cred, cd)
			log.WithField("cooldown", cd.String()).Info("credential rate limited, requeueing item")
			requeueOrFail(d, st, q, item, err, outcome)

		case failover.OutcomeItemTerminal:
			st.attempt(item, err, outcome)
			st.record(Result[T]{Item: item, Err: err})
			q.done(item, false)

		case failover.OutcomePoolFatal:
			tracker.MarkFailure(cred)
			st.attempt(item, err, outcome)
			st.record(Result[T]{Item: item, Err: err})
			if st.setFatal(err) {
				log.WithField("code", rerr.CodeOf(err)).Error("pool-wide failure, stopping dispatch: " + tracker.Pool().Redact(err.Error()))
				q.stop()
			}
			q.done(item, false)
			return

		default:
			tracker.MarkFailure(cred)
			var other bool
			switch rerr.CodeOf(err) {
			case rerr.CodeCredentialExhausted, rerr.CodeInvalidCredential:
				other = tracker.AnyHealthy(cred)
			default:
				other = tracker.AnyHealthy()
			}
			log.WithField("code", rerr.CodeOf(err)).Warn("attempt failed: " + tracker.Pool().Redact(err.Error()))
			if !other {
				st.attempt(item, err, outcome)
				st.record(Result[T]{Item: item, Err: err})
				q.done(item, false)
				continue
			}
			requeueOrFail(d, st, q, item, err, outcome)
		}
	}
}

func requeueOrFail[T any](d *Dispatcher, st *run[T], q *queue, item string, err error, reason failover.Outcome) {
	limit := d.opts.MaxAttempts
	if reason == failover.OutcomeRateLimited {
		limit = d.opts.MaxRateLimited
	}
	if n := st.attempt(item, err, reason); n > limit {
		st.record(Result[T]{Item: item, Err: rerr.With(err, rerr.Field("attempts", n))})
		q.done(item, false)
		return
	}
	if d.opts.Recorder != nil {
		d.opts.Recorder.Requeued(reason)
	}
	q.done(item, true)
}

// workerCredentials returns every healthy credential, eligible ones first in
// preference order, then those cooling down.
func workerCredentials(tracker *credential.Tracker) []credential.Credential {
	out := tracker.Candidates()
	seen := make(map[int]struct{}, len(out))
	for _, c := range out {
		seen[c.Index()] = struct{}{}
	}
	for _, c := range tracker.Pool().ListAll() {
		if _, ok := seen[c.Index()]; ok {
			continue
		}
		if tracker.Healthy(c) {
			out = append(out, c)
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
