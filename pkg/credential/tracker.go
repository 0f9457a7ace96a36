package credential

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	DefaultFailureThreshold = 3
	DefaultRecheckInterval  = 5 * time.Minute
)

// Health is the per-credential eligibility state. Values returned by the
// Tracker are copies.
type Health struct {
	Index               int
	Healthy             bool
	ConsecutiveFailures int
	LastCheckedAt       time.Time

	// CreditBalance is an opportunistic hint used only to order candidates.
	CreditBalance   *float64
	CreditUpdatedAt time.Time

	CooldownUntil time.Time

	// Probation is set when an unhealthy credential is given another chance;
	// its next failure marks it unhealthy again.
	Probation bool
}

// InCooldown reports whether the cooldown window is still open at now.
func (h Health) InCooldown(now time.Time) bool {
	return !h.CooldownUntil.IsZero() && now.Before(h.CooldownUntil)
}

// Observer receives health transitions. Implementations must be safe for
// concurrent use.
type Observer interface {
	HealthChanged(index int, healthy bool)
	HealthyCount(n int)
}

type TrackerOptions struct {
	FailureThreshold int
	// RecheckInterval is how long a tripped credential stays out before it is
	// re-probated. It runs on the wall clock.
	RecheckInterval time.Duration
	Logger          logrus.FieldLogger
	Observer        Observer
}

func (o TrackerOptions) withDefaults() TrackerOptions {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.RecheckInterval <= 0 {
		o.RecheckInterval = DefaultRecheckInterval
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		o.Logger = l
	}
	return o
}

// entry pairs a credential's breaker with the hints the breaker does not
// track. healthy is the last state reported to the observer.
type entry struct {
	index   int
	breaker *gobreaker.TwoStepCircuitBreaker
	healthy bool

	failures        int
	lastCheckedAt   time.Time
	creditBalance   *float64
	creditUpdatedAt time.Time
	cooldownUntil   time.Time
}

type transition struct {
	index   int
	healthy bool
	msg     string
}

// Tracker is the single source of truth for credential eligibility. Each
// credential has a circuit breaker: closed is healthy, open is unhealthy and
// half-open is probation with a single trial.
type Tracker struct {
	pool *Pool
	opts TrackerOptions

	mu      sync.Mutex
	entries []*entry
	nowFunc func() time.Time
}

// NewTracker creates a tracker with every credential healthy.
func NewTracker(pool *Pool, opts TrackerOptions) *Tracker {
	opts = opts.withDefaults()
	t := &Tracker{
		pool:    pool,
		opts:    opts,
		entries: make([]*entry, pool.Count()),
		nowFunc: time.Now,
	}
	for i := range t.entries {
		t.entries[i] = &entry{index: i, breaker: t.newBreaker(i), healthy: true}
	}
	return t
}

func (t *Tracker) newBreaker(index int) *gobreaker.TwoStepCircuitBreaker {
	threshold := uint32(t.opts.FailureThreshold)
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        "credential#" + strconv.Itoa(index),
		MaxRequests: 1,
		Timeout:     t.opts.RecheckInterval,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
	})
}

// SetNowFunc overrides the time source for cooldowns, credit freshness and
// recency (for testing).
func (t *Tracker) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	t.nowFunc = fn
	t.mu.Unlock()
}

func (t *Tracker) Pool() *Pool { return t.pool }

func (t *Tracker) FailureThreshold() int { return t.opts.FailureThreshold }

// MarkSuccess resets the failure streak and optionally records a credit hint.
// A success reported for a tripped credential (an attempt that was already in
// flight) keeps it out until its recheck.
func (t *Tracker) MarkSuccess(c Credential, creditHint *float64) {
	t.mu.Lock()
	e, ok := t.entryLocked(c)
	if !ok {
		t.mu.Unlock()
		return
	}
	now := t.nowFunc()
	if record(e, true) {
		e.failures = 0
	}
	e.lastCheckedAt = now
	if creditHint != nil {
		v := *creditHint
		e.creditBalance = &v
		e.creditUpdatedAt = now
	}
	var events []transition
	events = t.syncLocked(e, events)
	healthy := t.healthyCountLocked()
	t.mu.Unlock()

	t.emit(events, healthy)
}

// MarkFailure extends the failure streak. The breaker trips once the
// threshold is reached, or on the first failure while on probation.
func (t *Tracker) MarkFailure(c Credential) {
	t.mu.Lock()
	e, ok := t.entryLocked(c)
	if !ok {
		t.mu.Unlock()
		return
	}
	if record(e, false) {
		e.failures++
		if e.breaker.State() == gobreaker.StateOpen {
			e.lastCheckedAt = t.nowFunc()
		}
	}
	var events []transition
	events = t.syncLocked(e, events)
	healthy := t.healthyCountLocked()
	t.mu.Unlock()

	t.emit(events, healthy)
}

// record reports an attempt outcome to the breaker. It returns false when
// the breaker refuses it: the credential is tripped, or its probation trial
// is already taken.
func record(e *entry, success bool) bool {
	done, err := e.breaker.Allow()
	if err != nil {
		return false
	}
	done(success)
	return true
}

// SetCooldown skips the credential for d without touching its health.
// An existing longer cooldown is kept.
func (t *Tracker) SetCooldown(c Credential, d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entryLocked(c)
	if !ok {
		return
	}
	until := t.nowFunc().Add(d)
	if until.After(e.cooldownUntil) {
		e.cooldownUntil = until
	}
}

// HealthyCandidates re-probates credentials whose recheck interval elapsed
// and returns those that are healthy and not cooling down, best first.
func (t *Tracker) HealthyCandidates() []Health {
	t.mu.Lock()
	events := t.syncAllLocked()
	now := t.nowFunc()
	out := make([]Health, 0, len(t.entries))
	for _, e := range t.entries {
		h := t.healthLocked(e)
		if h.Healthy && !h.InCooldown(now) {
			out = append(out, h)
		}
	}
	healthy := t.healthyCountLocked()
	t.sortLocked(out, now)
	t.mu.Unlock()

	t.emit(events, healthy)
	return out
}

// Candidates is HealthyCandidates resolved to credentials.
func (t *Tracker) Candidates() []Credential {
	hs := t.HealthyCandidates()
	out := make([]Credential, 0, len(hs))
	for _, h := range hs {
		if c, ok := t.pool.Get(h.Index); ok {
			out = append(out, c)
		}
	}
	return out
}

// SelectBest returns the preferred eligible credential.
func (t *Tracker) SelectBest() (Credential, bool) {
	cands := t.Candidates()
	if len(cands) == 0 {
		return Credential{}, false
	}
	return cands[0], true
}

// Eligible reports healthy and not cooling down.
func (t *Tracker) Eligible(c Credential) bool {
	h, ok := t.state(c)
	return ok && h.Healthy && !h.InCooldown(t.now())
}

func (t *Tracker) Healthy(c Credential) bool {
	h, ok := t.state(c)
	return ok && h.Healthy
}

// CooldownRemaining returns zero when the credential is not cooling down.
func (t *Tracker) CooldownRemaining(c Credential) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entryLocked(c)
	if !ok {
		return 0
	}
	now := t.nowFunc()
	if e.cooldownUntil.IsZero() || !now.Before(e.cooldownUntil) {
		return 0
	}
	return e.cooldownUntil.Sub(now)
}

// AnyHealthy reports whether a healthy credential other than the excluded
// ones exists. Cooldown does not matter here: a cooling credential will
// pick work up again once the window closes.
func (t *Tracker) AnyHealthy(except ...Credential) bool {
	t.mu.Lock()
	events := t.syncAllLocked()
	found := false
	for _, e := range t.entries {
		if !e.healthy || excluded(e.index, except) {
			continue
		}
		found = true
		break
	}
	healthy := t.healthyCountLocked()
	t.mu.Unlock()

	t.emit(events, healthy)
	return found
}

func excluded(index int, except []Credential) bool {
	for _, c := range except {
		if c.Index() == index {
			return true
		}
	}
	return false
}

// State returns a copy of the credential's health.
func (t *Tracker) State(c Credential) Health {
	h, ok := t.state(c)
	if !ok {
		return Health{Index: c.Index()}
	}
	return h
}

func (t *Tracker) state(c Credential) (Health, bool) {
	t.mu.Lock()
	e, ok := t.entryLocked(c)
	if !ok {
		t.mu.Unlock()
		return Health{}, false
	}
	events := t.syncLocked(e, nil)
	h := t.healthLocked(e)
	healthy := t.healthyCountLocked()
	t.mu.Unlock()

	t.emit(events, healthy)
	return h, true
}

func (t *Tracker) now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nowFunc()
}

func (t *Tracker) entryLocked(c Credential) (*entry, bool) {
	i := c.Index()
	if i < 0 || i >= len(t.entries) {
		return nil, false
	}
	return t.entries[i], true
}

// syncLocked folds the breaker state into the entry and appends a transition
// when health flipped. Reading the state is what moves an expired open
// breaker to half-open.
func (t *Tracker) syncLocked(e *entry, events []transition) []transition {
	healthy := e.breaker.State() != gobreaker.StateOpen
	if healthy == e.healthy {
		return events
	}
	e.healthy = healthy
	if !healthy {
		return append(events, transition{index: e.index, msg: "credential marked unhealthy"})
	}
	msg := "credential healthy again"
	if e.breaker.State() == gobreaker.StateHalfOpen {
		e.failures = 0
		e.lastCheckedAt = t.nowFunc()
		msg = "credential re-probated after recheck interval"
	}
	return append(events, transition{index: e.index, healthy: true, msg: msg})
}

func (t *Tracker) syncAllLocked() []transition {
	var events []transition
	for _, e := range t.entries {
		events = t.syncLocked(e, events)
	}
	return events
}

func (t *Tracker) healthLocked(e *entry) Health {
	h := Health{
		Index:               e.index,
		Healthy:             e.healthy,
		ConsecutiveFailures: e.failures,
		LastCheckedAt:       e.lastCheckedAt,
		CreditUpdatedAt:     e.creditUpdatedAt,
		CooldownUntil:       e.cooldownUntil,
		Probation:           e.healthy && e.breaker.State() == gobreaker.StateHalfOpen,
	}
	if e.creditBalance != nil {
		v := *e.creditBalance
		h.CreditBalance = &v
	}
	return h
}

func (t *Tracker) healthyCountLocked() int {
	n := 0
	for _, e := range t.entries {
		if e.healthy {
			n++
		}
	}
	return n
}

// sortLocked orders by fresh credit balance (desc), then least recently
// used, then index. Credit hints older than the recheck interval are ignored.
func (t *Tracker) sortLocked(hs []Health, now time.Time) {
	credit := func(h Health) (float64, bool) {
		if h.CreditBalance == nil || now.Sub(h.CreditUpdatedAt) > t.opts.RecheckInterval {
			return 0, false
		}
		return *h.CreditBalance, true
	}
	sort.SliceStable(hs, func(i, j int) bool {
		ci, okI := credit(hs[i])
		cj, okJ := credit(hs[j])
		if okI != okJ {
			return okI
		}
		if okI && ci != cj {
			return ci > cj
		}
		if !hs[i].LastCheckedAt.Equal(hs[j].LastCheckedAt) {
			return hs[i].LastCheckedAt.Before(hs[j].LastCheckedAt)
		}
		return hs[i].Index < hs[j].Index
	})
}

func (t *Tracker) emit(events []transition, healthyCount int) {
	for _, ev := range events {
		entry := t.opts.Logger.WithField("credential", ev.index)
		if ev.healthy {
			entry.Info(ev.msg)
		} else {
			entry.Warn(ev.msg)
		}
		if t.opts.Observer != nil {
			t.opts.Observer.HealthChanged(ev.index, ev.healthy)
			t.opts.Observer.HealthyCount(healthyCount)
		}
	}
}
