package poller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
	"github.com/shpitdev/contact-reveal/pkg/provider"
)

type step struct {
	job provider.Job
	err error
}

// scriptedAPI replays steps for GetJob; the last step repeats.
type scriptedAPI struct {
	mu        sync.Mutex
	createErr error
	credits   *float64
	steps     []step
	gets      int
}

func (s *scriptedAPI) CreateJob(_ context.Context, _ credential.Credential, _ string) (provider.JobRef, error) {
	if s.createErr != nil {
		return provider.JobRef{}, s.createErr
	}
	return provider.JobRef{ID: "job-1", Credits: s.credits}, nil
}

func (s *scriptedAPI) GetJob(ctx context.Context, _ credential.Credential, _ string) (provider.Job, error) {
	if err := ctx.Err(); err != nil {
		return provider.Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.gets
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.gets++
	return s.steps[i].job, s.steps[i].err
}

type recorder struct {
	mu       sync.Mutex
	polls    int
	results  []string
	warnings int
}

func (r *recorder) Poll(provider.Status) {
	r.mu.Lock()
	r.polls++
	r.mu.Unlock()
}

func (r *recorder) JobFinished(result string, _ time.Duration) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
}

func (r *recorder) BillingWarning() {
	r.mu.Lock()
	r.warnings++
	r.mu.Unlock()
}

func fastOptions(rec Recorder) Options {
	return Options{
		FastInterval:   time.Millisecond,
		FastPolls:      2,
		SteadyInterval: 2 * time.Millisecond,
		MaxWait:        2 * time.Second,
		Recorder:       rec,
	}
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

var cred = credential.New(0, "sk_test")

func TestReveal_CompletesAfterPolling(t *testing.T) {
	t.Parallel()

	credits := 10.0
	api := &scriptedAPI{
		steps: []step{
			{job: provider.Job{Status: provider.StatusPending}},
			{job: provider.Job{Status: provider.StatusProcessing}},
			{job: provider.Job{Status: provider.StatusComplete, Credits: &credits, Result: raw(t, map[string]any{
				"data": map[string]any{"name": "Ada", "email": "ada@example.com"},
			})}},
		},
	}
	rec := &recorder{}
	p := New(api, fastOptions(rec))

	out, err := p.Reveal(context.Background(), cred, "https://www.linkedin.com/in/ada")
	require.NoError(t, err)
	assert.Equal(t, "job-1", out.JobID)
	assert.Equal(t, 3, out.Polls)
	assert.Equal(t, "Ada", out.Contact.Name)
	assert.Equal(t, "ada@example.com", out.Contact.Email)
	assert.False(t, out.BillingWarning)
	require.NotNil(t, out.CreditHint())
	assert.Equal(t, 10.0, *out.CreditHint())
	assert.Equal(t, 3, rec.polls)
	assert.Equal(t, []string{"complete"}, rec.results)
}

func TestReveal_BillingWarningWithDataIsSuccess(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{steps: []step{{job: provider.Job{
		Status: provider.StatusFailed,
		Reason: "billing_issue",
		Result: raw(t, map[string]any{"phone": "+1 555 0100"}),
	}}}}
	rec := &recorder{}

	out, err := New(api, fastOptions(rec)).Reveal(context.Background(), cred, "t")
	require.NoError(t, err)
	assert.True(t, out.BillingWarning)
	assert.Equal(t, "+1 555 0100", out.Contact.Phone)
	assert.Equal(t, 1, rec.warnings)
}

func TestReveal_FailedReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		reason       string
		accountLevel bool
		want         rerr.Code
	}{
		{"not found", "not_found", false, rerr.CodeTargetNotFound},
		{"private", "profile_private", false, rerr.CodeTargetInaccessible},
		{"plan", "plan_restriction_no_data", false, rerr.CodeNoUsableData},
		{"billing no data", "insufficient_credits", false, rerr.CodeCredentialExhausted},
		{"account billing flag", "billing_issue", true, rerr.CodeAccountBillingIssue},
		{"account billing reason", "account_billing_issue", false, rerr.CodeAccountBillingIssue},
		{"unknown", "exploded", false, rerr.CodeUpstreamFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := &scriptedAPI{steps: []step{{job: provider.Job{
				Status:       provider.StatusFailed,
				Reason:       tt.reason,
				AccountLevel: tt.accountLevel,
			}}}}
			_, err := New(api, fastOptions(nil)).Reveal(context.Background(), cred, "t")
			require.Error(t, err)
			assert.Equal(t, tt.want, rerr.CodeOf(err))
		})
	}
}

func TestReveal_CompleteWithoutDataIsNoUsableData(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{steps: []step{{job: provider.Job{
		Status: provider.StatusComplete,
		Result: raw(t, map[string]any{"title": "CTO", "emails": []any{}}),
	}}}}
	_, err := New(api, fastOptions(nil)).Reveal(context.Background(), cred, "t")
	assert.Equal(t, rerr.CodeNoUsableData, rerr.CodeOf(err))
}

func TestReveal_CreateErrorPassesThrough(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{createErr: rerr.New(rerr.CodeCredentialExhausted, "402")}
	_, err := New(api, fastOptions(nil)).Reveal(context.Background(), cred, "t")
	assert.Equal(t, rerr.CodeCredentialExhausted, rerr.CodeOf(err))
	assert.Equal(t, 0, api.gets)
}

func TestReveal_TimesOut(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{steps: []step{{job: provider.Job{Status: provider.StatusProcessing}}}}
	opts := fastOptions(nil)
	opts.MaxWait = 30 * time.Millisecond

	_, err := New(api, opts).Reveal(context.Background(), cred, "t")
	assert.Equal(t, rerr.CodeTimeout, rerr.CodeOf(err))
	assert.True(t, rerr.IsCredentialFailure(err))
}

func TestReveal_TransientPollErrorsTolerated(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{steps: []step{
		{err: rerr.New(rerr.CodeUpstreamFailure, "502")},
		{err: rerr.New(rerr.CodeRateLimited, "429")},
		{job: provider.Job{Status: provider.StatusComplete, Result: raw(t, map[string]any{"email": "x@example.com"})}},
	}}
	out, err := New(api, fastOptions(nil)).Reveal(context.Background(), cred, "t")
	require.NoError(t, err)
	assert.Equal(t, "x@example.com", out.Contact.Email)
}

func TestReveal_TooManyPollErrors(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{steps: []step{{err: rerr.New(rerr.CodeUpstreamFailure, "502")}}}
	opts := fastOptions(nil)
	opts.MaxPollErrors = 2

	_, err := New(api, opts).Reveal(context.Background(), cred, "t")
	assert.Equal(t, rerr.CodeUpstreamFailure, rerr.CodeOf(err))
	assert.Equal(t, 3, api.gets)
}

func TestReveal_NonTransientPollErrorFailsFast(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{steps: []step{{err: rerr.New(rerr.CodeInvalidCredential, "401")}}}
	_, err := New(api, fastOptions(nil)).Reveal(context.Background(), cred, "t")
	assert.Equal(t, rerr.CodeInvalidCredential, rerr.CodeOf(err))
	assert.Equal(t, 1, api.gets)
}

func TestReveal_CallerCancellation(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{steps: []step{{job: provider.Job{Status: provider.StatusProcessing}}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(api, fastOptions(nil)).Reveal(ctx, cred, "t")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, rerr.CodeOf(err))
}

func TestInterval_FastThenSteady(t *testing.T) {
	t.Parallel()

	p := New(&scriptedAPI{}, Options{})
	for i := 0; i < 6; i++ {
		assert.Equal(t, 500*time.Millisecond, p.Interval(i))
	}
	assert.Equal(t, 3*time.Second, p.Interval(6))
	assert.Equal(t, 3*time.Second, p.Interval(100))
}
