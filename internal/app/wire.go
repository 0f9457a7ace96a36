package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shpitdev/contact-reveal/internal/config"
	"github.com/shpitdev/contact-reveal/internal/metrics"
	"github.com/shpitdev/contact-reveal/internal/store"
	"github.com/shpitdev/contact-reveal/pkg/credential"
	"github.com/shpitdev/contact-reveal/pkg/dispatch"
	"github.com/shpitdev/contact-reveal/pkg/failover"
	"github.com/shpitdev/contact-reveal/pkg/poller"
	"github.com/shpitdev/contact-reveal/pkg/provider"
)

// FromConfig assembles the service: credential pool, tracker, provider
// client, poller, result cache. m may be nil.
func FromConfig(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, m *metrics.Metrics) (*Service, error) {
	tokens, err := cfg.Tokens()
	if err != nil {
		return nil, err
	}
	pool := credential.NewPool(tokens)
	if pool.Count() == 0 {
		log.Warn("no provider credentials configured; every request will fail with no healthy credentials")
	} else {
		log.WithField("credentials", pool.Count()).Info("credential pool loaded")
	}

	trackerOpts := credential.TrackerOptions{
		FailureThreshold: cfg.Health.FailureThreshold,
		RecheckInterval:  cfg.Health.RecheckInterval,
		Logger:           log,
	}
	pollOpts := poller.Options{
		FastInterval:   cfg.Poll.FastInterval,
		FastPolls:      cfg.Poll.FastPolls,
		SteadyInterval: cfg.Poll.SteadyInterval,
		MaxWait:        cfg.Poll.MaxWait,
		MaxPollErrors:  cfg.Poll.MaxErrors,
		Logger:         log,
	}
	failoverOpts := failover.Options{Cooldown: cfg.Dispatch.Cooldown, Logger: log}
	dispatchOpts := dispatch.Options{
		ConcurrencyPerCredential: cfg.Dispatch.ConcurrencyPerCredential,
		CooldownWaitSlice:        cfg.Dispatch.CooldownWaitSlice,
		MaxAttempts:              cfg.Dispatch.MaxAttempts,
		MaxRateLimited:           cfg.Dispatch.MaxRateLimited,
		Logger:                   log,
	}
	var cache CacheRecorder
	if m != nil {
		trackerOpts.Observer = m
		pollOpts.Recorder = m
		failoverOpts.Recorder = m
		dispatchOpts.Recorder = m
		cache = m
		m.HealthyCount(pool.Count())
	}

	client, err := provider.NewClient(provider.Options{
		BaseURL:           cfg.Provider.BaseURL,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Enrich: provider.EnrichOptions{
			Email: cfg.Provider.Enrich.Email,
			Phone: cfg.Provider.Enrich.Phone,
			Depth: cfg.Provider.Enrich.Depth,
		},
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.New(ctx, store.Options{
		Backend:    cfg.Store.Backend,
		RedisURL:   cfg.Store.RedisURL,
		TTL:        cfg.Store.TTL,
		MaxEntries: cfg.Store.MaxEntries,
	})
	if err != nil {
		return nil, err
	}

	return NewService(Deps{
		Tracker:  credential.NewTracker(pool, trackerOpts),
		Revealer: poller.New(client, pollOpts),
		Searcher: client,
		Store:    st,
		Logger:   log,
		Failover: failoverOpts,
		Dispatch: dispatchOpts,
		Cache:    cache,
	}), nil
}
