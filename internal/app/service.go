package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shpitdev/contact-reveal/internal/logging"
	"github.com/shpitdev/contact-reveal/internal/store"
	"github.com/shpitdev/contact-reveal/pkg/contact"
	"github.com/shpitdev/contact-reveal/pkg/credential"
	"github.com/shpitdev/contact-reveal/pkg/dispatch"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
	"github.com/shpitdev/contact-reveal/pkg/failover"
	"github.com/shpitdev/contact-reveal/pkg/poller"
	"github.com/shpitdev/contact-reveal/pkg/provider"
)

const DefaultSearchSize = 10

// Revealer runs one reveal with one credential.
type Revealer interface {
	Reveal(ctx context.Context, cred credential.Credential, target string) (poller.Outcome, error)
}

// Searcher runs one search with one credential.
type Searcher interface {
	Search(ctx context.Context, cred credential.Credential, req provider.SearchRequest) (provider.SearchResponse, error)
}

// CacheRecorder observes result cache lookups (metrics).
type CacheRecorder interface {
	CacheHit()
	CacheMiss()
}

// Result is the caller-facing outcome for one identifier. Error never
// carries credential material.
type Result struct {
	Identifier     string           `json:"identifier"`
	Success        bool             `json:"success"`
	Data           *contact.Contact `json:"data,omitempty"`
	Error          string           `json:"error,omitempty"`
	Code           string           `json:"code,omitempty"`
	Cached         bool             `json:"cached,omitempty"`
	BillingWarning bool             `json:"billing_warning,omitempty"`
}

type SearchRequest struct {
	Filters map[string]any `json:"filters"`
	Size    int            `json:"size"`
	Page    int            `json:"page,omitempty"`
}

type SearchResult struct {
	Total    int              `json:"total"`
	Profiles []map[string]any `json:"profiles"`
}

type Deps struct {
	Tracker  *credential.Tracker
	Revealer Revealer
	Searcher Searcher
	Store    store.Store
	Logger   logrus.FieldLogger

	Failover failover.Options
	Dispatch dispatch.Options
	Cache    CacheRecorder
}

// Service is the caller interface over the credential pool.
type Service struct {
	tracker    *credential.Tracker
	exec       *failover.Executor
	dispatcher *dispatch.Dispatcher
	revealer   Revealer
	searcher   Searcher
	store      store.Store
	cache      CacheRecorder
	log        logrus.FieldLogger
}

func NewService(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = logging.Discard()
	}
	st := d.Store
	if st == nil {
		st = store.Nop{}
	}
	fo := d.Failover
	if fo.Logger == nil {
		fo.Logger = log
	}
	do := d.Dispatch
	if do.Logger == nil {
		do.Logger = log
	}
	exec := failover.New(d.Tracker, fo)
	return &Service{
		tracker:    d.Tracker,
		exec:       exec,
		dispatcher: dispatch.New(exec, do),
		revealer:   d.Revealer,
		searcher:   d.Searcher,
		store:      st,
		cache:      d.Cache,
		log:        log,
	}
}

// ExtractOne reveals a single profile, failing over across credentials.
func (s *Service) ExtractOne(ctx context.Context, identifier string) Result {
	key, err := NormalizeIdentifier(identifier)
	if err != nil {
		return failure(identifier, err)
	}
	if c, ok := s.cached(ctx, key); ok {
		return Result{Identifier: identifier, Success: true, Data: c, Cached: true}
	}

	traced := newTracedRevealer(s.revealer, s.log, s.tracker.Pool(), uuid.NewString())
	out, err := failover.Execute(ctx, s.exec, "reveal", func(ctx context.Context, cred credential.Credential) (poller.Outcome, error) {
		return traced.Reveal(ctx, cred, key)
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"identifier": key,
			"code":       rerr.CodeOf(err),
		}).Warn("extract failed: " + s.tracker.Pool().Redact(err.Error()))
		return failure(identifier, err)
	}
	s.remember(ctx, key, out.Contact)
	return Result{Identifier: identifier, Success: true, Data: out.Contact, BillingWarning: out.BillingWarning}
}

// ExtractMany reveals a batch in parallel across all healthy credentials.
// Results are keyed by the identifiers as given. The error is set only for
// pool-wide conditions; the map is complete regardless.
func (s *Service) ExtractMany(ctx context.Context, identifiers []string, onProgress func(completed, total int)) (map[string]Result, error) {
	runID := uuid.NewString()
	log := s.log.WithField("run_id", runID)
	start := time.Now()

	results := make(map[string]Result, len(identifiers))
	keyFor := make(map[string]string, len(identifiers))
	seenKey := make(map[string]struct{}, len(identifiers))
	var pending []string
	for _, id := range identifiers {
		if _, done := results[id]; done {
			continue
		}
		if _, queued := keyFor[id]; queued {
			continue
		}
		key, err := NormalizeIdentifier(id)
		if err != nil {
			results[id] = failure(id, err)
			continue
		}
		if c, ok := s.cached(ctx, key); ok {
			results[id] = Result{Identifier: id, Success: true, Data: c, Cached: true}
			continue
		}
		keyFor[id] = key
		if _, ok := seenKey[key]; !ok {
			seenKey[key] = struct{}{}
			pending = append(pending, key)
		}
	}

	pre := len(results)
	total := pre + len(pending)
	log.WithFields(logrus.Fields{
		"inputs":  len(identifiers),
		"settled": pre,
		"pending": len(pending),
	}).Info("bulk extract plan")
	if onProgress != nil {
		for i := 1; i <= pre; i++ {
			onProgress(i, total)
		}
	}
	if len(pending) == 0 {
		return results, nil
	}

	traced := newTracedRevealer(s.revealer, s.log, s.tracker.Pool(), runID)
	out, runErr := dispatch.Run(ctx, s.dispatcher, pending, func(ctx context.Context, cred credential.Credential, key string) (poller.Outcome, error) {
		return traced.Reveal(ctx, cred, key)
	}, func(completed, _ int) {
		if onProgress != nil {
			onProgress(pre+completed, total)
		}
	})

	for key, r := range out {
		if r.Err == nil {
			s.remember(ctx, key, r.Value.Contact)
		}
	}

	ok, failed := 0, 0
	for id, key := range keyFor {
		r, found := out[key]
		switch {
		case !found:
			err := runErr
			if err == nil {
				err = rerr.New(rerr.CodeNoHealthyCredentials, "item was not processed")
			}
			results[id] = failure(id, err)
			failed++
		case r.Err != nil:
			results[id] = failure(id, r.Err)
			failed++
		default:
			results[id] = Result{Identifier: id, Success: true, Data: r.Value.Contact, BillingWarning: r.Value.BillingWarning}
			ok++
		}
	}

	entry := log.WithFields(logrus.Fields{
		"ok":       ok,
		"failed":   failed,
		"settled":  pre,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})
	if runErr != nil {
		entry.WithField("code", rerr.CodeOf(runErr)).Warn("bulk extract stopped early")
	} else {
		entry.Info("bulk extract complete")
	}
	return results, runErr
}

// Search runs a filter search, failing over across credentials.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if req.Size < 0 {
		return SearchResult{}, rerr.New(rerr.CodeRequestInvalid, "size must not be negative")
	}
	if req.Size == 0 {
		req.Size = DefaultSearchSize
	}
	resp, err := failover.Execute(ctx, s.exec, "search", func(ctx context.Context, cred credential.Credential) (provider.SearchResponse, error) {
		return s.searcher.Search(ctx, cred, provider.SearchRequest{
			Filters: req.Filters,
			Size:    req.Size,
			Page:    req.Page,
		})
	})
	if err != nil {
		s.log.WithField("code", rerr.CodeOf(err)).Warn("search failed: " + s.tracker.Pool().Redact(err.Error()))
		return SearchResult{}, err
	}
	return SearchResult{Total: resp.Total, Profiles: resp.Profiles}, nil
}

// HealthSnapshot returns per-credential health with masked values only.
func (s *Service) HealthSnapshot() credential.Snapshot {
	return s.tracker.Snapshot()
}

func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) cached(ctx context.Context, key string) (*contact.Contact, bool) {
	c, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.WithField("identifier", key).Warn("result cache read failed: " + s.tracker.Pool().Redact(err.Error()))
		return nil, false
	}
	if s.cache != nil {
		if ok {
			s.cache.CacheHit()
		} else {
			s.cache.CacheMiss()
		}
	}
	return c, ok
}

func (s *Service) remember(ctx context.Context, key string, c *contact.Contact) {
	if !c.HasUsableData() {
		return
	}
	if err := s.store.Put(ctx, key, c); err != nil {
		s.log.WithField("identifier", key).Warn("result cache write failed: " + s.tracker.Pool().Redact(err.Error()))
	}
}

func failure(identifier string, err error) Result {
	code := rerr.CodeOf(err)
	if code == "" && rerr.IsCanceled(err) {
		code = rerr.CodeRequestCanceled
	}
	return Result{
		Identifier: identifier,
		Error:      rerr.UserMessage(err),
		Code:       string(code),
	}
}
