package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contact-reveal/internal/app"
	"github.com/shpitdev/contact-reveal/internal/logging"
	"github.com/shpitdev/contact-reveal/pkg/contact"
	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

type fakeService struct {
	one       func(string) app.Result
	many      map[string]app.Result
	manyErr   error
	search    app.SearchResult
	searchErr error
	snap      credential.Snapshot
}

func (f *fakeService) ExtractOne(_ context.Context, id string) app.Result {
	return f.one(id)
}

func (f *fakeService) ExtractMany(_ context.Context, ids []string, onProgress func(int, int)) (map[string]app.Result, error) {
	if onProgress != nil {
		onProgress(len(f.many), len(f.many))
	}
	return f.many, f.manyErr
}

func (f *fakeService) Search(context.Context, app.SearchRequest) (app.SearchResult, error) {
	return f.search, f.searchErr
}

func (f *fakeService) HealthSnapshot() credential.Snapshot { return f.snap }

func newTestServer(t *testing.T, svc Service, reg *prometheus.Registry) http.Handler {
	t.Helper()
	cfg := Config{ListenAddr: "127.0.0.1:0"}
	if reg != nil {
		cfg.Gatherer = reg
	}
	srv, err := New(svc, cfg, logging.Discard())
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresListenAddr(t *testing.T) {
	_, err := New(&fakeService{}, Config{}, logging.Discard())
	require.Error(t, err)
}

func TestExtract(t *testing.T) {
	svc := &fakeService{one: func(id string) app.Result {
		if strings.Contains(id, "ghost") {
			return app.Result{Identifier: id, Error: "profile not found", Code: string(rerr.CodeTargetNotFound)}
		}
		return app.Result{Identifier: id, Success: true, Data: &contact.Contact{Name: "Ada"}}
	}}
	h := newTestServer(t, svc, nil)

	rec := do(t, h, http.MethodPost, "/api/extract", `{"identifier":"https://www.linkedin.com/in/ada"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res app.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "Ada", res.Data.Name)

	rec = do(t, h, http.MethodPost, "/api/extract", `{"identifier":"https://www.linkedin.com/in/ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/extract", `{"nope":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(rerr.CodeRequestInvalid))
}

func TestExtractBulk_PreservesInputOrder(t *testing.T) {
	svc := &fakeService{many: map[string]app.Result{
		"b": {Identifier: "b", Success: true},
		"a": {Identifier: "a", Error: "profile not found", Code: string(rerr.CodeTargetNotFound)},
	}}
	h := newTestServer(t, svc, nil)

	rec := do(t, h, http.MethodPost, "/api/extract/bulk", `{"identifiers":["b","a","b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp bulkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].Identifier)
	assert.Equal(t, "a", resp.Results[1].Identifier)
	assert.Empty(t, resp.Code)

	rec = do(t, h, http.MethodPost, "/api/extract/bulk", `{"identifiers":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractBulk_ReportsPoolError(t *testing.T) {
	svc := &fakeService{
		many:    map[string]app.Result{"a": {Identifier: "a", Code: string(rerr.CodeNoHealthyCredentials)}},
		manyErr: rerr.New(rerr.CodeNoHealthyCredentials, "no healthy credentials"),
	}
	h := newTestServer(t, svc, nil)

	rec := do(t, h, http.MethodPost, "/api/extract/bulk", `{"identifiers":["a"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp bulkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(rerr.CodeNoHealthyCredentials), resp.Code)
}

func TestSearch(t *testing.T) {
	svc := &fakeService{search: app.SearchResult{Total: 1, Profiles: []map[string]any{{"name": "Ada"}}}}
	h := newTestServer(t, svc, nil)

	rec := do(t, h, http.MethodPost, "/api/search", `{"filters":{"title":"cto"},"size":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ada")

	svc.searchErr = rerr.New(rerr.CodeAllCredentialsFailed, "all credentials failed")
	rec = do(t, h, http.MethodPost, "/api/search", `{"size":5}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "all provider credentials failed")
}

func TestHealth(t *testing.T) {
	svc := &fakeService{snap: credential.Snapshot{
		Total:       1,
		Healthy:     1,
		Credentials: []credential.CredentialStatus{{Index: 0, Masked: "sk_l****", Healthy: true}},
	}}
	h := newTestServer(t, svc, nil)

	rec := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sk_l****")

	svc.snap = credential.Snapshot{Total: 1}
	rec = do(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "reveal_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := newTestServer(t, &fakeService{}, reg)
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reveal_test_total 1")

	h = newTestServer(t, &fakeService{}, nil)
	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
