package mockprovider_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contact-reveal/pkg/mockprovider"
)

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestMockProvider_RequireTokens(t *testing.T) {
	t.Parallel()

	srv := mockprovider.New()
	srv.RequireTokens("sk_known")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := post(t, ts.URL+"/create-job", "sk_other", `{"target":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, ts.URL+"/create-job", "sk_known", `{"target":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["job_id"])

	assert.Equal(t, 1, srv.CallsFor("sk_known", "/create-job"))
	assert.Equal(t, 1, srv.CallsFor("sk_other", "/create-job"))
}

func TestMockProvider_BehaviorTimes(t *testing.T) {
	t.Parallel()

	srv := mockprovider.New()
	srv.SetBehavior("sk_a", mockprovider.Behavior{Status: http.StatusTooManyRequests, RetryAfter: 2, Times: 1})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := post(t, ts.URL+"/create-job", "sk_a", `{"target":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))

	resp = post(t, ts.URL+"/create-job", "sk_a", `{"target":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMockProvider_MissingToken(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(mockprovider.New().Handler())
	defer ts.Close()

	resp := post(t, ts.URL+"/search", "", `{"size":1}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
