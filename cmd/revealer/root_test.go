package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contact-reveal/internal/app"
	"github.com/shpitdev/contact-reveal/internal/version"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
	"github.com/shpitdev/contact-reveal/pkg/mockprovider"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mockProvider(t *testing.T) (*mockprovider.Server, string) {
	t.Helper()
	srv := mockprovider.New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "revealer "+version.Current+"\n", out)
}

func TestExtractCmd(t *testing.T) {
	t.Setenv("REVEAL_POLL_FAST_INTERVAL", "1ms")
	_, base := mockProvider(t)

	out, err := run(t, "extract", "https://www.linkedin.com/in/ada",
		"--base-url", base, "--credential", "sk_test_alpha_123", "--store", "none")
	require.NoError(t, err)

	var res app.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "test.person@example.com", res.Data.Email)
	assert.NotContains(t, out, "sk_test_alpha_123")
}

func TestExtractCmd_FailureExitsNonZero(t *testing.T) {
	t.Setenv("REVEAL_POLL_FAST_INTERVAL", "1ms")
	srv, base := mockProvider(t)
	srv.SetBehavior("sk_test_alpha_123", mockprovider.Behavior{Status: http.StatusUnauthorized})

	out, err := run(t, "extract", "https://www.linkedin.com/in/ada",
		"--base-url", base, "--credential", "sk_test_alpha_123", "--store", "none")
	require.ErrorIs(t, err, errItemsFailed)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, `"success": false`)
}

func TestBulkCmd_WritesJSONLinesInInputOrder(t *testing.T) {
	t.Setenv("REVEAL_POLL_FAST_INTERVAL", "1ms")
	_, base := mockProvider(t)

	dir := t.TempDir()
	in := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(in, []byte(strings.Join([]string{
		"https://www.linkedin.com/in/one",
		"https://www.linkedin.com/in/two",
		"https://www.linkedin.com/in/three",
	}, "\n")), 0o600))

	out, err := run(t, "bulk", in, "--base-url", base,
		"--credential", "sk_test_alpha_123", "--credential", "sk_test_bravo_456")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for i, want := range []string{"one", "two", "three"} {
		var res app.Result
		require.NoError(t, json.Unmarshal([]byte(lines[i]), &res))
		assert.True(t, res.Success)
		assert.True(t, strings.HasSuffix(res.Identifier, "/"+want))
	}
}

func TestBulkCmd_EmptyInput(t *testing.T) {
	_, base := mockProvider(t)
	in := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(in, []byte("# nothing\n"), 0o600))

	_, err := run(t, "bulk", in, "--base-url", base, "--credential", "sk_test_alpha_123")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestSearchCmd(t *testing.T) {
	srv, base := mockProvider(t)
	srv.SetSearchResults([]map[string]any{{"name": "Ada"}, {"name": "Grace"}})

	out, err := run(t, "search", "--filter", "title=cto", "--size", "1",
		"--base-url", base, "--credential", "sk_test_alpha_123")
	require.NoError(t, err)

	var res app.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Profiles, 1)
}

func TestHealthCmd_MasksCredentials(t *testing.T) {
	_, base := mockProvider(t)

	out, err := run(t, "health", "--base-url", base,
		"--credential", "sk_test_alpha_123", "--credential", "sk_test_bravo_456")
	require.NoError(t, err)
	assert.Contains(t, out, "2/2 credentials healthy")
	assert.Contains(t, out, "sk_t****")
	assert.NotContains(t, out, "alpha")
}

func TestMissingBaseURLIsConfigError(t *testing.T) {
	_, err := run(t, "extract", "https://www.linkedin.com/in/ada", "--credential", "sk_test_alpha_123")
	require.Error(t, err)
	assert.True(t, rerr.HasCode(err, rerr.CodeConfigInvalid))
	assert.Equal(t, 2, exitCode(err))
}
