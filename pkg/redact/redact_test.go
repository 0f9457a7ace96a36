package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecrets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		not  string
	}{
		{"bearer", `Authorization: Bearer abc.def.ghi`, "abc.def.ghi"},
		{"api key kv", `api_key=topsecret`, "topsecret"},
		{"token kv", `token: hunter22`, "hunter22"},
		{"provider key", `rejected key sk_live_1234567890`, "sk_live_1234567890"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.NotContains(t, Secrets(tt.in), tt.not)
		})
	}
	assert.Equal(t, "", Secrets(""))
	assert.Equal(t, "plain message", Secrets(" plain message "))
}

func TestTokens(t *testing.T) {
	t.Parallel()

	out := Tokens("failed with abc123 and xyz789", "abc123", "", "xyz789")
	assert.Equal(t, "failed with <redacted> and <redacted>", out)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 300)
	got := Truncate([]byte(long), 256)
	assert.Len(t, got, 256+len("..."))
	assert.True(t, strings.HasSuffix(got, "..."))

	assert.Equal(t, "line one line two", Truncate([]byte("line one\nline two"), 256))
	assert.Equal(t, "", Truncate(nil, 256))
}
