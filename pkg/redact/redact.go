package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|credential|token)\b\s*[:=]\s*[^\s"',}]+`)

	// Provider-style secret keys (sk_live_..., sk_test_...).
	secretKeyRe = regexp.MustCompile(`\bsk_[A-Za-z0-9_]{6,}`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = secretKeyRe.ReplaceAllString(out, "<redacted_key>")
	return strings.TrimSpace(out)
}

// Tokens replaces every occurrence of the given secrets in s. Use it when the
// exact credential values are known.
func Tokens(s string, tokens ...string) string {
	if s == "" {
		return ""
	}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		s = strings.ReplaceAll(s, tok, "<redacted>")
	}
	return s
}

// Truncate redacts s and caps it to max bytes, flattening newlines.
func Truncate(b []byte, max int) string {
	if len(b) == 0 {
		return ""
	}
	cut := b
	if max > 0 && len(cut) > max {
		cut = cut[:max]
	}
	s := Secrets(string(cut))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if max > 0 && len(b) > max {
		return s + "..."
	}
	return s
}
