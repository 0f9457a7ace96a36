package credential

import (
	"strconv"
	"strings"

	"github.com/shpitdev/contact-reveal/pkg/redact"
)

// Credential is one provider bearer token plus its stable ordinal.
//
// The token is only reachable through Token(); String() and Masked() are safe
// to log.
type Credential struct {
	index int
	token string
}

func New(index int, token string) Credential {
	return Credential{index: index, token: strings.TrimSpace(token)}
}

func (c Credential) Index() int { return c.index }

func (c Credential) Token() string { return c.token }

// String identifies the credential by index only.
func (c Credential) String() string {
	return "credential#" + strconv.Itoa(c.index)
}

func (c Credential) Masked() string { return Mask(c.token) }

// Mask keeps a short prefix of a secret for diagnostics.
func Mask(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	const keep = 4
	if len(token) <= keep*2 {
		return "****"
	}
	return token[:keep] + "****"
}

// Pool is the fixed, ordered set of configured credentials.
type Pool struct {
	creds []Credential
}

// NewPool builds a pool from raw tokens. Empty and duplicate tokens are
// dropped; order is preserved.
func NewPool(tokens []string) *Pool {
	seen := make(map[string]struct{}, len(tokens))
	creds := make([]Credential, 0, len(tokens))
	for _, raw := range tokens {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		creds = append(creds, New(len(creds), tok))
	}
	return &Pool{creds: creds}
}

// ListAll returns every configured credential in configuration order.
func (p *Pool) ListAll() []Credential {
	out := make([]Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

func (p *Pool) Count() int { return len(p.creds) }

// Redact scrubs every pool token and any generic secret shape from s. Use it
// on error text before logging: providers may echo a key in their messages.
func (p *Pool) Redact(s string) string {
	tokens := make([]string, len(p.creds))
	for i, c := range p.creds {
		tokens[i] = c.token
	}
	return redact.Secrets(redact.Tokens(s, tokens...))
}

func (p *Pool) Get(index int) (Credential, bool) {
	if index < 0 || index >= len(p.creds) {
		return Credential{}, false
	}
	return p.creds[index], true
}
