package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
	"github.com/shpitdev/contact-reveal/pkg/redact"
)

const (
	opCreateJob = "createJob"
	opGetJob    = "getJob"
	opSearch    = "search"
)

// errorEnvelope is the provider's error body: {"error": {"code", "message"}}.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPError is a sanitized summary of a non-2xx provider response.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	ErrorCode  string
	Message    string

	// Snippet is a redacted, truncated hint for responses without an envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "provider http error"
	}
	parts := []string{
		fmt.Sprintf("provider api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if e.ErrorCode != "" {
		parts = append(parts, "code="+e.ErrorCode)
	}
	if e.Message != "" {
		parts = append(parts, "message="+e.Message)
	}
	if e.Snippet != "" {
		parts = append(parts, "body="+e.Snippet)
	}
	return strings.Join(parts, " ")
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		h.ErrorCode = strings.ToLower(strings.TrimSpace(env.Error.Code))
		h.Message = redact.Truncate([]byte(strings.TrimSpace(env.Error.Message)), 256)
		if h.ErrorCode != "" || h.Message != "" {
			return h
		}
	}

	h.Snippet = redact.Truncate(body, 256)
	return h
}

// accountLevelCodes mark a 402 as blocking the whole account.
var accountLevelCodes = map[string]struct{}{
	"account_billing_issue": {},
	"account_suspended":     {},
	"account_past_due":      {},
}

// classifyResponse turns a non-2xx response into a coded error.
func classifyResponse(op string, resp *http.Response, body []byte, now time.Time) error {
	h := newHTTPError(op, resp, body)
	fields := []rerr.Attr{rerr.FieldOp(op), rerr.FieldStatus(h.StatusCode)}

	switch h.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return rerr.Wrap(h, rerr.CodeInvalidCredential, "provider rejected credential", fields...)
	case http.StatusPaymentRequired:
		if _, ok := accountLevelCodes[h.ErrorCode]; ok {
			return rerr.Wrap(h, rerr.CodeAccountBillingIssue, "provider account billing issue", fields...)
		}
		return rerr.Wrap(h, rerr.CodeCredentialExhausted, "provider credits exhausted", fields...)
	case http.StatusTooManyRequests:
		if d := parseRetryAfter(resp.Header.Get("Retry-After"), now); d > 0 {
			fields = append(fields, rerr.FieldRetryAfter(d))
		}
		return rerr.Wrap(h, rerr.CodeRateLimited, "provider rate limit", fields...)
	case http.StatusNotFound:
		if op == opCreateJob {
			return rerr.Wrap(h, rerr.CodeTargetNotFound, "profile not found", fields...)
		}
		return rerr.Wrap(h, rerr.CodeUpstreamFailure, "provider resource missing", fields...)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		// The provider's message stays on the wrapped cause; it may echo
		// request material and must not reach callers.
		return rerr.Wrap(h, rerr.CodeProviderRejected, "provider rejected the request", fields...)
	default:
		return rerr.Wrap(h, rerr.CodeUpstreamFailure, "provider request failed", fields...)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
