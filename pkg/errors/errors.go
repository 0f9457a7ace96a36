package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeNoHealthyCredentials Code = "credential.pool.no_healthy"
	CodeAllCredentialsFailed Code = "credential.pool.all_failed"
	CodeCredentialExhausted  Code = "credential.quota.exhausted"
	CodeInvalidCredential    Code = "credential.auth.unauthorized"

	CodeAccountBillingIssue Code = "provider.account.billing_issue"
	CodeNetworkError        Code = "provider.network.failure"
	CodeRateLimited         Code = "provider.rate.limited"
	CodeUpstreamFailure     Code = "provider.upstream.failure"
	CodeResponseInvalid     Code = "provider.response.invalid"
	CodeProviderRejected    Code = "provider.request.rejected"

	CodeTargetNotFound     Code = "target.lookup.not_found"
	CodeTargetInaccessible Code = "target.lookup.forbidden"
	CodeNoUsableData       Code = "target.data.empty"

	CodeTimeout Code = "job.poll.timeout"

	CodeRequestInvalid  Code = "request.input.invalid"
	CodeRequestCanceled Code = "request.context.canceled"

	CodeConfigInvalid Code = "config.validate.invalid_value"
	CodeStoreFailure  Code = "store.backend.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// FieldCredential identifies a credential by ordinal only.
func FieldCredential(index int) Attr {
	return Field("credential", index)
}

func FieldOp(op string) Attr {
	return Field("op", op)
}

func FieldStatus(status int) Attr {
	return Field("http_status", status)
}

func FieldRetryAfter(d time.Duration) Attr {
	return Field("retry_after", d)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	if code == "" {
		code = CodeUpstreamFailure
	}
	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}
	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}
	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// RetryAfter returns the provider supplied back-off hint, if any.
func RetryAfter(err error) time.Duration {
	v, ok := FieldsOf(err)["retry_after"]
	if !ok {
		return 0
	}
	if d, ok := v.(time.Duration); ok && d > 0 {
		return d
	}
	return 0
}

// IsPoolFatal reports conditions that no other credential can fix.
func IsPoolFatal(err error) bool {
	switch CodeOf(err) {
	case CodeNoHealthyCredentials, CodeAccountBillingIssue, CodeNetworkError:
		return true
	}
	return false
}

// IsCredentialFailure reports failures attributable to the credential used,
// which count toward its health threshold and may succeed on another one.
func IsCredentialFailure(err error) bool {
	switch CodeOf(err) {
	case CodeCredentialExhausted, CodeInvalidCredential, CodeTimeout,
		CodeUpstreamFailure, CodeResponseInvalid:
		return true
	}
	return false
}

// IsItemTerminal reports failures that belong to the target itself.
func IsItemTerminal(err error) bool {
	switch CodeOf(err) {
	case CodeTargetNotFound, CodeTargetInaccessible, CodeNoUsableData,
		CodeRequestInvalid, CodeProviderRejected:
		return true
	}
	return false
}

func IsRateLimited(err error) bool {
	return HasCode(err, CodeRateLimited)
}

func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	// A coded error wrapping a context error (e.g. a per-request timeout) is
	// classified by its code.
	if code := CodeOf(err); code != "" {
		return code == CodeRequestCanceled
	}
	return stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// UserMessage returns a caller-facing message. It never includes credential
// material, only the classification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch CodeOf(err) {
	case CodeNoHealthyCredentials:
		return "service unavailable: no healthy provider credentials"
	case CodeAllCredentialsFailed:
		return "all provider credentials failed"
	case CodeAccountBillingIssue:
		return "provider account billing issue: check the provider account dashboard"
	case CodeNetworkError:
		return "network error while contacting the provider"
	case CodeCredentialExhausted:
		return "provider credits exhausted"
	case CodeInvalidCredential:
		return "provider rejected the credential"
	case CodeRateLimited:
		return "provider rate limit reached, try again later"
	case CodeTargetNotFound:
		return "profile not found"
	case CodeTargetInaccessible:
		return "profile is not accessible"
	case CodeNoUsableData:
		return "profile found but no contact data is available"
	case CodeTimeout:
		return "provider did not finish in time"
	case CodeProviderRejected:
		return "provider rejected the request"
	case CodeRequestInvalid:
		// Only locally raised; the text is ours.
		return messageOf(err)
	case CodeRequestCanceled:
		return "request canceled"
	default:
		if IsCanceled(err) {
			return "request canceled"
		}
		return "provider request failed"
	}
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "":
		if IsCanceled(err) {
			return http.StatusRequestTimeout
		}
		return http.StatusInternalServerError
	case CodeRequestInvalid, CodeConfigInvalid, CodeProviderRejected:
		return http.StatusBadRequest
	case CodeTargetNotFound:
		return http.StatusNotFound
	case CodeTargetInaccessible:
		return http.StatusForbidden
	case CodeNoUsableData:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeAccountBillingIssue, CodeCredentialExhausted:
		return http.StatusPaymentRequired
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeNoHealthyCredentials:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func messageOf(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if msg := strings.TrimSpace(oopsErr.Error()); msg != "" {
			return msg
		}
	}
	return err.Error()
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}
