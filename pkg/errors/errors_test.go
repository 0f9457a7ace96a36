package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

func TestCodeOf_SurvivesWrapping(t *testing.T) {
	base := rerr.New(rerr.CodeTargetNotFound, "no such profile", rerr.FieldOp("createJob"))
	wrapped := fmt.Errorf("reveal: %w", base)

	assert.Equal(t, rerr.CodeTargetNotFound, rerr.CodeOf(wrapped))
	assert.True(t, rerr.IsItemTerminal(wrapped))
	assert.False(t, rerr.IsPoolFatal(wrapped))
	assert.Equal(t, "", string(rerr.CodeOf(stderrors.New("plain"))))
}

func TestWith_KeepsCodeAndAddsFields(t *testing.T) {
	err := rerr.New(rerr.CodeRateLimited, "slow down")
	err = rerr.With(err, rerr.FieldRetryAfter(3*time.Second), rerr.FieldCredential(2))

	assert.True(t, rerr.IsRateLimited(err))
	assert.Equal(t, 3*time.Second, rerr.RetryAfter(err))
	assert.Equal(t, 2, rerr.FieldsOf(err)["credential"])
}

func TestClassification(t *testing.T) {
	tests := []struct {
		code       rerr.Code
		poolFatal  bool
		credential bool
		terminal   bool
		status     int
	}{
		{rerr.CodeNoHealthyCredentials, true, false, false, http.StatusServiceUnavailable},
		{rerr.CodeAccountBillingIssue, true, false, false, http.StatusPaymentRequired},
		{rerr.CodeNetworkError, true, false, false, http.StatusBadGateway},
		{rerr.CodeCredentialExhausted, false, true, false, http.StatusPaymentRequired},
		{rerr.CodeInvalidCredential, false, true, false, http.StatusBadGateway},
		{rerr.CodeTimeout, false, true, false, http.StatusGatewayTimeout},
		{rerr.CodeTargetNotFound, false, false, true, http.StatusNotFound},
		{rerr.CodeTargetInaccessible, false, false, true, http.StatusForbidden},
		{rerr.CodeNoUsableData, false, false, true, http.StatusUnprocessableEntity},
		{rerr.CodeRateLimited, false, false, false, http.StatusTooManyRequests},
		{rerr.CodeProviderRejected, false, false, true, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := rerr.New(tt.code, "x")
			assert.Equal(t, tt.poolFatal, rerr.IsPoolFatal(err))
			assert.Equal(t, tt.credential, rerr.IsCredentialFailure(err))
			assert.Equal(t, tt.terminal, rerr.IsItemTerminal(err))
			assert.Equal(t, tt.status, rerr.HTTPStatus(err))
			assert.NotEmpty(t, rerr.UserMessage(err))
		})
	}
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, rerr.IsCanceled(context.Canceled))
	assert.True(t, rerr.IsCanceled(fmt.Errorf("poll: %w", context.DeadlineExceeded)))
	assert.False(t, rerr.IsCanceled(rerr.New(rerr.CodeTimeout, "budget elapsed")))
	assert.False(t, rerr.IsCanceled(rerr.Wrap(context.DeadlineExceeded, rerr.CodeTimeout, "request timed out")))
	assert.Equal(t, "request canceled", rerr.UserMessage(context.Canceled))
}

func TestUserMessage_NeverLeaksUnderlyingText(t *testing.T) {
	err := rerr.Wrap(stderrors.New("Authorization: Bearer sk_live_secret"), rerr.CodeInvalidCredential, "create job rejected")
	msg := rerr.UserMessage(err)
	assert.NotContains(t, msg, "sk_live_secret")
}

func TestUserMessage_ProviderRejectionIsStatic(t *testing.T) {
	cause := stderrors.New("message=key opaqueKey9f8e7d6c5b4a is not enabled for this endpoint")
	err := rerr.Wrap(cause, rerr.CodeProviderRejected, "provider rejected the request")
	assert.Equal(t, "provider rejected the request", rerr.UserMessage(err))
	assert.Contains(t, err.Error(), "opaqueKey9f8e7d6c5b4a")
}
