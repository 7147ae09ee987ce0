package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToBPMNError_RetryableCode(t *testing.T) {
	stdErr := NewPollFailedError("la-1", fmt.Errorf("connection reset"))

	bpmnErr := ConvertToBPMNError(stdErr)

	assert.Equal(t, "POLL_FAILED", bpmnErr.Code)
	assert.Equal(t, 3, bpmnErr.Retries)
	assert.True(t, bpmnErr.Retryable)
	assert.Equal(t, "POLL_FAILED", bpmnErr.ErrorVariables["originalErrorCode"])
}

func TestConvertToBPMNError_BusinessErrorHasNoRetries(t *testing.T) {
	bpmnErr := ConvertToBPMNError(NewLenderApplicationNotFoundError("ref-9"))

	assert.Equal(t, "LENDER_APPLICATION_NOT_FOUND", bpmnErr.Code)
	assert.Equal(t, 0, bpmnErr.Retries)

	vars := bpmnErr.ToErrorVariables()
	assert.Equal(t, "Lender application not found", vars["errorMessage"])
	assert.Equal(t, false, vars["retryable"])
}

func TestConvertToBPMNError_UnmappedCodeFallsBack(t *testing.T) {
	stdErr := &StandardError{Code: "SOMETHING_ELSE", Message: "x", Timestamp: time.Now()}
	assert.Equal(t, "SOMETHING_ELSE", ConvertToBPMNError(stdErr).Code)
}

func TestNormalize(t *testing.T) {
	wrapped := fmt.Errorf("poll: %w", NewLenderStatusFailedError("sandbox", fmt.Errorf("503")))
	stdErr := Normalize(wrapped)
	assert.Equal(t, ErrCodeLenderStatusFailed, stdErr.Code)

	plain := Normalize(fmt.Errorf("boom"))
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), plain.Code)
	assert.False(t, plain.Retryable)
}

func TestAs(t *testing.T) {
	_, ok := As(fmt.Errorf("plain"))
	assert.False(t, ok)

	stdErr, ok := As(fmt.Errorf("ctx: %w", NewValidationError("amount must be positive")))
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidationFailed, stdErr.Code)
}

func TestRetriesAfterFailure(t *testing.T) {
	assert.Equal(t, int32(2), RetriesAfterFailure(3, 3))
	assert.Equal(t, int32(3), RetriesAfterFailure(10, 3))
	assert.Equal(t, int32(0), RetriesAfterFailure(1, 3))
	assert.Equal(t, int32(0), RetriesAfterFailure(0, 3))
}

func TestGetErrorCategory(t *testing.T) {
	tests := map[ErrorCode]string{
		ErrCodeLenderTimeout:            "LENDER",
		ErrCodeOfferFetchFailed:         "LENDER",
		ErrCodeWebhookPayloadInvalid:    "WEBHOOK",
		ErrCodeDocumentUploadFailed:     "DOCUMENT",
		ErrCodeQueryExecutionFailed:     "DATABASE",
		ErrCodeNotificationSendFailed:   "NOTIFICATION",
		ErrCodePollFailed:               "POLLING",
		ErrCodeValidationFailed:         "VALIDATION",
		ErrorCode("SOMETHING_UNMAPPED"): "OTHER",
	}
	for code, want := range tests {
		assert.Equal(t, want, GetErrorCategory(code), string(code))
	}
}
