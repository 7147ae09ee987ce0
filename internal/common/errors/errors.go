// Package errors provides standardized error handling for the funding engine
// and its BPMN workflow integration.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeLenderSubmissionFailed ErrorCode = "LENDER_SUBMISSION_FAILED"
	ErrCodeLenderTimeout          ErrorCode = "LENDER_TIMEOUT"
	ErrCodeLenderTypeUnsupported  ErrorCode = "LENDER_TYPE_UNSUPPORTED"
	ErrCodeLenderStatusFailed     ErrorCode = "LENDER_STATUS_FAILED"
	ErrCodeOfferFetchFailed       ErrorCode = "OFFER_FETCH_FAILED"
	ErrCodeDocumentUploadFailed   ErrorCode = "DOCUMENT_UPLOAD_FAILED"
	ErrCodeDocumentFetchFailed    ErrorCode = "DOCUMENT_FETCH_FAILED"

	ErrCodeWebhookUnauthorized   ErrorCode = "WEBHOOK_UNAUTHORIZED"
	ErrCodeWebhookPayloadInvalid ErrorCode = "WEBHOOK_PAYLOAD_INVALID"

	ErrCodeLenderApplicationNotFound  ErrorCode = "LENDER_APPLICATION_NOT_FOUND"
	ErrCodeFundingApplicationNotFound ErrorCode = "FUNDING_APPLICATION_NOT_FOUND"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"

	ErrCodeElasticsearchConnectionFailed ErrorCode = "ELASTICSEARCH_CONNECTION_FAILED"
	ErrCodeNotificationSendFailed        ErrorCode = "NOTIFICATION_SEND_FAILED"

	ErrCodePollFailed ErrorCode = "POLL_FAILED"

	ErrCodeWorkflowEngineUnavailable ErrorCode = "WORKFLOW_ENGINE_UNAVAILABLE"
	ErrCodeWorkflowEngineRejected    ErrorCode = "WORKFLOW_ENGINE_REJECTED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// As extracts a *StandardError from an error chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLenderSubmissionFailedError wraps a lender-side rejection or transport error.
func NewLenderSubmissionFailedError(lenderType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLenderSubmissionFailed,
		Message:   fmt.Sprintf("Submission to lender '%s' failed", lenderType),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"lenderType": lenderType},
		Timestamp: time.Now().UTC(),
	}
}

// NewLenderTimeoutError is returned when a lender call exceeds its deadline.
func NewLenderTimeoutError(lenderType string, timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeLenderTimeout,
		Message:   fmt.Sprintf("Lender '%s' did not respond in time", lenderType),
		Details:   fmt.Sprintf("timeout: %s", timeout),
		Retryable: true,
		Metadata:  map[string]interface{}{"lenderType": lenderType},
		Timestamp: time.Now().UTC(),
	}
}

func NewLenderTypeUnsupportedError(lenderType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLenderTypeUnsupported,
		Message:   "No client registered for lender type",
		Details:   fmt.Sprintf("lenderType: %s", lenderType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewLenderStatusFailedError(lenderType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLenderStatusFailed,
		Message:   fmt.Sprintf("Status check with lender '%s' failed", lenderType),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewOfferFetchFailedError(lenderType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeOfferFetchFailed,
		Message:   fmt.Sprintf("Fetching offers from lender '%s' failed", lenderType),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewDocumentUploadFailedError(documentID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDocumentUploadFailed,
		Message:   "Document upload to lender failed",
		Details:   fmt.Sprintf("documentId: %s, error: %s", documentID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewDocumentFetchFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDocumentFetchFailed,
		Message:   "Document retrieval failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewWebhookUnauthorizedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookUnauthorized,
		Message:   "Invalid webhook credentials",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewWebhookPayloadInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookPayloadInvalid,
		Message:   "Webhook payload could not be parsed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewLenderApplicationNotFoundError(ref string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLenderApplicationNotFound,
		Message:   "Lender application not found",
		Details:   fmt.Sprintf("reference: %s", ref),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewFundingApplicationNotFoundError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFundingApplicationNotFound,
		Message:   "Funding application not found",
		Details:   fmt.Sprintf("fundingApplicationId: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewQueryTimeoutError(queryType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("queryType: %s", queryType),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database insert operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewElasticsearchConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeElasticsearchConnectionFailed,
		Message:   "Elasticsearch connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewPollFailedError(lenderApplicationID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePollFailed,
		Message:   "Lender application poll failed",
		Details:   fmt.Sprintf("lenderApplicationId: %s, error: %s", lenderApplicationID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewWorkflowEngineError wraps a Zeebe gateway failure. Transport failures are
// retryable, rejections are not.
func NewWorkflowEngineError(operation string, err error, retryable bool) *StandardError {
	code := ErrCodeWorkflowEngineRejected
	if retryable {
		code = ErrCodeWorkflowEngineUnavailable
	}
	return &StandardError{
		Code:      code,
		Message:   fmt.Sprintf("Zeebe operation '%s' failed", operation),
		Details:   err.Error(),
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. BPMN Mapping
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:              "VALIDATION_FAILED",
	ErrCodeLenderSubmissionFailed:        "LENDER_SUBMISSION_FAILED",
	ErrCodeLenderTimeout:                 "LENDER_TIMEOUT",
	ErrCodeLenderTypeUnsupported:         "LENDER_TYPE_UNSUPPORTED",
	ErrCodeLenderStatusFailed:            "LENDER_STATUS_FAILED",
	ErrCodeOfferFetchFailed:              "OFFER_FETCH_FAILED",
	ErrCodeLenderApplicationNotFound:     "LENDER_APPLICATION_NOT_FOUND",
	ErrCodeDatabaseConnectionFailed:      "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryExecutionFailed:          "QUERY_EXECUTION_FAILED",
	ErrCodeQueryTimeout:                  "QUERY_TIMEOUT",
	ErrCodeDatabaseInsertFailed:          "DATABASE_INSERT_FAILED",
	ErrCodeElasticsearchConnectionFailed: "ELASTICSEARCH_CONNECTION_FAILED",
	ErrCodeNotificationSendFailed:        "NOTIFICATION_SEND_FAILED",
	ErrCodePollFailed:                    "POLL_FAILED",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeElasticsearchConnectionFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeLenderStatusFailed,
		ErrCodeOfferFetchFailed,
		ErrCodeWorkflowEngineUnavailable,
		ErrCodePollFailed:
		return 3 // Retryable technical errors

	case ErrCodeQueryTimeout,
		ErrCodeLenderTimeout:
		return 2 // Partial retry for timeouts

	default:
		return 0 // Business errors: no retry
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "LENDER") || strings.Contains(codeStr, "OFFER"):
		return "LENDER"
	case strings.Contains(codeStr, "WEBHOOK"):
		return "WEBHOOK"
	case strings.Contains(codeStr, "DOCUMENT"):
		return "DOCUMENT"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "ELASTICSEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "WORKFLOW"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "POLL"):
		return "POLLING"
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
