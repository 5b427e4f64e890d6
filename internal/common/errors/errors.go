// Package errors provides standardized error handling for the enhancement pipeline.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Ingress boundary
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodeQueueUnavailable     ErrorCode = "QUEUE_UNAVAILABLE"

	// Tenant directory
	ErrCodeTenantNotFound         ErrorCode = "TENANT_NOT_FOUND"
	ErrCodeTenantLookupFailed     ErrorCode = "TENANT_LOOKUP_FAILED"
	ErrCodeCredentialDecryptError ErrorCode = "CREDENTIAL_DECRYPT_ERROR"

	// Plugin layer
	ErrCodePluginNotFound    ErrorCode = "PLUGIN_NOT_FOUND"
	ErrCodeMetadataInvalid   ErrorCode = "METADATA_INVALID"
	ErrCodeToolUnavailable   ErrorCode = "TOOL_UNAVAILABLE"
	ErrCodeToolAuthRejected  ErrorCode = "TOOL_AUTH_REJECTED"
	ErrCodeTicketNotFound    ErrorCode = "TICKET_NOT_FOUND"
	ErrCodeDispatchFailed    ErrorCode = "DISPATCH_FAILED"
	ErrCodeDispatchExhausted ErrorCode = "DISPATCH_EXHAUSTED"

	// Context gathering
	ErrCodeSearchQueryFailed ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeSearchTimeout     ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeProviderDegraded  ErrorCode = "PROVIDER_DEGRADED"

	// Synthesis
	ErrCodeSynthesisUnavailable ErrorCode = "SYNTHESIS_UNAVAILABLE"
	ErrCodeSynthesisTimeout     ErrorCode = "SYNTHESIS_TIMEOUT"

	// Job lifecycle
	ErrCodeIllegalTransition ErrorCode = "ILLEGAL_STATE_TRANSITION"
	ErrCodeJobAlreadyClaimed ErrorCode = "JOB_ALREADY_CLAIMED"
	ErrCodeRecordStoreFailed ErrorCode = "RECORD_STORE_FAILED"
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

// PublicMessage returns the message safe to show external callers.
// Details, store names, and credentials stay in server-side logs only.
func (e *StandardError) PublicMessage() string {
	return e.Message
}

// ==========================
// 2. Error Constructors
// ==========================

// NewAuthenticationFailedError creates a non-retryable authentication error.
// Details stay server-side; the message deliberately carries no hint about
// which check failed.
func NewAuthenticationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthenticationFailed,
		Message:   "webhook authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable validation error with
// field-level detail for the caller.
func NewValidationFailedError(details string, fields map[string]interface{}) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "payload validation failed",
		Details:   details,
		Retryable: false,
		Metadata:  fields,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueueUnavailableError creates a retryable queue infrastructure error.
func NewQueueUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueUnavailable,
		Message:   "job queue is unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTenantNotFoundError creates a non-retryable tenant error.
func NewTenantNotFoundError(tenantID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTenantNotFound,
		Message:   "tenant not found or inactive",
		Details:   fmt.Sprintf("tenantId: %s", tenantID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTenantLookupFailedError creates a retryable directory infrastructure error.
func NewTenantLookupFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTenantLookupFailed,
		Message:   "tenant directory lookup failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPluginNotFoundError creates a non-retryable plugin resolution error.
// The registered set is carried in metadata so the job record can enumerate it.
func NewPluginNotFoundError(toolType string, registered []string) *StandardError {
	return &StandardError{
		Code:      ErrCodePluginNotFound,
		Message:   fmt.Sprintf("no plugin registered for tool type %q", toolType),
		Details:   fmt.Sprintf("registered tool types: %v", registered),
		Retryable: false,
		Metadata:  map[string]interface{}{"registered": registered},
		Timestamp: time.Now().UTC(),
	}
}

// NewMetadataInvalidError creates a non-retryable metadata extraction error.
func NewMetadataInvalidError(field, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMetadataInvalid,
		Message:   "ticket metadata extraction failed",
		Details:   fmt.Sprintf("field: %s, %s", field, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolUnavailableError creates a retryable ticketing tool network error.
func NewToolUnavailableError(toolType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeToolUnavailable,
		Message:   "ticketing tool is unavailable",
		Details:   fmt.Sprintf("toolType: %s, error: %s", toolType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolAuthRejectedError creates a non-retryable vendor authentication error.
func NewToolAuthRejectedError(toolType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeToolAuthRejected,
		Message:   "ticketing tool rejected credentials",
		Details:   fmt.Sprintf("toolType: %s", toolType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTicketNotFoundError creates a non-retryable error for a ticket that no
// longer exists in the tenant's tool.
func NewTicketNotFoundError(ticketID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTicketNotFound,
		Message:   "ticket no longer exists",
		Details:   fmt.Sprintf("ticketId: %s", ticketID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDispatchFailedError creates a non-retryable dispatch error. The vendor
// reported failure for the update itself, so a retry would not help.
func NewDispatchFailedError(ticketID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDispatchFailed,
		Message:   "ticket update was rejected",
		Details:   fmt.Sprintf("ticketId: %s", ticketID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDispatchExhaustedError creates a non-retryable error after bounded
// dispatch retries ran out.
func NewDispatchExhaustedError(ticketID string, attempts int, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDispatchExhausted,
		Message:   "ticket update failed after retries",
		Details:   fmt.Sprintf("ticketId: %s, attempts: %d, error: %s", ticketID, attempts, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchQueryFailedError creates a retryable search infrastructure error.
func NewSearchQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "ticket history search failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSynthesisUnavailableError creates a non-retryable synthesis error.
// No fallback content is substituted; the job is failed instead.
func NewSynthesisUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSynthesisUnavailable,
		Message:   "synthesis service is unavailable",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSynthesisTimeoutError creates a non-retryable synthesis timeout error.
func NewSynthesisTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeSynthesisTimeout,
		Message:   "synthesis call exceeded its deadline",
		Details:   "request timeout",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIllegalTransitionError creates a non-retryable state machine error.
func NewIllegalTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIllegalTransition,
		Message:   "illegal job state transition",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRecordStoreFailedError creates a retryable record store error.
func NewRecordStoreFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRecordStoreFailed,
		Message:   "enhancement record store error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// AsStandard normalizes any error into a StandardError.
func AsStandard(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
