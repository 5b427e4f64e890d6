package errors

import "time"

// Retry policy lives here rather than in per-component decorators so the
// worker loop can inspect it next to the job's attempt counter.

var retryCounts = map[ErrorCode]int{
	ErrCodeQueueUnavailable:   3,
	ErrCodeTenantLookupFailed: 3,
	ErrCodeToolUnavailable:    3,
	ErrCodeSearchQueryFailed:  2,
	ErrCodeSearchTimeout:      2,
	ErrCodeRecordStoreFailed:  3,
}

// GetRetryCount returns how many retries a given error code warrants.
// Zero means the failure is terminal for the job.
func GetRetryCount(code ErrorCode) int {
	return retryCounts[code]
}

// GetErrorCategory groups codes for logging and metrics labels.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeAuthenticationFailed:
		return "authentication"
	case ErrCodeValidationFailed, ErrCodeMetadataInvalid:
		return "validation"
	case ErrCodeQueueUnavailable, ErrCodeTenantLookupFailed, ErrCodeRecordStoreFailed:
		return "infrastructure"
	case ErrCodeSearchQueryFailed, ErrCodeSearchTimeout, ErrCodeProviderDegraded:
		return "context"
	case ErrCodePluginNotFound, ErrCodeToolUnavailable, ErrCodeToolAuthRejected,
		ErrCodeTicketNotFound, ErrCodeDispatchFailed, ErrCodeDispatchExhausted:
		return "plugin"
	case ErrCodeSynthesisUnavailable, ErrCodeSynthesisTimeout:
		return "synthesis"
	default:
		return "internal"
	}
}

// Backoff returns the exponential backoff delay before a given attempt,
// starting at base and doubling per attempt, capped at 30 seconds.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if max := 30 * time.Second; d > max {
		d = max
	}
	return d
}
