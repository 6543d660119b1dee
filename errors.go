package shopify

import (
	"fmt"
	"strings"
)

// maxReasonLength caps the reason text included in user-visible messages.
const maxReasonLength = 2048

// ValidationError reports bad user input (settings, filters). Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid option %q: %s", e.Field, truncateReason(e.Reason))
}

// PermissionError reports OAuth scopes the token is missing.
type PermissionError struct {
	MissingScopes []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing access scopes: %s", strings.Join(e.MissingScopes, ", "))
}

// ApiError is a non-retriable HTTP failure (4xx except 429, and 303).
type ApiError struct {
	Status    int
	Body      string
	RequestID string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("api error status=%d request_id=%s: %s", e.Status, e.RequestID, truncateReason(e.Body))
}

// RateLimitError is a 429; RetryAfter carries the server's backoff hint in
// seconds. Recovered locally by sleeping.
type RateLimitError struct {
	RetryAfter float64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %.1fs", e.RetryAfter)
}

// TransientError is a retriable transport failure (5xx, connection resets).
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient error status=%d: %s", e.Status, e.Err)
	}
	return fmt.Sprintf("transient error status=%d", e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// BulkErrorReason classifies a bulk operation failure so retry policy is a
// tag check rather than message matching.
type BulkErrorReason string

const (
	// BulkBlocked: another bulk operation is already in progress.
	BulkBlocked BulkErrorReason = "blocked"
	// BulkThrottled: the submit or poll was throttled.
	BulkThrottled BulkErrorReason = "throttled"
	// BulkFailed: the operation reached a dead state (CANCELED, CANCELING,
	// EXPIRED, FAILED), the submit was rejected, or polling failed or saw
	// an unknown status more than MaxPollErrors times.
	BulkFailed BulkErrorReason = "failed"
	// BulkPollTimeout: the poll budget was exhausted.
	BulkPollTimeout BulkErrorReason = "poll_timeout"
)

// BulkError is a bulk-operation failure carrying its retry classification.
type BulkError struct {
	Reason  BulkErrorReason
	Status  string
	Message string
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk operation %s (status=%s): %s", e.Reason, e.Status, truncateReason(e.Message))
}

// ParseError reports malformed JSONL: over-long lines, undecodable objects,
// or a child observed before its parent.
type ParseError struct {
	Module string
	Line   int64
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error at line %d: %s", e.Module, e.Line, truncateReason(e.Reason))
}

// StoreError reports an intermediate-store failure. Fatal.
type StoreError struct {
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("intermediate store (%s): %s", e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func truncateReason(s string) string {
	if len(s) > maxReasonLength {
		return s[:maxReasonLength] + "..."
	}
	return s
}
