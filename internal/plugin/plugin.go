// Package plugin defines the ticketing-tool abstraction: one implementation
// per vendor behind a single interface, resolved by tenant tool type.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"enhancement-pipeline/internal/job"
)

var (
	// ErrToolUnavailable marks network or infrastructure failures talking
	// to the vendor API. Distinguishable from not-found by contract.
	ErrToolUnavailable = errors.New("ticketing tool unavailable")
	// ErrToolAuthRejected marks a vendor-side credential rejection. Never
	// retried.
	ErrToolAuthRejected = errors.New("ticketing tool rejected credentials")
)

// ExtractionError is the typed failure of ExtractMetadata: a required field
// is absent or a timestamp cannot be parsed as timezone-aware.
type ExtractionError struct {
	Field  string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("metadata extraction failed: field %q: %s", e.Field, e.Reason)
}

// TicketMetadata is the normalized view of an inbound event. Derived once
// per job, consumed immediately, never persisted independently.
type TicketMetadata struct {
	TenantID    string
	TicketID    string
	Description string
	Priority    job.Priority
	CreatedAt   time.Time // always offset-aware; naive timestamps are rejected
}

// Ticket is vendor ticket data as returned by GetTicket.
type Ticket struct {
	ID          string
	Subject     string
	Description string
	Status      string
	Priority    string
	Requester   string
	UpdatedAt   time.Time
}

// ToolPlugin is the interface every vendor adapter implements.
//
// GetTicket returns (nil, nil) on a 404-equivalent: absence is not an error.
// Network and auth failures come back as ErrToolUnavailable or
// ErrToolAuthRejected so the dispatcher can pick a retry policy.
type ToolPlugin interface {
	// ToolType is the registry key, e.g. "servicedesk_plus".
	ToolType() string

	// ValidateWebhook checks a vendor webhook signature against the
	// tenant's signing secret.
	ValidateWebhook(payload []byte, signature string, secret []byte) bool

	// ExtractMetadata normalizes a raw event payload. Returns an
	// *ExtractionError when required fields are absent or the timestamp
	// carries no timezone.
	ExtractMetadata(payload []byte) (*TicketMetadata, error)

	// GetTicket fetches current ticket data for the tenant.
	GetTicket(ctx context.Context, tenantID, ticketID string) (*Ticket, error)

	// UpdateTicket writes enhancement content back to the ticket. A false
	// return with nil error means the vendor rejected the update.
	UpdateTicket(ctx context.Context, tenantID, ticketID, content string) (bool, error)
}

// Timestamp layouts accepted by adapters. Every layout carries an explicit
// offset; anything else is a naive timestamp and gets rejected.
var eventTimeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700", // Jira
	"2006-01-02T15:04:05-0700",
}

// ParseEventTime parses an event timestamp, requiring timezone information.
func ParseEventTime(raw string) (time.Time, error) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	// A second pass with zone-less layouts only to produce a precise error.
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, raw); err == nil {
			return time.Time{}, fmt.Errorf("timestamp %q has no timezone offset", raw)
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
