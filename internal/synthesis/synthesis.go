package synthesis

import (
	"errors"
	"time"

	"enhancement-pipeline/internal/enrichment"
)

var (
	ErrUnavailable = errors.New("SYNTHESIS_UNAVAILABLE")
	ErrTimeout     = errors.New("SYNTHESIS_TIMEOUT")
)

// Request carries the ticket text plus the gathered context bundle.
type Request struct {
	TenantID    string
	TicketID    string
	Description string
	Bundle      *enrichment.Bundle
}

// Result is the synthesized enhancement note and its usage metadata.
type Result struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
	Latency      time.Duration
}
