// Package job holds the enhancement job model, its state machine, and the
// persisted record of each job's outcome.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an enhancement job.
// Legal transitions: pending -> in_progress -> (completed | failed).
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether the state is final. Terminal states are immutable.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var legalTransitions = map[State][]State{
	StatePending:    {StateInProgress},
	StateInProgress: {StateCompleted, StateFailed},
}

// ErrIllegalTransition is wrapped by transition errors for errors.Is checks.
var ErrIllegalTransition = fmt.Errorf("illegal job state transition")

// ValidateTransition returns an error unless from -> to is a legal move.
func ValidateTransition(from, to State) error {
	for _, next := range legalTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// Priority is the inbound ticket priority. Fixed small set, validated at
// the ingress boundary.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority validates a raw priority string.
func ParsePriority(raw string) (Priority, error) {
	switch Priority(raw) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(raw), nil
	}
	return "", fmt.Errorf("unknown priority %q", raw)
}

// EnhancementJob is one unit of enhancement work. Created at ingress,
// mutated only by the worker that owns it.
type EnhancementJob struct {
	ID          string    `json:"job_id"`
	TenantID    string    `json:"tenant_id"`
	TicketID    string    `json:"ticket_id"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`

	State State `json:"-"`

	// Retry bookkeeping lives on the job itself so the worker loop can
	// inspect it instead of hiding retries in a decorator.
	Attempt      int       `json:"-"`
	LastError    string    `json:"-"`
	BackoffUntil time.Time `json:"-"`
}

// New builds a pending job with a generated id.
func New(tenantID, ticketID, description string, priority Priority, createdAt time.Time) *EnhancementJob {
	return &EnhancementJob{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		TicketID:    ticketID,
		Description: description,
		Priority:    priority,
		CreatedAt:   createdAt,
		State:       StatePending,
	}
}

// SetState applies a transition, rejecting illegal moves and any mutation
// of a terminal state.
func (j *EnhancementJob) SetState(to State) error {
	if err := ValidateTransition(j.State, to); err != nil {
		return err
	}
	j.State = to
	return nil
}
