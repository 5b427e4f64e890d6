package job

import "time"

// RecordStatus mirrors the job state as persisted. Kept as its own type so
// the store never writes a transient in-memory state by accident.
type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordInProgress RecordStatus = "in_progress"
	RecordCompleted  RecordStatus = "completed"
	RecordFailed     RecordStatus = "failed"
)

// EnhancementRecord is the persisted outcome of one job.
type EnhancementRecord struct {
	JobID          string       `json:"job_id"`
	TenantID       string       `json:"tenant_id"`
	TicketID       string       `json:"ticket_id"`
	Status         RecordStatus `json:"status"`
	Output         string       `json:"output,omitempty"`
	ErrorCode      string       `json:"error_code,omitempty"`
	ErrorDetail    string       `json:"error_detail,omitempty"`
	BundleSnapshot []byte       `json:"-"` // JSON, audit only
	Attempts       int          `json:"attempts"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
	DurationMillis int64        `json:"duration_ms"`
}
