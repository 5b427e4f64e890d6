package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"enhancement-pipeline/internal/common/logger"
)

var (
	// ErrAlreadyClaimed means another worker owns or finished this job id.
	// The caller should ack the delivery and move on.
	ErrAlreadyClaimed = errors.New("job already claimed")
	// ErrTerminal means the record is already in a terminal state and
	// rejected the mutation.
	ErrTerminal = errors.New("job record is terminal")
	// ErrRecordNotFound means no record exists for the job id.
	ErrRecordNotFound = errors.New("job record not found")
	// ErrStoreUnavailable wraps infrastructure failures of the store.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// RecordStore persists job outcomes in Postgres. The insert doubles as the
// idempotency guard: at-least-once delivery means the same job id can arrive
// at two workers, and only the first insert wins.
type RecordStore struct {
	db  *sql.DB
	log logger.Logger
}

func NewRecordStore(db *sql.DB, log logger.Logger) *RecordStore {
	return &RecordStore{db: db, log: log.WithFields(map[string]interface{}{"component": "record-store"})}
}

const beginSQL = `
INSERT INTO enhancement_records (job_id, tenant_id, ticket_id, status, attempts, started_at)
VALUES ($1, $2, $3, 'in_progress', $4, $5)
ON CONFLICT (job_id) DO NOTHING`

// Begin claims the job id before any side-effecting work. Returns
// ErrAlreadyClaimed when a record for the id already exists.
func (s *RecordStore) Begin(ctx context.Context, j *EnhancementJob) error {
	res, err := s.db.ExecContext(ctx, beginSQL, j.ID, j.TenantID, j.TicketID, j.Attempt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rows == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

const completeSQL = `
UPDATE enhancement_records
SET status = 'completed', output = $2, bundle_snapshot = $3,
    finished_at = $4, duration_ms = $5
WHERE job_id = $1 AND status = 'in_progress'`

// Complete finalizes a successful job. A record not in in_progress rejects
// the update, which keeps terminal states immutable.
func (s *RecordStore) Complete(ctx context.Context, jobID, output string, bundleSnapshot []byte, duration time.Duration) error {
	res, err := s.db.ExecContext(ctx, completeSQL,
		jobID, output, bundleSnapshot, time.Now().UTC(), duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.requireOneRow(res)
}

const failSQL = `
UPDATE enhancement_records
SET status = 'failed', error_code = $2, error_detail = $3,
    bundle_snapshot = $4, finished_at = $5, duration_ms = $6
WHERE job_id = $1 AND status = 'in_progress'`

// Fail finalizes a failed job with its error classification.
func (s *RecordStore) Fail(ctx context.Context, jobID, errorCode, errorDetail string, bundleSnapshot []byte, duration time.Duration) error {
	res, err := s.db.ExecContext(ctx, failSQL,
		jobID, errorCode, errorDetail, bundleSnapshot, time.Now().UTC(), duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.requireOneRow(res)
}

const getSQL = `
SELECT job_id, tenant_id, ticket_id, status,
       COALESCE(output, ''), COALESCE(error_code, ''), COALESCE(error_detail, ''),
       attempts, started_at, finished_at, COALESCE(duration_ms, 0)
FROM enhancement_records
WHERE job_id = $1`

// Get returns the persisted record for a job id.
func (s *RecordStore) Get(ctx context.Context, jobID string) (*EnhancementRecord, error) {
	var rec EnhancementRecord
	var status string
	var finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, getSQL, jobID).Scan(
		&rec.JobID, &rec.TenantID, &rec.TicketID, &status,
		&rec.Output, &rec.ErrorCode, &rec.ErrorDetail,
		&rec.Attempts, &rec.StartedAt, &finishedAt, &rec.DurationMillis,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec.Status = RecordStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func (s *RecordStore) requireOneRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rows == 0 {
		return ErrTerminal
	}
	return nil
}
