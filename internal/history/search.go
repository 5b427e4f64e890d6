// Package history implements ranked lexical search over past tickets with a
// trigram-similarity fallback.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"enhancement-pipeline/internal/common/logger"
)

const (
	// MaxQueryLength bounds inbound query text.
	MaxQueryLength = 1000
	// DefaultLimit applies when the caller passes limit <= 0.
	DefaultLimit = 5
	// maxLimit caps the caller-requested limit.
	maxLimit = 50
	// similarityThreshold is the pg_trgm floor for fallback matches.
	similarityThreshold = 0.3
)

// ValidationError is the typed rejection for bad query input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid search input: %s: %s", e.Field, e.Message)
}

// ErrQueryFailed wraps search store failures.
var ErrQueryFailed = errors.New("history search failed")

// Match is one ranked search hit.
type Match struct {
	TicketID   string  `json:"ticket_id"`
	Subject    string  `json:"subject"`
	Resolution string  `json:"resolution"`
	Score      float64 `json:"score"`
}

// Engine runs the two-stage strategy chain: full-text ranking first, trigram
// similarity only when the first stage returns nothing. The stages are
// mutually exclusive; fallback results are never mixed with lexical ones.
type Engine struct {
	db  *sql.DB
	log logger.Logger
}

func NewEngine(db *sql.DB, log logger.Logger) *Engine {
	return &Engine{db: db, log: log.WithFields(map[string]interface{}{"component": "history-search"})}
}

// The composite index behind both stages is (tenant_id, search_vector) /
// (tenant_id, normalized_text gin_trgm_ops); tenant filtering always happens
// before any text matching.
const lexicalSQL = `
SELECT ticket_id, subject, COALESCE(resolution, ''),
       ts_rank(search_vector, plainto_tsquery('english', $2)) AS score
FROM ticket_history
WHERE tenant_id = $1
  AND search_vector @@ plainto_tsquery('english', $2)
ORDER BY score DESC, ticket_id
LIMIT $3`

const similaritySQL = `
SELECT ticket_id, subject, COALESCE(resolution, ''),
       similarity(normalized_text, $2) AS score
FROM ticket_history
WHERE tenant_id = $1
  AND similarity(normalized_text, $2) >= $3
ORDER BY score DESC, ticket_id
LIMIT $4`

// Search returns up to limit matches for a tenant, relevance-descending.
// Empty results are a valid, non-error outcome.
func (e *Engine) Search(ctx context.Context, tenantID, query string, limit int) ([]Match, error) {
	normalized, err := validateQuery(tenantID, query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	matches, err := e.runQuery(ctx, lexicalSQL, tenantID, normalized, limit)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches, nil
	}

	e.log.Debug("lexical search empty, trying similarity fallback", map[string]interface{}{
		"tenantId": tenantID,
	})
	return e.runQuerySim(ctx, tenantID, normalized, limit)
}

func (e *Engine) runQuery(ctx context.Context, q, tenantID, query string, limit int) ([]Match, error) {
	rows, err := e.db.QueryContext(ctx, q, tenantID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanMatches(rows)
}

func (e *Engine) runQuerySim(ctx context.Context, tenantID, query string, limit int) ([]Match, error) {
	rows, err := e.db.QueryContext(ctx, similaritySQL, tenantID, query, similarityThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanMatches(rows)
}

func scanMatches(rows *sql.Rows) ([]Match, error) {
	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.TicketID, &m.Subject, &m.Resolution, &m.Score); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return matches, nil
}

func validateQuery(tenantID, query string) (string, error) {
	if tenantID == "" {
		return "", &ValidationError{Field: "tenant_id", Message: "must not be empty"}
	}
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if normalized == "" {
		return "", &ValidationError{Field: "query", Message: "must not be empty"}
	}
	if len(normalized) > MaxQueryLength {
		return "", &ValidationError{
			Field:   "query",
			Message: fmt.Sprintf("exceeds maximum length of %d characters", MaxQueryLength),
		}
	}
	return normalized, nil
}
