package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enhancement-pipeline/internal/common/httpx"
	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/job"
	"enhancement-pipeline/internal/plugin"
	"enhancement-pipeline/internal/tenant"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setupAdapter(t *testing.T, endpoint string) *Adapter {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cipher, err := tenant.NewCipher(testKeyHex)
	require.NoError(t, err)
	encCred, err := cipher.Encrypt([]byte("jira-token"))
	require.NoError(t, err)
	encSecret, err := cipher.Encrypt([]byte("hook-secret"))
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, tool_type").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tool_type", "endpoint_url", "encrypted_credential", "encrypted_secret",
			"active", "created_at", "updated_at",
		}).AddRow("acme", ToolType, endpoint, encCred, encSecret, true, now, now))

	directory := tenant.NewDirectory(db, cipher, time.Minute, logger.NewTestLogger(t))
	return New(directory, httpx.NewClient(2*time.Second), logger.NewTestLogger(t))
}

func TestExtractMetadataFromIssueEnvelope(t *testing.T) {
	a := New(nil, nil, logger.NewNoOpLogger())

	payload := []byte(`{
		"tenant_id": "acme",
		"issue": {
			"key": "OPS-42",
			"fields": {
				"summary": "Build agents offline",
				"description": "All Linux build agents stopped reporting",
				"created": "2026-02-10T09:30:00.000+0200",
				"priority": {"name": "Highest"}
			}
		}
	}`)

	meta, err := a.ExtractMetadata(payload)
	require.NoError(t, err)
	assert.Equal(t, "OPS-42", meta.TicketID)
	assert.Equal(t, "All Linux build agents stopped reporting", meta.Description)
	assert.Equal(t, job.PriorityUrgent, meta.Priority)
}

func TestExtractMetadataFallsBackToSummary(t *testing.T) {
	a := New(nil, nil, logger.NewNoOpLogger())

	payload := []byte(`{
		"tenant_id": "acme",
		"issue": {
			"key": "OPS-43",
			"fields": {
				"summary": "Disk alerts",
				"created": "2026-02-10T09:30:00.000+0200",
				"priority": {"name": "Low"}
			}
		}
	}`)

	meta, err := a.ExtractMetadata(payload)
	require.NoError(t, err)
	assert.Equal(t, "Disk alerts", meta.Description)
	assert.Equal(t, job.PriorityLow, meta.Priority)
}

func TestExtractMetadataNaiveCreatedRejected(t *testing.T) {
	a := New(nil, nil, logger.NewNoOpLogger())

	payload := []byte(`{"tenant_id":"acme","ticket_id":"OPS-1","description":"x","created_at":"2026-02-10 09:30:00"}`)
	_, err := a.ExtractMetadata(payload)
	var ee *plugin.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "created_at", ee.Field)
}

func TestJiraPriorityMapping(t *testing.T) {
	assert.Equal(t, job.PriorityLow, normalizePriority("Lowest"))
	assert.Equal(t, job.PriorityLow, normalizePriority("Trivial"))
	assert.Equal(t, job.PriorityHigh, normalizePriority("Major"))
	assert.Equal(t, job.PriorityUrgent, normalizePriority("Blocker"))
	assert.Equal(t, job.PriorityMedium, normalizePriority("Medium"))
}

func TestGetTicketUsesBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jira-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/rest/api/2/issue/OPS-42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"key": "OPS-42",
			"fields": map[string]interface{}{
				"summary":     "Build agents offline",
				"description": "details",
				"status":      map[string]string{"name": "To Do"},
				"priority":    map[string]string{"name": "High"},
				"reporter":    map[string]string{"displayName": "Sam"},
			},
		})
	}))
	defer srv.Close()

	a := setupAdapter(t, srv.URL)
	ticket, err := a.GetTicket(context.Background(), "acme", "OPS-42")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "OPS-42", ticket.ID)
	assert.Equal(t, "Sam", ticket.Requester)
}

func TestUpdateTicketPostsComment(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/OPS-42/comment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := setupAdapter(t, srv.URL)
	accepted, err := a.UpdateTicket(context.Background(), "acme", "OPS-42", "enhancement note")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, "enhancement note", gotBody["body"])
}

func TestGetTicketMissingIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := setupAdapter(t, srv.URL)
	ticket, err := a.GetTicket(context.Background(), "acme", "OPS-404")
	assert.NoError(t, err)
	assert.Nil(t, ticket)
}
