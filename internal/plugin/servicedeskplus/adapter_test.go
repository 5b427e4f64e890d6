package servicedeskplus

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
	encCred, err := cipher.Encrypt([]byte("sdp-token"))
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

func TestExtractMetadataFromEnvelope(t *testing.T) {
	a := New(nil, nil, logger.NewNoOpLogger())

	payload := []byte(`{
		"tenant_id": "acme",
		"request": {
			"id": "1043",
			"subject": "Cannot print",
			"description": "Printer on floor 3 jams on duplex",
			"priority": {"name": "High"},
			"created_time": {"value": "2026-02-10T09:30:00+01:00"}
		}
	}`)

	meta, err := a.ExtractMetadata(payload)
	require.NoError(t, err)
	assert.Equal(t, "acme", meta.TenantID)
	assert.Equal(t, "1043", meta.TicketID)
	assert.Equal(t, "Printer on floor 3 jams on duplex", meta.Description)
	assert.Equal(t, job.PriorityHigh, meta.Priority)
	assert.Equal(t, 2026, meta.CreatedAt.Year())
}

func TestExtractMetadataFromFlatEvent(t *testing.T) {
	a := New(nil, nil, logger.NewNoOpLogger())

	payload := []byte(`{
		"tenant_id": "acme",
		"ticket_id": "T-9",
		"description": "VPN unstable",
		"priority": "urgent",
		"created_at": "2026-02-10T09:30:00Z"
	}`)

	meta, err := a.ExtractMetadata(payload)
	require.NoError(t, err)
	assert.Equal(t, "T-9", meta.TicketID)
	assert.Equal(t, job.PriorityUrgent, meta.Priority)
}

func TestExtractMetadataMissingFields(t *testing.T) {
	a := New(nil, nil, logger.NewNoOpLogger())

	cases := []struct {
		name    string
		payload string
		field   string
	}{
		{"missing tenant", `{"ticket_id":"T-1","description":"x","created_at":"2026-01-01T00:00:00Z"}`, "tenant_id"},
		{"missing ticket", `{"tenant_id":"acme","description":"x","created_at":"2026-01-01T00:00:00Z"}`, "ticket_id"},
		{"missing description", `{"tenant_id":"acme","ticket_id":"T-1","created_at":"2026-01-01T00:00:00Z"}`, "description"},
		{"missing created_at", `{"tenant_id":"acme","ticket_id":"T-1","description":"x"}`, "created_at"},
		{"not json", `{{{`, "payload"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.ExtractMetadata([]byte(tc.payload))
			var ee *plugin.ExtractionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tc.field, ee.Field)
		})
	}
}

func TestExtractMetadataRejectsNaiveTimestamp(t *testing.T) {
	a := New(nil, nil, logger.NewNoOpLogger())

	payload := []byte(`{"tenant_id":"acme","ticket_id":"T-1","description":"x","created_at":"2026-01-01T10:00:00"}`)
	_, err := a.ExtractMetadata(payload)
	var ee *plugin.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "created_at", ee.Field)
	assert.Contains(t, ee.Reason, "timezone")
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, job.PriorityLow, normalizePriority("4 - Low"))
	assert.Equal(t, job.PriorityHigh, normalizePriority("High"))
	assert.Equal(t, job.PriorityUrgent, normalizePriority("1 - Critical"))
	assert.Equal(t, job.PriorityMedium, normalizePriority("Medium"))
	assert.Equal(t, job.PriorityMedium, normalizePriority("whatever"))
}

func TestGetTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sdp-token", r.Header.Get("authtoken"))
		assert.Equal(t, "/api/v3/requests/1043", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"request": map[string]interface{}{
				"id":          "1043",
				"subject":     "Cannot print",
				"description": "Printer jams",
				"status":      map[string]string{"name": "Open"},
				"priority":    map[string]string{"name": "High"},
				"requester":   map[string]string{"name": "Dana"},
			},
		})
	}))
	defer srv.Close()

	a := setupAdapter(t, srv.URL)
	ticket, err := a.GetTicket(context.Background(), "acme", "1043")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "1043", ticket.ID)
	assert.Equal(t, "Open", ticket.Status)
	assert.Equal(t, "Dana", ticket.Requester)
}

func TestGetTicketNotFoundIsNilNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := setupAdapter(t, srv.URL)
	ticket, err := a.GetTicket(context.Background(), "acme", "9999")
	assert.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestGetTicketAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := setupAdapter(t, srv.URL)
	_, err := a.GetTicket(context.Background(), "acme", "1043")
	assert.ErrorIs(t, err, plugin.ErrToolAuthRejected)
}

func TestUpdateTicketAcceptedAndRejected(t *testing.T) {
	status := http.StatusCreated
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/requests/1043/notes", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	a := setupAdapter(t, srv.URL)
	accepted, err := a.UpdateTicket(context.Background(), "acme", "1043", "note")
	require.NoError(t, err)
	assert.True(t, accepted)

	// Vendor rejection: no error, accepted=false.
	status = http.StatusUnprocessableEntity
	accepted, err = a.UpdateTicket(context.Background(), "acme", "1043", "note")
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestUpdateTicketServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := setupAdapter(t, srv.URL)
	_, err := a.UpdateTicket(context.Background(), "acme", "1043", "note")
	assert.ErrorIs(t, err, plugin.ErrToolUnavailable)
}
