package ingress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enhancement-pipeline/internal/common/config"
	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/job"
	"enhancement-pipeline/internal/queue"
	"enhancement-pipeline/internal/tenant"
	"enhancement-pipeline/internal/webhook"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var webhookSecret = []byte("signing-secret")

type serverFixture struct {
	server *Server
	mock   sqlmock.Sqlmock
	rdb    *redis.Client
	redis  *miniredis.Miniredis
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()
	return setupServerCfg(t, config.ServerConfig{
		BodyLimit:    64 * 1024,
		ReadTimeout:  10000,
		WriteTimeout: 10000,
	})
}

func setupServerCfg(t *testing.T, cfg config.ServerConfig) *serverFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cipher, err := tenant.NewCipher(testKeyHex)
	require.NoError(t, err)
	directory := tenant.NewDirectory(db, cipher, time.Minute, logger.NewTestLogger(t))
	auth := webhook.NewAuthenticator(directory, 5*time.Minute, 30*time.Second, logger.NewTestLogger(t))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	q := queue.New(rdb, "test:jobs", "test-workers", 50*time.Millisecond, time.Second, logger.NewTestLogger(t))

	store := job.NewRecordStore(db, logger.NewTestLogger(t))
	return &serverFixture{
		server: NewServer(cfg, auth, q, store, logger.NewTestLogger(t)),
		mock:   mock,
		rdb:    rdb,
		redis:  mr,
	}
}

func (f *serverFixture) expectTenant(t *testing.T, tenantID string) {
	t.Helper()
	cipher, err := tenant.NewCipher(testKeyHex)
	require.NoError(t, err)
	encCred, err := cipher.Encrypt([]byte("api-token"))
	require.NoError(t, err)
	encSecret, err := cipher.Encrypt(webhookSecret)
	require.NoError(t, err)

	now := time.Now().UTC()
	f.mock.ExpectQuery("SELECT id, tool_type").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tool_type", "endpoint_url", "encrypted_credential", "encrypted_secret",
			"active", "created_at", "updated_at",
		}).AddRow(tenantID, "jira", "https://jira.example.com", encCred, encSecret, true, now, now))
}

func validBody() []byte {
	return []byte(`{"ticket_id":"T-1","description":"email bounces for external domains","priority":"high","created_at":"2026-02-10T09:30:00Z"}`)
}

func signedRequest(body []byte, secret []byte) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/acme", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Timestamp", ts)
	req.Header.Set("X-Webhook-Signature", webhook.SignHex(secret, ts, body))
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestPostWebhookAccepted(t *testing.T) {
	f := setupServer(t)
	f.expectTenant(t, "acme")

	req := signedRequest(validBody(), webhookSecret)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, "pending", body["status"])

	// The job landed in the stream.
	n, err := f.rdb.XLen(req.Context(), "test:jobs").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostWebhookBadSignature(t *testing.T) {
	f := setupServer(t)
	f.expectTenant(t, "acme")

	req := signedRequest(validBody(), []byte("wrong-secret"))
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "AUTHENTICATION_FAILED", errObj["code"])
}

func TestPostWebhookUnknownTenantSameShapeAsBadSignature(t *testing.T) {
	f := setupServer(t)
	f.mock.ExpectQuery("SELECT id, tool_type").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	resp, err := f.server.App().Test(signedRequest(validBody(), webhookSecret), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "AUTHENTICATION_FAILED", errObj["code"])
}

func TestPostWebhookSchemaViolations(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing ticket_id", `{"description":"x","priority":"high","created_at":"2026-02-10T09:30:00Z"}`, "ticket_id"},
		{"bad priority", `{"ticket_id":"T-1","description":"x","priority":"sev1","created_at":"2026-02-10T09:30:00Z"}`, "priority"},
		{"empty description", `{"ticket_id":"T-1","description":"","priority":"high","created_at":"2026-02-10T09:30:00Z"}`, "description"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupServer(t)
			f.expectTenant(t, "acme")

			resp, err := f.server.App().Test(signedRequest([]byte(tc.body), webhookSecret), -1)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			body := decodeBody(t, resp)
			errObj := body["error"].(map[string]interface{})
			assert.Equal(t, "VALIDATION_FAILED", errObj["code"])
			fields, _ := errObj["fields"].(map[string]interface{})
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestPostWebhookOversizedDescription(t *testing.T) {
	f := setupServer(t)
	f.expectTenant(t, "acme")

	long := bytes.Repeat([]byte("a"), 10001)
	body := []byte(fmt.Sprintf(`{"ticket_id":"T-1","description":"%s","priority":"high","created_at":"2026-02-10T09:30:00Z"}`, long))

	resp, err := f.server.App().Test(signedRequest(body, webhookSecret), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostWebhookBodyOverLimitRejected(t *testing.T) {
	f := setupServerCfg(t, config.ServerConfig{
		BodyLimit:    512,
		ReadTimeout:  10000,
		WriteTimeout: 10000,
	})

	long := bytes.Repeat([]byte("a"), 2048)
	body := []byte(fmt.Sprintf(`{"ticket_id":"T-1","description":"%s","priority":"high","created_at":"2026-02-10T09:30:00Z"}`, long))

	resp, err := f.server.App().Test(signedRequest(body, webhookSecret), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestPostWebhookNaiveCreatedAtRejected(t *testing.T) {
	f := setupServer(t)
	f.expectTenant(t, "acme")

	body := []byte(`{"ticket_id":"T-1","description":"x","priority":"high","created_at":"2026-02-10T09:30:00"}`)
	resp, err := f.server.App().Test(signedRequest(body, webhookSecret), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostWebhookQueueDown(t *testing.T) {
	f := setupServer(t)
	f.expectTenant(t, "acme")
	f.redis.Close()

	resp, err := f.server.App().Test(signedRequest(validBody(), webhookSecret), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "QUEUE_UNAVAILABLE", errObj["code"])
}

func TestGetJobStatus(t *testing.T) {
	f := setupServer(t)

	started := time.Now().UTC().Add(-time.Minute)
	finished := time.Now().UTC()
	f.mock.ExpectQuery("SELECT job_id, tenant_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"job_id", "tenant_id", "ticket_id", "status",
			"output", "error_code", "error_detail",
			"attempts", "started_at", "finished_at", "duration_ms",
		}).AddRow("job-1", "acme", "T-1", "completed", "the note", "", "", 1, started, finished, int64(900)))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "the note", body["output"])
}

func TestGetJobNotFound(t *testing.T) {
	f := setupServer(t)

	f.mock.ExpectQuery("SELECT job_id, tenant_id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
