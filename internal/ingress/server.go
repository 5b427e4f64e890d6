package ingress

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"enhancement-pipeline/internal/common/config"
	apperrors "enhancement-pipeline/internal/common/errors"
	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/common/metrics"
	"enhancement-pipeline/internal/job"
	"enhancement-pipeline/internal/plugin"
	"enhancement-pipeline/internal/queue"
	"enhancement-pipeline/internal/webhook"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"
)

type webhookBody struct {
	TicketID    string `json:"ticket_id"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	CreatedAt   string `json:"created_at"`
}

// Server exposes the webhook and job-status API.
type Server struct {
	app   *fiber.App
	auth  *webhook.Authenticator
	queue *queue.Queue
	store *job.RecordStore
	log   logger.Logger
}

func NewServer(cfg config.ServerConfig, auth *webhook.Authenticator, q *queue.Queue, store *job.RecordStore, log logger.Logger) *Server {
	s := &Server{
		auth:  auth,
		queue: q,
		store: store,
		log:   log.WithFields(map[string]interface{}{"component": "ingress"}),
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadBufferSize:        16 * 1024,
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           cfg.GetReadTimeout(),
		WriteTimeout:          cfg.GetWriteTimeout(),
	})
	s.app.Post("/v1/webhooks/:tenantID", s.postWebhook)
	s.app.Get("/v1/jobs/:jobID", s.getJob)
	s.app.Get("/healthz", s.healthz)
	return s
}

// App exposes the fiber app for tests and for Listen in main.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) postWebhook(c *fiber.Ctx) error {
	tenantID := c.Params("tenantID")
	signature := c.Get(headerSignature)
	timestamp := c.Get(headerTimestamp)
	body := append([]byte(nil), c.Body()...)

	if err := s.auth.Authenticate(c.Context(), tenantID, body, signature, timestamp); err != nil {
		// Unknown tenant, stale timestamp, and bad signature all collapse
		// into the same response so callers cannot enumerate tenant IDs.
		metrics.JobsRejected.WithLabelValues("authentication").Inc()
		s.log.Warn("webhook rejected", map[string]interface{}{
			"tenant_id": tenantID,
			"reason":    err.Error(),
		})
		return s.standardError(c, fiber.StatusUnauthorized, apperrors.NewAuthenticationFailedError("webhook signature verification failed"), nil)
	}

	if fields, err := validatePayload(body); err != nil {
		metrics.JobsRejected.WithLabelValues("validation").Inc()
		return s.standardError(c, fiber.StatusBadRequest, apperrors.NewValidationFailedError("payload is not valid JSON", nil), nil)
	} else if fields != nil {
		metrics.JobsRejected.WithLabelValues("validation").Inc()
		s.log.Info("webhook payload invalid", map[string]interface{}{
			"tenant_id": tenantID,
			"fields":    fieldList(fields),
		})
		return s.standardError(c, fiber.StatusBadRequest, apperrors.NewValidationFailedError("payload failed validation", fields), fields)
	}

	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.JobsRejected.WithLabelValues("validation").Inc()
		return s.standardError(c, fiber.StatusBadRequest, apperrors.NewValidationFailedError("payload is not valid JSON", nil), nil)
	}

	priority, err := job.ParsePriority(payload.Priority)
	if err != nil {
		metrics.JobsRejected.WithLabelValues("validation").Inc()
		fields := map[string]interface{}{"priority": err.Error()}
		return s.standardError(c, fiber.StatusBadRequest, apperrors.NewValidationFailedError("unknown priority", fields), fields)
	}

	createdAt, err := plugin.ParseEventTime(payload.CreatedAt)
	if err != nil {
		metrics.JobsRejected.WithLabelValues("validation").Inc()
		fields := map[string]interface{}{"created_at": err.Error()}
		return s.standardError(c, fiber.StatusBadRequest, apperrors.NewValidationFailedError("invalid created_at", fields), fields)
	}

	j := job.New(tenantID, payload.TicketID, payload.Description, priority, createdAt)
	if _, err := s.queue.Enqueue(c.Context(), j); err != nil {
		metrics.JobsRejected.WithLabelValues("queue").Inc()
		s.log.WithError(err).Error("enqueue failed", map[string]interface{}{
			"tenant_id": tenantID,
			"ticket_id": payload.TicketID,
		})
		return s.standardError(c, fiber.StatusServiceUnavailable, apperrors.NewQueueUnavailableError(err), nil)
	}

	metrics.JobsAccepted.Inc()
	s.log.Info("job accepted", map[string]interface{}{
		"job_id":    j.ID,
		"tenant_id": tenantID,
		"ticket_id": payload.TicketID,
		"priority":  string(priority),
	})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": j.ID,
		"status": string(job.StatePending),
	})
}

func (s *Server) getJob(c *fiber.Ctx) error {
	jobID := c.Params("jobID")

	record, err := s.store.Get(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": fiber.Map{"code": "JOB_NOT_FOUND", "message": "no such job"},
			})
		}
		s.log.WithError(err).Error("record lookup failed", map[string]interface{}{"job_id": jobID})
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{"code": string(apperrors.ErrCodeRecordStoreFailed), "message": "job store unavailable"},
		})
	}

	resp := fiber.Map{
		"job_id":    record.JobID,
		"tenant_id": record.TenantID,
		"ticket_id": record.TicketID,
		"status":    string(record.Status),
		"attempts":  record.Attempts,
	}
	if record.Output != "" {
		resp["output"] = record.Output
	}
	if record.ErrorCode != "" {
		resp["error_code"] = record.ErrorCode
	}
	if record.FinishedAt != nil {
		resp["finished_at"] = record.FinishedAt.UTC().Format(time.RFC3339)
		resp["duration_ms"] = record.DurationMillis
	}
	return c.JSON(resp)
}

func (s *Server) healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// standardError writes the public shape of a StandardError. Details never
// leave the process.
func (s *Server) standardError(c *fiber.Ctx, status int, stdErr *apperrors.StandardError, fields map[string]interface{}) error {
	body := fiber.Map{
		"code":    string(stdErr.Code),
		"message": stdErr.PublicMessage(),
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}
