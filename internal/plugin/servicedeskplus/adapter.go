// Package servicedeskplus adapts ManageEngine ServiceDesk Plus to the
// ticketing-tool interface.
package servicedeskplus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"enhancement-pipeline/internal/common/httpx"
	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/job"
	"enhancement-pipeline/internal/plugin"
	"enhancement-pipeline/internal/tenant"
	"enhancement-pipeline/internal/webhook"
)

const ToolType = "servicedesk_plus"

// Adapter talks to a tenant's ServiceDesk Plus instance. Endpoint and API
// credential come from the tenant directory per call.
type Adapter struct {
	directory *tenant.Directory
	client    *httpx.Client
	log       logger.Logger
}

func New(directory *tenant.Directory, client *httpx.Client, log logger.Logger) *Adapter {
	return &Adapter{
		directory: directory,
		client:    client,
		log:       log.WithFields(map[string]interface{}{"toolType": ToolType}),
	}
}

func (a *Adapter) ToolType() string { return ToolType }

// ValidateWebhook checks the body-only HMAC ServiceDesk Plus custom triggers
// produce.
func (a *Adapter) ValidateWebhook(payload []byte, signature string, secret []byte) bool {
	return webhook.VerifyRaw(secret, payload, signature)
}

// ExtractMetadata accepts both the SDP "request" envelope and the
// pipeline's flat normalized event shape.
func (a *Adapter) ExtractMetadata(payload []byte) (*plugin.TicketMetadata, error) {
	var event sdpEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &plugin.ExtractionError{Field: "payload", Reason: "not valid JSON"}
	}

	meta := plugin.TicketMetadata{TenantID: event.TenantID}
	var rawCreated, rawPriority string

	switch {
	case event.Request != nil:
		meta.TicketID = event.Request.ID
		meta.Description = firstNonEmpty(event.Request.Description, event.Request.Subject)
		rawPriority = event.Request.Priority.Name
		rawCreated = event.Request.CreatedTime.Value
	default:
		meta.TicketID = event.TicketID
		meta.Description = event.Description
		rawPriority = event.Priority
		rawCreated = event.CreatedAt
	}

	if meta.TenantID == "" {
		return nil, &plugin.ExtractionError{Field: "tenant_id", Reason: "required field absent"}
	}
	if meta.TicketID == "" {
		return nil, &plugin.ExtractionError{Field: "ticket_id", Reason: "required field absent"}
	}
	if strings.TrimSpace(meta.Description) == "" {
		return nil, &plugin.ExtractionError{Field: "description", Reason: "required field absent"}
	}
	if rawCreated == "" {
		return nil, &plugin.ExtractionError{Field: "created_at", Reason: "required field absent"}
	}

	created, err := plugin.ParseEventTime(rawCreated)
	if err != nil {
		return nil, &plugin.ExtractionError{Field: "created_at", Reason: err.Error()}
	}
	meta.CreatedAt = created
	meta.Priority = normalizePriority(rawPriority)
	return &meta, nil
}

// GetTicket fetches a request. A 404 returns (nil, nil).
func (a *Adapter) GetTicket(ctx context.Context, tenantID, ticketID string) (*plugin.Ticket, error) {
	endpoint, token, err := a.tenantAPI(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v3/requests/%s", endpoint, ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	req.Header.Set("Accept", "application/vnd.manageengine.sdp.v3+json")
	req.Header.Set("authtoken", token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, plugin.ErrToolAuthRejected
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", plugin.ErrToolUnavailable, resp.StatusCode)
	}

	var body struct {
		Request sdpRequest `json:"request"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", plugin.ErrToolUnavailable, err)
	}

	return &plugin.Ticket{
		ID:          body.Request.ID,
		Subject:     body.Request.Subject,
		Description: body.Request.Description,
		Status:      body.Request.Status.Name,
		Priority:    body.Request.Priority.Name,
		Requester:   body.Request.Requester.Name,
	}, nil
}

// UpdateTicket posts the enhancement as a request note.
func (a *Adapter) UpdateTicket(ctx context.Context, tenantID, ticketID, content string) (bool, error) {
	endpoint, token, err := a.tenantAPI(ctx, tenantID)
	if err != nil {
		return false, err
	}

	note := map[string]interface{}{
		"note": map[string]interface{}{
			"description":       content,
			"show_to_requester": false,
		},
	}
	payload, _ := json.Marshal(note)

	url := fmt.Sprintf("%s/api/v3/requests/%s/notes", endpoint, ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	req.Header.Set("Accept", "application/vnd.manageengine.sdp.v3+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authtoken", token)

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, plugin.ErrToolAuthRejected
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("%w: status %d", plugin.ErrToolUnavailable, resp.StatusCode)
	default:
		a.log.Warn("note rejected", map[string]interface{}{
			"tenantId": tenantID,
			"ticketId": ticketID,
			"status":   resp.StatusCode,
		})
		return false, nil
	}
}

func (a *Adapter) tenantAPI(ctx context.Context, tenantID string) (endpoint, token string, err error) {
	cfg, err := a.directory.Lookup(ctx, tenantID)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	cred, err := a.directory.Credential(ctx, tenantID)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	return strings.TrimRight(cfg.EndpointURL, "/"), cred, nil
}

func normalizePriority(raw string) job.Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low", "4 - low":
		return job.PriorityLow
	case "high", "2 - high":
		return job.PriorityHigh
	case "urgent", "critical", "1 - critical":
		return job.PriorityUrgent
	default:
		return job.PriorityMedium
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
