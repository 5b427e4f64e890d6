// Package jira adapts Jira Service Management to the ticketing-tool
// interface.
package jira

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

const ToolType = "jira"

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

// ValidateWebhook checks the body-only HMAC Jira webhook secrets produce.
func (a *Adapter) ValidateWebhook(payload []byte, signature string, secret []byte) bool {
	return webhook.VerifyRaw(secret, payload, signature)
}

// ExtractMetadata accepts both the Jira "issue" envelope and the pipeline's
// flat normalized event shape.
func (a *Adapter) ExtractMetadata(payload []byte) (*plugin.TicketMetadata, error) {
	var event jiraEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &plugin.ExtractionError{Field: "payload", Reason: "not valid JSON"}
	}

	meta := plugin.TicketMetadata{TenantID: event.TenantID}
	var rawCreated, rawPriority string

	switch {
	case event.Issue != nil:
		meta.TicketID = event.Issue.Key
		meta.Description = firstNonEmpty(event.Issue.Fields.Description, event.Issue.Fields.Summary)
		rawPriority = event.Issue.Fields.Priority.Name
		rawCreated = event.Issue.Fields.Created
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

// GetTicket fetches an issue. A 404 returns (nil, nil).
func (a *Adapter) GetTicket(ctx context.Context, tenantID, ticketID string) (*plugin.Ticket, error) {
	endpoint, token, err := a.tenantAPI(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/rest/api/2/issue/%s", endpoint, ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

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

	var issue jiraIssue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", plugin.ErrToolUnavailable, err)
	}

	return &plugin.Ticket{
		ID:          issue.Key,
		Subject:     issue.Fields.Summary,
		Description: issue.Fields.Description,
		Status:      issue.Fields.Status.Name,
		Priority:    issue.Fields.Priority.Name,
		Requester:   issue.Fields.Reporter.DisplayName,
	}, nil
}

// UpdateTicket adds the enhancement as an issue comment.
func (a *Adapter) UpdateTicket(ctx context.Context, tenantID, ticketID, content string) (bool, error) {
	endpoint, token, err := a.tenantAPI(ctx, tenantID)
	if err != nil {
		return false, err
	}

	payload, _ := json.Marshal(map[string]string{"body": content})

	url := fmt.Sprintf("%s/rest/api/2/issue/%s/comment", endpoint, ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", plugin.ErrToolUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, plugin.ErrToolAuthRejected
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("%w: status %d", plugin.ErrToolUnavailable, resp.StatusCode)
	default:
		a.log.Warn("comment rejected", map[string]interface{}{
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
	case "lowest", "low", "minor", "trivial":
		return job.PriorityLow
	case "high", "major":
		return job.PriorityHigh
	case "highest", "critical", "blocker":
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
