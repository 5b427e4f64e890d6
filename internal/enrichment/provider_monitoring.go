package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"enhancement-pipeline/internal/common/httpx"
	"enhancement-pipeline/internal/plugin"
)

// MonitoringProvider pulls active alerts for the tenant from the
// monitoring status API.
type MonitoringProvider struct {
	client  *httpx.Client
	baseURL string
	apiKey  string
}

func NewMonitoringProvider(client *httpx.Client, baseURL, apiKey string) *MonitoringProvider {
	return &MonitoringProvider{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (p *MonitoringProvider) Name() string { return "monitoring_alerts" }

func (p *MonitoringProvider) Fetch(ctx context.Context, meta plugin.TicketMetadata) ([]Fact, error) {
	endpoint := fmt.Sprintf("%s/api/v1/alerts?tenant=%s&state=active", p.baseURL, url.QueryEscape(meta.TenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("monitoring request: %w", err)
	}
	req.Header.Set("X-API-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitoring fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("monitoring fetch: status %d", resp.StatusCode)
	}

	var payload struct {
		Alerts []struct {
			ID       string  `json:"id"`
			Severity string  `json:"severity"`
			Resource string  `json:"resource"`
			Message  string  `json:"message"`
			Score    float64 `json:"score"`
		} `json:"alerts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("monitoring decode: %w", err)
	}

	facts := make([]Fact, 0, len(payload.Alerts))
	for _, a := range payload.Alerts {
		facts = append(facts, Fact{
			Kind:    "alert",
			Ref:     a.ID,
			Summary: fmt.Sprintf("[%s] %s: %s", a.Severity, a.Resource, a.Message),
			Score:   a.Score,
		})
	}
	return facts, nil
}
