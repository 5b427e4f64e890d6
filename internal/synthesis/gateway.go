package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/common/metrics"
)

type GatewayConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Gateway calls the synthesis service over HTTP. There is no client-side
// timeout on the transport; cancellation comes from the request context.
type Gateway struct {
	config GatewayConfig
	client *http.Client
	log    logger.Logger
}

func NewGateway(config GatewayConfig, log logger.Logger) *Gateway {
	return &Gateway{
		config: config,
		client: &http.Client{},
		log:    log.WithFields(map[string]interface{}{"component": "synthesis"}),
	}
}

// Synthesize produces an enhancement note from the ticket and its context
// bundle. An empty response body is a failure, never a usable result.
func (g *Gateway) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	prompt := buildPrompt(req)
	payload := map[string]interface{}{
		"prompt":      prompt,
		"max_tokens":  g.config.MaxTokens,
		"temperature": g.config.Temperature,
	}
	body, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/v1/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var apiResponse struct {
		Text  string `json:"text"`
		Model string `json:"model"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}

	if strings.TrimSpace(apiResponse.Text) == "" {
		return nil, fmt.Errorf("%w: empty synthesis output", ErrUnavailable)
	}

	metrics.SynthesisTokens.WithLabelValues("prompt").Add(float64(apiResponse.Usage.PromptTokens))
	metrics.SynthesisTokens.WithLabelValues("output").Add(float64(apiResponse.Usage.OutputTokens))

	latency := time.Since(start)
	g.log.Info("synthesis completed", map[string]interface{}{
		"tenant_id":     req.TenantID,
		"ticket_id":     req.TicketID,
		"model":         apiResponse.Model,
		"prompt_tokens": apiResponse.Usage.PromptTokens,
		"output_tokens": apiResponse.Usage.OutputTokens,
		"latency_ms":    latency.Milliseconds(),
	})

	return &Result{
		Text:         apiResponse.Text,
		Model:        apiResponse.Model,
		PromptTokens: apiResponse.Usage.PromptTokens,
		OutputTokens: apiResponse.Usage.OutputTokens,
		Latency:      latency,
	}, nil
}

// buildPrompt renders the bundle in its section order so the same bundle
// always yields the same prompt.
func buildPrompt(req *Request) string {
	var parts []string

	parts = append(parts, "You are an IT support assistant. Write a concise enhancement note for the ticket below, based ONLY on the provided context.")
	parts = append(parts, fmt.Sprintf("\nTicket %s:\n%s", req.TicketID, req.Description))

	if req.Bundle != nil {
		for _, section := range req.Bundle.Sections {
			if len(section.Facts) == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("\n%s:", section.Source))
			for _, fact := range section.Facts {
				parts = append(parts, fmt.Sprintf("- [%s] %s", fact.Ref, fact.Summary))
			}
		}
	}

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Summarize likely root causes and relevant prior resolutions")
	parts = append(parts, "- Reference facts by their identifiers")
	parts = append(parts, "- If the context is insufficient, say so clearly")
	parts = append(parts, "\nEnhancement note:")

	return strings.Join(parts, "\n")
}
