package synthesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/enrichment"
)

func testRequest() *Request {
	return &Request{
		TenantID:    "acme",
		TicketID:    "T-1",
		Description: "mail server rejects attachments over 10MB",
		Bundle: &enrichment.Bundle{Sections: []enrichment.Section{
			{Source: "ticket_history", Status: enrichment.StatusOK, Facts: []enrichment.Fact{
				{Kind: "history_match", Ref: "T-90", Summary: "postfix size limit raised"},
			}},
			{Source: "knowledge_base", Status: enrichment.StatusEmpty, Facts: []enrichment.Fact{}},
		}},
	}
}

func newGateway(t *testing.T, baseURL string, timeout time.Duration) *Gateway {
	t.Helper()
	return NewGateway(GatewayConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Timeout:     timeout,
		MaxTokens:   512,
		Temperature: 0.2,
	}, logger.NewTestLogger(t))
}

func TestSynthesizeSuccess(t *testing.T) {
	var gotPrompt string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPrompt, _ = body["prompt"].(string)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"text":  "Likely cause: message size limit. See T-90.",
			"model": "synth-large",
			"usage": map[string]int{"prompt_tokens": 120, "output_tokens": 40},
		})
	}))
	defer srv.Close()

	g := newGateway(t, srv.URL, 2*time.Second)
	result, err := g.Synthesize(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Contains(t, result.Text, "T-90")
	assert.Equal(t, "synth-large", result.Model)
	assert.Equal(t, 120, result.PromptTokens)
	assert.Equal(t, 40, result.OutputTokens)

	// The prompt carries the ticket and every non-empty section.
	assert.Contains(t, gotPrompt, "T-1")
	assert.Contains(t, gotPrompt, "ticket_history")
	assert.Contains(t, gotPrompt, "postfix size limit raised")
	assert.NotContains(t, gotPrompt, "knowledge_base")
}

func TestSynthesizeEmptyTextIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"text": "   "})
	}))
	defer srv.Close()

	g := newGateway(t, srv.URL, 2*time.Second)
	_, err := g.Synthesize(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := newGateway(t, srv.URL, 2*time.Second)
	_, err := g.Synthesize(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSynthesizeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	g := newGateway(t, srv.URL, 50*time.Millisecond)
	_, err := g.Synthesize(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSynthesizeUnreachableHost(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1", 500*time.Millisecond)
	_, err := g.Synthesize(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	a := buildPrompt(testRequest())
	b := buildPrompt(testRequest())
	assert.Equal(t, a, b)
}
