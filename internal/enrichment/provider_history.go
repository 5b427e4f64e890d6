package enrichment

import (
	"context"
	"strings"

	"enhancement-pipeline/internal/history"
	"enhancement-pipeline/internal/plugin"
)

// HistoryProvider surfaces similar past tickets for the same tenant.
type HistoryProvider struct {
	engine *history.Engine
	limit  int
}

func NewHistoryProvider(engine *history.Engine, limit int) *HistoryProvider {
	return &HistoryProvider{engine: engine, limit: limit}
}

func (p *HistoryProvider) Name() string { return "ticket_history" }

func (p *HistoryProvider) Fetch(ctx context.Context, meta plugin.TicketMetadata) ([]Fact, error) {
	matches, err := p.engine.Search(ctx, meta.TenantID, clampQuery(meta.Description), p.limit)
	if err != nil {
		return nil, err
	}
	facts := make([]Fact, 0, len(matches))
	for _, m := range matches {
		summary := m.Subject
		if m.Resolution != "" {
			summary += " | resolved: " + m.Resolution
		}
		facts = append(facts, Fact{
			Kind:    "history_match",
			Ref:     m.TicketID,
			Summary: summary,
			Score:   m.Score,
		})
	}
	return facts, nil
}

// clampQuery bounds the search text to what the engine accepts. Descriptions
// run up to 10,000 characters; the leading portion carries the symptom, so a
// long ticket keeps its history context instead of degrading the source.
func clampQuery(s string) string {
	if len(s) <= history.MaxQueryLength {
		return s
	}
	s = strings.ToValidUTF8(s[:history.MaxQueryLength], "")
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	return s
}
