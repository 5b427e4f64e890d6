package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"enhancement-pipeline/internal/plugin"
)

// KnowledgeProvider searches the knowledge-base index. The tenant term
// filter is applied inside the query, never post-hoc.
type KnowledgeProvider struct {
	client     *elasticsearch.Client
	index      string
	maxResults int
}

func NewKnowledgeProvider(client *elasticsearch.Client, index string, maxResults int) *KnowledgeProvider {
	return &KnowledgeProvider{client: client, index: index, maxResults: maxResults}
}

func (p *KnowledgeProvider) Name() string { return "knowledge_base" }

func (p *KnowledgeProvider) Fetch(ctx context.Context, meta plugin.TicketMetadata) ([]Fact, error) {
	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{
						"multi_match": map[string]interface{}{
							"query":  meta.Description,
							"fields": []string{"title^2", "content"},
							"type":   "best_fields",
						},
					},
				},
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"tenant_id": meta.TenantID},
					},
				},
			},
		},
	}

	body, _ := json.Marshal(queryBody)
	size := p.maxResults
	req := esapi.SearchRequest{
		Index: []string{p.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}

	res, err := req.Do(ctx, p.client)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("knowledge search: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					Title   string `json:"title"`
					Content string `json:"content"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("knowledge search decode: %w", err)
	}

	facts := make([]Fact, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		summary := hit.Source.Title
		if snippet := truncate(hit.Source.Content, 280); snippet != "" {
			summary += ": " + snippet
		}
		facts = append(facts, Fact{
			Kind:    "kb_snippet",
			Ref:     hit.ID,
			Summary: summary,
			Score:   hit.Score,
		})
	}
	return facts, nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
