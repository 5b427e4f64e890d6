package enrichment

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"enhancement-pipeline/internal/plugin"
)

var hostnamePattern = regexp.MustCompile(`\b[a-z0-9]+(?:[-.][a-z0-9]+)+\b`)

const inventorySQL = `
SELECT hostname, asset_type, owner, location, status
FROM assets
WHERE tenant_id = $1 AND hostname = ANY($2)
ORDER BY hostname
LIMIT 20`

// InventoryProvider matches hostname-like tokens in the ticket description
// against the asset inventory.
type InventoryProvider struct {
	db *sql.DB
}

func NewInventoryProvider(db *sql.DB) *InventoryProvider {
	return &InventoryProvider{db: db}
}

func (p *InventoryProvider) Name() string { return "asset_inventory" }

func (p *InventoryProvider) Fetch(ctx context.Context, meta plugin.TicketMetadata) ([]Fact, error) {
	hostnames := extractHostnames(meta.Description)
	if len(hostnames) == 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, inventorySQL, meta.TenantID, pq.Array(hostnames))
	if err != nil {
		return nil, fmt.Errorf("inventory lookup: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var hostname, assetType, owner, location, status string
		if err := rows.Scan(&hostname, &assetType, &owner, &location, &status); err != nil {
			return nil, fmt.Errorf("inventory scan: %w", err)
		}
		facts = append(facts, Fact{
			Kind:    "asset",
			Ref:     hostname,
			Summary: fmt.Sprintf("%s (%s) owned by %s at %s, status %s", hostname, assetType, owner, location, status),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory rows: %w", err)
	}
	return facts, nil
}

func extractHostnames(description string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, token := range hostnamePattern.FindAllString(strings.ToLower(description), -1) {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
