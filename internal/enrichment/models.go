// Package enrichment gathers diagnostic context from independent sources
// concurrently, tolerating partial failure.
package enrichment

// SourceStatus describes how one context source fared.
type SourceStatus string

const (
	StatusOK       SourceStatus = "ok"
	StatusEmpty    SourceStatus = "empty"
	StatusDegraded SourceStatus = "degraded"
	StatusTimeout  SourceStatus = "timeout"
)

// Fact is one piece of gathered context, normalized across sources.
type Fact struct {
	Kind    string  `json:"kind"`            // e.g. "history_match", "kb_snippet", "asset", "alert"
	Ref     string  `json:"ref,omitempty"`   // source-local identifier
	Summary string  `json:"summary"`         // text handed to synthesis
	Score   float64 `json:"score,omitempty"` // relevance where the source ranks
}

// Section is one source's slice of the bundle.
type Section struct {
	Source string       `json:"source"`
	Status SourceStatus `json:"status"`
	Facts  []Fact       `json:"facts"`
}

// Bundle is the aggregated, possibly-partial context for one job. Sections
// appear in provider registration order regardless of completion order, so
// synthesis input is reproducible.
type Bundle struct {
	Sections []Section `json:"sections"`
}

// Degraded reports whether any source failed or timed out.
func (b *Bundle) Degraded() bool {
	for _, s := range b.Sections {
		if s.Status == StatusDegraded || s.Status == StatusTimeout {
			return true
		}
	}
	return false
}

// AllDegraded reports whether every source failed or timed out.
func (b *Bundle) AllDegraded() bool {
	if len(b.Sections) == 0 {
		return false
	}
	for _, s := range b.Sections {
		if s.Status != StatusDegraded && s.Status != StatusTimeout {
			return false
		}
	}
	return true
}

// FactCount returns the total facts across sections.
func (b *Bundle) FactCount() int {
	n := 0
	for _, s := range b.Sections {
		n += len(s.Facts)
	}
	return n
}
