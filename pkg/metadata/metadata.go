// Package metadata enriches catalog entries from ranked external sources.
//
// Sources are pluggable: anything implementing Source can contribute
// candidates. The enricher scores candidates, merges the ranked results into
// one record, and memoizes per (platform, title) in an in-memory LRU cache.
// Enrichment is best-effort; a failing source is skipped and an empty result
// degrades to a minimal record.
package metadata

import (
	"context"

	"github.com/romstack/romstack/pkg/platform"
)

// Query describes what to look up.
type Query struct {
	Title    string
	Platform platform.ID
	Region   string
	Year     int
	// Digest is the content digest, passed to sources that support
	// hash-based lookup.
	Digest string
}

// Candidate is one result returned by a source.
type Candidate struct {
	Source      string   `json:"source"`
	Title       string   `json:"title"`
	AltTitles   []string `json:"alt_titles,omitempty"`
	Year        int      `json:"year,omitempty"`
	Region      string   `json:"region,omitempty"`
	Developer   string   `json:"developer,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	Description string   `json:"description,omitempty"`
	BoxartURL   string   `json:"boxart_url,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
}

// Metadata is the merged enrichment record stored on a catalog entry.
type Metadata struct {
	Title       string   `json:"title"`
	Platform    string   `json:"platform"`
	Year        int      `json:"year,omitempty"`
	Region      string   `json:"region,omitempty"`
	Developer   string   `json:"developer,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	Description string   `json:"description,omitempty"`
	BoxartURL   string   `json:"boxart_url,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	Source      string   `json:"source"`
	Confidence  float64  `json:"confidence"`
}

// Source is a pluggable metadata provider. Lower Priority runs first and
// earns a larger score bonus.
type Source interface {
	Name() string
	Priority() int
	Search(ctx context.Context, q Query) ([]Candidate, error)
}

// Metrics observes enricher behavior. The prometheus implementation lives in
// pkg/metrics/prometheus.
type Metrics interface {
	CacheLookup(hit bool)
	SourceSearch(source string, ok bool, seconds float64)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) CacheLookup(bool)                   {}
func (NopMetrics) SourceSearch(string, bool, float64) {}
