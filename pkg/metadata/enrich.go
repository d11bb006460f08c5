package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/romstack/romstack/internal/logger"
)

// Scoring weights per candidate, applied in [0, 1].
const (
	scoreExactTitle  = 0.30
	scoreFuzzyTitle  = 0.20
	scoreAltTitle    = 0.25
	scoreYearNear    = 0.15
	screenshotCap    = 10
	defaultCacheSize = 2048
)

// priorityBonus rewards candidates from higher-ranked sources.
var priorityBonus = []float64{0.10, 0.08, 0.06}

// Options configures the enricher.
type Options struct {
	// PerSourceTimeout bounds each Search call. Default 30s.
	PerSourceTimeout time.Duration
	// CacheEntries caps the LRU cache. Default 2048.
	CacheEntries int64
	Metrics      Metrics
}

// Enricher fans queries out to ranked sources and merges the results.
type Enricher struct {
	sources []Source // sorted by Priority ascending
	timeout time.Duration
	cache   *ristretto.Cache
	metrics Metrics
}

// NewEnricher builds an enricher over the given sources. A local fallback
// source is appended automatically so enrichment always yields a record.
func NewEnricher(sources []Source, opts Options) (*Enricher, error) {
	if opts.PerSourceTimeout <= 0 {
		opts.PerSourceTimeout = 30 * time.Second
	}
	if opts.CacheEntries <= 0 {
		opts.CacheEntries = defaultCacheSize
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}

	hasFallback := false
	for _, s := range sources {
		if _, ok := s.(*LocalSource); ok {
			hasFallback = true
		}
	}
	if !hasFallback {
		sources = append(sources, NewLocalSource(len(sources)+100))
	}

	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.CacheEntries * 10,
		MaxCost:     opts.CacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create enrichment cache: %w", err)
	}

	return &Enricher{
		sources: sorted,
		timeout: opts.PerSourceTimeout,
		cache:   cache,
		metrics: opts.Metrics,
	}, nil
}

// Close releases the cache resources.
func (e *Enricher) Close() {
	e.cache.Close()
}

func cacheKey(q Query) string {
	return string(q.Platform) + "|" + strings.ToLower(q.Title)
}

// Enrich resolves a query to a merged metadata record. The result is cached
// per (platform, lowercased title) until eviction or process restart.
func (e *Enricher) Enrich(ctx context.Context, q Query) *Metadata {
	key := cacheKey(q)
	if cached, ok := e.cache.Get(key); ok {
		if m, ok := cached.(*Metadata); ok {
			e.metrics.CacheLookup(true)
			return m
		}
	}
	e.metrics.CacheLookup(false)

	var scored []scoredCandidate
	for rank, src := range e.sources {
		// The fallback source earns no rank bonus; its candidate stays at
		// the base confidence.
		if _, isLocal := src.(*LocalSource); isLocal {
			rank = len(priorityBonus)
		}
		candidates := e.searchOne(ctx, src, q)
		for _, c := range candidates {
			scored = append(scored, scoredCandidate{
				candidate: c,
				score:     scoreCandidate(c, q, rank),
			})
		}
	}

	result := mergeCandidates(scored, q)
	e.cache.Set(key, result, 1)
	e.cache.Wait()
	return result
}

// searchOne runs a single source under the per-source deadline.
func (e *Enricher) searchOne(ctx context.Context, src Source, q Query) []Candidate {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	candidates, err := src.Search(callCtx, q)
	e.metrics.SourceSearch(src.Name(), err == nil, time.Since(start).Seconds())
	if err != nil {
		logger.Warn("Metadata source failed",
			"source", src.Name(),
			"title", q.Title,
			"platform", string(q.Platform),
			"error", err.Error())
		return nil
	}
	return candidates
}

type scoredCandidate struct {
	candidate Candidate
	score     float64
}

// scoreCandidate applies the match heuristics: title equality or containment,
// alternative titles, release-year proximity, and a source-rank bonus.
func scoreCandidate(c Candidate, q Query, sourceRank int) float64 {
	var score float64

	want := strings.ToLower(strings.TrimSpace(q.Title))
	got := strings.ToLower(strings.TrimSpace(c.Title))
	switch {
	case want != "" && want == got:
		score += scoreExactTitle
	case want != "" && got != "" && (strings.Contains(got, want) || strings.Contains(want, got)):
		score += scoreFuzzyTitle
	}

	for _, alt := range c.AltTitles {
		if strings.EqualFold(strings.TrimSpace(alt), strings.TrimSpace(q.Title)) {
			score += scoreAltTitle
			break
		}
	}

	if q.Year != 0 && c.Year != 0 {
		diff := q.Year - c.Year
		if diff >= -1 && diff <= 1 {
			score += scoreYearNear
		}
	}

	if sourceRank < len(priorityBonus) {
		score += priorityBonus[sourceRank]
	}

	if score > 1 {
		score = 1
	}
	return score
}

// mergeCandidates sorts by score and merges downward: the best candidate
// wins, lower-ranked ones only fill fields the winner left empty.
func mergeCandidates(scored []scoredCandidate, q Query) *Metadata {
	if len(scored) == 0 {
		return &Metadata{
			Title:      q.Title,
			Platform:   string(q.Platform),
			Region:     q.Region,
			Source:     "none",
			Confidence: 0,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	top := scored[0]
	m := &Metadata{
		Title:       top.candidate.Title,
		Platform:    string(q.Platform),
		Year:        top.candidate.Year,
		Region:      top.candidate.Region,
		Developer:   top.candidate.Developer,
		Publisher:   top.candidate.Publisher,
		Genre:       top.candidate.Genre,
		Rating:      top.candidate.Rating,
		Description: top.candidate.Description,
		BoxartURL:   top.candidate.BoxartURL,
		Screenshots: top.candidate.Screenshots,
		Source:      top.candidate.Source,
		Confidence:  top.score,
	}
	if m.Title == "" {
		m.Title = q.Title
	}
	if m.Region == "" {
		m.Region = q.Region
	}

	for _, sc := range scored[1:] {
		c := sc.candidate
		if m.Year == 0 {
			m.Year = c.Year
		}
		if m.Developer == "" {
			m.Developer = c.Developer
		}
		if m.Publisher == "" {
			m.Publisher = c.Publisher
		}
		if m.Genre == "" {
			m.Genre = c.Genre
		}
		if m.Rating == 0 {
			m.Rating = c.Rating
		}
		if m.Description == "" {
			m.Description = c.Description
		}
		if m.BoxartURL == "" {
			m.BoxartURL = c.BoxartURL
		}
		if len(m.Screenshots) < screenshotCap {
			m.Screenshots = append(m.Screenshots, c.Screenshots...)
		}
	}

	if len(m.Screenshots) > screenshotCap {
		m.Screenshots = m.Screenshots[:screenshotCap]
	}
	return m
}
