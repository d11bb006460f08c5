package metadata

import "context"

// LocalSource is the always-present fallback: it echoes the query back as a
// low-confidence candidate so enrichment never comes up empty.
type LocalSource struct {
	priority int
}

// NewLocalSource creates the fallback source. It should sort after every
// real source.
func NewLocalSource(priority int) *LocalSource {
	return &LocalSource{priority: priority}
}

func (s *LocalSource) Name() string  { return "local" }
func (s *LocalSource) Priority() int { return s.priority }

// Search returns a single candidate mirroring the query.
func (s *LocalSource) Search(_ context.Context, q Query) ([]Candidate, error) {
	return []Candidate{{
		Source: s.Name(),
		Title:  q.Title,
		Region: q.Region,
		Year:   q.Year,
	}}, nil
}
