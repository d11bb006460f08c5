package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// HTTPSourceConfig configures one remote metadata provider.
type HTTPSourceConfig struct {
	Name     string
	BaseURL  string // endpoint exposing GET /search
	APIKey   string // sent as X-Api-Key when set
	Priority int
	// RatePerSecond throttles outgoing calls. <= 0 disables throttling.
	RatePerSecond float64
	// MaxRetries bounds transient-error retries per call. Default 3.
	MaxRetries uint64
}

// HTTPSource queries a remote provider over its JSON search endpoint.
// Transient failures are retried with exponential backoff and calls are
// rate-limited per provider.
type HTTPSource struct {
	cfg     HTTPSourceConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPSource creates a remote source from its configuration.
func NewHTTPSource(cfg HTTPSourceConfig, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &HTTPSource{cfg: cfg, client: client, limiter: limiter}
}

func (s *HTTPSource) Name() string  { return s.cfg.Name }
func (s *HTTPSource) Priority() int { return s.cfg.Priority }

// wireCandidate mirrors the provider's search result schema.
type wireCandidate struct {
	Title       string   `json:"title"`
	AltTitles   []string `json:"alt_titles"`
	Year        int      `json:"year"`
	Region      string   `json:"region"`
	Developer   string   `json:"developer"`
	Publisher   string   `json:"publisher"`
	Genre       string   `json:"genre"`
	Rating      float64  `json:"rating"`
	Description string   `json:"description"`
	BoxartURL   string   `json:"boxart_url"`
	Screenshots []string `json:"screenshots"`
}

type searchResponse struct {
	Results []wireCandidate `json:"results"`
}

// Search issues the provider call with rate limiting and retry.
func (s *HTTPSource) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint, err := s.searchURL(q)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	operation := func() error {
		return s.doSearch(ctx, endpoint, &resp)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.Results))
	for _, w := range resp.Results {
		out = append(out, Candidate{
			Source:      s.cfg.Name,
			Title:       w.Title,
			AltTitles:   w.AltTitles,
			Year:        w.Year,
			Region:      w.Region,
			Developer:   w.Developer,
			Publisher:   w.Publisher,
			Genre:       w.Genre,
			Rating:      w.Rating,
			Description: w.Description,
			BoxartURL:   w.BoxartURL,
			Screenshots: w.Screenshots,
		})
	}
	return out, nil
}

func (s *HTTPSource) searchURL(q Query) (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL for source %q: %w", s.cfg.Name, err)
	}
	u = u.JoinPath("search")

	params := url.Values{}
	params.Set("title", q.Title)
	params.Set("platform", string(q.Platform))
	if q.Region != "" {
		params.Set("region", q.Region)
	}
	if q.Year != 0 {
		params.Set("year", strconv.Itoa(q.Year))
	}
	if q.Digest != "" {
		params.Set("hash", q.Digest)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (s *HTTPSource) doSearch(ctx context.Context, endpoint string, out *searchResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("source %q: status %d", s.cfg.Name, resp.StatusCode)
	default:
		// Client errors will not heal on retry.
		return backoff.Permanent(fmt.Errorf("source %q: status %d", s.cfg.Name, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return backoff.Permanent(fmt.Errorf("source %q: malformed response: %w", s.cfg.Name, err))
	}
	return nil
}
