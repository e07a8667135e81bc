// Package feed discovers opportunities: a JSON endpoint for structured
// records and a keyword probe for plain offer pages. Fetches are rate
// limited per host; a scraper that hammers the sites it enters defeats
// itself.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sweepd/sweepd/internal/opportunity"
)

const maxBodyBytes = 4 << 20

// Client fetches opportunity data over HTTP with a per-host rate budget.
type Client struct {
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

// NewClient creates a Client allowing ratePerMin requests per host per
// minute.
func NewClient(ratePerMin int, logger *slog.Logger) *Client {
	if ratePerMin <= 0 {
		ratePerMin = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		perMin:   ratePerMin,
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.perMin)), c.perMin)
		c.limiters[host] = l
	}
	return l
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("feed: url %q: %w", rawURL, err)
	}
	if err := c.limiter(u.Hostname()).Wait(ctx); err != nil {
		return nil, fmt.Errorf("feed: rate wait %s: %w", u.Hostname(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: request %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", rawURL, err)
	}
	return body, nil
}

// feedRecord is the wire shape of one endpoint entry.
type feedRecord struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	URL          string  `json:"url"`
	Value        float64 `json:"value"`
	Priority     int     `json:"priority"`
	ExpiresAt    string  `json:"expires_at"`
	AutoFill     bool    `json:"auto_fill"`
	Participated bool    `json:"participated"`
	Category     string  `json:"category"`
	EntriesCount int     `json:"entries_count"`
}

// FetchEndpoint pulls the JSON feed and converts valid records.
// Records with a missing ID, unparseable URL, or bad timestamp are
// skipped with a warning, not fatal; one rotten record must not sink
// the refresh.
func (c *Client) FetchEndpoint(ctx context.Context, endpoint string) ([]opportunity.Opportunity, error) {
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var records []feedRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("feed: decode %s: %w", endpoint, err)
	}

	now := c.now()
	out := make([]opportunity.Opportunity, 0, len(records))
	for _, r := range records {
		opp, err := r.toOpportunity(now)
		if err != nil {
			c.logger.Warn("feed: record skipped", "id", r.ID, "error", err)
			continue
		}
		out = append(out, opp)
	}
	return out, nil
}

func (r feedRecord) toOpportunity(now time.Time) (opportunity.Opportunity, error) {
	if r.ID == "" {
		return opportunity.Opportunity{}, fmt.Errorf("feed: record has no id")
	}
	domain, err := opportunity.DomainOf(r.URL)
	if err != nil {
		return opportunity.Opportunity{}, err
	}
	expiresAt, err := time.Parse(time.RFC3339, r.ExpiresAt)
	if err != nil {
		return opportunity.Opportunity{}, fmt.Errorf("feed: expires_at %q: %w", r.ExpiresAt, err)
	}
	return opportunity.Opportunity{
		ID:                  r.ID,
		Title:               r.Title,
		Description:         r.Description,
		URL:                 r.URL,
		Domain:              domain,
		Category:            r.Category,
		Value:               r.Value,
		Priority:            r.Priority,
		ExpiresAt:           expiresAt,
		AutoFillEligible:    r.AutoFill,
		AlreadyParticipated: r.Participated,
		EntriesCount:        r.EntriesCount,
		DetectedAt:          now,
	}, nil
}
