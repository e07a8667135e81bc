// Package opportunity defines the engine's view of a discovered offer.
//
// The feed owns the source of truth; the engine never mutates an
// Opportunity's source fields. Participation outcomes are recorded
// separately through the outcome tracker.
package opportunity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Opportunity is a time-bounded offer eligible for automated entry.
type Opportunity struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	URL                 string    `json:"url"`
	Domain              string    `json:"domain"`
	Category            string    `json:"category"`
	Value               float64   `json:"value"`
	Priority            int       `json:"priority"` // 1..10
	ExpiresAt           time.Time `json:"expires_at"`
	AutoFillEligible    bool      `json:"auto_fill"`
	AlreadyParticipated bool      `json:"participated"`
	EntriesCount        int       `json:"entries_count,omitempty"` // 0 = unknown
	DetectedAt          time.Time `json:"detected_at"`
}

// Expired reports whether the opportunity's deadline has passed at now.
func (o *Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// DomainOf extracts the registrable host from a raw URL, lowercased and
// stripped of any port. Used to derive Opportunity.Domain.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("opportunity: parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("opportunity: url %q has no host", rawURL)
	}
	return host, nil
}

// Store is the engine's read path over discovered opportunities plus the
// single mark the tracker is allowed to set.
type Store interface {
	// Candidates returns opportunities not yet expired at the time of the
	// call, including ones the profile already entered (the selector
	// filters those).
	Candidates(ctx context.Context) ([]Opportunity, error)

	// MarkParticipated flags an opportunity so it is never selected again.
	MarkParticipated(ctx context.Context, id string) error
}

// Profile holds the identity used to fill entry forms.
type Profile struct {
	Name  string            `yaml:"name" json:"name"`
	Email string            `yaml:"email" json:"email"`
	Phone string            `yaml:"phone,omitempty" json:"phone,omitempty"`
	Extra map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}
