// Package validate implements the safety gate every opportunity must
// clear before the engine is allowed to act on it.
//
// Validation is a pure function over the opportunity, the active profile
// and the allow/deny configuration. It has no side effects and produces
// human-readable reasons so rejections can be audited.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sweepd/sweepd/internal/opportunity"
)

// emailPattern is deliberately loose: it guards against obviously broken
// profile data, not against every RFC 5322 corner.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Validator checks opportunities against the safety configuration.
type Validator struct {
	Allowed   []string // allow-list; empty list allows no domain
	Denied    []string // deny-list; wins over the allow-list
	MaxValue  float64  // upper bound on Opportunity.Value
	Profile   opportunity.Profile
	Now       func() time.Time
}

// New creates a Validator. A nil now func defaults to time.Now.
func New(allowed, denied []string, maxValue float64, profile opportunity.Profile, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{
		Allowed:  allowed,
		Denied:   denied,
		MaxValue: maxValue,
		Profile:  profile,
		Now:      now,
	}
}

// Validate runs every check and collects all failure reasons; ok is true
// only when reasons is empty.
func (v *Validator) Validate(opp *opportunity.Opportunity) (ok bool, reasons []string) {
	now := v.Now()

	if opp.Expired(now) {
		reasons = append(reasons, fmt.Sprintf("expired at %s", opp.ExpiresAt.Format(time.RFC3339)))
	}

	domain := opp.Domain
	if domain == "" {
		if d, err := opportunity.DomainOf(opp.URL); err == nil {
			domain = d
		} else {
			reasons = append(reasons, "no resolvable domain")
		}
	}
	if domain != "" {
		// Deny-list takes precedence even when the allow-list also matches.
		if entry, hit := matchList(domain, v.Denied); hit {
			reasons = append(reasons, fmt.Sprintf("domain %s blacklisted by %s", domain, entry))
		} else if _, hit := matchList(domain, v.Allowed); !hit {
			reasons = append(reasons, fmt.Sprintf("domain %s not in allow-list", domain))
		}
	}

	if opp.Value < 0 {
		reasons = append(reasons, fmt.Sprintf("negative value %.2f", opp.Value))
	} else if opp.Value > v.MaxValue {
		reasons = append(reasons, fmt.Sprintf("value %.2f exceeds threshold %.2f", opp.Value, v.MaxValue))
	}

	if strings.TrimSpace(v.Profile.Name) == "" {
		reasons = append(reasons, "profile name missing")
	}
	if !emailPattern.MatchString(v.Profile.Email) {
		reasons = append(reasons, fmt.Sprintf("profile email %q invalid", v.Profile.Email))
	}

	return len(reasons) == 0, reasons
}

// matchList reports whether host matches any entry exactly or as a
// subdomain (entry "scam-site.com" matches "giveaway.scam-site.com").
func matchList(host string, list []string) (string, bool) {
	host = strings.ToLower(host)
	for _, entry := range list {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		if host == e || strings.HasSuffix(host, "."+e) {
			return entry, true
		}
	}
	return "", false
}
