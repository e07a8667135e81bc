// Package selector ranks eligible opportunities deterministically.
package selector

import (
	"sort"
	"time"

	"github.com/sweepd/sweepd/internal/opportunity"
)

// SelectBest filters candidates to the eligible set and returns the
// highest-ranked one, or nil when nothing is eligible.
//
// Eligibility: auto-fill enabled, not yet entered, priority at or above
// the threshold, deadline strictly in the future. Ranking: priority
// descending, then value descending, ties broken by the soonest
// deadline. The sort is stable and input order is never consulted
// beyond tie-breaking, so repeated calls on the same list return the
// same opportunity.
func SelectBest(now time.Time, threshold int, candidates []opportunity.Opportunity) *opportunity.Opportunity {
	eligible := make([]opportunity.Opportunity, 0, len(candidates))
	for _, c := range candidates {
		if !c.AutoFillEligible || c.AlreadyParticipated {
			continue
		}
		if c.Priority < threshold {
			continue
		}
		if c.Expired(now) {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		return a.ExpiresAt.Before(b.ExpiresAt)
	})

	best := eligible[0]
	return &best
}

// Score is the legacy reporting heuristic carried over from the original
// selection logic: value and priority push the score up, crowded entry
// counts pull it down, floor at zero. It is surfaced on dashboards only
// and never participates in SelectBest ordering.
func Score(o *opportunity.Opportunity) float64 {
	score := o.Value*1.5 + float64(o.Priority)*10
	if o.EntriesCount > 0 {
		score -= float64(o.EntriesCount) / 100
	}
	if score < 0 {
		return 0
	}
	return score
}
