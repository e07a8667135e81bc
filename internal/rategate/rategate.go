// Package rategate enforces the engine's pacing rules: the daily
// participation cap, the minimum delay between attempts, and the
// working-hours window.
//
// State is an explicit object handed to the gate and the outcome tracker;
// nothing here is ambient or global, so tests can drive any clock they
// like and a future per-profile split only needs one State per profile.
package rategate

import (
	"time"
)

// State holds the mutable counters the gate reads and the tracker writes.
// Counters reset exactly once when the calendar day changes; the rollover
// never touches LastParticipationAt.
type State struct {
	ParticipationsToday int
	SuccessesToday      int
	FailuresToday       int
	LastParticipationAt *time.Time
	DayBoundary         time.Time // truncated to the calendar date
}

// NewState returns a State anchored to now's calendar day.
func NewState(now time.Time) *State {
	return &State{DayBoundary: dateOf(now)}
}

// RolloverIfNeeded resets the daily counters when now falls on a
// different calendar day than DayBoundary. It returns true when a reset
// happened.
func (s *State) RolloverIfNeeded(now time.Time) bool {
	today := dateOf(now)
	if today.Equal(s.DayBoundary) {
		return false
	}
	s.ParticipationsToday = 0
	s.SuccessesToday = 0
	s.FailuresToday = 0
	s.DayBoundary = today
	return true
}

// RecordAttempt increments the counters for one finished attempt. The
// outcome tracker is the only caller.
func (s *State) RecordAttempt(startedAt time.Time, success bool) {
	s.RolloverIfNeeded(startedAt)
	s.ParticipationsToday++
	if success {
		s.SuccessesToday++
	} else {
		s.FailuresToday++
	}
	at := startedAt
	s.LastParticipationAt = &at
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Gate answers "can the engine act now?". It is a pure boolean check
// evaluated once per scheduling tick; a denial is normal control flow,
// not an error.
type Gate struct {
	state *State

	maxPerDay   int
	minDelay    time.Duration
	windowStart int // minutes since midnight, inclusive
	windowEnd   int // minutes since midnight, inclusive
}

// NewGate wires a Gate to its state and limits. Window bounds are minutes
// since midnight in local time, both inclusive.
func NewGate(state *State, maxPerDay int, minDelay time.Duration, windowStart, windowEnd int) *Gate {
	return &Gate{
		state:       state,
		maxPerDay:   maxPerDay,
		minDelay:    minDelay,
		windowStart: windowStart,
		windowEnd:   windowEnd,
	}
}

// State exposes the gate's state for the tracker and the status API.
func (g *Gate) State() *State { return g.state }

// CanActNow reports whether a new attempt may start at now. Day rollover
// is applied before any rule is evaluated.
func (g *Gate) CanActNow(now time.Time) bool {
	g.state.RolloverIfNeeded(now)

	minute := now.Hour()*60 + now.Minute()
	if minute < g.windowStart || minute > g.windowEnd {
		return false
	}
	if g.state.ParticipationsToday >= g.maxPerDay {
		return false
	}
	if last := g.state.LastParticipationAt; last != nil {
		if now.Sub(*last) < g.minDelay {
			return false
		}
	}
	return true
}
