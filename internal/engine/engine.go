// Package engine runs the scheduling loop: every tick it asks the rate
// gate whether it may act, filters and ranks the stored opportunities,
// submits the winner, and records the outcome before the next tick may
// start. Attempts are strictly sequential.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweepd/sweepd/internal/opportunity"
	"github.com/sweepd/sweepd/internal/rategate"
	"github.com/sweepd/sweepd/internal/selector"
	"github.com/sweepd/sweepd/internal/submit"
	"github.com/sweepd/sweepd/internal/validate"
)

// Submitter runs one attempt. *submit.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, opp opportunity.Opportunity, profile opportunity.Profile) *submit.Attempt
}

// Recorder books a finished attempt. *tracker.Tracker satisfies it.
type Recorder interface {
	Record(ctx context.Context, att *submit.Attempt) error
}

// Source supplies candidate opportunities.
type Source interface {
	Candidates(ctx context.Context) ([]opportunity.Opportunity, error)
}

// Engine owns the loop. One instance per process. Every touch of the
// gate's state, including the recorder call that mutates its counters,
// happens under mu so Status can be served from other goroutines.
type Engine struct {
	gate      *rategate.Gate
	validator *validate.Validator
	source    Source
	submitter Submitter
	recorder  Recorder
	profile   opportunity.Profile

	threshold     int
	tickInterval  time.Duration
	errorCooldown time.Duration

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)

	mu     sync.Mutex
	manual string // pending manual opportunity ID, "" = none
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickInterval sets the loop tick period. Default 1m.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tickInterval = d }
}

// WithErrorCooldown sets the extra sleep after an engine-level failure.
// Default 30s.
func WithErrorCooldown(d time.Duration) Option {
	return func(e *Engine) { e.errorCooldown = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New assembles an Engine.
func New(gate *rategate.Gate, validator *validate.Validator, source Source, submitter Submitter, recorder Recorder, profile opportunity.Profile, threshold int, opts ...Option) *Engine {
	e := &Engine{
		gate:          gate,
		validator:     validator,
		source:        source,
		submitter:     submitter,
		recorder:      recorder,
		profile:       profile,
		threshold:     threshold,
		tickInterval:  time.Minute,
		errorCooldown: 30 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	e.sleep = func(ctx context.Context, d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status returns a snapshot of the rate counters.
func (e *Engine) Status() rategate.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.gate.State()
}

// EnqueueManual schedules one manual attempt for the next tick. Only
// one manual request may be pending at a time.
func (e *Engine) EnqueueManual(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.manual != "" {
		return fmt.Errorf("engine: manual attempt already queued: %s", e.manual)
	}
	e.manual = id
	return nil
}

func (e *Engine) takeManual() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.manual
	e.manual = ""
	return id
}

// Run executes ticks until ctx is cancelled. A single attempt's failure
// never stops the loop; it only adds the error cool-down before the
// next tick.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine: loop started",
		"tick", e.tickInterval.String(), "threshold", e.threshold)

	for {
		hadError := e.tick(ctx)
		if ctx.Err() != nil {
			e.logger.Info("engine: loop stopped")
			return ctx.Err()
		}
		if hadError {
			e.sleep(ctx, e.errorCooldown)
		}
		e.sleep(ctx, e.tickInterval)
		if ctx.Err() != nil {
			e.logger.Info("engine: loop stopped")
			return ctx.Err()
		}
	}
}

// RunOnce executes a single tick. Used by the -once CLI mode.
func (e *Engine) RunOnce(ctx context.Context) error {
	e.tick(ctx)
	return ctx.Err()
}

// tick runs one scheduling decision and, when permitted, one attempt.
// Returns true when the tick failed in a way that warrants the error
// cool-down.
func (e *Engine) tick(ctx context.Context) bool {
	now := e.now()

	e.mu.Lock()
	allowed := e.gate.CanActNow(now)
	e.mu.Unlock()
	if !allowed {
		e.logger.Debug("engine: gate denied tick")
		return false
	}

	candidates, err := e.source.Candidates(ctx)
	if err != nil {
		e.logger.Error("engine: candidate fetch failed", "error", err)
		return true
	}

	pick := e.choose(now, candidates)
	if pick == nil {
		e.logger.Debug("engine: no eligible opportunity")
		return false
	}

	att := e.runAttempt(ctx, *pick)
	e.mu.Lock()
	err = e.recorder.Record(ctx, att)
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("engine: record failed", "attempt", att.ID, "error", err)
		return true
	}
	return att.Outcome == submit.OutcomeNetworkError
}

// choose applies the validator and the selector, honouring a pending
// manual request first. Manual requests skip the ranking but not the
// safety checks.
func (e *Engine) choose(now time.Time, candidates []opportunity.Opportunity) *opportunity.Opportunity {
	if manualID := e.takeManual(); manualID != "" {
		for i := range candidates {
			if candidates[i].ID != manualID {
				continue
			}
			if ok, reasons := e.validator.Validate(&candidates[i]); !ok {
				e.logger.Warn("engine: manual attempt rejected",
					"opportunity", manualID, "reasons", reasons)
				return nil
			}
			return &candidates[i]
		}
		e.logger.Warn("engine: manual opportunity not found", "opportunity", manualID)
		return nil
	}

	eligible := candidates[:0:0]
	for i := range candidates {
		ok, reasons := e.validator.Validate(&candidates[i])
		if !ok {
			e.logger.Debug("engine: candidate rejected",
				"opportunity", candidates[i].ID, "reasons", reasons)
			continue
		}
		eligible = append(eligible, candidates[i])
	}
	return selector.SelectBest(now, e.threshold, eligible)
}

// runAttempt shields the loop from a panicking submission; an escaped
// panic becomes a network_error attempt so it still hits the counters.
func (e *Engine) runAttempt(ctx context.Context, opp opportunity.Opportunity) (att *submit.Attempt) {
	started := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine: attempt panicked", "opportunity", opp.ID, "panic", r)
			att = &submit.Attempt{
				ID:            fmt.Sprintf("att_panic_%d", started.UnixNano()),
				OpportunityID: opp.ID,
				Title:         opp.Title,
				URL:           opp.URL,
				Domain:        opp.Domain,
				StartedAt:     started,
				Duration:      e.now().Sub(started),
				Outcome:       submit.OutcomeNetworkError,
				Detail:        fmt.Sprint(r),
			}
		}
	}()

	e.logger.Info("engine: attempting",
		"opportunity", opp.ID, "priority", opp.Priority, "value", opp.Value,
		"score", selector.Score(&opp))
	return e.submitter.Submit(ctx, opp, e.profile)
}
