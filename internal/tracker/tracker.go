// Package tracker records finished attempts: it is the sole mutator of
// the rate counters, appends to the persistent history, marks won
// opportunities, and fans the outcome out to notification sinks.
package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sweepd/sweepd/internal/rategate"
	"github.com/sweepd/sweepd/internal/store"
	"github.com/sweepd/sweepd/internal/submit"
)

// Storage is the slice of store behaviour the tracker needs.
type Storage interface {
	SaveRateState(ctx context.Context, st *rategate.State) error
	AppendAttempt(ctx context.Context, att *submit.Attempt) error
	MarkParticipated(ctx context.Context, id string) error
}

// Sink receives recorded attempts, e.g. the notification dispatcher.
type Sink interface {
	AttemptRecorded(ctx context.Context, att *submit.Attempt)
}

// Auditor appends to the audit trail. *store.AuditLog satisfies it.
type Auditor interface {
	Record(entry *store.AuditEntry)
}

// Tracker owns post-attempt bookkeeping. Attempts are strictly
// sequential, so no locking is needed around the counters.
type Tracker struct {
	state   *rategate.State
	storage Storage
	audit   Auditor
	sinks   []Sink
	logger  *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithAudit attaches the audit trail.
func WithAudit(a Auditor) Option {
	return func(t *Tracker) { t.audit = a }
}

// WithSinks attaches outcome sinks.
func WithSinks(sinks ...Sink) Option {
	return func(t *Tracker) { t.sinks = append(t.sinks, sinks...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a Tracker bound to the rate state it mutates.
func New(state *rategate.State, storage Storage, opts ...Option) *Tracker {
	t := &Tracker{
		state:   state,
		storage: storage,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record books one finished attempt: counters first, then persistence,
// then fan-out. Persistence errors are returned but the counters are
// already advanced; the gate must stay conservative even when the disk
// is unhappy.
func (t *Tracker) Record(ctx context.Context, att *submit.Attempt) error {
	t.state.RecordAttempt(att.StartedAt, att.Success())

	t.logger.Info("tracker: attempt recorded",
		"attempt", att.ID,
		"opportunity", att.OpportunityID,
		"outcome", string(att.Outcome),
		"duration_ms", att.DurationMs(),
		"today", t.state.ParticipationsToday,
	)

	var errs []error
	if err := t.storage.SaveRateState(ctx, t.state); err != nil {
		errs = append(errs, fmt.Errorf("tracker: save rate state: %w", err))
	}
	if err := t.storage.AppendAttempt(ctx, att); err != nil {
		errs = append(errs, fmt.Errorf("tracker: append history: %w", err))
	}
	if att.Success() {
		if err := t.storage.MarkParticipated(ctx, att.OpportunityID); err != nil {
			errs = append(errs, fmt.Errorf("tracker: mark participated: %w", err))
		}
	}

	if t.audit != nil {
		status := "error"
		if att.Success() {
			status = "success"
		}
		t.audit.Record(&store.AuditEntry{
			Component:  "tracker",
			Operation:  "attempt",
			Subject:    att.OpportunityID,
			Status:     status,
			Detail:     string(att.Outcome),
			DurationMs: att.DurationMs(),
		})
	}

	for _, sink := range t.sinks {
		sink.AttemptRecorded(ctx, att)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// State exposes the counters for the status API.
func (t *Tracker) State() *rategate.State { return t.state }
