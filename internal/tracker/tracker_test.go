package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweepd/sweepd/internal/rategate"
	"github.com/sweepd/sweepd/internal/store"
	"github.com/sweepd/sweepd/internal/submit"
)

type fakeStorage struct {
	saved        int
	appended     []*submit.Attempt
	marked       []string
	saveErr      error
}

func (f *fakeStorage) SaveRateState(context.Context, *rategate.State) error {
	f.saved++
	return f.saveErr
}

func (f *fakeStorage) AppendAttempt(_ context.Context, att *submit.Attempt) error {
	f.appended = append(f.appended, att)
	return nil
}

func (f *fakeStorage) MarkParticipated(_ context.Context, id string) error {
	f.marked = append(f.marked, id)
	return nil
}

type fakeSink struct {
	got []*submit.Attempt
}

func (f *fakeSink) AttemptRecorded(_ context.Context, att *submit.Attempt) {
	f.got = append(f.got, att)
}

type fakeAuditor struct {
	entries []*store.AuditEntry
}

func (f *fakeAuditor) Record(e *store.AuditEntry) { f.entries = append(f.entries, e) }

func attempt(outcome submit.Outcome, startedAt time.Time) *submit.Attempt {
	return &submit.Attempt{
		ID:            "att_1",
		OpportunityID: "opp-1",
		StartedAt:     startedAt,
		Duration:      2 * time.Second,
		Outcome:       outcome,
	}
}

func TestRecordSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := rategate.NewState(now)
	storage := &fakeStorage{}
	sink := &fakeSink{}
	audit := &fakeAuditor{}

	tr := New(state, storage, WithSinks(sink), WithAudit(audit))
	if err := tr.Record(context.Background(), attempt(submit.OutcomeSuccess, now)); err != nil {
		t.Fatalf("record: %v", err)
	}

	if state.ParticipationsToday != 1 || state.SuccessesToday != 1 || state.FailuresToday != 0 {
		t.Errorf("counters = %d/%d/%d", state.ParticipationsToday, state.SuccessesToday, state.FailuresToday)
	}
	if state.LastParticipationAt == nil || !state.LastParticipationAt.Equal(now) {
		t.Errorf("LastParticipationAt = %v, want %v", state.LastParticipationAt, now)
	}
	if storage.saved != 1 {
		t.Errorf("rate state saved %d times", storage.saved)
	}
	if len(storage.appended) != 1 {
		t.Errorf("history appends = %d", len(storage.appended))
	}
	if len(storage.marked) != 1 || storage.marked[0] != "opp-1" {
		t.Errorf("marked = %v, want [opp-1]", storage.marked)
	}
	if len(sink.got) != 1 {
		t.Errorf("sink deliveries = %d", len(sink.got))
	}
	if len(audit.entries) != 1 || audit.entries[0].Status != "success" {
		t.Errorf("audit = %+v", audit.entries)
	}
}

func TestRecordFailureDoesNotMarkParticipated(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := rategate.NewState(now)
	storage := &fakeStorage{}

	tr := New(state, storage)
	if err := tr.Record(context.Background(), attempt(submit.OutcomeCaptchaFailed, now)); err != nil {
		t.Fatalf("record: %v", err)
	}

	if state.FailuresToday != 1 || state.SuccessesToday != 0 {
		t.Errorf("counters = %d/%d", state.SuccessesToday, state.FailuresToday)
	}
	// The opportunity stays eligible for a later tick.
	if len(storage.marked) != 0 {
		t.Errorf("failed attempt must not mark participated: %v", storage.marked)
	}
}

// WHAT: every recorded attempt preserves participations == successes +
// failures, for any outcome mix.
func TestCounterInvariant(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	state := rategate.NewState(now)
	tr := New(state, &fakeStorage{})

	outcomes := []submit.Outcome{
		submit.OutcomeSuccess,
		submit.OutcomeCaptchaFailed,
		submit.OutcomeSubmissionFailed,
		submit.OutcomeSuccess,
		submit.OutcomeNetworkError,
	}
	for i, outcome := range outcomes {
		at := now.Add(time.Duration(i) * time.Hour)
		if err := tr.Record(context.Background(), attempt(outcome, at)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if state.ParticipationsToday != state.SuccessesToday+state.FailuresToday {
			t.Fatalf("invariant broken after %d: %d != %d + %d",
				i, state.ParticipationsToday, state.SuccessesToday, state.FailuresToday)
		}
	}
	if state.SuccessesToday != 2 || state.FailuresToday != 3 {
		t.Errorf("totals = %d/%d, want 2/3", state.SuccessesToday, state.FailuresToday)
	}
}

func TestRecordPersistenceErrorStillCounts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := rategate.NewState(now)
	storage := &fakeStorage{saveErr: errors.New("disk full")}

	tr := New(state, storage)
	err := tr.Record(context.Background(), attempt(submit.OutcomeSuccess, now))
	if err == nil {
		t.Fatal("expected persistence error")
	}
	// Counters advance regardless so the gate stays conservative.
	if state.ParticipationsToday != 1 {
		t.Errorf("participations = %d, want 1", state.ParticipationsToday)
	}
}
