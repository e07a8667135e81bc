// Package store persists engine state in SQLite: discovered
// opportunities, rate counters, participation history, and the audit
// log. The caller blank-imports the driver:
//
//	import _ "modernc.org/sqlite"
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweepd/sweepd/internal/opportunity"
	"github.com/sweepd/sweepd/internal/rategate"
	"github.com/sweepd/sweepd/internal/submit"
)

// Store wraps the SQLite handle with the engine's queries.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL journaling,
// foreign keys and a busy timeout, then applies the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store for testing. MaxOpenConns(1)
// keeps every query on the same connection; each connection to
// ":memory:" is a separate database.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// DB exposes the raw handle for components that share the database
// (audit log).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// UpsertOpportunities inserts newly discovered opportunities and
// refreshes mutable feed fields on known ones. The participated flag is
// never overwritten by feed data. Returns the number of new rows.
func (s *Store) UpsertOpportunities(ctx context.Context, opps []opportunity.Opportunity) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, o := range opps {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM opportunities WHERE id = ?)`, o.ID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("store: check opportunity %s: %w", o.ID, err)
		}
		if !exists {
			inserted++
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO opportunities
				(id, title, description, url, domain, category, value, priority,
				 expires_at, auto_fill, participated, entries_count, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				value = excluded.value,
				priority = excluded.priority,
				expires_at = excluded.expires_at,
				auto_fill = excluded.auto_fill,
				entries_count = excluded.entries_count`,
			o.ID, o.Title, o.Description, o.URL, o.Domain, o.Category,
			o.Value, o.Priority, o.ExpiresAt.UTC().Format(time.RFC3339),
			o.AutoFillEligible, o.AlreadyParticipated, o.EntriesCount,
			o.DetectedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("store: upsert opportunity %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return inserted, nil
}

// Candidates returns stored opportunities whose deadline has not passed
// yet, newest first. Participated ones are included; the selector
// filters them.
func (s *Store) Candidates(ctx context.Context) ([]opportunity.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, url, domain, category, value, priority,
		       expires_at, auto_fill, participated, entries_count, detected_at
		FROM opportunities
		WHERE expires_at > ?
		ORDER BY detected_at DESC`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("store: query candidates: %w", err)
	}
	defer rows.Close()

	var out []opportunity.Opportunity
	for rows.Next() {
		var o opportunity.Opportunity
		var expiresAt, detectedAt string
		if err := rows.Scan(&o.ID, &o.Title, &o.Description, &o.URL, &o.Domain,
			&o.Category, &o.Value, &o.Priority, &expiresAt, &o.AutoFillEligible,
			&o.AlreadyParticipated, &o.EntriesCount, &detectedAt); err != nil {
			return nil, fmt.Errorf("store: scan candidate: %w", err)
		}
		o.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		o.DetectedAt, _ = time.Parse(time.RFC3339, detectedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkParticipated flags an opportunity so the selector skips it from
// now on.
func (s *Store) MarkParticipated(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE opportunities SET participated = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: mark participated %s: %w", id, err)
	}
	return nil
}

// SaveRateState persists the singleton rate counters.
func (s *Store) SaveRateState(ctx context.Context, st *rategate.State) error {
	var last any
	if st.LastParticipationAt != nil {
		last = st.LastParticipationAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_state
			(id, day_boundary, participations_today, successes_today, failures_today, last_participation_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			day_boundary = excluded.day_boundary,
			participations_today = excluded.participations_today,
			successes_today = excluded.successes_today,
			failures_today = excluded.failures_today,
			last_participation_at = excluded.last_participation_at`,
		st.DayBoundary.Format("2006-01-02"),
		st.ParticipationsToday, st.SuccessesToday, st.FailuresToday, last)
	if err != nil {
		return fmt.Errorf("store: save rate state: %w", err)
	}
	return nil
}

// LoadRateState restores the rate counters, or returns a fresh state
// anchored at now when none was persisted. The day boundary keeps now's
// location so rollover stays in local time.
func (s *Store) LoadRateState(ctx context.Context, now time.Time) (*rategate.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT day_boundary, participations_today, successes_today, failures_today, last_participation_at
		FROM rate_state WHERE id = 1`)

	var (
		boundary string
		st       rategate.State
		last     sql.NullString
	)
	err := row.Scan(&boundary, &st.ParticipationsToday, &st.SuccessesToday, &st.FailuresToday, &last)
	if err == sql.ErrNoRows {
		return rategate.NewState(now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load rate state: %w", err)
	}

	day, err := time.ParseInLocation("2006-01-02", boundary, now.Location())
	if err != nil {
		return nil, fmt.Errorf("store: rate state day boundary %q: %w", boundary, err)
	}
	st.DayBoundary = day

	if last.Valid {
		at, err := time.Parse(time.RFC3339, last.String)
		if err != nil {
			return nil, fmt.Errorf("store: rate state last participation %q: %w", last.String, err)
		}
		at = at.In(now.Location())
		st.LastParticipationAt = &at
	}
	return &st, nil
}

// AppendAttempt records a finished attempt in the append-only history.
func (s *Store) AppendAttempt(ctx context.Context, att *submit.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participation_history
			(id, opportunity_id, title, url, domain, started_at, duration_ms,
			 outcome, detail, captcha_state, proxy_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		att.ID, att.OpportunityID, att.Title, att.URL, att.Domain,
		att.StartedAt.UTC().Format(time.RFC3339Nano), att.DurationMs(),
		string(att.Outcome), att.Detail, att.CaptchaState, att.ProxyUsed)
	if err != nil {
		return fmt.Errorf("store: append attempt %s: %w", att.ID, err)
	}
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]submit.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, opportunity_id, title, url, domain, started_at, duration_ms,
		       outcome, detail, captcha_state, proxy_used
		FROM participation_history
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var out []submit.Attempt
	for rows.Next() {
		var (
			att        submit.Attempt
			startedAt  string
			durationMs int64
			outcome    string
		)
		if err := rows.Scan(&att.ID, &att.OpportunityID, &att.Title, &att.URL,
			&att.Domain, &startedAt, &durationMs, &outcome, &att.Detail,
			&att.CaptchaState, &att.ProxyUsed); err != nil {
			return nil, fmt.Errorf("store: scan attempt: %w", err)
		}
		att.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		att.Duration = time.Duration(durationMs) * time.Millisecond
		att.Outcome = submit.Outcome(outcome)
		out = append(out, att)
	}
	return out, rows.Err()
}
