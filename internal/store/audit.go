package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweepd/sweepd/internal/idgen"
)

// AuditEntry is one operation record in the engine's audit trail.
type AuditEntry struct {
	EntryID    string
	Timestamp  time.Time
	Component  string // e.g. "engine", "submit", "feed"
	Operation  string // e.g. "attempt", "tick_skipped", "feed_refresh"
	Subject    string // usually an opportunity or attempt ID
	Status     string // "success", "error", "skipped"
	Detail     string
	DurationMs int64
}

// AuditLog persists audit entries asynchronously through a buffered
// channel; a full buffer falls back to a synchronous insert so entries
// are never dropped.
type AuditLog struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *AuditEntry
	stop  chan struct{}
	done  chan struct{}
}

// NewAuditLog starts the flush goroutine. Recommended bufferSize: 256.
func NewAuditLog(db *sql.DB, bufferSize int) *AuditLog {
	a := &AuditLog{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.Default),
		ch:    make(chan *AuditEntry, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go a.flushLoop()
	return a
}

// Record queues an entry for async persistence, inserting synchronously
// when the buffer is full.
func (a *AuditLog) Record(entry *AuditEntry) {
	a.fillDefaults(entry)
	select {
	case a.ch <- entry:
	default:
		slog.Warn("store: audit buffer full, sync fallback", "component", entry.Component)
		if err := a.insert(context.Background(), entry); err != nil {
			slog.Error("store: audit sync fallback failed", "error", err)
		}
	}
}

// RecordSync inserts an entry immediately.
func (a *AuditLog) RecordSync(ctx context.Context, entry *AuditEntry) error {
	a.fillDefaults(entry)
	return a.insert(ctx, entry)
}

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLog) Close() {
	close(a.stop)
	<-a.done
}

// Recent returns up to limit entries, newest first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT entry_id, timestamp, component, operation, subject, status, detail, duration_ms
		FROM audit_log
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			ts int64
		)
		if err := rows.Scan(&e.EntryID, &ts, &e.Component, &e.Operation,
			&e.Subject, &e.Status, &e.Detail, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("store: scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (a *AuditLog) fillDefaults(entry *AuditEntry) {
	if entry.EntryID == "" {
		entry.EntryID = a.newID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
}

func (a *AuditLog) flushLoop() {
	defer close(a.done)
	for {
		select {
		case entry := <-a.ch:
			if err := a.insert(context.Background(), entry); err != nil {
				slog.Error("store: audit insert failed", "error", err)
			}
		case <-a.stop:
			// Drain whatever is still buffered.
			for {
				select {
				case entry := <-a.ch:
					if err := a.insert(context.Background(), entry); err != nil {
						slog.Error("store: audit insert failed", "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (a *AuditLog) insert(ctx context.Context, entry *AuditEntry) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_log
			(entry_id, timestamp, component, operation, subject, status, detail, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, entry.Timestamp.UnixMilli(), entry.Component,
		entry.Operation, entry.Subject, entry.Status, entry.Detail, entry.DurationMs)
	if err != nil {
		return fmt.Errorf("store: insert audit entry: %w", err)
	}
	return nil
}
