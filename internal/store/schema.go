package store

// schema is the complete DDL, applied on every Open. All statements are
// idempotent.
const schema = `
-- Discovered opportunities (feed-owned fields plus the participated mark)
CREATE TABLE IF NOT EXISTS opportunities (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL,
    domain TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    value REAL NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 0,
    expires_at TEXT NOT NULL,
    auto_fill INTEGER NOT NULL DEFAULT 0,
    participated INTEGER NOT NULL DEFAULT 0,
    entries_count INTEGER NOT NULL DEFAULT 0,
    detected_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_eligible
    ON opportunities(participated, expires_at);
CREATE INDEX IF NOT EXISTS idx_opportunities_domain
    ON opportunities(domain);

-- Append-only record of every submission attempt
CREATE TABLE IF NOT EXISTS participation_history (
    id TEXT PRIMARY KEY,
    opportunity_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    domain TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    captcha_state TEXT NOT NULL DEFAULT '',
    proxy_used INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_history_started
    ON participation_history(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_opportunity
    ON participation_history(opportunity_id);

-- Singleton rate counters, survive restarts
CREATE TABLE IF NOT EXISTS rate_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    day_boundary TEXT NOT NULL,
    participations_today INTEGER NOT NULL DEFAULT 0,
    successes_today INTEGER NOT NULL DEFAULT 0,
    failures_today INTEGER NOT NULL DEFAULT 0,
    last_participation_at TEXT
);

-- Append-only audit trail of engine operations
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    component TEXT NOT NULL,
    operation TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp
    ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_component_time
    ON audit_log(component, timestamp DESC);
`
