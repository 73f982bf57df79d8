// Package store provides the embedded SQLite persistence layer for the
// control plane: cluster events, conversation transcripts, cluster
// snapshots, operator preferences, autonomy action audit records, long-term
// memories, presence logs, and reminders.
//
// The database runs with write-ahead logging, synchronous=NORMAL, and a
// 64 MB page cache. All exported methods are safe for concurrent use; the
// underlying *sql.DB serialises access.
package store

const ddlEvents = `
CREATE TABLE IF NOT EXISTS events (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    severity   TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    message    TEXT NOT NULL,
    node       TEXT NOT NULL DEFAULT '',
    source     TEXT NOT NULL,
    details    TEXT NOT NULL DEFAULT '',
    resolved   INTEGER NOT NULL DEFAULT 0,
    timestamp  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp);
CREATE INDEX IF NOT EXISTS idx_events_resolved  ON events (resolved);
`

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    timestamp  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations (session_id, timestamp);
`

const ddlClusterSnapshots = `
CREATE TABLE IF NOT EXISTS cluster_snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot   TEXT NOT NULL,
    timestamp  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cluster_snapshots_timestamp ON cluster_snapshots (timestamp);
`

const ddlPreferences = `
CREATE TABLE IF NOT EXISTS preferences (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const ddlAutonomyActions = `
CREATE TABLE IF NOT EXISTS autonomy_actions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    incident_key   TEXT NOT NULL,
    incident_id    TEXT NOT NULL DEFAULT '',
    runbook_id     TEXT NOT NULL DEFAULT '',
    action         TEXT NOT NULL,
    args           TEXT NOT NULL DEFAULT '',
    outcome        TEXT NOT NULL,
    verified       INTEGER NOT NULL DEFAULT 0,
    autonomy_level INTEGER NOT NULL DEFAULT 0,
    attempt        INTEGER NOT NULL DEFAULT 0,
    escalated      INTEGER NOT NULL DEFAULT 0,
    email_sent     INTEGER NOT NULL DEFAULT 0,
    timestamp      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_autonomy_actions_key       ON autonomy_actions (incident_key);
CREATE INDEX IF NOT EXISTS idx_autonomy_actions_timestamp ON autonomy_actions (timestamp);
`

const ddlMemories = `
CREATE TABLE IF NOT EXISTS memories (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    category   TEXT NOT NULL DEFAULT '',
    content    TEXT NOT NULL,
    timestamp  TIMESTAMP NOT NULL
);
`

const ddlPresenceLogs = `
CREATE TABLE IF NOT EXISTS presence_logs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    person     TEXT NOT NULL,
    state      TEXT NOT NULL,
    timestamp  TIMESTAMP NOT NULL
);
`

const ddlReminders = `
CREATE TABLE IF NOT EXISTS reminders (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    text       TEXT NOT NULL,
    due_at     TIMESTAMP NOT NULL,
    done       INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders (due_at, done);
`

// allDDL lists every table's DDL in creation order.
var allDDL = []string{
	ddlEvents,
	ddlConversations,
	ddlClusterSnapshots,
	ddlPreferences,
	ddlAutonomyActions,
	ddlMemories,
	ddlPresenceLogs,
	ddlReminders,
}
