package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hearthward/jarvisd/internal/events"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the embedded SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) the directory containing path, opens the
// database, applies the pragmas, and migrates the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir %q: %w", dir, err)
		}
	}

	// cache=shared keeps a single page cache across the pool;
	// _journal_mode/_synchronous/_cache_size apply the WAL configuration.
	dsn := fmt.Sprintf("file:%s?cache=shared&_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-65536&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies the DDL for every table.
func (s *Store) migrate() error {
	for _, ddl := range allDDL {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ─── Events ──────────────────────────────────────────────────────────────────

// RecordEvent persists a cluster event. Failures are logged and returned;
// callers on best-effort paths may ignore the error.
func (s *Store) RecordEvent(ctx context.Context, ev events.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, severity, title, message, node, source, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, string(ev.Severity), ev.Title, ev.Message, ev.Node, string(ev.Source), ev.Details, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("store: record event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent limit events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, title, message, node, source, details, timestamp
		FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// UnresolvedEvents returns events not yet marked resolved, newest first.
func (s *Store) UnresolvedEvents(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, title, message, node, source, details, timestamp
		FROM events WHERE resolved = 0 ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: unresolved events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ResolveEvent marks an event as resolved.
func (s *Store) ResolveEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: resolve event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		var ev events.Event
		var severity, source string
		if err := rows.Scan(&ev.ID, &ev.Type, &severity, &ev.Title, &ev.Message, &ev.Node, &source, &ev.Details, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Severity = events.Severity(severity)
		ev.Source = events.Source(source)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ─── Conversations ───────────────────────────────────────────────────────────

// AppendConversation persists one transcript line.
func (s *Store) AppendConversation(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?)`, sessionID, role, content, time.Now())
	if err != nil {
		return fmt.Errorf("store: append conversation: %w", err)
	}
	return nil
}

// ─── Cluster snapshots ───────────────────────────────────────────────────────

// RecordSnapshot persists a compact JSON cluster snapshot.
func (s *Store) RecordSnapshot(ctx context.Context, snapshotJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cluster_snapshots (snapshot, timestamp) VALUES (?, ?)`,
		snapshotJSON, time.Now())
	if err != nil {
		return fmt.Errorf("store: record snapshot: %w", err)
	}
	return nil
}

// PruneSnapshots removes snapshots older than cutoff.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cluster_snapshots WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ─── Memories ────────────────────────────────────────────────────────────────

// Memory is one long-term memory row.
type Memory struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AddMemory persists a memory.
func (s *Store) AddMemory(ctx context.Context, category, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (category, content, timestamp) VALUES (?, ?, ?)`,
		category, content, time.Now())
	if err != nil {
		return fmt.Errorf("store: add memory: %w", err)
	}
	return nil
}

// ListMemories returns the most recent limit memories, newest first.
func (s *Store) ListMemories(ctx context.Context, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, content, timestamp FROM memories
		ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Category, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemoryContext formats the most recent memories as prompt-injectable lines,
// one "[category] content" per memory, oldest first.
func (s *Store) MemoryContext(ctx context.Context, limit int) (string, error) {
	memories, err := s.ListMemories(ctx, limit)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := len(memories) - 1; i >= 0; i-- {
		m := memories[i]
		fmt.Fprintf(&b, "[%s] %s\n", m.Category, m.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ─── Presence & reminders ────────────────────────────────────────────────────

// LogPresence records a presence transition for a person.
func (s *Store) LogPresence(ctx context.Context, person, presenceState string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence_logs (person, state, timestamp) VALUES (?, ?, ?)`,
		person, presenceState, time.Now())
	if err != nil {
		return fmt.Errorf("store: log presence: %w", err)
	}
	return nil
}

// AddReminder persists a reminder due at the given time.
func (s *Store) AddReminder(ctx context.Context, text string, dueAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (text, due_at, created_at) VALUES (?, ?, ?)`,
		text, dueAt, time.Now())
	if err != nil {
		return fmt.Errorf("store: add reminder: %w", err)
	}
	return nil
}
