package store

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the closed set of autonomy action results.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeEscalated Outcome = "escalated"
)

// AutonomyAction is the persistent audit record of one autonomous
// remediation attempt (or its denial).
type AutonomyAction struct {
	ID            int64     `json:"id"`
	IncidentKey   string    `json:"incidentKey"`
	IncidentID    string    `json:"incidentId"`
	RunbookID     string    `json:"runbookId"`
	Action        string    `json:"action"`
	Args          string    `json:"args"`
	Outcome       Outcome   `json:"outcome"`
	Verified      bool      `json:"verified"`
	AutonomyLevel int       `json:"autonomyLevel"`
	Attempt       int       `json:"attempt"`
	Escalated     bool      `json:"escalated"`
	EmailSent     bool      `json:"emailSent"`
	Timestamp     time.Time `json:"timestamp"`
}

// AppendAutonomyAction persists an autonomy audit record. The write must
// precede the corresponding outbound email; callers rely on that ordering.
func (s *Store) AppendAutonomyAction(ctx context.Context, a AutonomyAction) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO autonomy_actions
			(incident_key, incident_id, runbook_id, action, args, outcome,
			 verified, autonomy_level, attempt, escalated, email_sent, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.IncidentKey, a.IncidentID, a.RunbookID, a.Action, a.Args, string(a.Outcome),
		a.Verified, a.AutonomyLevel, a.Attempt, a.Escalated, a.EmailSent, a.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append autonomy action: %w", err)
	}
	return nil
}

// ListAutonomyActions returns the most recent limit audit records, newest
// first.
func (s *Store) ListAutonomyActions(ctx context.Context, limit int) ([]AutonomyAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_key, incident_id, runbook_id, action, args, outcome,
		       verified, autonomy_level, attempt, escalated, email_sent, timestamp
		FROM autonomy_actions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list autonomy actions: %w", err)
	}
	defer rows.Close()

	var out []AutonomyAction
	for rows.Next() {
		var a AutonomyAction
		var outcome string
		if err := rows.Scan(&a.ID, &a.IncidentKey, &a.IncidentID, &a.RunbookID, &a.Action, &a.Args,
			&outcome, &a.Verified, &a.AutonomyLevel, &a.Attempt, &a.Escalated, &a.EmailSent, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan autonomy action: %w", err)
		}
		a.Outcome = Outcome(outcome)
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneAutonomyActions removes audit records older than cutoff and returns
// how many were dropped.
func (s *Store) PruneAutonomyActions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM autonomy_actions WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune autonomy actions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
