package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Preference keys used by the autonomy guardrails. Values are read on use so
// an operator change takes effect on the next evaluation without a restart.
const (
	PrefKillSwitch    = "autonomy.killSwitch"
	PrefAutonomyLevel = "autonomy.level"
)

// GetPreference returns the stored value for key, or [ErrNotFound].
func (s *Store) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get preference %q: %w", key, err)
	}
	return value, nil
}

// SetPreference upserts a preference by key.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now())
	if err != nil {
		return fmt.Errorf("store: set preference %q: %w", key, err)
	}
	return nil
}

// GetBoolPreference reads a boolean preference. A missing key returns the
// fallback with a nil error; a read failure propagates so callers can fail
// safe.
func (s *Store) GetBoolPreference(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := s.GetPreference(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	v, parseErr := strconv.ParseBool(raw)
	if parseErr != nil {
		return fallback, fmt.Errorf("store: preference %q has non-boolean value %q", key, raw)
	}
	return v, nil
}

// GetIntPreference reads an integer preference with the same error contract
// as [Store.GetBoolPreference].
func (s *Store) GetIntPreference(ctx context.Context, key string, fallback int) (int, error) {
	raw, err := s.GetPreference(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	v, parseErr := strconv.Atoi(raw)
	if parseErr != nil {
		return fallback, fmt.Errorf("store: preference %q has non-integer value %q", key, raw)
	}
	return v, nil
}

// ListPreferences returns every stored preference as a key → value map.
func (s *Store) ListPreferences(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("store: list preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan preference: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
