// This file contains the singleton state the CLI carries between runs:
// kill switch flags and operator-changed safety thresholds.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gobeyondidentity/shm/pkg/killswitch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

const thresholdsKey = "safety.thresholds"

// SaveKillSwitch stores the kill switch state, replacing any previous state.
func (s *Store) SaveKillSwitch(ctx context.Context, st killswitch.State) error {
	zones := st.DisabledZones
	if zones == nil {
		zones = []int{}
	}
	data, err := json.Marshal(zones)
	if err != nil {
		return fmt.Errorf("failed to marshal disabled zones: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO killswitch (id, global_enabled, disabled_zones, updated_at, updated_by)
		VALUES (1, ?, ?, ?, ?)`,
		boolToInt(st.GlobalEnabled), string(data), unixNano(st.UpdatedAt), st.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save kill switch: %w", err)
	}
	return nil
}

// LoadKillSwitch returns the stored kill switch state. ok is false when no
// toggle has ever been saved.
func (s *Store) LoadKillSwitch(ctx context.Context) (st killswitch.State, ok bool, err error) {
	var enabled int
	var zones string
	var updatedAt sql.NullInt64

	err = s.db.QueryRowContext(ctx,
		`SELECT global_enabled, disabled_zones, updated_at, updated_by FROM killswitch WHERE id = 1`,
	).Scan(&enabled, &zones, &updatedAt, &st.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return killswitch.State{}, false, nil
	}
	if err != nil {
		return killswitch.State{}, false, fmt.Errorf("failed to load kill switch: %w", err)
	}

	st.GlobalEnabled = enabled != 0
	if updatedAt.Valid {
		st.UpdatedAt = fromUnixNano(updatedAt.Int64)
	}
	if err := json.Unmarshal([]byte(zones), &st.DisabledZones); err != nil {
		return killswitch.State{}, false, fmt.Errorf("failed to unmarshal disabled zones: %w", err)
	}
	return st, true, nil
}

// SaveThresholds stores operator-changed safety thresholds.
func (s *Store) SaveThresholds(ctx context.Context, th safety.Thresholds) error {
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))`,
		thresholdsKey, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save thresholds: %w", err)
	}
	return nil
}

// LoadThresholds returns stored thresholds. ok is false when none were saved.
func (s *Store) LoadThresholds(ctx context.Context) (safety.Thresholds, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, thresholdsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return safety.Thresholds{}, false, nil
	}
	if err != nil {
		return safety.Thresholds{}, false, fmt.Errorf("failed to load thresholds: %w", err)
	}

	var th safety.Thresholds
	if err := json.Unmarshal([]byte(value), &th); err != nil {
		return safety.Thresholds{}, false, fmt.Errorf("failed to unmarshal thresholds: %w", err)
	}
	return th, true, nil
}
