// This file contains methods for fleet distribution rows.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gobeyondidentity/shm/pkg/patch"
)

const distributionColumns = `patch_id, stage, target_zones, fleet_percent, distributed_at, success_rate, avg_latency_ms`

// GetDistribution retrieves the distribution row of a patch.
func (s *Store) GetDistribution(ctx context.Context, patchID string) (*patch.DistributionRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+distributionColumns+` FROM distribution WHERE patch_id = ?`, patchID)
	r, err := scanDistribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("distribution %s: %w", patchID, patch.ErrNotFound)
	}
	return r, err
}

// ListDistribution returns every distribution row ordered by patch id.
func (s *Store) ListDistribution(ctx context.Context) ([]*patch.DistributionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+distributionColumns+` FROM distribution ORDER BY patch_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list distribution: %w", err)
	}
	defer rows.Close()

	var out []*patch.DistributionRow
	for rows.Next() {
		r, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func upsertDistribution(ctx context.Context, db execer, r *patch.DistributionRow) error {
	zones := r.TargetZones
	if zones == nil {
		zones = []int{}
	}
	zonesJSON, err := json.Marshal(zones)
	if err != nil {
		return fmt.Errorf("failed to marshal target zones: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO distribution (`+distributionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(patch_id) DO UPDATE SET
			stage = excluded.stage,
			target_zones = excluded.target_zones,
			fleet_percent = excluded.fleet_percent,
			distributed_at = excluded.distributed_at,
			success_rate = excluded.success_rate,
			avg_latency_ms = excluded.avg_latency_ms`,
		r.PatchID, string(r.Stage), string(zonesJSON), r.FleetPercent,
		nullableTime(r.DistributedAt), r.SuccessRate, r.AvgLatencyMS,
	)
	if err != nil {
		return fmt.Errorf("failed to write distribution row: %w", err)
	}
	return nil
}

func scanDistribution(row rowScanner) (*patch.DistributionRow, error) {
	var r patch.DistributionRow
	var stage, zones string
	var distributedAt sql.NullInt64

	err := row.Scan(&r.PatchID, &stage, &zones, &r.FleetPercent, &distributedAt, &r.SuccessRate, &r.AvgLatencyMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan distribution row: %w", err)
	}
	r.Stage = patch.Stage(stage)
	r.DistributedAt = scanNullableTime(distributedAt)
	if err := json.Unmarshal([]byte(zones), &r.TargetZones); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target zones: %w", err)
	}
	return &r, nil
}
