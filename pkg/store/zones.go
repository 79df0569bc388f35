// This file contains methods for zones and mismatch clusters.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gobeyondidentity/shm/pkg/patch"
)

// GetZone retrieves a zone summary by id.
func (s *Store) GetZone(ctx context.Context, id int) (*patch.Zone, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, mismatch_volume, active_patch_count, current_ttm, last_rollback FROM zones WHERE id = ?`, id)
	z, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("zone %d: %w", id, patch.ErrNotFound)
	}
	return z, err
}

// HasZone reports whether a zone with id exists.
func (s *Store) HasZone(ctx context.Context, id int) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zones WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up zone: %w", err)
	}
	return n > 0, nil
}

// ListZones returns all zones ordered by id.
func (s *Store) ListZones(ctx context.Context) ([]*patch.Zone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mismatch_volume, active_patch_count, current_ttm, last_rollback FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	var zones []*patch.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// PutZone inserts or replaces a zone summary.
func (s *Store) PutZone(ctx context.Context, z *patch.Zone) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO zones (id, name, mismatch_volume, active_patch_count, current_ttm, last_rollback)
		VALUES (?, ?, ?, ?, ?, ?)`,
		z.ID, z.Name, z.MismatchVolume, z.ActivePatchCount, z.CurrentTTM, nullableTime(z.LastRollback),
	)
	if err != nil {
		return fmt.Errorf("failed to store zone %d: %w", z.ID, err)
	}
	return nil
}

func scanZone(row rowScanner) (*patch.Zone, error) {
	var z patch.Zone
	var lastRollback sql.NullInt64
	if err := row.Scan(&z.ID, &z.Name, &z.MismatchVolume, &z.ActivePatchCount, &z.CurrentTTM, &lastRollback); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan zone: %w", err)
	}
	z.LastRollback = scanNullableTime(lastRollback)
	return &z, nil
}

const clusterColumns = `id, zone, lat, lng, location_label, patch_type, confidence, vehicles, passes,
	time_spread_days, suggested_stage, last_seen, status, needs_review`

// GetCluster retrieves a mismatch cluster by id.
func (s *Store) GetCluster(ctx context.Context, id string) (*patch.MismatchCluster, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = ?`, id)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cluster %s: %w", id, patch.ErrNotFound)
	}
	return c, err
}

// ListClusters returns all clusters, most recently seen first.
func (s *Store) ListClusters(ctx context.Context) ([]*patch.MismatchCluster, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clusterColumns+` FROM clusters ORDER BY last_seen DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*patch.MismatchCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// PutCluster inserts or replaces a mismatch cluster.
func (s *Store) PutCluster(ctx context.Context, c *patch.MismatchCluster) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO clusters (`+clusterColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Zone, c.Lat, c.Lng, c.LocationLabel, string(c.PatchType), c.Confidence, c.Vehicles, c.Passes,
		c.TimeSpreadDays, string(c.SuggestedStage), unixNano(c.LastSeen), string(c.Status), boolToInt(c.NeedsReview),
	)
	if err != nil {
		return fmt.Errorf("failed to store cluster %s: %w", c.ID, err)
	}
	return nil
}

// UpdateClusterStatus sets a cluster's review status.
func (s *Store) UpdateClusterStatus(ctx context.Context, id string, status patch.ClusterStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE clusters SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update cluster status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("cluster %s: %w", id, patch.ErrNotFound)
	}
	return nil
}

func scanCluster(row rowScanner) (*patch.MismatchCluster, error) {
	var c patch.MismatchCluster
	var patchType, stage, status string
	var lastSeen int64
	var needsReview int

	err := row.Scan(&c.ID, &c.Zone, &c.Lat, &c.Lng, &c.LocationLabel, &patchType, &c.Confidence,
		&c.Vehicles, &c.Passes, &c.TimeSpreadDays, &stage, &lastSeen, &status, &needsReview)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cluster: %w", err)
	}
	c.PatchType = patch.Type(patchType)
	c.SuggestedStage = patch.Stage(stage)
	c.LastSeen = fromUnixNano(lastSeen)
	c.Status = patch.ClusterStatus(status)
	c.NeedsReview = needsReview != 0
	return &c, nil
}
