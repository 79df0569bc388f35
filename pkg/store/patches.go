// This file contains methods for patches and their audit trails.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/patch"
)

// ErrStaleTrail is returned by CommitPatch when the stored audit trail no
// longer matches the one the commit was built on. It means another writer
// committed to the same patch in between.
var ErrStaleTrail = errors.New("audit trail changed since read")

const patchColumns = `id, cluster_id, type, zone, location_label, lat, lng, geofence_radius_m,
	delta_description, delta_magnitude, stage, created_at, ttl_days, expires_at,
	blocked, block_reason, evidence, rollback_triggers, fleet_percent, distributed_at, success_rate`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetPatch retrieves a patch with its full audit trail.
func (s *Store) GetPatch(ctx context.Context, id string) (*patch.Patch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patchColumns+` FROM patches WHERE id = ?`, id)
	p, err := scanPatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patch %s: %w", id, patch.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	p.AuditLog, err = loadEvents(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPatches returns patches matching f ordered by id, each with its trail.
func (s *Store) ListPatches(ctx context.Context, f patch.Filter) ([]*patch.Patch, error) {
	var conditions []string
	var args []any

	if f.Stage != "" {
		conditions = append(conditions, "stage = ?")
		args = append(args, string(f.Stage))
	}
	if f.Zone != 0 {
		conditions = append(conditions, "zone = ?")
		args = append(args, f.Zone)
	}

	query := `SELECT ` + patchColumns + ` FROM patches`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list patches: %w", err)
	}
	var patches []*patch.Patch
	for rows.Next() {
		p, err := scanPatch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		patches = append(patches, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Trails are loaded once the listing cursor is closed.
	for _, p := range patches {
		if p.AuditLog, err = loadEvents(ctx, s.db, p.ID); err != nil {
			return nil, err
		}
	}
	return patches, nil
}

// CreatePatch stores a new patch and its initial trail.
// Returns an error wrapping patch.ErrExists if the id is taken.
func (s *Store) CreatePatch(ctx context.Context, p *patch.Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM patches WHERE id = ?`, p.ID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check patch: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("patch %s: %w", p.ID, patch.ErrExists)
	}

	evidence, triggers, err := marshalPatchJSON(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO patches (`+patchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ClusterID, string(p.Type), p.Zone, p.LocationLabel, p.Lat, p.Lng, p.GeoFenceRadiusM,
		p.GeometryDelta.Description, p.GeometryDelta.Magnitude, string(p.Stage),
		unixNano(p.CreatedAt), p.TTLDays, unixNano(p.ExpiresAt),
		boolToInt(p.Blocked), p.BlockReason, evidence, triggers,
		p.FleetPercent, nullableTime(p.DistributedAt), p.SuccessRate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert patch: %w", err)
	}

	for i, ev := range p.AuditLog {
		if err := insertEvent(ctx, tx, p.ID, i+1, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit patch: %w", err)
	}
	return nil
}

// CommitPatch writes the patch, its newest audit event and, when row is
// non-nil, its distribution row in a single transaction. ev must be the last
// entry of p.AuditLog and the stored trail must hold exactly the entries
// before it; otherwise ErrStaleTrail is returned and nothing is written.
func (s *Store) CommitPatch(ctx context.Context, p *patch.Patch, row *patch.DistributionRow, ev audit.Event) error {
	if n := len(p.AuditLog); n == 0 || p.AuditLog[n-1].ID != ev.ID {
		return fmt.Errorf("event %s is not the newest entry of patch %s", ev.ID, p.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM patch_events WHERE patch_id = ?`, p.ID).Scan(&stored); err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	if stored != len(p.AuditLog)-1 {
		return fmt.Errorf("patch %s: %w", p.ID, ErrStaleTrail)
	}

	evidence, triggers, err := marshalPatchJSON(p)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE patches SET stage = ?, blocked = ?, block_reason = ?, evidence = ?, rollback_triggers = ?,
			fleet_percent = ?, distributed_at = ?, success_rate = ?, expires_at = ?
		WHERE id = ?`,
		string(p.Stage), boolToInt(p.Blocked), p.BlockReason, evidence, triggers,
		p.FleetPercent, nullableTime(p.DistributedAt), p.SuccessRate, unixNano(p.ExpiresAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update patch: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("patch %s: %w", p.ID, patch.ErrNotFound)
	}

	if err := insertEvent(ctx, tx, p.ID, len(p.AuditLog), ev); err != nil {
		return err
	}

	if row != nil {
		if err := upsertDistribution(ctx, tx, row); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func insertEvent(ctx context.Context, db execer, patchID string, seq int, ev audit.Event) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO patch_events (patch_id, seq, id, action, actor, timestamp, reason, artifact_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		patchID, seq, ev.ID, ev.Action, ev.Actor, unixNano(ev.Timestamp), ev.Reason, ev.ArtifactRef,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event %s: %w", ev.ID, err)
	}
	return nil
}

func loadEvents(ctx context.Context, db execer, patchID string) ([]audit.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, action, actor, timestamp, reason, artifact_ref
		FROM patch_events WHERE patch_id = ? ORDER BY seq`,
		patchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []audit.Event{}
	for rows.Next() {
		var ev audit.Event
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.Actor, &ts, &ev.Reason, &ev.ArtifactRef); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Timestamp = fromUnixNano(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func marshalPatchJSON(p *patch.Patch) (evidence, triggers string, err error) {
	e, err := json.Marshal(p.Evidence)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal evidence: %w", err)
	}
	rt := p.RollbackTriggers
	if rt == nil {
		rt = []patch.RollbackTrigger{}
	}
	t, err := json.Marshal(rt)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal rollback triggers: %w", err)
	}
	return string(e), string(t), nil
}

func scanPatch(row rowScanner) (*patch.Patch, error) {
	var p patch.Patch
	var typ, stage, evidence, triggers string
	var createdAt, expiresAt int64
	var blocked int
	var distributedAt sql.NullInt64

	err := row.Scan(
		&p.ID, &p.ClusterID, &typ, &p.Zone, &p.LocationLabel, &p.Lat, &p.Lng, &p.GeoFenceRadiusM,
		&p.GeometryDelta.Description, &p.GeometryDelta.Magnitude, &stage, &createdAt, &p.TTLDays, &expiresAt,
		&blocked, &p.BlockReason, &evidence, &triggers, &p.FleetPercent, &distributedAt, &p.SuccessRate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan patch: %w", err)
	}

	p.Type = patch.Type(typ)
	p.Stage = patch.Stage(stage)
	p.CreatedAt = fromUnixNano(createdAt)
	p.ExpiresAt = fromUnixNano(expiresAt)
	p.Blocked = blocked != 0
	p.DistributedAt = scanNullableTime(distributedAt)

	if err := json.Unmarshal([]byte(evidence), &p.Evidence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	if err := json.Unmarshal([]byte(triggers), &p.RollbackTriggers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rollback triggers: %w", err)
	}
	if len(p.RollbackTriggers) == 0 {
		p.RollbackTriggers = nil
	}
	return &p, nil
}
