package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/authz"
	"github.com/gobeyondidentity/shm/pkg/killswitch"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

// Patch returns a copy of the stored patch.
func (e *Engine) Patch(ctx context.Context, id string) (*patch.Patch, error) {
	return e.load(ctx, id)
}

// ListPatches returns the patches matching f, ordered by id.
func (e *Engine) ListPatches(ctx context.Context, f patch.Filter) ([]*patch.Patch, error) {
	ps, err := e.repo.ListPatches(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	return ps, nil
}

// AuditLog returns a copy of the patch's audit trail in append order.
func (e *Engine) AuditLog(ctx context.Context, id string) ([]audit.Event, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return audit.Copy(p.AuditLog), nil
}

// Distribution returns the patch's distribution row. A patch that has never
// left Candidate has none and yields ErrNotFound.
func (e *Engine) Distribution(ctx context.Context, id string) (*patch.DistributionRow, error) {
	row, err := e.repo.GetDistribution(ctx, id)
	if errors.Is(err, patch.ErrNotFound) {
		return nil, notFound("distribution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get distribution %s: %w", id, err)
	}
	return row, nil
}

// ListDistribution returns every distribution row. Requires
// view_distribution.
func (e *Engine) ListDistribution(ctx context.Context, role authz.Role, actor string) ([]*patch.DistributionRow, error) {
	ctx, _ = authz.EnsureRequestID(ctx)
	if err := e.authorize(ctx, role, actor, authz.ActionViewDistribution,
		authz.Resource{Type: authz.EntityFleet, ID: "distribution"}); err != nil {
		return nil, err
	}
	rows, err := e.repo.ListDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("list distribution: %w", err)
	}
	return rows, nil
}

// EvaluateSafetyGates runs the checklist against the stored patch with the
// current thresholds. Nothing is persisted.
func (e *Engine) EvaluateSafetyGates(ctx context.Context, id string) (safety.Report, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return safety.Report{}, err
	}
	return safety.Evaluate(p, e.Thresholds()), nil
}

// EffectiveStage is the stage vehicles should act on: RolledBack while the
// kill switch covers the patch's zone, the stored stage otherwise.
func (e *Engine) EffectiveStage(ctx context.Context, id string) (patch.Stage, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return "", err
	}
	if e.kill.Overridden(p.Zone) {
		return patch.StageRolledBack, nil
	}
	return p.Stage, nil
}

// EffectiveFleetPercent is the patch's fleet share with the kill switch
// applied.
func (e *Engine) EffectiveFleetPercent(ctx context.Context, id string) (int, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if e.kill.Overridden(p.Zone) {
		return 0, nil
	}
	return p.FleetPercent, nil
}

// SetGlobalKillSwitch enables or disables the whole system. Patches, trails
// and distribution rows are untouched.
func (e *Engine) SetGlobalKillSwitch(ctx context.Context, enabled bool, role authz.Role, actor string) error {
	ctx, _ = authz.EnsureRequestID(ctx)
	err := e.kill.SetGlobal(ctx, enabled, role, actor)
	return e.killSwitchError(err, "global")
}

// SetZoneKillSwitch disables or re-enables a single zone.
func (e *Engine) SetZoneKillSwitch(ctx context.Context, zone int, disabled bool, role authz.Role, actor string) error {
	ctx, _ = authz.EnsureRequestID(ctx)
	err := e.kill.SetZone(ctx, zone, disabled, role, actor)
	return e.killSwitchError(err, strconv.Itoa(zone))
}

func (e *Engine) killSwitchError(err error, target string) error {
	switch {
	case err == nil:
		return nil
	case authz.IsForbidden(err):
		e.metrics.DenialsTotal.WithLabelValues(authz.ActionKillSwitch.String()).Inc()
		return newError(ErrCodeUnauthorized, "not permitted to operate the kill switch")
	case errors.Is(err, killswitch.ErrUnknownZone):
		return notFound("zone", target)
	default:
		return fmt.Errorf("kill switch %s: %w", target, err)
	}
}

// Zones returns the zone summaries.
func (e *Engine) Zones(ctx context.Context) ([]*patch.Zone, error) {
	zs, err := e.repo.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	return zs, nil
}

// Clusters returns the mismatch clusters.
func (e *Engine) Clusters(ctx context.Context) ([]*patch.MismatchCluster, error) {
	cs, err := e.repo.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	return cs, nil
}
