package lifecycle

import (
	"context"
	"errors"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

// Repository is the persistent storage the engine reads from and commits to.
// Lookups of missing records return an error wrapping patch.ErrNotFound;
// creating a duplicate returns one wrapping patch.ErrExists.
type Repository interface {
	GetPatch(ctx context.Context, id string) (*patch.Patch, error)
	ListPatches(ctx context.Context, f patch.Filter) ([]*patch.Patch, error)

	// CreatePatch stores a new patch together with its initial audit trail.
	CreatePatch(ctx context.Context, p *patch.Patch) error

	// CommitPatch atomically stores p, the audit event ev (already present
	// as the last entry of p.AuditLog) and, when row is non-nil, the patch's
	// distribution row. Either all three are written or none is.
	CommitPatch(ctx context.Context, p *patch.Patch, row *patch.DistributionRow, ev audit.Event) error

	GetDistribution(ctx context.Context, patchID string) (*patch.DistributionRow, error)
	ListDistribution(ctx context.Context) ([]*patch.DistributionRow, error)

	GetZone(ctx context.Context, id int) (*patch.Zone, error)
	ListZones(ctx context.Context) ([]*patch.Zone, error)
	PutZone(ctx context.Context, z *patch.Zone) error

	GetCluster(ctx context.Context, id string) (*patch.MismatchCluster, error)
	ListClusters(ctx context.Context) ([]*patch.MismatchCluster, error)
	PutCluster(ctx context.Context, c *patch.MismatchCluster) error
	UpdateClusterStatus(ctx context.Context, id string, status patch.ClusterStatus) error
}

// SettingsStore persists operator-changed thresholds. Optional.
type SettingsStore interface {
	SaveThresholds(ctx context.Context, th safety.Thresholds) error
	LoadThresholds(ctx context.Context) (safety.Thresholds, bool, error)
}

// repoZones adapts a Repository to killswitch.ZoneRegistry.
type repoZones struct {
	repo Repository
}

func (z repoZones) HasZone(ctx context.Context, id int) (bool, error) {
	_, err := z.repo.GetZone(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, patch.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
