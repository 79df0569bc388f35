package patch

import (
	"fmt"
	"time"
)

// ClusterStatus is the operator-set review state of a mismatch cluster.
// It never drives patch transitions on its own.
type ClusterStatus string

const (
	ClusterNew               ClusterStatus = "new"
	ClusterInReview          ClusterStatus = "in_review"
	ClusterReadyForPromotion ClusterStatus = "ready_for_promotion"
	ClusterBlocked           ClusterStatus = "blocked"
	ClusterDuplicate         ClusterStatus = "duplicate"
)

// ParseClusterStatus returns the status for s or an error for unknown values.
func ParseClusterStatus(s string) (ClusterStatus, error) {
	switch ClusterStatus(s) {
	case ClusterNew, ClusterInReview, ClusterReadyForPromotion, ClusterBlocked, ClusterDuplicate:
		return ClusterStatus(s), nil
	}
	return "", fmt.Errorf("unknown cluster status %q", s)
}

// MismatchCluster is a detected anomaly a patch may originate from.
type MismatchCluster struct {
	ID             string        `json:"id" yaml:"id"`
	Zone           int           `json:"zone" yaml:"zone"`
	Lat            float64       `json:"lat" yaml:"lat"`
	Lng            float64       `json:"lng" yaml:"lng"`
	LocationLabel  string        `json:"location_label" yaml:"location_label"`
	PatchType      Type          `json:"patch_type" yaml:"patch_type"`
	Confidence     int           `json:"confidence" yaml:"confidence"`
	Vehicles       int           `json:"vehicles" yaml:"vehicles"`
	Passes         int           `json:"passes" yaml:"passes"`
	TimeSpreadDays int           `json:"time_spread_days" yaml:"time_spread_days"`
	SuggestedStage Stage         `json:"suggested_stage" yaml:"suggested_stage"`
	LastSeen       time.Time     `json:"last_seen" yaml:"last_seen"`
	Status         ClusterStatus `json:"status" yaml:"status"`
	NeedsReview    bool          `json:"needs_review" yaml:"needs_review"`
}

// Zone is a geographic operating region. Its counters are summaries owned
// elsewhere and are only read here.
type Zone struct {
	ID               int        `json:"id" yaml:"id"`
	Name             string     `json:"name" yaml:"name"`
	MismatchVolume   int        `json:"mismatch_volume" yaml:"mismatch_volume"`
	ActivePatchCount int        `json:"active_patch_count" yaml:"active_patch_count"`
	CurrentTTM       int        `json:"current_ttm" yaml:"current_ttm"`
	LastRollback     *time.Time `json:"last_rollback,omitempty" yaml:"last_rollback,omitempty"`
}

// DistributionRow is the fleet-distribution record of a patch. One row exists
// per patch once it has left Candidate; rows are never deleted.
type DistributionRow struct {
	PatchID       string     `json:"patch_id" yaml:"patch_id"`
	Stage         Stage      `json:"stage" yaml:"stage"`
	TargetZones   []int      `json:"target_zones" yaml:"target_zones"`
	FleetPercent  int        `json:"fleet_percent" yaml:"fleet_percent"`
	DistributedAt *time.Time `json:"distributed_at,omitempty" yaml:"distributed_at,omitempty"`
	SuccessRate   float64    `json:"success_rate" yaml:"success_rate"`
	AvgLatencyMS  int        `json:"avg_latency_ms" yaml:"avg_latency_ms"`
}

// Clone returns a deep copy of r.
func (r *DistributionRow) Clone() *DistributionRow {
	if r == nil {
		return nil
	}
	c := *r
	c.TargetZones = append([]int(nil), r.TargetZones...)
	if r.DistributedAt != nil {
		t := *r.DistributedAt
		c.DistributedAt = &t
	}
	return &c
}
