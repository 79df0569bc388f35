// Package distribution derives a patch's fleet-distribution record from its
// lifecycle stage.
package distribution

import (
	"time"

	"github.com/gobeyondidentity/shm/pkg/patch"
)

// Policy maps each stage to the share of the fleet that receives the patch.
// Only Silent and Active reach vehicles.
var Policy = map[patch.Stage]int{
	patch.StageCandidate:  0,
	patch.StageShadow:     0,
	patch.StageSilent:     10,
	patch.StageActive:     100,
	patch.StageRolledBack: 0,
	patch.StageExpired:    0,
}

// FleetPercent returns the policy percentage for s. Unknown stages get 0.
func FleetPercent(s patch.Stage) int {
	return Policy[s]
}

// Defaults are the rollout metrics recorded while a patch is live. Real
// telemetry ingestion is outside this system.
type Defaults struct {
	SuccessRate  float64 `yaml:"success_rate" json:"success_rate" validate:"gte=0,lte=100"`
	AvgLatencyMS int     `yaml:"avg_latency_ms" json:"avg_latency_ms" validate:"gte=0"`
}

// DefaultDefaults returns the standard live rollout metrics.
func DefaultDefaults() Defaults {
	return Defaults{SuccessRate: 99.9, AvgLatencyMS: 280}
}

// Tracker recomputes distribution rows.
type Tracker struct {
	defaults Defaults
}

// NewTracker creates a tracker using d for live rollout metrics.
func NewTracker(d Defaults) *Tracker {
	return &Tracker{defaults: d}
}

// Recompute returns the row that reflects p's current stage. prev is the
// existing row, or nil if none exists yet; it is never modified.
//
// Recompute returns nil while a patch that has never left Candidate has no
// row. The first promotion past Candidate creates the row targeting the
// patch's zone. Rollback and expiry keep the row's history but force the
// fleet share to zero.
func (t *Tracker) Recompute(prev *patch.DistributionRow, p *patch.Patch, now time.Time) *patch.DistributionRow {
	if prev == nil && p.Stage == patch.StageCandidate {
		return nil
	}

	row := prev.Clone()
	if row == nil {
		row = &patch.DistributionRow{
			PatchID:     p.ID,
			TargetZones: []int{p.Zone},
		}
	}

	row.Stage = p.Stage
	row.FleetPercent = FleetPercent(p.Stage)

	switch p.Stage {
	case patch.StageSilent, patch.StageActive:
		at := now
		row.DistributedAt = &at
		row.SuccessRate = t.defaults.SuccessRate
		row.AvgLatencyMS = t.defaults.AvgLatencyMS
	case patch.StageShadow:
		row.DistributedAt = nil
		row.SuccessRate = 0
		row.AvgLatencyMS = 0
	}
	return row
}

// Apply copies the derived distribution fields of row onto p. A nil row
// leaves p with no distribution.
func Apply(p *patch.Patch, row *patch.DistributionRow) {
	if row == nil {
		p.FleetPercent = 0
		p.DistributedAt = nil
		p.SuccessRate = 0
		return
	}
	p.FleetPercent = row.FleetPercent
	p.SuccessRate = row.SuccessRate
	p.DistributedAt = nil
	if row.DistributedAt != nil {
		at := *row.DistributedAt
		p.DistributedAt = &at
	}
}
