// Package fixture seeds a repository with a small demonstration dataset:
// three zones, eight mismatch clusters and four patches at different stages.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/distribution"
	"github.com/gobeyondidentity/shm/pkg/lifecycle"
	"github.com/gobeyondidentity/shm/pkg/patch"
)

// Target is the subset of lifecycle.Repository the seeder writes through.
type Target interface {
	PutZone(ctx context.Context, z *patch.Zone) error
	PutCluster(ctx context.Context, c *patch.MismatchCluster) error
	CreatePatch(ctx context.Context, p *patch.Patch) error
	CommitPatch(ctx context.Context, p *patch.Patch, row *patch.DistributionRow, ev audit.Event) error
}

// Summary counts what Seed wrote. Patches that already existed are skipped.
type Summary struct {
	Zones    int `json:"zones" yaml:"zones"`
	Clusters int `json:"clusters" yaml:"clusters"`
	Patches  int `json:"patches" yaml:"patches"`
	Skipped  int `json:"skipped" yaml:"skipped"`
}

const day = 24 * time.Hour

// Seed writes the dataset with every timestamp expressed relative to now,
// so seeded patches are not already past their TTL. Zones and clusters are
// overwritten; existing patches are left untouched.
//
// Patches past Candidate are replayed through CommitPatch one event at a
// time, so their distribution rows and audit trails are exactly what the
// lifecycle engine would have produced.
func Seed(ctx context.Context, t Target, now time.Time) (Summary, error) {
	var sum Summary
	now = now.UTC().Truncate(time.Second)

	for _, z := range Zones(now) {
		if err := t.PutZone(ctx, z); err != nil {
			return sum, fmt.Errorf("seed zone %d: %w", z.ID, err)
		}
		sum.Zones++
	}
	for _, c := range Clusters(now) {
		if err := t.PutCluster(ctx, c); err != nil {
			return sum, fmt.Errorf("seed cluster %s: %w", c.ID, err)
		}
		sum.Clusters++
	}

	tracker := distribution.NewTracker(distribution.Defaults{SuccessRate: 99.8, AvgLatencyMS: 340})
	for _, sp := range patches(now) {
		err := replay(ctx, t, tracker, sp)
		if errors.Is(err, patch.ErrExists) {
			sum.Skipped++
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("seed patch %s: %w", sp.p.ID, err)
		}
		sum.Patches++
	}
	return sum, nil
}

// history is one stage change applied after creation.
type history struct {
	to     patch.Stage
	actor  string
	reason string
	at     time.Time
}

type seedPatch struct {
	p       *patch.Patch // in Candidate, trail empty
	creator string
	steps   []history
}

func replay(ctx context.Context, t Target, tracker *distribution.Tracker, sp seedPatch) error {
	p := sp.p
	ref, err := lifecycle.ArtifactRef(p)
	if err != nil {
		return err
	}
	p.AuditLog = []audit.Event{{
		ID:          audit.NextID(p.ID, nil),
		Action:      audit.ActionCreated,
		Actor:       sp.creator,
		Timestamp:   p.CreatedAt,
		Reason:      "Auto-generated from cluster detection",
		ArtifactRef: ref,
	}}
	if err := t.CreatePatch(ctx, p); err != nil {
		return err
	}

	var row *patch.DistributionRow
	for _, h := range sp.steps {
		p.Stage = h.to
		row = tracker.Recompute(row, p, h.at)
		distribution.Apply(p, row)

		ref, err := lifecycle.ArtifactRef(p)
		if err != nil {
			return err
		}
		ev := audit.Event{
			ID:          audit.NextID(p.ID, p.AuditLog),
			Action:      audit.PromotedAction(string(h.to)),
			Actor:       h.actor,
			Timestamp:   h.at,
			Reason:      h.reason,
			ArtifactRef: ref,
		}
		if p.AuditLog, err = audit.Append(p.ID, p.AuditLog, ev); err != nil {
			return err
		}
		if err := t.CommitPatch(ctx, p, row, ev); err != nil {
			return err
		}
	}
	return nil
}

// Zones returns the demo operating zones.
func Zones(now time.Time) []*patch.Zone {
	ago := func(days int) *time.Time {
		t := now.Add(-time.Duration(days) * day)
		return &t
	}
	return []*patch.Zone{
		{ID: 12, Name: "Zone 12 - Downtown Core", MismatchVolume: 142, ActivePatchCount: 8, CurrentTTM: 52, LastRollback: ago(14)},
		{ID: 7, Name: "Zone 7 - Highway Corridor", MismatchVolume: 67, ActivePatchCount: 3, CurrentTTM: 38, LastRollback: ago(27)},
		{ID: 19, Name: "Zone 19 - Airport Loop", MismatchVolume: 89, ActivePatchCount: 5, CurrentTTM: 44, LastRollback: ago(9)},
	}
}

// Clusters returns the demo mismatch clusters, newest first.
func Clusters(now time.Time) []*patch.MismatchCluster {
	seen := func(hours int) time.Time { return now.Add(-time.Duration(hours) * time.Hour) }
	return []*patch.MismatchCluster{
		{ID: "CL-19-0042", Zone: 19, Lat: 33.9425, Lng: -118.4081, LocationLabel: "Airport Loop - Terminal 4 Merge", PatchType: patch.TypeLaneGeometry, Confidence: 87, Vehicles: 10, Passes: 40, TimeSpreadDays: 3, SuggestedStage: patch.StageShadow, LastSeen: seen(20), Status: patch.ClusterReadyForPromotion},
		{ID: "CL-12-0108", Zone: 12, Lat: 34.0522, Lng: -118.2437, LocationLabel: "Main St & 5th Ave - Construction", PatchType: patch.TypeLaneGeometry, Confidence: 42, Vehicles: 6, Passes: 14, TimeSpreadDays: 1, SuggestedStage: patch.StageCandidate, LastSeen: seen(3), Status: patch.ClusterNew, NeedsReview: true},
		{ID: "CL-12-0109", Zone: 12, Lat: 34.0530, Lng: -118.2450, LocationLabel: "Main St & 7th Ave - Construction", PatchType: patch.TypeSpeedAdvisory, Confidence: 38, Vehicles: 4, Passes: 10, TimeSpreadDays: 1, SuggestedStage: patch.StageCandidate, LastSeen: seen(2), Status: patch.ClusterNew, NeedsReview: true},
		{ID: "CL-12-0110", Zone: 12, Lat: 34.0518, Lng: -118.2460, LocationLabel: "Broadway & 6th - Lane Closure", PatchType: patch.TypeLaneGeometry, Confidence: 55, Vehicles: 8, Passes: 22, TimeSpreadDays: 2, SuggestedStage: patch.StageShadow, LastSeen: seen(14), Status: patch.ClusterInReview},
		{ID: "CL-07-0023", Zone: 7, Lat: 34.1000, Lng: -118.3000, LocationLabel: "Hwy 101 Exit 12B - Re-striping", PatchType: patch.TypeLaneGeometry, Confidence: 72, Vehicles: 12, Passes: 35, TimeSpreadDays: 4, SuggestedStage: patch.StageShadow, LastSeen: seen(42), Status: patch.ClusterInReview},
		{ID: "CL-07-0024", Zone: 7, Lat: 34.1020, Lng: -118.3050, LocationLabel: "Hwy 101 Exit 13 - Lane Shift", PatchType: patch.TypeLaneGeometry, Confidence: 68, Vehicles: 9, Passes: 28, TimeSpreadDays: 3, SuggestedStage: patch.StageShadow, LastSeen: seen(30), Status: patch.ClusterNew, NeedsReview: true},
		{ID: "CL-19-0043", Zone: 19, Lat: 33.9430, Lng: -118.4090, LocationLabel: "Airport Loop - Departures Curve", PatchType: patch.TypeTurnRestriction, Confidence: 91, Vehicles: 15, Passes: 52, TimeSpreadDays: 5, SuggestedStage: patch.StageSilent, LastSeen: seen(1), Status: patch.ClusterReadyForPromotion},
		{ID: "CL-12-0111", Zone: 12, Lat: 34.0540, Lng: -118.2480, LocationLabel: "Spring St Detour", PatchType: patch.TypeSpeedAdvisory, Confidence: 30, Vehicles: 3, Passes: 7, TimeSpreadDays: 1, SuggestedStage: patch.StageCandidate, LastSeen: seen(2), Status: patch.ClusterBlocked, NeedsReview: true},
	}
}

func patches(now time.Time) []seedPatch {
	created := func(days int) time.Time { return now.Add(-time.Duration(days) * day) }
	expiry := func(c time.Time, ttl int) time.Time { return c.Add(time.Duration(ttl) * day) }

	c42 := created(4)
	c23 := created(6)
	c43 := created(7)
	c108 := created(1)

	return []seedPatch{
		{
			p: &patch.Patch{
				ID:            "SHM-19-0042", ClusterID: "CL-19-0042", Type: patch.TypeLaneGeometry, Zone: 19,
				LocationLabel: "Airport Loop - Terminal 4 Merge", Lat: 33.9425, Lng: -118.4081, GeoFenceRadiusM: 150,
				GeometryDelta: patch.GeometryDelta{Description: "Lane boundary shift ~1.2m westward", Magnitude: 1.2},
				Stage:         patch.StageCandidate, CreatedAt: c42, TTLDays: 14, ExpiresAt: expiry(c42, 14),
				Evidence: evidence(10, 40, 3, 0.92, 87, patch.ConfidenceFactors{
					SensorAgreement: 0.92, RouteDiversity: 0.85, TimeDiversity: 0.88, Recency: 0.95, LocalizationResidualTrend: 0.78,
				}, c42),
				RollbackTriggers: lifecycle.DefaultRollbackTriggers(),
			},
			creator: audit.SystemActor,
			steps: []history{
				{to: patch.StageShadow, actor: "alice@atlas.dev", reason: "Evidence threshold met", at: c42.Add(26 * time.Hour)},
			},
		},
		{
			p: &patch.Patch{
				ID:            "SHM-07-0023", ClusterID: "CL-07-0023", Type: patch.TypeLaneGeometry, Zone: 7,
				LocationLabel: "Hwy 101 Exit 12B - Re-striping", Lat: 34.1000, Lng: -118.3000, GeoFenceRadiusM: 200,
				GeometryDelta: patch.GeometryDelta{Description: "Lane re-striping ~0.8m offset", Magnitude: 0.8},
				Stage:         patch.StageCandidate, CreatedAt: c23, TTLDays: 14, ExpiresAt: expiry(c23, 14),
				Evidence: evidence(12, 35, 4, 0.86, 72, patch.ConfidenceFactors{
					SensorAgreement: 0.86, RouteDiversity: 0.72, TimeDiversity: 0.80, Recency: 0.88, LocalizationResidualTrend: 0.65,
				}, c23),
			},
			creator: audit.SystemActor,
		},
		{
			p: &patch.Patch{
				ID:            "SHM-19-0043", ClusterID: "CL-19-0043", Type: patch.TypeTurnRestriction, Zone: 19,
				LocationLabel: "Airport Loop - Departures Curve", Lat: 33.9430, Lng: -118.4090, GeoFenceRadiusM: 100,
				GeometryDelta: patch.GeometryDelta{Description: "Turn restriction added - no left turn", Magnitude: 1.0},
				Stage:         patch.StageCandidate, CreatedAt: c43, TTLDays: 14, ExpiresAt: expiry(c43, 14),
				Evidence: evidence(15, 52, 5, 0.95, 91, patch.ConfidenceFactors{
					SensorAgreement: 0.95, RouteDiversity: 0.90, TimeDiversity: 0.92, Recency: 0.97, LocalizationResidualTrend: 0.88,
				}, c43),
				RollbackTriggers: lifecycle.DefaultRollbackTriggers(),
			},
			creator: audit.SystemActor,
			steps: []history{
				{to: patch.StageShadow, actor: "alice@atlas.dev", reason: "Evidence threshold met", at: c43.Add(26 * time.Hour)},
				{to: patch.StageSilent, actor: "bob@atlas.dev", reason: "Shadow validation passed", at: c43.Add(54 * time.Hour)},
			},
		},
		{
			p: &patch.Patch{
				ID:            "SHM-12-0108", ClusterID: "CL-12-0108", Type: patch.TypeLaneGeometry, Zone: 12,
				LocationLabel: "Main St & 5th Ave - Construction", Lat: 34.0522, Lng: -118.2437, GeoFenceRadiusM: 120,
				GeometryDelta: patch.GeometryDelta{Description: "Lane shift ~2.1m (construction zone)", Magnitude: 2.1},
				Stage:         patch.StageCandidate, CreatedAt: c108, TTLDays: 14, ExpiresAt: expiry(c108, 14),
				Evidence: evidence(6, 14, 1, 0.68, 42, patch.ConfidenceFactors{
					SensorAgreement: 0.68, RouteDiversity: 0.45, TimeDiversity: 0.35, Recency: 0.90, LocalizationResidualTrend: 0.55,
				}, c108),
			},
			creator: audit.SystemActor,
		},
	}
}

// evidence builds a summary with up to eight deterministic observations
// spread over the days before created.
func evidence(vehicles, passes, spread int, agreement float64, confidence int, f patch.ConfidenceFactors, created time.Time) patch.Evidence {
	n := passes
	if n > 8 {
		n = 8
	}
	items := make([]patch.EvidenceItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, patch.EvidenceItem{
			VehicleID:         fmt.Sprintf("AV-%03d", 100+i%vehicles),
			PassID:            fmt.Sprintf("PASS-%d", 1000+i),
			Timestamp:         created.Add(-time.Duration(spread)*day + time.Duration(i*3)*time.Hour),
			SensorAgreement:   0.82 + float64(i%4)*0.04,
			ResidualMagnitude: 0.3 + float64(i%5)*0.3,
		})
	}
	return patch.Evidence{
		Vehicles:        vehicles,
		Passes:          passes,
		TimeSpreadDays:  spread,
		SensorAgreement: agreement,
		Confidence:      confidence,
		Factors:         f,
		Items:           items,
	}
}
