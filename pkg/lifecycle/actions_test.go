package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/authz"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

func TestCreateDraft_FromCluster(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.engine.CreateDraft(ctx, DraftRequest{
		ID:            "SHM-19-0050",
		ClusterID:     "MC-19-0050",
		GeometryDelta: patch.GeometryDelta{Description: "No left turn onto Howard", Magnitude: 1},
	}, authz.RoleAutonomy, "av-1")
	require.NoError(t, err)

	assert.Equal(t, patch.StageCandidate, p.Stage)
	assert.Equal(t, patch.TypeTurnRestriction, p.Type)
	assert.Equal(t, 19, p.Zone)
	assert.Equal(t, 14, p.TTLDays)
	assert.Equal(t, testNow.Add(14*24*time.Hour), p.ExpiresAt)
	assert.Equal(t, 18, p.Evidence.Vehicles)
	assert.Equal(t, DefaultRollbackTriggers(), p.RollbackTriggers)

	require.Len(t, p.AuditLog, 1)
	assert.Equal(t, "SHM-19-0050-e1", p.AuditLog[0].ID)
	assert.Equal(t, audit.ActionCreated, p.AuditLog[0].Action)
	assert.True(t, strings.HasPrefix(p.AuditLog[0].ArtifactRef, "sha256:"))

	c, err := h.repo.GetCluster(ctx, "MC-19-0050")
	require.NoError(t, err)
	assert.Equal(t, patch.ClusterInReview, c.Status)

	_, err = h.repo.GetDistribution(ctx, "SHM-19-0050")
	assert.ErrorIs(t, err, patch.ErrNotFound, "a fresh draft has no distribution row")
}

func TestCreateDraft_GeneratedIDAndSpeedTTL(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.PutCluster(ctx, &patch.MismatchCluster{
		ID: "MC-07-0031", Zone: 7, PatchType: patch.TypeSpeedAdvisory, LastSeen: testNow, Status: patch.ClusterInReview,
	}))

	p, err := h.engine.CreateDraft(ctx, DraftRequest{ClusterID: "MC-07-0031"}, authz.RoleMapping, "mapping-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.ID, "SHM-07-"), "ID = %q", p.ID)
	assert.Equal(t, 7, p.TTLDays)
}

func TestCreateDraft_SensorAgreementReachesSilent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	delta := patch.GeometryDelta{Description: "No left turn onto Howard", Magnitude: 1}

	t.Log("Without an agreement figure the draft stops at the Silent gate")
	_, err := h.engine.CreateDraft(ctx, DraftRequest{ID: "SHM-19-0051", ClusterID: "MC-19-0050", GeometryDelta: delta}, authz.RoleMapping, "mapping-1")
	require.NoError(t, err)
	_, err = h.engine.Promote(ctx, "SHM-19-0051", patch.StageShadow, authz.RoleMapping, "mapping-1")
	require.NoError(t, err)
	_, err = h.engine.Promote(ctx, "SHM-19-0051", patch.StageSilent, authz.RoleSafety, "safety-1")
	require.ErrorIs(t, err, ErrSafetyGateBlocked)
	assert.Equal(t, []string{safety.GateSensorAgreementMet}, FailedGates(err))

	t.Log("With one the same cluster promotes through to Silent")
	p, err := h.engine.CreateDraft(ctx, DraftRequest{
		ID:              "SHM-19-0052",
		ClusterID:       "MC-19-0050",
		GeometryDelta:   delta,
		SensorAgreement: 0.9,
	}, authz.RoleMapping, "mapping-1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, p.Evidence.SensorAgreement)
	assert.Equal(t, 0.9, p.Evidence.Factors.SensorAgreement)
	assert.Equal(t, 18, p.Evidence.Vehicles)

	_, err = h.engine.Promote(ctx, "SHM-19-0052", patch.StageShadow, authz.RoleMapping, "mapping-1")
	require.NoError(t, err)
	p, err = h.engine.Promote(ctx, "SHM-19-0052", patch.StageSilent, authz.RoleSafety, "safety-1")
	require.NoError(t, err)
	assert.Equal(t, patch.StageSilent, p.Stage)

	t.Log("Explicit evidence wins over the agreement figure")
	p, err = h.engine.CreateDraft(ctx, DraftRequest{
		ID:              "SHM-19-0053",
		ClusterID:       "MC-19-0050",
		Evidence:        &patch.Evidence{Vehicles: 2, SensorAgreement: 0.4},
		SensorAgreement: 0.9,
	}, authz.RoleMapping, "mapping-1")
	require.NoError(t, err)
	assert.Equal(t, 0.4, p.Evidence.SensorAgreement)
	assert.Equal(t, 2, p.Evidence.Vehicles)
}

func TestCreateDraft_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.CreateDraft(ctx, DraftRequest{ClusterID: "MC-19-0050"}, authz.RoleFleetOps, "fleet-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.engine.CreateDraft(ctx, DraftRequest{ClusterID: "MC-00-0000"}, authz.RoleMapping, "mapping-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.engine.CreateDraft(ctx, DraftRequest{}, authz.RoleMapping, "mapping-1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, agreement := range []float64{-0.1, 1.5} {
		_, err = h.engine.CreateDraft(ctx, DraftRequest{ClusterID: "MC-19-0050", SensorAgreement: agreement}, authz.RoleMapping, "mapping-1")
		assert.ErrorIs(t, err, ErrInvalidInput, "agreement %.1f", agreement)
	}

	_, err = h.engine.CreateDraft(ctx, DraftRequest{ID: "SHM-19-0042", ClusterID: "MC-19-0050"}, authz.RoleMapping, "mapping-1")
	assert.ErrorIs(t, err, ErrInvalidTransition, "duplicate id")
}

func TestBlockApprove(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := "SHM-19-0042"

	_, err := h.engine.Block(ctx, id, "x", authz.RoleMapping, "mapping-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	p, err := h.engine.Block(ctx, id, "Pending field survey", authz.RoleSafety, "safety-1")
	require.NoError(t, err)
	assert.True(t, p.Blocked)
	assert.Equal(t, "Pending field survey", p.BlockReason)
	assert.Equal(t, patch.StageCandidate, p.Stage, "block never changes stage")
	assert.Equal(t, audit.ActionBlocked, p.AuditLog[len(p.AuditLog)-1].Action)

	_, err = h.engine.Block(ctx, id, "again", authz.RoleAdmin, "admin-1")
	assert.ErrorIs(t, err, ErrInvalidTransition, "already on hold")

	p, err = h.engine.Approve(ctx, id, "Survey done", authz.RoleAdmin, "admin-1")
	require.NoError(t, err)
	assert.False(t, p.Blocked)
	assert.Empty(t, p.BlockReason)
	assert.Equal(t, audit.ActionApproved, p.AuditLog[len(p.AuditLog)-1].Action)
	assert.Len(t, p.AuditLog, 3)

	_, err = h.engine.Rollback(ctx, id, "", authz.RoleAdmin, "admin-1")
	require.NoError(t, err)
	_, err = h.engine.Block(ctx, id, "late", authz.RoleSafety, "safety-1")
	assert.ErrorIs(t, err, ErrInvalidTransition, "terminal patches cannot be held")
	_, err = h.engine.Approve(ctx, id, "late", authz.RoleSafety, "safety-1")
	assert.ErrorIs(t, err, ErrInvalidTransition, "terminal patches cannot be approved")
	assert.Len(t, h.get(t, id).AuditLog, 4, "rejected approve appends nothing")
}

func TestApprove_HeldPatchRolledBackKeepsHold(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := "SHM-07-0023"

	_, err := h.engine.Block(ctx, id, "Re-striping in progress", authz.RoleSafety, "safety-1")
	require.NoError(t, err)
	_, err = h.engine.Rollback(ctx, id, "", authz.RoleSafety, "safety-1")
	require.NoError(t, err, "a hold never prevents rollback")

	_, err = h.engine.Approve(ctx, id, "Cleared", authz.RoleSafety, "safety-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	p := h.get(t, id)
	assert.Equal(t, patch.StageRolledBack, p.Stage)
	assert.True(t, p.Blocked, "hold on a terminal patch is left as recorded")
}

func TestAddSafetyNote(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.AddSafetyNote(ctx, "SHM-19-0042", "  ", authz.RoleSafety, "safety-1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.engine.AddSafetyNote(ctx, "SHM-19-0042", "School zone nearby", authz.RoleAdmin, "admin-1")
	assert.ErrorIs(t, err, ErrUnauthorized, "admin has no create_safety_note")

	p, err := h.engine.AddSafetyNote(ctx, "SHM-19-0042", "School zone nearby", authz.RoleSafety, "safety-1")
	require.NoError(t, err)
	last := p.AuditLog[len(p.AuditLog)-1]
	assert.Equal(t, audit.ActionSafetyNote, last.Action)
	assert.Equal(t, "School zone nearby", last.Reason)
	assert.Empty(t, last.ArtifactRef)
	assert.Contains(t, h.emitter.types(), audit.RecordPatchNote)
}

func TestRequestEvidence(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.RequestEvidence(ctx, "SHM-07-0023", "", authz.RoleMapping, "mapping-1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.engine.RequestEvidence(ctx, "SHM-07-0023", "Need night passes", authz.RoleSafety, "safety-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	p, err := h.engine.RequestEvidence(ctx, "SHM-07-0023", "Need night passes", authz.RoleMapping, "mapping-1")
	require.NoError(t, err)
	assert.Equal(t, audit.ActionEvidenceRequested, p.AuditLog[len(p.AuditLog)-1].Action)
	assert.Equal(t, patch.StageCandidate, p.Stage)
}

func TestUpdateClusterStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	cid := "MC-19-0050"

	tests := []struct {
		name    string
		status  patch.ClusterStatus
		role    authz.Role
		wantErr error
	}{
		{"mapping marks duplicate", patch.ClusterDuplicate, authz.RoleMapping, nil},
		{"autonomy cannot mark duplicate", patch.ClusterDuplicate, authz.RoleAutonomy, ErrUnauthorized},
		{"safety blocks", patch.ClusterBlocked, authz.RoleSafety, nil},
		{"admin readies", patch.ClusterReadyForPromotion, authz.RoleAdmin, nil},
		{"fleet_ops cannot ready", patch.ClusterReadyForPromotion, authz.RoleFleetOps, ErrUnauthorized},
		{"autonomy puts back in review", patch.ClusterInReview, authz.RoleAutonomy, nil},
		{"new is not operator-settable", patch.ClusterNew, authz.RoleAdmin, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := h.engine.UpdateClusterStatus(ctx, cid, tt.status, tt.role, "op")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, c.Status)
		})
	}

	_, err := h.engine.MarkDuplicate(ctx, "MC-00-0000", authz.RoleMapping, "mapping-1")
	assert.ErrorIs(t, err, ErrNotFound)

	p := h.get(t, "SHM-19-0042")
	assert.Equal(t, patch.StageCandidate, p.Stage, "cluster status never moves patches")
}

func TestSetThresholds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	th := safety.DefaultThresholds()
	th.MinVehicles = 5
	th.MinPasses = 10
	th.MinSensorAgreement = 0.7

	err := h.engine.SetThresholds(ctx, th, authz.RoleMapping, "mapping-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	bad := th.Clone()
	bad.MinSensorAgreement = 1.5
	err = h.engine.SetThresholds(ctx, bad, authz.RoleSafety, "safety-1")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 15, h.engine.Thresholds().MinVehicles, "rejected thresholds must not apply")

	require.NoError(t, h.engine.SetThresholds(ctx, th, authz.RoleSafety, "safety-1"))
	assert.Equal(t, 5, h.engine.Thresholds().MinVehicles)
	assert.Contains(t, h.emitter.types(), audit.RecordThresholdsChanged)

	t.Log("the weak patch now clears every gate")
	r, err := h.engine.EvaluateSafetyGates(ctx, "SHM-07-0023")
	require.NoError(t, err)
	assert.True(t, r.Passed(), "failed: %v", r.Failed())
}

func TestSetThresholds_Persists(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.engine.settings = h.repo

	th := safety.DefaultThresholds()
	th.MinPasses = 55
	require.NoError(t, h.engine.SetThresholds(ctx, th, authz.RoleAdmin, "admin-1"))

	stored, ok, err := h.repo.LoadThresholds(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 55, stored.MinPasses)
}

func TestListDistribution_RequiresViewDistribution(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Promote(ctx, "SHM-19-0042", patch.StageShadow, authz.RoleMapping, "mapping-1")
	require.NoError(t, err)

	_, err = h.engine.ListDistribution(ctx, authz.RoleMapping, "mapping-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	rows, err := h.engine.ListDistribution(ctx, authz.RoleFleetOps, "fleet-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SHM-19-0042", rows[0].PatchID)
}

func TestEvaluateSafetyGates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.engine.EvaluateSafetyGates(ctx, "SHM-19-0042")
	require.NoError(t, err)
	assert.True(t, r.Passed())
	assert.Len(t, r.Gates, 6)

	r, err = h.engine.EvaluateSafetyGates(ctx, "SHM-07-0023")
	require.NoError(t, err)
	assert.False(t, r.Passed())

	_, err = h.engine.EvaluateSafetyGates(ctx, "SHM-00-0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKillSwitch_OverlaysWithoutTouchingState(t *testing.T) {
	t.Parallel()
	t.Log("toggling the kill switch changes only effective values; stored patches stay identical")
	h := newHarness(t)
	ctx := context.Background()
	id := "SHM-19-0042"
	activate(t, h, id)

	before := h.get(t, id)
	rowBefore, err := h.repo.GetDistribution(ctx, id)
	require.NoError(t, err)

	require.NoError(t, h.engine.SetZoneKillSwitch(ctx, 19, true, authz.RoleAdmin, "admin-1"))

	stage, err := h.engine.EffectiveStage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, patch.StageRolledBack, stage)
	pct, err := h.engine.EffectiveFleetPercent(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, pct)

	other, err := h.engine.EffectiveStage(ctx, "SHM-07-0023")
	require.NoError(t, err)
	assert.Equal(t, patch.StageCandidate, other, "zone 7 is not overridden")

	require.NoError(t, h.engine.SetZoneKillSwitch(ctx, 19, false, authz.RoleAdmin, "admin-1"))
	require.NoError(t, h.engine.SetGlobalKillSwitch(ctx, false, authz.RoleAdmin, "admin-1"))
	other, err = h.engine.EffectiveStage(ctx, "SHM-07-0023")
	require.NoError(t, err)
	assert.Equal(t, patch.StageRolledBack, other, "global disable covers every zone")

	require.NoError(t, h.engine.SetGlobalKillSwitch(ctx, true, authz.RoleAdmin, "admin-1"))
	stage, err = h.engine.EffectiveStage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, patch.StageActive, stage)
	pct, err = h.engine.EffectiveFleetPercent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100, pct)

	assert.Equal(t, before, h.get(t, id), "kill switch mutated the stored patch")
	rowAfter, err := h.repo.GetDistribution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rowBefore, rowAfter, "kill switch mutated the distribution row")

	types := h.emitter.types()
	assert.Contains(t, types, audit.RecordKillSwitchZone)
	assert.Contains(t, types, audit.RecordKillSwitchGlobal)
}

func TestKillSwitch_AdminOnlyAndKnownZones(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	for _, role := range []authz.Role{authz.RoleMapping, authz.RoleAutonomy, authz.RoleSafety, authz.RoleFleetOps} {
		err := h.engine.SetGlobalKillSwitch(ctx, false, role, "op")
		assert.ErrorIs(t, err, ErrUnauthorized, "role %s", role)
		err = h.engine.SetZoneKillSwitch(ctx, 19, true, role, "op")
		assert.ErrorIs(t, err, ErrUnauthorized, "role %s", role)
	}
	assert.True(t, h.engine.KillSwitch().GlobalEnabled())
	assert.Equal(t, 8.0, testutil.ToFloat64(h.engine.Metrics().DenialsTotal.WithLabelValues("kill_switch")))

	err := h.engine.SetZoneKillSwitch(ctx, 404, true, authz.RoleAdmin, "admin-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, h.engine.KillSwitch().ZoneDisabled(404))
}

func TestReads(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	ps, err := h.engine.ListPatches(ctx, patch.Filter{})
	require.NoError(t, err)
	assert.Len(t, ps, 2)

	ps, err = h.engine.ListPatches(ctx, patch.Filter{Zone: 7})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "SHM-07-0023", ps[0].ID)

	_, err = h.engine.Patch(ctx, "SHM-00-0000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.engine.Distribution(ctx, "SHM-19-0042")
	assert.ErrorIs(t, err, ErrNotFound, "Candidate has no row yet")

	zs, err := h.engine.Zones(ctx)
	require.NoError(t, err)
	assert.Len(t, zs, 2)

	cs, err := h.engine.Clusters(ctx)
	require.NoError(t, err)
	assert.Len(t, cs, 1)
}
