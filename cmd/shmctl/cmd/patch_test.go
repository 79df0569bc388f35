package cmd

import (
	"errors"
	"testing"

	"github.com/gobeyondidentity/shm/pkg/clierror"
	"github.com/gobeyondidentity/shm/pkg/patch"
)

func TestSeed_ThenList(t *testing.T) {
	e := newEnv(t)

	t.Log("Seeding an empty database")
	result := e.run("seed")
	result.AssertSuccess(t)
	result.AssertContains(t, "Seeded 3 zones, 8 clusters, 4 patches")

	t.Log("Seeding again skips existing patches")
	result = e.run("seed")
	result.AssertSuccess(t)
	result.AssertContains(t, "4 already present")

	result = e.run("patch", "list")
	result.AssertSuccess(t)
	for _, id := range []string{"SHM-19-0042", "SHM-07-0023", "SHM-19-0043", "SHM-12-0108"} {
		result.AssertContains(t, id)
	}

	var views []patchView
	e.run("-o", "json", "patch", "list", "--zone", "19").DecodeJSON(t, &views)
	if len(views) != 2 {
		t.Fatalf("expected 2 patches in zone 19, got %d", len(views))
	}
}

func TestPatchList_Empty(t *testing.T) {
	e := newEnv(t)

	result := e.run("patch", "list")
	result.AssertSuccess(t)
	result.AssertContains(t, "No patches found")

	result = e.run("-o", "json", "patch", "list")
	result.AssertSuccess(t)
	result.AssertContains(t, "[]")
}

func TestPatchList_StageFilter(t *testing.T) {
	e := seeded(t)

	var views []patchView
	e.run("-o", "json", "patch", "list", "--stage", "candidate").DecodeJSON(t, &views)
	if len(views) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(views))
	}
	for _, v := range views {
		if v.Stage != patch.StageCandidate {
			t.Errorf("%s has stage %s", v.ID, v.Stage)
		}
	}

	e.run("patch", "list", "--stage", "orbit").AssertExitCode(t, clierror.ExitInput)
}

func TestPatchShow(t *testing.T) {
	e := seeded(t)

	result := e.run("patch", "show", "SHM-19-0043")
	result.AssertSuccess(t)
	result.AssertContains(t, "Silent")
	result.AssertContains(t, "10%")

	var v patchView
	e.run("-o", "json", "patch", "show", "SHM-19-0043").DecodeJSON(t, &v)
	if v.Stage != patch.StageSilent || v.FleetPercent != 10 {
		t.Errorf("unexpected patch: stage=%s fleet=%d", v.Stage, v.FleetPercent)
	}
	if v.EffectiveStage != patch.StageSilent {
		t.Errorf("effective stage = %s", v.EffectiveStage)
	}
	if len(v.AuditLog) != 3 {
		t.Errorf("expected 3 audit events, got %d", len(v.AuditLog))
	}
}

func TestPatchShow_NotFound(t *testing.T) {
	e := seeded(t)
	e.run("patch", "show", "SHM-00-0000").AssertExitCode(t, clierror.ExitNotFound)
}

func TestPromote_MappingToShadow(t *testing.T) {
	e := seeded(t)

	result := e.run("--role", "mapping", "--actor", "alice", "patch", "promote", "SHM-07-0023", "shadow")
	result.AssertSuccess(t)
	result.AssertContains(t, "SHM-07-0023 promoted to Shadow (0% of fleet)")
	result.AssertContains(t, "SHM-07-0023-e2")

	result = e.run("audit", "SHM-07-0023")
	result.AssertSuccess(t)
	result.AssertContains(t, "promoted_to_shadow")
	result.AssertContains(t, "alice")
}

func TestPromote_SafetyToActive(t *testing.T) {
	e := seeded(t)

	result := e.run("--role", "safety", "patch", "promote", "SHM-19-0043", "Active")
	result.AssertSuccess(t)
	result.AssertContains(t, "(100% of fleet)")
}

func TestPromote_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"autonomy cannot promote silent", []string{"--role", "autonomy", "patch", "promote", "SHM-19-0042", "silent"}, clierror.ExitAuth},
		{"skipping a stage", []string{"--role", "admin", "patch", "promote", "SHM-19-0042", "active"}, clierror.ExitConflict},
		{"gates fail", []string{"--role", "safety", "patch", "promote", "SHM-19-0042", "silent"}, clierror.ExitGate},
		{"unknown patch", []string{"--role", "admin", "patch", "promote", "SHM-99-9999", "shadow"}, clierror.ExitNotFound},
		{"unknown stage", []string{"--role", "admin", "patch", "promote", "SHM-19-0042", "orbit"}, clierror.ExitInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := seeded(t)
			e.run(tt.args...).AssertExitCode(t, tt.want)
		})
	}
}

func TestPromote_GateBlockedListsFailedGates(t *testing.T) {
	e := seeded(t)

	result := e.run("--role", "safety", "patch", "promote", "SHM-19-0042", "silent")
	result.AssertError(t)

	ce := clierror.FromError(result.Err)
	if len(ce.FailedGates) == 0 {
		t.Fatal("expected failed gates on the error")
	}
	found := false
	for _, g := range ce.FailedGates {
		if g == "evidence_thresholds_met" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected evidence_thresholds_met among %v", ce.FailedGates)
	}

	t.Log("The rejected promotion left no trace")
	var v patchView
	e.run("-o", "json", "patch", "show", "SHM-19-0042").DecodeJSON(t, &v)
	if v.Stage != patch.StageShadow || len(v.AuditLog) != 2 {
		t.Errorf("patch changed: stage=%s events=%d", v.Stage, len(v.AuditLog))
	}
}

func TestRollback(t *testing.T) {
	e := seeded(t)

	t.Log("Autonomy may not roll back")
	e.run("--role", "autonomy", "patch", "rollback", "SHM-19-0043").AssertExitCode(t, clierror.ExitAuth)

	t.Log("Fleet ops rolls back with a reason")
	result := e.run("--role", "fleet_ops", "patch", "rollback", "SHM-19-0043", "--reason", "Planner divergence")
	result.AssertSuccess(t)
	result.AssertContains(t, "rolled back: Planner divergence")

	var v patchView
	e.run("-o", "json", "patch", "show", "SHM-19-0043").DecodeJSON(t, &v)
	if v.Stage != patch.StageRolledBack || v.FleetPercent != 0 {
		t.Errorf("stage=%s fleet=%d", v.Stage, v.FleetPercent)
	}

	t.Log("A second rollback is an invalid transition")
	e.run("--role", "fleet_ops", "patch", "rollback", "SHM-19-0043").AssertExitCode(t, clierror.ExitConflict)
}

func TestRollback_DefaultReason(t *testing.T) {
	e := seeded(t)
	result := e.run("--role", "safety", "patch", "rollback", "SHM-19-0042")
	result.AssertSuccess(t)
	result.AssertContains(t, "Manual rollback")
}

func TestBlockApprove(t *testing.T) {
	e := seeded(t)

	result := e.run("--role", "safety", "patch", "block", "SHM-07-0023", "--reason", "Construction ongoing")
	result.AssertSuccess(t)
	result.AssertContains(t, "blocked: Construction ongoing")

	t.Log("A held patch cannot be promoted")
	e.run("--role", "mapping", "patch", "promote", "SHM-07-0023", "shadow").AssertExitCode(t, clierror.ExitConflict)

	e.run("--role", "safety", "patch", "approve", "SHM-07-0023").AssertSuccess(t)
	e.run("--role", "mapping", "patch", "promote", "SHM-07-0023", "shadow").AssertSuccess(t)
}

func TestNoteAndRequestEvidence(t *testing.T) {
	e := seeded(t)

	result := e.run("--role", "safety", "patch", "note", "SHM-12-0108", "Check", "lane", "markings")
	result.AssertSuccess(t)
	result.AssertContains(t, "Note added to SHM-12-0108")

	e.run("--role", "admin", "patch", "note", "SHM-12-0108", "x").AssertExitCode(t, clierror.ExitAuth)

	result = e.run("--role", "autonomy", "patch", "request-evidence", "SHM-12-0108", "Need", "night", "passes")
	result.AssertSuccess(t)

	result = e.run("audit", "SHM-12-0108")
	result.AssertContains(t, "safety_note")
	result.AssertContains(t, "Check lane markings")
	result.AssertContains(t, "evidence_requested")
}

func TestDraft(t *testing.T) {
	e := seeded(t)

	result := e.run("--role", "mapping", "patch", "draft", "--cluster", "CL-12-0109", "--delta", "10", "--delta-desc", "Advisory 25 km/h")
	result.AssertSuccess(t)
	result.AssertContains(t, "Created SHM-12-")
	result.AssertContains(t, "from CL-12-0109")

	var v patchView
	e.run("-o", "json", "--role", "mapping", "patch", "draft", "--cluster", "CL-07-0024", "--id", "SHM-07-0100").DecodeJSON(t, &v)
	if v.ID != "SHM-07-0100" || v.Stage != patch.StageCandidate {
		t.Errorf("unexpected draft %s in %s", v.ID, v.Stage)
	}

	t.Log("Fleet ops cannot draft, and unknown clusters are reported")
	e.run("--role", "fleet_ops", "patch", "draft", "--cluster", "CL-12-0109").AssertExitCode(t, clierror.ExitAuth)
	e.run("--role", "mapping", "patch", "draft", "--cluster", "CL-00-0000").AssertExitCode(t, clierror.ExitNotFound)

	t.Log("--cluster is required")
	result = e.run("--role", "mapping", "patch", "draft")
	result.AssertError(t)

	t.Log("An out-of-range agreement is rejected")
	e.run("--role", "mapping", "patch", "draft", "--cluster", "CL-19-0043", "--sensor-agreement", "1.5").AssertExitCode(t, clierror.ExitInput)
}

func TestDraft_SensorAgreementClearsSilentGate(t *testing.T) {
	e := seeded(t)

	t.Log("A draft without an agreement figure is held at the Silent gate")
	e.run("--role", "mapping", "patch", "draft", "--cluster", "CL-19-0043", "--id", "SHM-19-0200", "--delta", "1").AssertSuccess(t)
	e.run("--role", "mapping", "patch", "promote", "SHM-19-0200", "shadow").AssertSuccess(t)
	result := e.run("--role", "safety", "patch", "promote", "SHM-19-0200", "silent")
	result.AssertExitCode(t, clierror.ExitGate)
	if gates := clierror.FromError(result.Err).FailedGates; len(gates) != 1 || gates[0] != "sensor_agreement_met" {
		t.Errorf("failed gates = %v, want [sensor_agreement_met]", gates)
	}

	t.Log("--sensor-agreement completes the cluster's evidence")
	e.run("--role", "mapping", "patch", "draft", "--cluster", "CL-19-0043", "--id", "SHM-19-0201", "--delta", "1", "--sensor-agreement", "0.93").AssertSuccess(t)
	e.run("--role", "mapping", "patch", "promote", "SHM-19-0201", "shadow").AssertSuccess(t)
	e.run("--role", "safety", "patch", "promote", "SHM-19-0201", "silent").AssertSuccess(t)

	var v patchView
	e.run("-o", "json", "patch", "show", "SHM-19-0201").DecodeJSON(t, &v)
	if v.Stage != patch.StageSilent {
		t.Errorf("SHM-19-0201 in %s, want silent", v.Stage)
	}
}

func TestExpire(t *testing.T) {
	e := seeded(t)
	e.run("--role", "safety", "patch", "promote", "SHM-19-0043", "active").AssertSuccess(t)

	t.Log("Nothing is due today")
	result := e.run("patch", "expire-due")
	result.AssertSuccess(t)
	result.AssertContains(t, "No patches due")

	t.Log("A single patch cannot be expired before its TTL")
	e.run("patch", "expire", "SHM-19-0043").AssertExitCode(t, clierror.ExitConflict)

	t.Log("A month from now the Active patch is due")
	future := "2099-01-01T00:00:00Z"
	var got map[string][]string
	e.run("-o", "json", "patch", "expire-due", "--at", future).DecodeJSON(t, &got)
	if len(got["expired"]) != 1 || got["expired"][0] != "SHM-19-0043" {
		t.Fatalf("expired = %v", got["expired"])
	}

	var v patchView
	e.run("-o", "json", "patch", "show", "SHM-19-0043").DecodeJSON(t, &v)
	if v.Stage != patch.StageExpired {
		t.Errorf("stage = %s", v.Stage)
	}

	e.run("patch", "expire", "SHM-19-0043", "--at", "yesterday").AssertExitCode(t, clierror.ExitInput)
}

func TestErrorsAreLifecycleErrors(t *testing.T) {
	e := seeded(t)
	result := e.run("patch", "show", "SHM-00-0000")
	var ce *clierror.CLIError
	if errors.As(result.Err, &ce) {
		t.Error("commands should return engine errors and leave mapping to main")
	}
}
