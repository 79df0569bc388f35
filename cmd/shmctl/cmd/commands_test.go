package cmd

import (
	"testing"

	"github.com/gobeyondidentity/shm/pkg/clierror"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

func TestGates(t *testing.T) {
	e := seeded(t)

	result := e.run("gates", "SHM-19-0043")
	result.AssertSuccess(t)
	result.AssertContains(t, "patch_type_allowlist")
	result.AssertContains(t, "Auto sign-off: pass")
	result.AssertNotContains(t, "FAIL")

	var v gatesView
	e.run("-o", "json", "gates", "SHM-12-0108").DecodeJSON(t, &v)
	if v.Passed {
		t.Error("thin evidence should not pass")
	}
	if len(v.Gates) != 6 {
		t.Errorf("expected 6 gates, got %d", len(v.Gates))
	}
	if len(v.Failed) == 0 {
		t.Error("expected failed gate names")
	}

	e.run("gates", "SHM-00-0000").AssertExitCode(t, clierror.ExitNotFound)
}

func TestAudit_JSON(t *testing.T) {
	e := seeded(t)

	var events []struct {
		ID          string `json:"id"`
		Action      string `json:"action"`
		ArtifactRef string `json:"artifact_ref"`
	}
	e.run("-o", "json", "audit", "SHM-19-0042").DecodeJSON(t, &events)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].ID != "SHM-19-0042-e2" || events[1].Action != "promoted_to_shadow" {
		t.Errorf("unexpected event %+v", events[1])
	}

	result := e.run("audit", "SHM-19-0042")
	result.AssertContains(t, "sha256:")
}

func TestDistributionList(t *testing.T) {
	e := seeded(t)

	t.Log("Mapping may not view distribution")
	e.run("--role", "mapping", "distribution", "list").AssertExitCode(t, clierror.ExitAuth)

	result := e.run("--role", "fleet_ops", "distribution", "list")
	result.AssertSuccess(t)
	result.AssertContains(t, "SHM-19-0043")
	result.AssertContains(t, "10%")
	result.AssertNotContains(t, "SHM-07-0023")

	var rows []distributionView
	e.run("-o", "json", "--role", "admin", "dist", "list").DecodeJSON(t, &rows)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.EffectiveFleetPercent != r.FleetPercent {
			t.Errorf("%s effective %d != %d", r.PatchID, r.EffectiveFleetPercent, r.FleetPercent)
		}
	}
}

func TestThresholds(t *testing.T) {
	e := seeded(t)

	var th safety.Thresholds
	e.run("-o", "json", "thresholds", "show").DecodeJSON(t, &th)
	if th.MinVehicles != 15 {
		t.Fatalf("default min vehicles = %d", th.MinVehicles)
	}

	t.Log("Mapping cannot change thresholds")
	e.run("--role", "mapping", "thresholds", "set", "--min-vehicles", "5").AssertExitCode(t, clierror.ExitAuth)

	t.Log("Invalid values are rejected without effect")
	e.run("--role", "safety", "thresholds", "set", "--min-sensor-agreement", "1.5").AssertExitCode(t, clierror.ExitInput)
	e.run("--role", "safety", "thresholds", "set", "--allowed-types", "roundabout").AssertExitCode(t, clierror.ExitInput)
	e.run("--role", "safety", "thresholds", "set", "--max-delta", "lane_geometry").AssertExitCode(t, clierror.ExitInput)

	t.Log("Lowering the vehicle minimum lets SHM-19-0042 pass its evidence gate")
	result := e.run("--role", "safety", "thresholds", "set", "--min-vehicles", "10", "--max-delta", "lane_geometry=2.0")
	result.AssertSuccess(t)
	result.AssertContains(t, "Min vehicles:")

	e.run("-o", "json", "thresholds", "show").DecodeJSON(t, &th)
	if th.MinVehicles != 10 || th.MaxDelta[patch.TypeLaneGeometry] != 2.0 {
		t.Errorf("thresholds not persisted: %+v", th)
	}
	if th.MinPasses != 40 {
		t.Errorf("unchanged value drifted: min passes = %d", th.MinPasses)
	}

	var v gatesView
	e.run("-o", "json", "gates", "SHM-19-0042").DecodeJSON(t, &v)
	for _, g := range v.Gates {
		if g.Name == safety.GateEvidenceThresholdsMet && !g.Passed {
			t.Errorf("evidence gate should pass with lowered threshold: %s", g.Detail)
		}
	}
}

func TestClusters(t *testing.T) {
	e := seeded(t)

	result := e.run("cluster", "list")
	result.AssertSuccess(t)
	result.AssertContains(t, "CL-19-0043")
	result.AssertContains(t, "Spring St Detour")

	result = e.run("--role", "safety", "cluster", "status", "CL-12-0110", "ready_for_promotion")
	result.AssertSuccess(t)
	result.AssertContains(t, "CL-12-0110 is now ready_for_promotion")

	e.run("--role", "autonomy", "cluster", "status", "CL-12-0110", "duplicate").AssertExitCode(t, clierror.ExitAuth)
	e.run("--role", "mapping", "cluster", "status", "CL-12-0110", "new").AssertExitCode(t, clierror.ExitConflict)
	e.run("--role", "mapping", "cluster", "status", "CL-12-0110", "archived").AssertExitCode(t, clierror.ExitInput)
	e.run("--role", "mapping", "cluster", "status", "CL-00-0000", "duplicate").AssertExitCode(t, clierror.ExitNotFound)
}

func TestZones_YAML(t *testing.T) {
	e := seeded(t)
	result := e.run("-o", "yaml", "zones")
	result.AssertSuccess(t)
	result.AssertContains(t, "Zone 19 - Airport Loop")
	result.AssertContains(t, "mismatch_volume: 89")
}
