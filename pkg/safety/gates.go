// Package safety evaluates the safety-gate checklist a map patch must pass
// before a gated promotion.
//
// Gate results are never stored. They are recomputed from the patch and the
// current thresholds every time they are needed.
package safety

import (
	"fmt"
	"math"
	"strings"

	"github.com/gobeyondidentity/shm/pkg/patch"
)

// Gate names, in evaluation order.
const (
	GatePatchTypeAllowlist         = "patch_type_allowlist"
	GateDeltaMagnitudeInBounds     = "delta_magnitude_in_bounds"
	GateEvidenceThresholdsMet      = "evidence_thresholds_met"
	GateTimeDiversityMet           = "time_diversity_met"
	GateSensorAgreementMet         = "sensor_agreement_met"
	GateRollbackTriggersConfigured = "rollback_triggers_configured"
)

// GateResult is the outcome of a single predicate.
type GateResult struct {
	Name   string `json:"name" yaml:"name"`
	Passed bool   `json:"passed" yaml:"passed"`
	Detail string `json:"detail" yaml:"detail"`
}

// Report is the full checklist for one patch.
type Report struct {
	PatchID string       `json:"patch_id" yaml:"patch_id"`
	Gates   []GateResult `json:"gates" yaml:"gates"`
}

// Passed is the aggregate verdict: true only when every gate passed.
func (r Report) Passed() bool {
	for _, g := range r.Gates {
		if !g.Passed {
			return false
		}
	}
	return len(r.Gates) > 0
}

// Failed returns the names of failing gates in evaluation order.
func (r Report) Failed() []string {
	var out []string
	for _, g := range r.Gates {
		if !g.Passed {
			out = append(out, g.Name)
		}
	}
	return out
}

// AutoSignOff reports whether the patch qualifies for automated sign-off.
// The signal is advisory; manual sampling of signed-off patches happens
// outside this system.
func (r Report) AutoSignOff() bool {
	return r.Passed()
}

// Gate returns the named result.
func (r Report) Gate(name string) (GateResult, bool) {
	for _, g := range r.Gates {
		if g.Name == name {
			return g, true
		}
	}
	return GateResult{}, false
}

// Evaluate runs every gate against p. It is pure: the same patch and
// thresholds always give the same report.
func Evaluate(p *patch.Patch, th Thresholds) Report {
	ev := p.Evidence
	return Report{
		PatchID: p.ID,
		Gates: []GateResult{
			typeAllowed(p.Type, th),
			deltaInBounds(p, th),
			{
				Name:   GateEvidenceThresholdsMet,
				Passed: ev.Vehicles >= th.MinVehicles && ev.Passes >= th.MinPasses,
				Detail: fmt.Sprintf("%d vehicles (min %d), %d passes (min %d)", ev.Vehicles, th.MinVehicles, ev.Passes, th.MinPasses),
			},
			{
				Name:   GateTimeDiversityMet,
				Passed: ev.TimeSpreadDays >= th.MinTimeSpreadDays,
				Detail: fmt.Sprintf("%d day spread (min %d)", ev.TimeSpreadDays, th.MinTimeSpreadDays),
			},
			{
				Name:   GateSensorAgreementMet,
				Passed: ev.SensorAgreement >= th.MinSensorAgreement,
				Detail: fmt.Sprintf("%.2f agreement (min %.2f)", ev.SensorAgreement, th.MinSensorAgreement),
			},
			{
				Name:   GateRollbackTriggersConfigured,
				Passed: len(p.RollbackTriggers) > 0,
				Detail: fmt.Sprintf("%d trigger(s) configured", len(p.RollbackTriggers)),
			},
		},
	}
}

func typeAllowed(t patch.Type, th Thresholds) GateResult {
	res := GateResult{Name: GatePatchTypeAllowlist}
	for _, allowed := range th.AllowedTypes {
		if allowed == t {
			res.Passed = true
			res.Detail = fmt.Sprintf("%s is allow-listed", t)
			return res
		}
	}
	names := make([]string, 0, len(th.AllowedTypes))
	for _, a := range th.AllowedTypes {
		names = append(names, string(a))
	}
	res.Detail = fmt.Sprintf("%s not in [%s]", t, strings.Join(names, ", "))
	return res
}

// deltaInBounds fails closed when no bound is configured for the type.
func deltaInBounds(p *patch.Patch, th Thresholds) GateResult {
	res := GateResult{Name: GateDeltaMagnitudeInBounds}
	bound, ok := th.MaxDelta[p.Type]
	if !ok {
		res.Detail = fmt.Sprintf("no magnitude bound configured for %s", p.Type)
		return res
	}
	mag := math.Abs(p.GeometryDelta.Magnitude)
	res.Passed = mag <= bound
	res.Detail = fmt.Sprintf("|%.2f| (max %.2f)", p.GeometryDelta.Magnitude, bound)
	return res
}
