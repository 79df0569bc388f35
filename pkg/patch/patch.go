package patch

import (
	"fmt"
	"time"

	"github.com/gobeyondidentity/shm/pkg/audit"
)

// Stage is a patch's position in the promotion pipeline.
type Stage string

const (
	StageCandidate  Stage = "candidate"
	StageShadow     Stage = "shadow"
	StageSilent     Stage = "silent"
	StageActive     Stage = "active"
	StageRolledBack Stage = "rolled_back"
	StageExpired    Stage = "expired"
)

// AllStages returns every stage in pipeline order followed by the terminal stages.
func AllStages() []Stage {
	return []Stage{StageCandidate, StageShadow, StageSilent, StageActive, StageRolledBack, StageExpired}
}

// forward is the promotion chain. Each stage maps to its only legal successor.
var forward = map[Stage]Stage{
	StageCandidate: StageShadow,
	StageShadow:    StageSilent,
	StageSilent:    StageActive,
}

// Next returns the immediate forward successor of s, if any.
func (s Stage) Next() (Stage, bool) {
	n, ok := forward[s]
	return n, ok
}

// IsTerminal reports whether s accepts no further promotion or rollback.
func (s Stage) IsTerminal() bool {
	return s == StageRolledBack || s == StageExpired
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageCandidate, StageShadow, StageSilent, StageActive, StageRolledBack, StageExpired:
		return true
	}
	return false
}

// Title returns the human-readable stage name used in audit reasons.
func (s Stage) Title() string {
	switch s {
	case StageCandidate:
		return "Candidate"
	case StageShadow:
		return "Shadow"
	case StageSilent:
		return "Silent"
	case StageActive:
		return "Active"
	case StageRolledBack:
		return "Rolled Back"
	case StageExpired:
		return "Expired"
	default:
		return string(s)
	}
}

// ParseStage accepts the canonical value or the title form ("Rolled Back").
func ParseStage(s string) (Stage, error) {
	for _, st := range AllStages() {
		if s == string(st) || s == st.Title() {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Type classifies what a patch changes. Only some types may ever be promoted;
// see safety.Thresholds.AllowedTypes.
type Type string

const (
	TypeLaneGeometry          Type = "lane_geometry"
	TypeTurnRestriction       Type = "turn_restriction"
	TypeSpeedAdvisory         Type = "speed_advisory"
	TypeTrafficLight          Type = "traffic_light"
	TypeStopSign              Type = "stop_sign"
	TypeTopologyChange        Type = "topology_change"
	TypeDrivableAreaExpansion Type = "drivable_area_expansion"
)

// AllTypes returns every patch type.
func AllTypes() []Type {
	return []Type{
		TypeLaneGeometry,
		TypeTurnRestriction,
		TypeSpeedAdvisory,
		TypeTrafficLight,
		TypeStopSign,
		TypeTopologyChange,
		TypeDrivableAreaExpansion,
	}
}

// ParseType returns the Type for s or an error for unknown types.
func ParseType(s string) (Type, error) {
	for _, t := range AllTypes() {
		if s == string(t) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown patch type %q", s)
}

// GeometryDelta describes the change a patch applies. Magnitude is in the
// unit native to the patch type (meters for lane geometry, km/h for speed
// advisories).
type GeometryDelta struct {
	Description string  `json:"description" yaml:"description"`
	Magnitude   float64 `json:"magnitude" yaml:"magnitude"`
}

// ConfidenceFactors is the per-factor confidence breakdown, each in [0,1].
type ConfidenceFactors struct {
	SensorAgreement           float64 `json:"sensor_agreement" yaml:"sensor_agreement"`
	RouteDiversity            float64 `json:"route_diversity" yaml:"route_diversity"`
	TimeDiversity             float64 `json:"time_diversity" yaml:"time_diversity"`
	Recency                   float64 `json:"recency" yaml:"recency"`
	LocalizationResidualTrend float64 `json:"localization_residual_trend" yaml:"localization_residual_trend"`
}

// EvidenceItem is a single vehicle observation backing a patch.
type EvidenceItem struct {
	VehicleID         string    `json:"vehicle_id" yaml:"vehicle_id"`
	PassID            string    `json:"pass_id" yaml:"pass_id"`
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`
	SensorAgreement   float64   `json:"sensor_agreement" yaml:"sensor_agreement"`
	ResidualMagnitude float64   `json:"residual_magnitude" yaml:"residual_magnitude"`
}

// Evidence is the immutable evidence summary captured when a patch is drafted.
type Evidence struct {
	Vehicles        int               `json:"vehicles" yaml:"vehicles"`
	Passes          int               `json:"passes" yaml:"passes"`
	TimeSpreadDays  int               `json:"time_spread_days" yaml:"time_spread_days"`
	SensorAgreement float64           `json:"sensor_agreement" yaml:"sensor_agreement"` // fraction in [0,1]
	Confidence      int               `json:"confidence" yaml:"confidence"`             // 0..100
	Factors         ConfidenceFactors `json:"factors" yaml:"factors"`
	Items           []EvidenceItem    `json:"items,omitempty" yaml:"items,omitempty"`
}

// RollbackTrigger is an automatic rollback condition attached to a patch.
type RollbackTrigger struct {
	Name      string  `json:"name" yaml:"name"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Unit      string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Patch is a proposed, evidence-backed correction to the canonical map.
//
// Stage, AuditLog and the distribution fields are owned by the lifecycle
// engine. Callers receive copies; mutating a returned Patch has no effect on
// stored state.
type Patch struct {
	ID              string        `json:"id" yaml:"id"`
	ClusterID       string        `json:"cluster_id" yaml:"cluster_id"`
	Type            Type          `json:"type" yaml:"type"`
	Zone            int           `json:"zone" yaml:"zone"`
	LocationLabel   string        `json:"location_label,omitempty" yaml:"location_label,omitempty"`
	Lat             float64       `json:"lat" yaml:"lat"`
	Lng             float64       `json:"lng" yaml:"lng"`
	GeoFenceRadiusM float64       `json:"geofence_radius_m" yaml:"geofence_radius_m"`
	GeometryDelta   GeometryDelta `json:"geometry_delta" yaml:"geometry_delta"`

	Stage       Stage     `json:"stage" yaml:"stage"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	TTLDays     int       `json:"ttl_days" yaml:"ttl_days"`
	ExpiresAt   time.Time `json:"expires_at" yaml:"expires_at"`
	Blocked     bool      `json:"blocked" yaml:"blocked"`
	BlockReason string    `json:"block_reason,omitempty" yaml:"block_reason,omitempty"`

	Evidence         Evidence          `json:"evidence" yaml:"evidence"`
	RollbackTriggers []RollbackTrigger `json:"rollback_triggers,omitempty" yaml:"rollback_triggers,omitempty"`

	// Derived from the distribution row; never set by an operator.
	FleetPercent  int        `json:"fleet_percent" yaml:"fleet_percent"`
	DistributedAt *time.Time `json:"distributed_at,omitempty" yaml:"distributed_at,omitempty"`
	SuccessRate   float64    `json:"success_rate" yaml:"success_rate"`

	AuditLog []audit.Event `json:"audit_log" yaml:"audit_log"`
}

// Clone returns a deep copy of p.
func (p *Patch) Clone() *Patch {
	if p == nil {
		return nil
	}
	c := *p
	if p.DistributedAt != nil {
		t := *p.DistributedAt
		c.DistributedAt = &t
	}
	if p.Evidence.Items != nil {
		c.Evidence.Items = append([]EvidenceItem(nil), p.Evidence.Items...)
	}
	if p.RollbackTriggers != nil {
		c.RollbackTriggers = append([]RollbackTrigger(nil), p.RollbackTriggers...)
	}
	if p.AuditLog != nil {
		c.AuditLog = append([]audit.Event(nil), p.AuditLog...)
	}
	return &c
}

// IsExpiredAt reports whether now is strictly past the patch expiry.
func (p *Patch) IsExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
