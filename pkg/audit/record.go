package audit

import (
	"strconv"
	"time"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityEmergency Severity = 0
	SeverityAlert     Severity = 1
	SeverityCritical  Severity = 2
	SeverityError     Severity = 3
	SeverityWarning   Severity = 4
	SeverityNotice    Severity = 5
	SeverityInfo      Severity = 6
	SeverityDebug     Severity = 7
)

func (s Severity) String() string {
	switch s {
	case SeverityEmergency:
		return "EMERGENCY"
	case SeverityAlert:
		return "ALERT"
	case SeverityCritical:
		return "CRITICAL"
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityNotice:
		return "NOTICE"
	case SeverityInfo:
		return "INFO"
	case SeverityDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// RecordType identifies an outward audit record. These mirror patch trail
// events and also cover state that has no per-patch trail.
type RecordType string

const (
	RecordPatchCreated      RecordType = "patch.created"
	RecordPatchPromoted     RecordType = "patch.promoted"
	RecordPatchRollback     RecordType = "patch.rollback"
	RecordPatchExpired      RecordType = "patch.expired"
	RecordPatchBlocked      RecordType = "patch.blocked"
	RecordPatchApproved     RecordType = "patch.approved"
	RecordPatchNote         RecordType = "patch.note"
	RecordEvidenceRequested RecordType = "patch.evidence_requested"
	RecordClusterStatus     RecordType = "cluster.status"
	RecordThresholdsChanged RecordType = "thresholds.changed"
	RecordKillSwitchGlobal  RecordType = "killswitch.global"
	RecordKillSwitchZone    RecordType = "killswitch.zone"
)

// AllRecordTypes returns every defined record type.
func AllRecordTypes() []RecordType {
	return []RecordType{
		RecordPatchCreated,
		RecordPatchPromoted,
		RecordPatchRollback,
		RecordPatchExpired,
		RecordPatchBlocked,
		RecordPatchApproved,
		RecordPatchNote,
		RecordEvidenceRequested,
		RecordClusterStatus,
		RecordThresholdsChanged,
		RecordKillSwitchGlobal,
		RecordKillSwitchZone,
	}
}

var severityMap = map[RecordType]Severity{
	RecordPatchCreated:      SeverityInfo,
	RecordPatchPromoted:     SeverityNotice,
	RecordPatchRollback:     SeverityWarning,
	RecordPatchExpired:      SeverityNotice,
	RecordPatchBlocked:      SeverityWarning,
	RecordPatchApproved:     SeverityNotice,
	RecordPatchNote:         SeverityInfo,
	RecordEvidenceRequested: SeverityInfo,
	RecordClusterStatus:     SeverityInfo,
	RecordThresholdsChanged: SeverityWarning,
	RecordKillSwitchGlobal:  SeverityAlert,
	RecordKillSwitchZone:    SeverityWarning,
}

// SeverityFor returns the syslog severity for a record type. Unknown types
// are treated as warnings.
func SeverityFor(rt RecordType) Severity {
	if s, ok := severityMap[rt]; ok {
		return s
	}
	return SeverityWarning
}

// Record is an audit fact published to outward sinks (log, syslog).
type Record struct {
	Type      RecordType
	Severity  Severity
	Timestamp time.Time
	ActorID   string
	Role      string
	RequestID string
	Resource  string            // patch id, cluster id, zone or "global"
	Details   map[string]string // record-specific fields
}

// NewPatchRecord mirrors a patch trail event outward.
func NewPatchRecord(rt RecordType, patchID string, ev Event, role, requestID string) Record {
	details := map[string]string{
		"event_id": ev.ID,
		"action":   ev.Action,
	}
	if ev.Reason != "" {
		details["reason"] = ev.Reason
	}
	if ev.ArtifactRef != "" {
		details["artifact_ref"] = ev.ArtifactRef
	}
	return Record{
		Type:      rt,
		Severity:  SeverityFor(rt),
		Timestamp: ev.Timestamp,
		ActorID:   ev.Actor,
		Role:      role,
		RequestID: requestID,
		Resource:  patchID,
		Details:   details,
	}
}

// NewKillSwitchGlobal records a global kill switch toggle.
func NewKillSwitchGlobal(actor, role string, enabled bool, at time.Time, requestID string) Record {
	return Record{
		Type:      RecordKillSwitchGlobal,
		Severity:  SeverityFor(RecordKillSwitchGlobal),
		Timestamp: at,
		ActorID:   actor,
		Role:      role,
		RequestID: requestID,
		Resource:  "global",
		Details: map[string]string{
			"enabled": strconv.FormatBool(enabled),
		},
	}
}

// NewKillSwitchZone records a per-zone kill switch toggle.
func NewKillSwitchZone(actor, role string, zone int, disabled bool, at time.Time, requestID string) Record {
	return Record{
		Type:      RecordKillSwitchZone,
		Severity:  SeverityFor(RecordKillSwitchZone),
		Timestamp: at,
		ActorID:   actor,
		Role:      role,
		RequestID: requestID,
		Resource:  "zone-" + strconv.Itoa(zone),
		Details: map[string]string{
			"zone":     strconv.Itoa(zone),
			"disabled": strconv.FormatBool(disabled),
		},
	}
}

// NewClusterStatus records an operator edit of a mismatch cluster's status.
func NewClusterStatus(actor, role, clusterID, status string, at time.Time, requestID string) Record {
	return Record{
		Type:      RecordClusterStatus,
		Severity:  SeverityFor(RecordClusterStatus),
		Timestamp: at,
		ActorID:   actor,
		Role:      role,
		RequestID: requestID,
		Resource:  clusterID,
		Details: map[string]string{
			"status": status,
		},
	}
}

// NewThresholdsChanged records a safety threshold change. details carries the
// new values already rendered as strings.
func NewThresholdsChanged(actor, role string, details map[string]string, at time.Time, requestID string) Record {
	return Record{
		Type:      RecordThresholdsChanged,
		Severity:  SeverityFor(RecordThresholdsChanged),
		Timestamp: at,
		ActorID:   actor,
		Role:      role,
		RequestID: requestID,
		Resource:  "thresholds",
		Details:   details,
	}
}
