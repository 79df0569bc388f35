package audit

import (
	"fmt"
	"time"
)

// Actions recorded in a patch's audit trail.
const (
	ActionCreated           = "created"
	ActionRollback          = "rollback"
	ActionExpired           = "expired"
	ActionBlocked           = "blocked"
	ActionApproved          = "approved"
	ActionSafetyNote        = "safety_note"
	ActionEvidenceRequested = "evidence_requested"

	// promotedPrefix is followed by the lowercase target stage.
	promotedPrefix = "promoted_to_"
)

// SystemActor is recorded for operations no operator initiated.
const SystemActor = "system"

// PromotedAction returns the audit action for a promotion to stage.
func PromotedAction(stage string) string {
	return promotedPrefix + stage
}

// Event is one entry in a patch's append-only audit trail. Events are never
// mutated once appended.
type Event struct {
	ID          string    `json:"id" yaml:"id"`
	Action      string    `json:"action" yaml:"action"`
	Actor       string    `json:"actor" yaml:"actor"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Reason      string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	ArtifactRef string    `json:"artifact_ref,omitempty" yaml:"artifact_ref,omitempty"`
}

// NextID returns the id the next event appended to log must carry:
// "<patchID>-e<n>" with n one past the current length.
func NextID(patchID string, log []Event) string {
	return fmt.Sprintf("%s-e%d", patchID, len(log)+1)
}

// Append returns log with ev appended. It refuses events whose id breaks the
// gap-free sequence, so a trail can never be reordered or skip a number.
func Append(patchID string, log []Event, ev Event) ([]Event, error) {
	if want := NextID(patchID, log); ev.ID != want {
		return log, fmt.Errorf("audit event id %q out of sequence, want %q", ev.ID, want)
	}
	out := make([]Event, len(log), len(log)+1)
	copy(out, log)
	return append(out, ev), nil
}

// Copy returns an independent copy of log.
func Copy(log []Event) []Event {
	if log == nil {
		return []Event{}
	}
	return append([]Event(nil), log...)
}
