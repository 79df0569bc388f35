package authz

import "fmt"

// Role is an operator role. The set is closed.
type Role uint8

const (
	RoleMapping Role = iota
	RoleAutonomy
	RoleSafety
	RoleFleetOps
	RoleAdmin

	numRoles
)

var roleNames = [numRoles]string{
	RoleMapping:  "mapping",
	RoleAutonomy: "autonomy",
	RoleSafety:   "safety",
	RoleFleetOps: "fleet_ops",
	RoleAdmin:    "admin",
}

// Roles returns every role in declaration order.
func Roles() []Role {
	out := make([]Role, 0, numRoles)
	for r := Role(0); r < numRoles; r++ {
		out = append(out, r)
	}
	return out
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r < numRoles }

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
	return roleNames[r]
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole maps a role name to a Role. Unknown names are an error; there is
// no fallback role.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return Role(r), nil
		}
	}
	return 0, ErrUnknownRole(s)
}

// Action is an operation subject to authorization. The set is closed.
type Action uint8

const (
	ActionCreateDraft Action = iota
	ActionMarkDuplicate
	ActionRequestEvidence
	ActionPromoteShadow
	ActionPromoteSilent
	ActionPromoteActive
	ActionBlock
	ActionApprove
	ActionRollback
	ActionChangeThresholds
	ActionCreateSafetyNote
	ActionKillSwitch
	ActionViewDistribution

	numActions
)

var actionNames = [numActions]string{
	ActionCreateDraft:      "create_draft",
	ActionMarkDuplicate:    "mark_duplicate",
	ActionRequestEvidence:  "request_evidence",
	ActionPromoteShadow:    "promote_shadow",
	ActionPromoteSilent:    "promote_silent",
	ActionPromoteActive:    "promote_active",
	ActionBlock:            "block",
	ActionApprove:          "approve",
	ActionRollback:         "rollback",
	ActionChangeThresholds: "change_thresholds",
	ActionCreateSafetyNote: "create_safety_note",
	ActionKillSwitch:       "kill_switch",
	ActionViewDistribution: "view_distribution",
}

// Actions returns every action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, numActions)
	for a := Action(0); a < numActions; a++ {
		out = append(out, a)
	}
	return out
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a < numActions }

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
	return actionNames[a]
}

// ParseAction maps an action name to an Action. Unknown names are an error.
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if name == s {
			return Action(a), nil
		}
	}
	return 0, ErrUnknownAction(s)
}

// permissionTable is the complete role to action grant matrix. Anything not
// listed is denied.
var permissionTable = func() [numRoles][numActions]bool {
	var t [numRoles][numActions]bool
	grant := func(r Role, actions ...Action) {
		for _, a := range actions {
			t[r][a] = true
		}
	}
	grant(RoleMapping,
		ActionCreateDraft, ActionMarkDuplicate, ActionRequestEvidence, ActionPromoteShadow)
	grant(RoleAutonomy,
		ActionCreateDraft, ActionRequestEvidence, ActionPromoteShadow)
	grant(RoleSafety,
		ActionBlock, ActionApprove, ActionRollback, ActionChangeThresholds, ActionCreateSafetyNote,
		ActionPromoteShadow, ActionPromoteSilent, ActionPromoteActive)
	grant(RoleFleetOps,
		ActionViewDistribution, ActionRollback)
	grant(RoleAdmin,
		ActionCreateDraft, ActionPromoteShadow, ActionPromoteSilent, ActionPromoteActive,
		ActionRollback, ActionKillSwitch, ActionChangeThresholds, ActionBlock, ActionApprove,
		ActionViewDistribution)
	return t
}()

// Can reports whether role may perform action. It is a pure table lookup and
// returns false for any role or action outside the closed sets.
func Can(role Role, action Action) bool {
	if !role.Valid() || !action.Valid() {
		return false
	}
	return permissionTable[role][action]
}

// Permitted returns the actions granted to role in declaration order.
func Permitted(role Role) []Action {
	var out []Action
	for _, a := range Actions() {
		if Can(role, a) {
			out = append(out, a)
		}
	}
	return out
}
