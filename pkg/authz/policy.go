package authz

import (
	"fmt"
	"strings"
)

// Cedar entity types used by the generated policies and request builders.
const (
	EntityOperator   = "Operator"
	EntityPatch      = "Patch"
	EntityCluster    = "Cluster"
	EntityZone       = "Zone"
	EntityKillSwitch = "KillSwitch"
	EntityThresholds = "Thresholds"
	EntityFleet      = "Fleet"
)

// GeneratePolicies renders the permission table as Cedar policy text: one
// permit per role, matched on the principal's role attribute. Roles with no
// grants produce no policy, which leaves them on Cedar's default deny.
func GeneratePolicies() []byte {
	var b strings.Builder
	b.WriteString("// Generated from the authz permission table. Do not edit.\n")
	for _, r := range Roles() {
		actions := Permitted(r)
		if len(actions) == 0 {
			continue
		}
		uids := make([]string, 0, len(actions))
		for _, a := range actions {
			uids = append(uids, fmt.Sprintf("Action::%q", a.String()))
		}
		fmt.Fprintf(&b, "\n@id(%q)\npermit (\n    principal,\n    action in [%s],\n    resource\n) when { principal.role == %q };\n",
			"role_"+r.String(), strings.Join(uids, ", "), r.String())
	}
	return []byte(b.String())
}
