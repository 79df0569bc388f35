package authz

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

// expectedGrants is written out longhand so that a change to the permission
// table has to be made twice to go unnoticed.
var expectedGrants = map[Role][]Action{
	RoleMapping:  {ActionCreateDraft, ActionMarkDuplicate, ActionRequestEvidence, ActionPromoteShadow},
	RoleAutonomy: {ActionCreateDraft, ActionRequestEvidence, ActionPromoteShadow},
	RoleSafety: {
		ActionBlock, ActionApprove, ActionRollback, ActionChangeThresholds, ActionCreateSafetyNote,
		ActionPromoteShadow, ActionPromoteSilent, ActionPromoteActive,
	},
	RoleFleetOps: {ActionViewDistribution, ActionRollback},
	RoleAdmin: {
		ActionCreateDraft, ActionPromoteShadow, ActionPromoteSilent, ActionPromoteActive,
		ActionRollback, ActionKillSwitch, ActionChangeThresholds, ActionBlock, ActionApprove,
		ActionViewDistribution,
	},
}

func TestCan_MatchesTableExactly(t *testing.T) {
	t.Parallel()
	t.Log("Checking every (role, action) pair against the expected grant matrix")

	for _, r := range Roles() {
		granted := make(map[Action]bool)
		for _, a := range expectedGrants[r] {
			granted[a] = true
		}
		for _, a := range Actions() {
			if got, want := Can(r, a), granted[a]; got != want {
				t.Errorf("Can(%s, %s) = %v, want %v", r, a, got, want)
			}
		}
	}
}

func TestCan_UnknownValuesDenied(t *testing.T) {
	t.Parallel()

	if Can(Role(200), ActionRollback) {
		t.Error("Can with unknown role should be false")
	}
	if Can(RoleAdmin, Action(200)) {
		t.Error("Can with unknown action should be false")
	}
}

func TestCan_KillSwitchAdminOnly(t *testing.T) {
	t.Parallel()

	for _, r := range Roles() {
		if got, want := Can(r, ActionKillSwitch), r == RoleAdmin; got != want {
			t.Errorf("Can(%s, kill_switch) = %v, want %v", r, got, want)
		}
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"mapping", RoleMapping, false},
		{"autonomy", RoleAutonomy, false},
		{"safety", RoleSafety, false},
		{"fleet_ops", RoleFleetOps, false},
		{"admin", RoleAdmin, false},
		{"Admin", 0, true},
		{"super:admin", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseRole(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAction_RoundTripsEveryAction(t *testing.T) {
	t.Parallel()

	for _, a := range Actions() {
		got, err := ParseAction(a.String())
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", a.String(), err)
		}
		if got != a {
			t.Errorf("ParseAction(%q) = %s, want %s", a.String(), got, a)
		}
	}
	_, err := ParseAction("delete_everything")
	if code := ErrorCode(err); code != ErrCodeUnknownAction {
		t.Errorf("ErrorCode = %q, want %q", code, ErrCodeUnknownAction)
	}
}

func TestParseRole_UnknownIsBadRequest(t *testing.T) {
	t.Parallel()

	_, err := ParseRole("superuser")
	var ae *AuthzError
	if !errors.As(err, &ae) {
		t.Fatalf("ParseRole error = %v, want *AuthzError", err)
	}
	if ae.Code != ErrCodeUnknownRole {
		t.Errorf("Code = %q, want %q", ae.Code, ErrCodeUnknownRole)
	}
	if ae.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", ae.HTTPStatus(), http.StatusBadRequest)
	}
	if ae.Message != `unknown role "superuser"` {
		t.Errorf("Message = %q", ae.Message)
	}
}

func TestRole_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct{ Role Role }{RoleFleetOps})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"Role":"fleet_ops"}` {
		t.Errorf("marshal = %s", b)
	}

	var out struct{ Role Role }
	if err := json.Unmarshal([]byte(`{"Role":"nobody"}`), &out); err == nil {
		t.Error("expected error unmarshalling unknown role")
	}
}
