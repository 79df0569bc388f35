package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type recordingAuditLogger struct {
	mu      sync.Mutex
	entries []AuthzAuditEntry
}

func (r *recordingAuditLogger) LogDecision(_ context.Context, e AuthzAuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()

	a, err := NewAuthorizer(Config{
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	if err != nil {
		t.Fatalf("Failed to create authorizer: %v", err)
	}
	return a
}

func TestAuthorizer_AgreesWithCan(t *testing.T) {
	t.Parallel()
	t.Log("Evaluating every (role, action) pair through Cedar and comparing with the static table")

	a := newTestAuthorizer(t)
	ctx := context.Background()

	for _, r := range Roles() {
		for _, act := range Actions() {
			d := a.Authorize(ctx, Request{
				Actor:    "op-" + r.String(),
				Role:     r,
				Action:   act,
				Resource: PatchResource("SHM-19-0042"),
			})
			if d.Allowed != Can(r, act) {
				t.Errorf("Cedar decision for (%s, %s) = %v, Can = %v", r, act, d.Allowed, Can(r, act))
			}
		}
	}
}

func TestAuthorizer_PolicyPerRole(t *testing.T) {
	t.Parallel()

	a := newTestAuthorizer(t)
	if got, want := a.PolicyCount(), len(Roles()); got != want {
		t.Errorf("PolicyCount() = %d, want %d", got, want)
	}
}

func TestAuthorizer_UnknownRoleDenied(t *testing.T) {
	t.Parallel()

	a := newTestAuthorizer(t)
	d := a.Authorize(context.Background(), Request{
		Actor:    "ghost",
		Role:     Role(99),
		Action:   ActionRollback,
		Resource: PatchResource("SHM-19-0042"),
	})
	if d.Allowed {
		t.Fatal("expected deny for unknown role")
	}
	if d.Reason != "unknown role or action" {
		t.Errorf("Reason = %q, want %q", d.Reason, "unknown role or action")
	}
}

func TestAuthorizer_Require(t *testing.T) {
	t.Parallel()

	a := newTestAuthorizer(t)
	ctx := context.Background()

	t.Log("autonomy may not roll back")
	err := a.Require(ctx, Request{Actor: "av-eng", Role: RoleAutonomy, Action: ActionRollback, Resource: PatchResource("p")})
	if !IsForbidden(err) {
		t.Fatalf("Require() error = %v, want forbidden", err)
	}
	if !strings.Contains(err.Error(), "not permitted") {
		t.Errorf("error %q should say not permitted", err)
	}

	t.Log("fleet_ops may roll back")
	if err := a.Require(ctx, Request{Actor: "ops", Role: RoleFleetOps, Action: ActionRollback, Resource: PatchResource("p")}); err != nil {
		t.Errorf("Require() error = %v, want nil", err)
	}
}

func TestAuthorizer_DivergentPolicyBytes(t *testing.T) {
	t.Parallel()
	t.Log("A policy set that permits nothing denies even table-granted actions")

	a, err := NewAuthorizer(Config{
		Logger:      slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		PolicyBytes: []byte(`forbid (principal, action, resource);`),
	})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	d := a.Authorize(context.Background(), Request{Actor: "root", Role: RoleAdmin, Action: ActionKillSwitch, Resource: Resource{Type: EntityKillSwitch, ID: "global"}})
	if d.Allowed {
		t.Error("expected deny")
	}
}

func TestAuthorizer_InvalidPolicy(t *testing.T) {
	t.Parallel()

	_, err := NewAuthorizer(Config{PolicyBytes: []byte("permit (")})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAuthorizer_LogsAndAuditsDecisions(t *testing.T) {
	t.Parallel()

	var logBuf bytes.Buffer
	rec := &recordingAuditLogger{}
	a, err := NewAuthorizer(Config{
		Logger:      slog.New(slog.NewJSONHandler(&logBuf, nil)),
		AuditLogger: rec,
	})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}

	ctx := ContextWithRequestID(context.Background(), "req-42")
	a.Authorize(ctx, Request{Actor: "jdoe", Role: RoleSafety, Action: ActionPromoteActive, Resource: PatchResource("SHM-19-0043")})

	var logEntry map[string]any
	if err := json.Unmarshal(logBuf.Bytes(), &logEntry); err != nil {
		t.Fatalf("decision log is not JSON: %v\n%s", err, logBuf.String())
	}
	for _, field := range []string{"principal", "role", "action", "resource", "decision", "duration_us"} {
		if _, ok := logEntry[field]; !ok {
			t.Errorf("decision log missing field %q", field)
		}
	}

	if len(rec.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(rec.entries))
	}
	e := rec.entries[0]
	if e.RequestID != "req-42" {
		t.Errorf("RequestID = %q, want %q", e.RequestID, "req-42")
	}
	if e.Decision != "allow" {
		t.Errorf("Decision = %q, want %q", e.Decision, "allow")
	}
	if e.Action != "promote_active" {
		t.Errorf("Action = %q, want %q", e.Action, "promote_active")
	}
}

func TestGeneratePolicies_MentionsEveryGrant(t *testing.T) {
	t.Parallel()

	text := string(GeneratePolicies())
	for _, r := range Roles() {
		if !strings.Contains(text, `principal.role == "`+r.String()+`"`) {
			t.Errorf("generated policies missing role %s", r)
		}
	}
	if strings.Count(text, `Action::"kill_switch"`) != 1 {
		t.Error("kill_switch should be granted by exactly one policy")
	}
}

func TestEnsureRequestID(t *testing.T) {
	t.Parallel()

	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatal("expected generated request id")
	}
	_, again := EnsureRequestID(ctx)
	if again != id {
		t.Errorf("EnsureRequestID regenerated id: %q != %q", again, id)
	}
}

func BenchmarkAuthorize(b *testing.B) {
	a, err := NewAuthorizer(Config{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	if err != nil {
		b.Fatalf("Failed to create authorizer: %v", err)
	}
	req := Request{Actor: "jdoe", Role: RoleSafety, Action: ActionPromoteSilent, Resource: PatchResource("SHM-19-0043")}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Authorize(ctx, req)
	}
}
