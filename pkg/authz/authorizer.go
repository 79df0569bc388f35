package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cedar-policy/cedar-go"
)

// Config contains options for the Authorizer.
type Config struct {
	// Logger for structured decision logging. If nil, uses slog.Default().
	Logger *slog.Logger

	// AuditLogger receives every decision. If nil, decisions are only logged.
	AuditLogger AuditLogger

	// PolicyBytes overrides the policies generated from the permission table.
	// Intended for tests that need a deliberately divergent policy set.
	PolicyBytes []byte
}

// Request is a single authorization question.
type Request struct {
	Actor    string
	Role     Role
	Action   Action
	Resource Resource
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed  bool
	Reason   string
	PolicyID string
	Duration time.Duration
}

// Authorizer evaluates requests against the Cedar policy set generated from
// the permission table. It is safe for concurrent use; the policy set is
// immutable after construction.
type Authorizer struct {
	policies *cedar.PolicySet
	logger   *slog.Logger
	audit    AuditLogger
}

// NewAuthorizer creates an authorizer with the given configuration.
func NewAuthorizer(cfg Config) (*Authorizer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policyData := cfg.PolicyBytes
	if policyData == nil {
		policyData = GeneratePolicies()
	}

	ps, err := cedar.NewPolicySetFromBytes("shm.cedar", policyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policies: %w", err)
	}

	auditLogger := cfg.AuditLogger
	if auditLogger == nil {
		auditLogger = NopAuditLogger{}
	}

	return &Authorizer{
		policies: ps,
		logger:   logger,
		audit:    auditLogger,
	}, nil
}

// Authorize evaluates req. Requests naming a role or action outside the closed
// sets are denied without consulting Cedar.
func (a *Authorizer) Authorize(ctx context.Context, req Request) Decision {
	start := time.Now()

	if !req.Role.Valid() || !req.Action.Valid() {
		d := Decision{Allowed: false, Reason: "unknown role or action", Duration: time.Since(start)}
		a.record(ctx, req, d)
		return d
	}

	decision, diagnostic := cedar.Authorize(a.policies, buildEntities(req), buildCedarRequest(req))

	policyID := ""
	if len(diagnostic.Reasons) > 0 {
		policyID = string(diagnostic.Reasons[0].PolicyID)
	}

	d := Decision{
		Allowed:  decision == cedar.Allow,
		PolicyID: policyID,
		Duration: time.Since(start),
	}
	if d.Allowed {
		d.Reason = "access permitted"
	} else {
		d.Reason = "access denied - no matching permit policy"
	}

	for _, err := range diagnostic.Errors {
		a.logger.Error("policy evaluation error",
			"policy", err.PolicyID,
			"error", err.Message,
		)
	}
	a.record(ctx, req, d)
	return d
}

// Require is Authorize for callers that only need an error on denial. The
// returned error never explains why beyond "not permitted".
func (a *Authorizer) Require(ctx context.Context, req Request) error {
	if d := a.Authorize(ctx, req); !d.Allowed {
		return ErrForbidden(fmt.Sprintf("role %s is not permitted to %s", req.Role, req.Action))
	}
	return nil
}

func (a *Authorizer) record(ctx context.Context, req Request, d Decision) {
	a.logger.Info("authorization decision",
		"principal", req.Actor,
		"role", req.Role.String(),
		"action", req.Action.String(),
		"resource", req.Resource.ID,
		"resource_type", req.Resource.Type,
		"decision", d.Allowed,
		"reason", d.Reason,
		"policy_id", d.PolicyID,
		"duration_us", d.Duration.Microseconds(),
	)

	decision := "deny"
	if d.Allowed {
		decision = "allow"
	}
	entry := AuthzAuditEntry{
		Timestamp:    time.Now(),
		RequestID:    RequestIDFromContext(ctx),
		Principal:    req.Actor,
		Role:         req.Role.String(),
		Action:       req.Action.String(),
		Resource:     req.Resource.ID,
		ResourceType: req.Resource.Type,
		Decision:     decision,
		Reason:       d.Reason,
		PolicyID:     d.PolicyID,
		DurationUS:   d.Duration.Microseconds(),
	}
	if err := a.audit.LogDecision(ctx, entry); err != nil {
		a.logger.Warn("failed to record authorization decision", "error", err)
	}
}

// PolicyCount returns the number of loaded policies.
func (a *Authorizer) PolicyCount() int {
	count := 0
	for range a.policies.All() {
		count++
	}
	return count
}
