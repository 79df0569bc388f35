package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/authz"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

// DefaultRollbackReason is recorded when a rollback names no reason.
const DefaultRollbackReason = "Manual rollback"

// promoteActions maps each forward target to the action that authorizes it.
var promoteActions = map[patch.Stage]authz.Action{
	patch.StageShadow: authz.ActionPromoteShadow,
	patch.StageSilent: authz.ActionPromoteSilent,
	patch.StageActive: authz.ActionPromoteActive,
}

// heldPromoteAction returns a promote action role holds, or
// ActionPromoteShadow when it holds none. A target off the forward chain
// names no edge, so the caller only has to hold some promote permission
// before the request is judged on the stage graph.
func heldPromoteAction(role authz.Role) authz.Action {
	for _, a := range []authz.Action{authz.ActionPromoteShadow, authz.ActionPromoteSilent, authz.ActionPromoteActive} {
		if authz.Can(role, a) {
			return a
		}
	}
	return authz.ActionPromoteShadow
}

// Promote advances a patch to target, which must be the immediate successor
// of its current stage. Checks run in order: authorization, existence,
// transition legality, then the safety checklist for gated targets. A
// rejected promotion changes nothing.
func (e *Engine) Promote(ctx context.Context, id string, target patch.Stage, role authz.Role, actor string) (_ *patch.Patch, err error) {
	defer e.observe("promote", time.Now(), &err)
	ctx, _ = authz.EnsureRequestID(ctx)

	action, forward := promoteActions[target]
	if !forward {
		action = heldPromoteAction(role)
	}
	if err := e.authorize(ctx, role, actor, action, authz.PatchResource(id)); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	from := p.Stage
	next, ok := from.Next()
	if !forward || !ok || next != target {
		return nil, invalidTransition("cannot promote %s from %s to %s", id, from, target)
	}
	if p.Blocked {
		return nil, invalidTransition("patch %s is on hold: %s", id, p.BlockReason)
	}

	report := safety.Evaluate(p, e.Thresholds())
	if e.gated[target] && !report.Passed() {
		failed := report.Failed()
		for _, g := range failed {
			e.metrics.GateBlocksTotal.WithLabelValues(g).Inc()
		}
		e.logger.Warn("promotion blocked by safety gates",
			"patch", id,
			"target", string(target),
			"failed", failed,
			"actor", actor,
			"request_id", authz.RequestIDFromContext(ctx),
		)
		return nil, gateBlocked(id, failed)
	}
	if report.AutoSignOff() {
		e.metrics.AutoSignOffTotal.Inc()
		e.logger.Info("auto sign-off: pass", "patch", id, "target", string(target))
	}

	p.Stage = target
	if _, err := e.commit(ctx, p, entry{
		action:    audit.PromotedAction(string(target)),
		actor:     actor,
		reason:    "Promoted to " + target.Title(),
		withRef:   true,
		recompute: true,
		record:    audit.RecordPatchPromoted,
		role:      role.String(),
	}, e.now()); err != nil {
		return nil, err
	}

	e.transitioned(ctx, p, from, actor)
	return p.Clone(), nil
}

// Rollback forcibly reverts a non-terminal patch. It is never gated by the
// safety checklist. An empty reason records DefaultRollbackReason.
func (e *Engine) Rollback(ctx context.Context, id, reason string, role authz.Role, actor string) (_ *patch.Patch, err error) {
	defer e.observe("rollback", time.Now(), &err)
	ctx, _ = authz.EnsureRequestID(ctx)

	if err := e.authorize(ctx, role, actor, authz.ActionRollback, authz.PatchResource(id)); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	from := p.Stage
	if from.IsTerminal() {
		return nil, invalidTransition("cannot roll back %s from %s", id, from)
	}
	if reason == "" {
		reason = DefaultRollbackReason
	}

	p.Stage = patch.StageRolledBack
	if _, err := e.commit(ctx, p, entry{
		action:    audit.ActionRollback,
		actor:     actor,
		reason:    reason,
		withRef:   true,
		recompute: true,
		record:    audit.RecordPatchRollback,
		role:      role.String(),
	}, e.now()); err != nil {
		return nil, err
	}

	e.transitioned(ctx, p, from, actor)
	return p.Clone(), nil
}

// Expire retires an Active patch whose expiry has passed. It is invoked by
// the system, not an operator, and is not role-gated.
func (e *Engine) Expire(ctx context.Context, id string, now time.Time) (_ *patch.Patch, err error) {
	defer e.observe("expire", time.Now(), &err)
	ctx, _ = authz.EnsureRequestID(ctx)

	unlock := e.locks.Lock(id)
	defer unlock()

	return e.expireLocked(ctx, id, now)
}

func (e *Engine) expireLocked(ctx context.Context, id string, now time.Time) (*patch.Patch, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	from := p.Stage
	if from != patch.StageActive {
		return nil, invalidTransition("cannot expire %s from %s", id, from)
	}
	if !p.IsExpiredAt(now) {
		return nil, invalidTransition("patch %s does not expire until %s", id, p.ExpiresAt.Format(time.RFC3339))
	}

	p.Stage = patch.StageExpired
	if _, err := e.commit(ctx, p, entry{
		action:    audit.ActionExpired,
		actor:     audit.SystemActor,
		reason:    "TTL elapsed",
		recompute: true,
		record:    audit.RecordPatchExpired,
	}, now); err != nil {
		return nil, err
	}

	e.transitioned(ctx, p, from, audit.SystemActor)
	return p.Clone(), nil
}

// ExpireDue expires every Active patch past its expiry at now and returns
// the ids it expired. A patch that changed stage since the listing is
// skipped; any other failure stops the sweep.
func (e *Engine) ExpireDue(ctx context.Context, now time.Time) (_ []string, err error) {
	defer e.observe("expire_due", time.Now(), &err)
	ctx, _ = authz.EnsureRequestID(ctx)

	active, err := e.repo.ListPatches(ctx, patch.Filter{Stage: patch.StageActive})
	if err != nil {
		return nil, fmt.Errorf("list active patches: %w", err)
	}

	var expired []string
	for _, p := range active {
		if !p.IsExpiredAt(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		unlock := e.locks.Lock(p.ID)
		_, err := e.expireLocked(ctx, p.ID, now)
		unlock()

		switch ErrorCode(err) {
		case "":
			if err != nil {
				return expired, err
			}
			expired = append(expired, p.ID)
		case ErrCodeInvalidTransition, ErrCodeNotFound:
			e.logger.Debug("skipping patch in expiry sweep", "patch", p.ID, "error", err)
		default:
			return expired, err
		}
	}
	return expired, nil
}

func (e *Engine) transitioned(ctx context.Context, p *patch.Patch, from patch.Stage, actor string) {
	e.metrics.TransitionsTotal.WithLabelValues(string(from), string(p.Stage)).Inc()
	e.logger.Info("patch transition",
		"patch", p.ID,
		"from", string(from),
		"to", string(p.Stage),
		"fleet_percent", p.FleetPercent,
		"actor", actor,
		"request_id", authz.RequestIDFromContext(ctx),
	)
}
