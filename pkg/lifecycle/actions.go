package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/authz"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

// DraftRequest describes a Candidate patch built from a mismatch cluster.
// Fields left zero are filled from the cluster or from engine defaults.
// Evidence, when set, replaces the summary derived from the cluster. That
// summary carries observation counts but no agreement figure, so
// SensorAgreement (in [0,1]) completes it; it is ignored when Evidence is set.
type DraftRequest struct {
	// ID of the new patch. Generated as SHM-<zone>-<suffix> when empty.
	ID               string
	ClusterID        string
	GeoFenceRadiusM  float64
	GeometryDelta    patch.GeometryDelta
	Evidence         *patch.Evidence
	SensorAgreement  float64
	RollbackTriggers []patch.RollbackTrigger
}

// CreateDraft builds a Candidate patch from a mismatch cluster and records
// its creation. The cluster moves to in_review if it was new.
func (e *Engine) CreateDraft(ctx context.Context, req DraftRequest, role authz.Role, actor string) (_ *patch.Patch, err error) {
	defer e.observe("create_draft", time.Now(), &err)
	ctx, _ = authz.EnsureRequestID(ctx)

	if err := e.authorize(ctx, role, actor, authz.ActionCreateDraft,
		authz.Resource{Type: authz.EntityCluster, ID: req.ClusterID}); err != nil {
		return nil, err
	}
	if req.ClusterID == "" {
		return nil, invalidInput("cluster id is required")
	}
	if req.SensorAgreement < 0 || req.SensorAgreement > 1 {
		return nil, invalidInput("sensor agreement %.2f is outside [0,1]", req.SensorAgreement)
	}

	c, err := e.repo.GetCluster(ctx, req.ClusterID)
	if errors.Is(err, patch.ErrNotFound) {
		return nil, notFound("cluster", req.ClusterID)
	}
	if err != nil {
		return nil, fmt.Errorf("get cluster %s: %w", req.ClusterID, err)
	}

	id := req.ID
	if id == "" {
		id = fmt.Sprintf("SHM-%02d-%s", c.Zone, strings.ToUpper(uuid.NewString()[:4]))
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	now := e.now()
	ttl := e.ttl[c.PatchType]
	if ttl == 0 {
		ttl = DefaultTTLDays
	}

	ev := patch.Evidence{
		Vehicles:        c.Vehicles,
		Passes:          c.Passes,
		TimeSpreadDays:  c.TimeSpreadDays,
		SensorAgreement: req.SensorAgreement,
		Confidence:      c.Confidence,
		Factors:         patch.ConfidenceFactors{SensorAgreement: req.SensorAgreement},
	}
	if req.Evidence != nil {
		ev = *req.Evidence
		ev.Items = append([]patch.EvidenceItem(nil), req.Evidence.Items...)
	}
	triggers := req.RollbackTriggers
	if len(triggers) == 0 {
		triggers = e.triggers
	}

	p := &patch.Patch{
		ID:               id,
		ClusterID:        c.ID,
		Type:             c.PatchType,
		Zone:             c.Zone,
		LocationLabel:    c.LocationLabel,
		Lat:              c.Lat,
		Lng:              c.Lng,
		GeoFenceRadiusM:  req.GeoFenceRadiusM,
		GeometryDelta:    req.GeometryDelta,
		Stage:            patch.StageCandidate,
		CreatedAt:        now,
		TTLDays:          ttl,
		ExpiresAt:        now.Add(time.Duration(ttl) * 24 * time.Hour),
		Evidence:         ev,
		RollbackTriggers: append([]patch.RollbackTrigger(nil), triggers...),
	}

	ref, err := ArtifactRef(p)
	if err != nil {
		return nil, err
	}
	created := audit.Event{
		ID:          audit.NextID(p.ID, nil),
		Action:      audit.ActionCreated,
		Actor:       actor,
		Timestamp:   now,
		Reason:      "Drafted from cluster " + c.ID,
		ArtifactRef: ref,
	}
	if p.AuditLog, err = audit.Append(p.ID, nil, created); err != nil {
		return nil, err
	}

	if err := e.repo.CreatePatch(ctx, p); err != nil {
		if errors.Is(err, patch.ErrExists) {
			return nil, invalidTransition("patch %s already exists", id)
		}
		return nil, fmt.Errorf("create patch %s: %w", id, err)
	}

	if c.Status == patch.ClusterNew {
		if err := e.repo.UpdateClusterStatus(ctx, c.ID, patch.ClusterInReview); err != nil {
			e.logger.Warn("cluster status not advanced after draft", "cluster", c.ID, "error", err)
		}
	}

	e.logger.Info("patch drafted",
		"patch", id,
		"cluster", c.ID,
		"type", string(p.Type),
		"zone", p.Zone,
		"actor", actor,
		"request_id", authz.RequestIDFromContext(ctx),
	)
	e.audit.Publish(audit.NewPatchRecord(audit.RecordPatchCreated, id, created, role.String(), authz.RequestIDFromContext(ctx)))
	return p.Clone(), nil
}

// Block places a hold on a patch. A held patch cannot be promoted until it
// is approved. Rollback is still allowed.
func (e *Engine) Block(ctx context.Context, id, reason string, role authz.Role, actor string) (_ *patch.Patch, err error) {
	defer e.observe("block", time.Now(), &err)
	return e.mutate(ctx, id, role, actor, authz.ActionBlock, func(p *patch.Patch) (entry, error) {
		if p.Stage.IsTerminal() {
			return entry{}, invalidTransition("cannot block %s in %s", id, p.Stage)
		}
		if p.Blocked {
			return entry{}, invalidTransition("patch %s is already on hold", id)
		}
		if reason == "" {
			reason = "Blocked by " + role.String()
		}
		p.Blocked = true
		p.BlockReason = reason
		return entry{action: audit.ActionBlocked, reason: reason, record: audit.RecordPatchBlocked}, nil
	})
}

// Approve clears a hold. Approving a patch that is not held records the
// approval without other effect.
func (e *Engine) Approve(ctx context.Context, id, reason string, role authz.Role, actor string) (_ *patch.Patch, err error) {
	defer e.observe("approve", time.Now(), &err)
	return e.mutate(ctx, id, role, actor, authz.ActionApprove, func(p *patch.Patch) (entry, error) {
		if p.Stage.IsTerminal() {
			return entry{}, invalidTransition("cannot approve %s in %s", id, p.Stage)
		}
		p.Blocked = false
		p.BlockReason = ""
		return entry{action: audit.ActionApproved, reason: reason, record: audit.RecordPatchApproved}, nil
	})
}

// AddSafetyNote attaches a free-text note to the patch's audit trail.
func (e *Engine) AddSafetyNote(ctx context.Context, id, note string, role authz.Role, actor string) (_ *patch.Patch, err error) {
	defer e.observe("safety_note", time.Now(), &err)
	return e.mutate(ctx, id, role, actor, authz.ActionCreateSafetyNote, func(p *patch.Patch) (entry, error) {
		if strings.TrimSpace(note) == "" {
			return entry{}, invalidInput("safety note is empty")
		}
		return entry{action: audit.ActionSafetyNote, reason: note, record: audit.RecordPatchNote}, nil
	})
}

// RequestEvidence records that more evidence is needed before review
// continues.
func (e *Engine) RequestEvidence(ctx context.Context, id, reason string, role authz.Role, actor string) (_ *patch.Patch, err error) {
	defer e.observe("request_evidence", time.Now(), &err)
	return e.mutate(ctx, id, role, actor, authz.ActionRequestEvidence, func(p *patch.Patch) (entry, error) {
		if strings.TrimSpace(reason) == "" {
			return entry{}, invalidInput("evidence request needs a reason")
		}
		return entry{action: audit.ActionEvidenceRequested, reason: reason, record: audit.RecordEvidenceRequested}, nil
	})
}

// mutate runs a non-stage patch mutation under the patch lock. fn edits p in
// place and describes the event to append; an error from fn aborts with no
// effect.
func (e *Engine) mutate(ctx context.Context, id string, role authz.Role, actor string, action authz.Action, fn func(p *patch.Patch) (entry, error)) (*patch.Patch, error) {
	ctx, _ = authz.EnsureRequestID(ctx)
	if err := e.authorize(ctx, role, actor, action, authz.PatchResource(id)); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	en, err := fn(p)
	if err != nil {
		return nil, err
	}
	en.actor = actor
	en.role = role.String()

	ev, err := e.commit(ctx, p, en, e.now())
	if err != nil {
		return nil, err
	}
	e.logger.Info("patch updated",
		"patch", id,
		"action", ev.Action,
		"event", ev.ID,
		"actor", actor,
		"request_id", authz.RequestIDFromContext(ctx),
	)
	return p.Clone(), nil
}

// clusterActions maps an operator-settable cluster status to the action
// that authorizes it.
var clusterActions = map[patch.ClusterStatus]authz.Action{
	patch.ClusterDuplicate:         authz.ActionMarkDuplicate,
	patch.ClusterBlocked:           authz.ActionBlock,
	patch.ClusterReadyForPromotion: authz.ActionApprove,
	patch.ClusterInReview:          authz.ActionRequestEvidence,
}

// MarkDuplicate flags a mismatch cluster as a duplicate of another.
func (e *Engine) MarkDuplicate(ctx context.Context, clusterID string, role authz.Role, actor string) (*patch.MismatchCluster, error) {
	return e.UpdateClusterStatus(ctx, clusterID, patch.ClusterDuplicate, role, actor)
}

// UpdateClusterStatus edits a mismatch cluster's review status. Cluster
// status is bookkeeping for operators and never moves a patch.
func (e *Engine) UpdateClusterStatus(ctx context.Context, clusterID string, status patch.ClusterStatus, role authz.Role, actor string) (_ *patch.MismatchCluster, err error) {
	defer e.observe("cluster_status", time.Now(), &err)
	ctx, _ = authz.EnsureRequestID(ctx)

	action, ok := clusterActions[status]
	if !ok {
		return nil, invalidTransition("cluster status cannot be set to %q", status)
	}
	if err := e.authorize(ctx, role, actor, action,
		authz.Resource{Type: authz.EntityCluster, ID: clusterID}); err != nil {
		return nil, err
	}

	if err := e.repo.UpdateClusterStatus(ctx, clusterID, status); err != nil {
		if errors.Is(err, patch.ErrNotFound) {
			return nil, notFound("cluster", clusterID)
		}
		return nil, fmt.Errorf("update cluster %s: %w", clusterID, err)
	}
	c, err := e.repo.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("get cluster %s: %w", clusterID, err)
	}

	e.logger.Info("cluster status changed",
		"cluster", clusterID,
		"status", string(status),
		"actor", actor,
		"request_id", authz.RequestIDFromContext(ctx),
	)
	e.audit.Publish(audit.NewClusterStatus(actor, role.String(), clusterID, string(status), e.now(), authz.RequestIDFromContext(ctx)))
	return c, nil
}

// SetThresholds validates and installs new safety thresholds. Gate
// evaluations already in flight keep the thresholds they started with.
func (e *Engine) SetThresholds(ctx context.Context, th safety.Thresholds, role authz.Role, actor string) (err error) {
	defer e.observe("set_thresholds", time.Now(), &err)
	ctx, _ = authz.EnsureRequestID(ctx)

	if err := e.authorize(ctx, role, actor, authz.ActionChangeThresholds,
		authz.Resource{Type: authz.EntityThresholds, ID: "safety"}); err != nil {
		return err
	}
	if err := th.Validate(); err != nil {
		return invalidInput("%v", err)
	}

	next := th.Clone()
	if e.settings != nil {
		if err := e.settings.SaveThresholds(ctx, next); err != nil {
			return fmt.Errorf("save thresholds: %w", err)
		}
	}
	e.thresholds.Store(&next)

	e.logger.Warn("safety thresholds changed",
		"min_vehicles", next.MinVehicles,
		"min_passes", next.MinPasses,
		"min_time_spread_days", next.MinTimeSpreadDays,
		"min_sensor_agreement", next.MinSensorAgreement,
		"actor", actor,
		"request_id", authz.RequestIDFromContext(ctx),
	)
	e.audit.Publish(audit.NewThresholdsChanged(actor, role.String(), thresholdDetails(next), e.now(), authz.RequestIDFromContext(ctx)))
	return nil
}

func thresholdDetails(th safety.Thresholds) map[string]string {
	types := make([]string, 0, len(th.AllowedTypes))
	for _, t := range th.AllowedTypes {
		types = append(types, string(t))
	}
	return map[string]string{
		"min_vehicles":         strconv.Itoa(th.MinVehicles),
		"min_passes":           strconv.Itoa(th.MinPasses),
		"min_time_spread_days": strconv.Itoa(th.MinTimeSpreadDays),
		"min_sensor_agreement": strconv.FormatFloat(th.MinSensorAgreement, 'f', -1, 64),
		"allowed_types":        strings.Join(types, ","),
	}
}
