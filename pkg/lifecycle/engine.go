package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/authz"
	"github.com/gobeyondidentity/shm/pkg/distribution"
	"github.com/gobeyondidentity/shm/pkg/killswitch"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

// Authorizer gates every operator action.
type Authorizer interface {
	Require(ctx context.Context, req authz.Request) error
}

// Config contains options for the Engine. Zero values select defaults.
type Config struct {
	// Authorizer for RBAC checks. If nil, a Cedar authorizer generated from
	// the static permission table is created.
	Authorizer Authorizer

	// KillSwitch overlays effective state. If nil, a switch backed by the
	// repository's zones is created with no persister.
	KillSwitch *killswitch.Switch

	// Thresholds for the safety gates. Zero value means
	// safety.DefaultThresholds().
	Thresholds *safety.Thresholds

	// Settings persists threshold changes. When set, stored thresholds
	// override Thresholds at construction.
	Settings SettingsStore

	// GatedStages are promotion targets that require a passing checklist.
	// If nil, Silent and Active are gated.
	GatedStages []patch.Stage

	// TTLDays per patch type for new drafts. Missing types use DefaultTTLDays.
	TTLDays map[patch.Type]int

	// DefaultTriggers are attached to drafts that name none.
	DefaultTriggers []patch.RollbackTrigger

	// Distribution metrics recorded for live rollouts.
	Distribution *distribution.Defaults

	// Audit publishes records outward. If nil, records are dropped.
	Audit *audit.Fanout

	// Logger for structured logging. If nil, uses slog.Default().
	Logger *slog.Logger

	// Clock returns the current time. If nil, uses time.Now.
	Clock func() time.Time

	// Registerer receives the engine metrics. If nil, a private registry is
	// used.
	Registerer prometheus.Registerer
}

// DefaultTTLDays applies to patch types with no configured TTL.
const DefaultTTLDays = 14

// DefaultTTLs returns the per-type draft lifetimes.
func DefaultTTLs() map[patch.Type]int {
	return map[patch.Type]int{
		patch.TypeLaneGeometry:    14,
		patch.TypeTurnRestriction: 14,
		patch.TypeSpeedAdvisory:   7,
	}
}

// DefaultRollbackTriggers returns the triggers attached to drafts by default.
func DefaultRollbackTriggers() []patch.RollbackTrigger {
	return []patch.RollbackTrigger{
		{Name: "Localization residual spike", Threshold: 0.15, Unit: "m"},
		{Name: "Planner divergence", Threshold: 0.20},
		{Name: "Safety proxy regression", Threshold: 0.05, Unit: "%"},
	}
}

// Engine is the patch lifecycle state machine. All mutations of a single
// patch are serialized; operations on different patches run concurrently.
type Engine struct {
	repo       Repository
	authz      Authorizer
	kill       *killswitch.Switch
	settings   SettingsStore
	tracker    *distribution.Tracker
	thresholds atomic.Pointer[safety.Thresholds]
	gated      map[patch.Stage]bool
	ttl        map[patch.Type]int
	triggers   []patch.RollbackTrigger
	audit      *audit.Fanout
	logger     *slog.Logger
	now        func() time.Time
	metrics    *Metrics
	locks      *keyedMutex
}

// New creates an engine over repo.
func New(ctx context.Context, repo Repository, cfg Config) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("lifecycle: repository is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	az := cfg.Authorizer
	if az == nil {
		a, err := authz.NewAuthorizer(authz.Config{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("create authorizer: %w", err)
		}
		az = a
	}

	kill := cfg.KillSwitch
	if kill == nil {
		kill = killswitch.New(killswitch.Config{
			Authorizer: az,
			Zones:      repoZones{repo: repo},
			Audit:      cfg.Audit,
			Logger:     logger,
			Clock:      now,
		})
	}

	th := safety.DefaultThresholds()
	if cfg.Thresholds != nil {
		th = cfg.Thresholds.Clone()
	}
	if cfg.Settings != nil {
		stored, ok, err := cfg.Settings.LoadThresholds(ctx)
		if err != nil {
			return nil, fmt.Errorf("load thresholds: %w", err)
		}
		if ok {
			th = stored
		}
	}
	if err := th.Validate(); err != nil {
		return nil, err
	}

	gatedStages := cfg.GatedStages
	if gatedStages == nil {
		gatedStages = []patch.Stage{patch.StageSilent, patch.StageActive}
	}
	gated := make(map[patch.Stage]bool, len(gatedStages))
	for _, s := range gatedStages {
		gated[s] = true
	}

	ttl := DefaultTTLs()
	for t, d := range cfg.TTLDays {
		ttl[t] = d
	}

	triggers := cfg.DefaultTriggers
	if triggers == nil {
		triggers = DefaultRollbackTriggers()
	}

	dist := distribution.DefaultDefaults()
	if cfg.Distribution != nil {
		dist = *cfg.Distribution
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	e := &Engine{
		repo:     repo,
		authz:    az,
		kill:     kill,
		settings: cfg.Settings,
		tracker:  distribution.NewTracker(dist),
		gated:    gated,
		ttl:      ttl,
		triggers: triggers,
		audit:    cfg.Audit,
		logger:   logger,
		now:      now,
		metrics:  NewMetrics(reg),
		locks:    newKeyedMutex(),
	}
	e.thresholds.Store(&th)
	return e, nil
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// KillSwitch returns the switch consulted by EffectiveStage.
func (e *Engine) KillSwitch() *killswitch.Switch { return e.kill }

// Thresholds returns a copy of the active safety thresholds.
func (e *Engine) Thresholds() safety.Thresholds {
	return e.thresholds.Load().Clone()
}

// IsGated reports whether promotion to s requires a passing checklist.
func (e *Engine) IsGated(s patch.Stage) bool { return e.gated[s] }

// authorize runs the RBAC check and maps a denial to ErrUnauthorized.
func (e *Engine) authorize(ctx context.Context, role authz.Role, actor string, action authz.Action, res authz.Resource) error {
	err := e.authz.Require(ctx, authz.Request{Actor: actor, Role: role, Action: action, Resource: res})
	if err == nil {
		return nil
	}
	if authz.IsForbidden(err) {
		e.metrics.DenialsTotal.WithLabelValues(action.String()).Inc()
		return unauthorized(role, action)
	}
	return fmt.Errorf("authorize %s: %w", action, err)
}

// load fetches a patch, mapping a missing record to ErrNotFound.
func (e *Engine) load(ctx context.Context, id string) (*patch.Patch, error) {
	p, err := e.repo.GetPatch(ctx, id)
	if errors.Is(err, patch.ErrNotFound) {
		return nil, notFound("patch", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patch %s: %w", id, err)
	}
	return p, nil
}

func (e *Engine) currentRow(ctx context.Context, id string) (*patch.DistributionRow, error) {
	row, err := e.repo.GetDistribution(ctx, id)
	if errors.Is(err, patch.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get distribution %s: %w", id, err)
	}
	return row, nil
}

// artifact is the content-addressed view of a patch. Audit trail and derived
// distribution fields are excluded so the reference identifies what is
// distributed, not its history.
type artifact struct {
	ID               string                  `json:"id"`
	ClusterID        string                  `json:"cluster_id"`
	Type             patch.Type              `json:"type"`
	Zone             int                     `json:"zone"`
	Lat              float64                 `json:"lat"`
	Lng              float64                 `json:"lng"`
	GeoFenceRadiusM  float64                 `json:"geofence_radius_m"`
	GeometryDelta    patch.GeometryDelta     `json:"geometry_delta"`
	Stage            patch.Stage             `json:"stage"`
	ExpiresAt        time.Time               `json:"expires_at"`
	Evidence         patch.Evidence          `json:"evidence"`
	RollbackTriggers []patch.RollbackTrigger `json:"rollback_triggers"`
}

// ArtifactRef returns the content reference recorded on stage-changing audit
// events for p in its current state.
func ArtifactRef(p *patch.Patch) (string, error) {
	ref, err := audit.ContentRef(artifact{
		ID:               p.ID,
		ClusterID:        p.ClusterID,
		Type:             p.Type,
		Zone:             p.Zone,
		Lat:              p.Lat,
		Lng:              p.Lng,
		GeoFenceRadiusM:  p.GeoFenceRadiusM,
		GeometryDelta:    p.GeometryDelta,
		Stage:            p.Stage,
		ExpiresAt:        p.ExpiresAt,
		Evidence:         p.Evidence,
		RollbackTriggers: p.RollbackTriggers,
	})
	if err != nil {
		return "", fmt.Errorf("artifact reference for %s: %w", p.ID, err)
	}
	return ref, nil
}

// entry describes the audit event a mutation appends.
type entry struct {
	action    string
	actor     string
	reason    string
	withRef   bool
	recompute bool // stage changed, so the distribution row follows
	record    audit.RecordType
	role      string
}

// commit appends the audit event for a mutation already applied to p,
// recomputes the distribution row when the stage changed, and writes all of
// it in one repository call. p is updated in place with the committed state.
func (e *Engine) commit(ctx context.Context, p *patch.Patch, en entry, now time.Time) (audit.Event, error) {
	ev := audit.Event{
		ID:        audit.NextID(p.ID, p.AuditLog),
		Action:    en.action,
		Actor:     en.actor,
		Timestamp: now,
		Reason:    en.reason,
	}
	if en.withRef {
		ref, err := ArtifactRef(p)
		if err != nil {
			return audit.Event{}, err
		}
		ev.ArtifactRef = ref
	}

	log, err := audit.Append(p.ID, p.AuditLog, ev)
	if err != nil {
		return audit.Event{}, err
	}
	p.AuditLog = log

	var row *patch.DistributionRow
	if en.recompute {
		prev, err := e.currentRow(ctx, p.ID)
		if err != nil {
			return audit.Event{}, err
		}
		row = e.tracker.Recompute(prev, p, now)
		distribution.Apply(p, row)
	}

	if err := e.repo.CommitPatch(ctx, p, row, ev); err != nil {
		return audit.Event{}, fmt.Errorf("commit patch %s: %w", p.ID, err)
	}

	e.audit.Publish(audit.NewPatchRecord(en.record, p.ID, ev, en.role, authz.RequestIDFromContext(ctx)))
	return ev, nil
}

// observe records operation latency. Use with defer.
func (e *Engine) observe(op string, start time.Time, err *error) {
	result := "ok"
	if *err != nil {
		result = "error"
	}
	e.metrics.OperationDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
