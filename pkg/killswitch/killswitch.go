// Package killswitch implements the global and per-zone self-healing map
// override.
//
// When the global switch is disabled, or a patch's zone is disabled, the
// patch is treated as rolled back at read time. Toggling never touches
// stored patches, their audit trails or distribution rows.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/authz"
)

// ErrUnknownZone is returned when toggling a zone the registry does not know.
var ErrUnknownZone = errors.New("unknown zone")

// ZoneRegistry reports which zones exist.
type ZoneRegistry interface {
	HasZone(ctx context.Context, id int) (bool, error)
}

// Persister stores switch state across process restarts.
type Persister interface {
	SaveKillSwitch(ctx context.Context, st State) error
	LoadKillSwitch(ctx context.Context) (State, bool, error)
}

// Authorizer gates toggles.
type Authorizer interface {
	Require(ctx context.Context, req authz.Request) error
}

// State is a point-in-time view of the switch.
type State struct {
	GlobalEnabled bool      `json:"global_enabled" yaml:"global_enabled"`
	DisabledZones []int     `json:"disabled_zones" yaml:"disabled_zones"`
	UpdatedAt     time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	UpdatedBy     string    `json:"updated_by,omitempty" yaml:"updated_by,omitempty"`
}

// Config wires a Switch to its collaborators. Authorizer and Zones are
// required; the rest are optional.
type Config struct {
	Authorizer Authorizer
	Zones      ZoneRegistry
	Persister  Persister
	Audit      *audit.Fanout
	Logger     *slog.Logger
	Clock      func() time.Time
}

type zoneSet map[int]struct{}

// Switch holds override state. Reads are lock-free atomic loads; writes
// serialize on mu and publish a fresh zone set.
type Switch struct {
	global atomic.Bool // true means the system is enabled
	zones  atomic.Pointer[zoneSet]

	mu        sync.Mutex
	updatedAt time.Time
	updatedBy string

	authz     Authorizer
	registry  ZoneRegistry
	persister Persister
	audit     *audit.Fanout
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a switch in the default state: globally enabled, no zones
// disabled.
func New(cfg Config) *Switch {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	s := &Switch{
		authz:     cfg.Authorizer,
		registry:  cfg.Zones,
		persister: cfg.Persister,
		audit:     cfg.Audit,
		logger:    logger,
		now:       now,
	}
	s.global.Store(true)
	s.zones.Store(&zoneSet{})
	return s
}

// Restore loads persisted state, if a persister is configured and holds any.
func (s *Switch) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	st, ok, err := s.persister.LoadKillSwitch(ctx)
	if err != nil {
		return fmt.Errorf("load kill switch state: %w", err)
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	zs := make(zoneSet, len(st.DisabledZones))
	for _, z := range st.DisabledZones {
		zs[z] = struct{}{}
	}
	s.global.Store(st.GlobalEnabled)
	s.zones.Store(&zs)
	s.updatedAt, s.updatedBy = st.UpdatedAt, st.UpdatedBy
	return nil
}

// SetGlobal enables or disables the whole self-healing map system.
func (s *Switch) SetGlobal(ctx context.Context, enabled bool, role authz.Role, actor string) error {
	if err := s.authz.Require(ctx, authz.Request{
		Actor:    actor,
		Role:     role,
		Action:   authz.ActionKillSwitch,
		Resource: authz.Resource{Type: authz.EntityKillSwitch, ID: "global"},
	}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := s.stateLocked()
	next.GlobalEnabled = enabled
	next.UpdatedAt, next.UpdatedBy = now, actor
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.global.Store(enabled)
	s.updatedAt, s.updatedBy = now, actor

	level := slog.LevelInfo
	if !enabled {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "global kill switch toggled",
		"enabled", enabled,
		"actor", actor,
		"role", role.String(),
		"request_id", authz.RequestIDFromContext(ctx),
	)
	s.audit.Publish(audit.NewKillSwitchGlobal(actor, role.String(), enabled, now, authz.RequestIDFromContext(ctx)))
	return nil
}

// SetZone disables or re-enables the override for a single zone.
func (s *Switch) SetZone(ctx context.Context, zone int, disabled bool, role authz.Role, actor string) error {
	if err := s.authz.Require(ctx, authz.Request{
		Actor:    actor,
		Role:     role,
		Action:   authz.ActionKillSwitch,
		Resource: authz.Resource{Type: authz.EntityZone, ID: fmt.Sprint(zone)},
	}); err != nil {
		return err
	}

	ok, err := s.registry.HasZone(ctx, zone)
	if err != nil {
		return fmt.Errorf("look up zone %d: %w", zone, err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownZone, zone)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.zones.Load()
	zs := make(zoneSet, len(cur)+1)
	for z := range cur {
		zs[z] = struct{}{}
	}
	if disabled {
		zs[zone] = struct{}{}
	} else {
		delete(zs, zone)
	}

	now := s.now()
	next := State{
		GlobalEnabled: s.global.Load(),
		DisabledZones: sortedZones(zs),
		UpdatedAt:     now,
		UpdatedBy:     actor,
	}
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.zones.Store(&zs)
	s.updatedAt, s.updatedBy = now, actor

	s.logger.Warn("zone kill switch toggled",
		"zone", zone,
		"disabled", disabled,
		"actor", actor,
		"role", role.String(),
		"request_id", authz.RequestIDFromContext(ctx),
	)
	s.audit.Publish(audit.NewKillSwitchZone(actor, role.String(), zone, disabled, now, authz.RequestIDFromContext(ctx)))
	return nil
}

// GlobalEnabled reports whether the system is globally enabled.
func (s *Switch) GlobalEnabled() bool { return s.global.Load() }

// ZoneDisabled reports whether zone is individually disabled.
func (s *Switch) ZoneDisabled(zone int) bool {
	_, ok := (*s.zones.Load())[zone]
	return ok
}

// Overridden reports whether patches in zone are forced to rolled back.
// It never blocks.
func (s *Switch) Overridden(zone int) bool {
	return !s.GlobalEnabled() || s.ZoneDisabled(zone)
}

// Snapshot returns the current state.
func (s *Switch) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Switch) stateLocked() State {
	return State{
		GlobalEnabled: s.global.Load(),
		DisabledZones: sortedZones(*s.zones.Load()),
		UpdatedAt:     s.updatedAt,
		UpdatedBy:     s.updatedBy,
	}
}

func (s *Switch) persistLocked(ctx context.Context, st State) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveKillSwitch(ctx, st); err != nil {
		return fmt.Errorf("save kill switch state: %w", err)
	}
	return nil
}

func sortedZones(zs zoneSet) []int {
	out := make([]int, 0, len(zs))
	for z := range zs {
		out = append(out, z)
	}
	slices.Sort(out)
	return out
}
