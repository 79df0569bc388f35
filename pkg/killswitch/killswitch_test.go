package killswitch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/authz"
)

type zones map[int]bool

func (z zones) HasZone(_ context.Context, id int) (bool, error) { return z[id], nil }

type memPersister struct {
	mu    sync.Mutex
	state *State
	err   error
}

func (m *memPersister) SaveKillSwitch(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.state = &st
	return nil
}

func (m *memPersister) LoadKillSwitch(context.Context) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return State{}, false, nil
	}
	return *m.state, true, nil
}

type recordingEmitter struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recordingEmitter) Emit(rec audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func newTestSwitch(t *testing.T, p Persister) (*Switch, *recordingEmitter) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	a, err := authz.NewAuthorizer(authz.Config{Logger: logger})
	require.NoError(t, err)

	rec := &recordingEmitter{}
	s := New(Config{
		Authorizer: a,
		Zones:      zones{7: true, 12: true, 19: true},
		Persister:  p,
		Audit:      audit.NewFanout(logger, rec),
		Logger:     logger,
		Clock:      func() time.Time { return time.Date(2025, 2, 12, 9, 0, 0, 0, time.UTC) },
	})
	return s, rec
}

func TestSwitch_DefaultState(t *testing.T) {
	t.Parallel()

	s, _ := newTestSwitch(t, nil)
	assert.True(t, s.GlobalEnabled())
	for _, z := range []int{7, 12, 19, 99} {
		assert.False(t, s.Overridden(z))
	}
	snap := s.Snapshot()
	assert.True(t, snap.GlobalEnabled)
	assert.Empty(t, snap.DisabledZones)
}

func TestSwitch_OnlyAdminMayToggle(t *testing.T) {
	t.Parallel()

	s, rec := newTestSwitch(t, nil)
	ctx := context.Background()

	for _, r := range authz.Roles() {
		if r == authz.RoleAdmin {
			continue
		}
		err := s.SetGlobal(ctx, false, r, "someone")
		assert.True(t, authz.IsForbidden(err), "role %s: err = %v", r, err)
		err = s.SetZone(ctx, 19, true, r, "someone")
		assert.True(t, authz.IsForbidden(err), "role %s: err = %v", r, err)
	}
	assert.True(t, s.GlobalEnabled(), "denied toggles must not change state")
	assert.False(t, s.ZoneDisabled(19))
	assert.Empty(t, rec.records)
}

func TestSwitch_GlobalOverridesEveryZone(t *testing.T) {
	t.Parallel()

	s, rec := newTestSwitch(t, nil)
	ctx := context.Background()

	require.NoError(t, s.SetGlobal(ctx, false, authz.RoleAdmin, "root"))
	for _, z := range []int{7, 12, 19, 1234} {
		assert.True(t, s.Overridden(z), "zone %d", z)
	}
	require.Len(t, rec.records, 1)
	assert.Equal(t, audit.RecordKillSwitchGlobal, rec.records[0].Type)
	assert.Equal(t, "false", rec.records[0].Details["enabled"])

	require.NoError(t, s.SetGlobal(ctx, true, authz.RoleAdmin, "root"))
	assert.False(t, s.Overridden(7))
}

func TestSwitch_ZoneToggle(t *testing.T) {
	t.Parallel()

	s, rec := newTestSwitch(t, nil)
	ctx := context.Background()

	require.NoError(t, s.SetZone(ctx, 19, true, authz.RoleAdmin, "root"))
	assert.True(t, s.Overridden(19))
	assert.False(t, s.Overridden(7))
	assert.Equal(t, []int{19}, s.Snapshot().DisabledZones)

	require.NoError(t, s.SetZone(ctx, 19, false, authz.RoleAdmin, "root"))
	assert.False(t, s.Overridden(19))
	assert.Len(t, rec.records, 2)
}

func TestSwitch_UnknownZone(t *testing.T) {
	t.Parallel()

	s, _ := newTestSwitch(t, nil)
	err := s.SetZone(context.Background(), 42, true, authz.RoleAdmin, "root")
	assert.True(t, errors.Is(err, ErrUnknownZone), "err = %v", err)
	assert.False(t, s.ZoneDisabled(42))
}

func TestSwitch_PersistAndRestore(t *testing.T) {
	t.Parallel()

	p := &memPersister{}
	s, _ := newTestSwitch(t, p)
	ctx := context.Background()
	require.NoError(t, s.SetZone(ctx, 12, true, authz.RoleAdmin, "root"))
	require.NoError(t, s.SetGlobal(ctx, false, authz.RoleAdmin, "root"))

	t.Log("A fresh switch restored from the persister sees the same state")
	s2, _ := newTestSwitch(t, p)
	require.NoError(t, s2.Restore(ctx))
	assert.False(t, s2.GlobalEnabled())
	assert.True(t, s2.ZoneDisabled(12))
	assert.Equal(t, "root", s2.Snapshot().UpdatedBy)
}

func TestSwitch_PersistFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	p := &memPersister{err: errors.New("disk full")}
	s, rec := newTestSwitch(t, p)

	err := s.SetGlobal(context.Background(), false, authz.RoleAdmin, "root")
	require.Error(t, err)
	assert.True(t, s.GlobalEnabled())
	assert.Empty(t, rec.records)
}

func TestSwitch_ConcurrentReadsDuringWrites(t *testing.T) {
	t.Parallel()

	s, _ := newTestSwitch(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = s.Overridden(19)
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, s.SetZone(ctx, 19, i%2 == 0, authz.RoleAdmin, "root"))
	}
	close(stop)
	wg.Wait()
	assert.False(t, s.ZoneDisabled(19))
}
