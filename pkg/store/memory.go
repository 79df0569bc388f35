package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/killswitch"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

// Memory is an in-process repository with the same contract as Store.
// Values are copied on the way in and out so callers never share state with
// the repository.
type Memory struct {
	mu           sync.RWMutex
	patches      map[string]*patch.Patch
	distribution map[string]*patch.DistributionRow
	zones        map[int]*patch.Zone
	clusters     map[string]*patch.MismatchCluster
	kill         *killswitch.State
	thresholds   *safety.Thresholds
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		patches:      make(map[string]*patch.Patch),
		distribution: make(map[string]*patch.DistributionRow),
		zones:        make(map[int]*patch.Zone),
		clusters:     make(map[string]*patch.MismatchCluster),
	}
}

func (m *Memory) GetPatch(_ context.Context, id string) (*patch.Patch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patches[id]
	if !ok {
		return nil, fmt.Errorf("patch %s: %w", id, patch.ErrNotFound)
	}
	return p.Clone(), nil
}

func (m *Memory) ListPatches(_ context.Context, f patch.Filter) ([]*patch.Patch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*patch.Patch
	for _, p := range m.patches {
		if f.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreatePatch(_ context.Context, p *patch.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patches[p.ID]; ok {
		return fmt.Errorf("patch %s: %w", p.ID, patch.ErrExists)
	}
	m.patches[p.ID] = p.Clone()
	return nil
}

func (m *Memory) CommitPatch(_ context.Context, p *patch.Patch, row *patch.DistributionRow, ev audit.Event) error {
	if n := len(p.AuditLog); n == 0 || p.AuditLog[n-1].ID != ev.ID {
		return fmt.Errorf("event %s is not the newest entry of patch %s", ev.ID, p.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.patches[p.ID]
	if !ok {
		return fmt.Errorf("patch %s: %w", p.ID, patch.ErrNotFound)
	}
	if len(cur.AuditLog) != len(p.AuditLog)-1 {
		return fmt.Errorf("patch %s: %w", p.ID, ErrStaleTrail)
	}

	m.patches[p.ID] = p.Clone()
	if row != nil {
		m.distribution[p.ID] = row.Clone()
	}
	return nil
}

func (m *Memory) GetDistribution(_ context.Context, patchID string) (*patch.DistributionRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.distribution[patchID]
	if !ok {
		return nil, fmt.Errorf("distribution %s: %w", patchID, patch.ErrNotFound)
	}
	return r.Clone(), nil
}

func (m *Memory) ListDistribution(_ context.Context) ([]*patch.DistributionRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*patch.DistributionRow, 0, len(m.distribution))
	for _, r := range m.distribution {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatchID < out[j].PatchID })
	return out, nil
}

func (m *Memory) GetZone(_ context.Context, id int) (*patch.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[id]
	if !ok {
		return nil, fmt.Errorf("zone %d: %w", id, patch.ErrNotFound)
	}
	return cloneZone(z), nil
}

func (m *Memory) HasZone(_ context.Context, id int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.zones[id]
	return ok, nil
}

func (m *Memory) ListZones(_ context.Context) ([]*patch.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*patch.Zone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, cloneZone(z))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutZone(_ context.Context, z *patch.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[z.ID] = cloneZone(z)
	return nil
}

func (m *Memory) GetCluster(_ context.Context, id string) (*patch.MismatchCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[id]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", id, patch.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListClusters(_ context.Context) ([]*patch.MismatchCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*patch.MismatchCluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) PutCluster(_ context.Context, c *patch.MismatchCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clusters[c.ID] = &cp
	return nil
}

func (m *Memory) UpdateClusterStatus(_ context.Context, id string, status patch.ClusterStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %s: %w", id, patch.ErrNotFound)
	}
	c.Status = status
	return nil
}

func (m *Memory) SaveKillSwitch(_ context.Context, st killswitch.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.DisabledZones = append([]int(nil), st.DisabledZones...)
	m.kill = &st
	return nil
}

func (m *Memory) LoadKillSwitch(_ context.Context) (killswitch.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.kill == nil {
		return killswitch.State{}, false, nil
	}
	st := *m.kill
	st.DisabledZones = append([]int(nil), m.kill.DisabledZones...)
	return st, true, nil
}

func (m *Memory) SaveThresholds(_ context.Context, th safety.Thresholds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := th.Clone()
	m.thresholds = &c
	return nil
}

func (m *Memory) LoadThresholds(_ context.Context) (safety.Thresholds, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.thresholds == nil {
		return safety.Thresholds{}, false, nil
	}
	return m.thresholds.Clone(), true, nil
}

func cloneZone(z *patch.Zone) *patch.Zone {
	c := *z
	if z.LastRollback != nil {
		t := *z.LastRollback
		c.LastRollback = &t
	}
	return &c
}
