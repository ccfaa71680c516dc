package manager

import (
	"context"

	"modelrouter/internal/registry"
)

// persistUsage hands the usage counters of id back to the catalogue so LRU
// history survives restarts. Failures are logged, not returned.
func (m *Manager) persistUsage(ctx context.Context, id string) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	u := registry.Usage{LastUsedAt: inst.lastUsedAt, UsageCount: inst.usageCount, FootprintMB: inst.footprintMB}
	m.mu.Unlock()
	if err := m.cat.SaveUsage(context.WithoutCancel(ctx), id, u); err != nil {
		m.log.Warn().Err(err).Str("model", id).Msg("persist usage")
	}
}

// SaveUsage persists usage for every model the manager has touched.
func (m *Manager) SaveUsage(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.persistUsage(ctx, id)
	}
}
