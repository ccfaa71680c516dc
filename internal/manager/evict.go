package manager

import (
	"context"
	"sort"
)

type evictedHandle struct {
	id     string
	handle Handle
}

// evictionCandidatesLocked returns loaded models with no in-flight or queued
// work, lowest priority first, then least recently used.
func (m *Manager) evictionCandidatesLocked(exclude string) []*instance {
	var out []*instance
	for id, inst := range m.instances {
		if id == exclude || inst.state != StateLoaded || inst.inUse() {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.desc.Priority != b.desc.Priority {
			return a.desc.Priority < b.desc.Priority
		}
		if !a.lastUsedAt.Equal(b.lastUsedAt) {
			return a.lastUsedAt.Before(b.lastUsedAt)
		}
		return a.desc.ID < b.desc.ID
	})
	return out
}

// planEvictionLocked picks victims in eviction order until a load of needMB
// fits. It reports false, and evicts nothing, when the candidates run out first.
func (m *Manager) planEvictionLocked(needMB int, exclude string) ([]*instance, bool) {
	count, used := m.usageLocked()
	var victims []*instance
	for _, c := range m.evictionCandidatesLocked(exclude) {
		if m.fits(count, used, needMB) {
			break
		}
		victims = append(victims, c)
		count--
		used -= c.footprintMB
	}
	if !m.fits(count, used, needMB) {
		return nil, false
	}
	return victims, true
}

// evictLocked moves victims to unloading and detaches their handles. The
// caller closes them with finishEvictions after releasing the lock.
func (m *Manager) evictLocked(victims []*instance, reason string) []evictedHandle {
	out := make([]evictedHandle, 0, len(victims))
	for _, v := range victims {
		v.state = StateUnloading
		out = append(out, evictedHandle{id: v.desc.ID, handle: v.handle})
		v.handle = nil
		m.evictions++
		evictionsTotal.WithLabelValues(reason).Inc()
		m.log.Info().Str("event", "evict").Str("model", v.desc.ID).Str("reason", reason).
			Int("priority", v.desc.Priority).Int("footprint_mb", v.footprintMB).Msg("evicting model")
		m.publish(EventEvict, v.desc.ID, map[string]any{"reason": reason})
	}
	return out
}

func (m *Manager) finishEvictions(ctx context.Context, evicted []evictedHandle) {
	if len(evicted) == 0 {
		return
	}
	for _, e := range evicted {
		m.closeHandle(e.id, e.handle)
	}
	m.mu.Lock()
	for _, e := range evicted {
		if inst := m.instances[e.id]; inst != nil && inst.state == StateUnloading {
			inst.state = StateUnloaded
		}
	}
	_, used := m.usageLocked()
	m.mu.Unlock()
	memoryUsedMB.Set(float64(used))
	m.refreshLoadedGauge()
	for _, e := range evicted {
		m.persistUsage(ctx, e.id)
	}
}

// MakeMemoryAvailable evicts until a load of needMB would fit. It returns
// false without evicting anything if that is not possible.
func (m *Manager) MakeMemoryAvailable(ctx context.Context, needMB int) bool {
	m.mu.Lock()
	count, used := m.usageLocked()
	if m.fits(count, used, needMB) {
		m.mu.Unlock()
		return true
	}
	victims, ok := m.planEvictionLocked(needMB, "")
	if !ok {
		m.mu.Unlock()
		return false
	}
	evicted := m.evictLocked(victims, "make_room")
	m.mu.Unlock()
	m.finishEvictions(ctx, evicted)
	return true
}
