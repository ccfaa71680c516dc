package manager

import (
	"modelrouter/internal/registry"
)

// Models returns the status of every catalogue entry matching f, sorted by id.
func (m *Manager) Models(f registry.Filter) []ModelStatus {
	descs := m.cat.List(f)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelStatus, 0, len(descs))
	for _, d := range descs {
		out = append(out, m.statusLocked(d))
	}
	return out
}

// ModelStatus returns the status of one model.
func (m *Manager) ModelStatus(id string) (ModelStatus, bool) {
	d, ok := m.cat.Get(id)
	if !ok {
		return ModelStatus{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(d), true
}

// Status builds the manager report for /status.
func (m *Manager) Status() Report {
	models := m.Models(registry.Filter{})
	m.mu.Lock()
	defer m.mu.Unlock()
	r := Report{
		MaxModels:         m.cfg.MaxModelsInMemory,
		MaxMemoryMB:       m.cfg.MaxMemoryUsageMB,
		HostMemoryPercent: m.hostMemPercent,
		Loads:             m.loads,
		Evictions:         m.evictions,
		LoadErrors:        m.loadErrors,
		CacheHits:         m.cacheHits,
		Models:            models,
	}
	for _, inst := range m.instances {
		switch inst.state {
		case StateLoaded:
			r.ModelsLoaded++
			r.UsedMemoryMB += inst.footprintMB
		case StateLoading:
			r.ModelsLoading++
			r.UsedMemoryMB += inst.reservedMB
		}
	}
	return r
}

func (m *Manager) statusLocked(d registry.Descriptor) ModelStatus {
	s := ModelStatus{
		ID:                d.ID,
		Subject:           d.Subject,
		Location:          d.Location,
		Kind:              d.Kind,
		Priority:          d.Priority,
		State:             StateUnloaded,
		MaxIdleSec:        d.MaxIdleSec,
		LastUsedAt:        d.LastUsedAt,
		UsageCount:        d.UsageCount,
		MemoryFootprintMB: d.FootprintMB,
	}
	if s.MaxIdleSec == 0 {
		s.MaxIdleSec = int(m.cfg.ModelIdleTimeout.Seconds())
	}
	inst, ok := m.instances[d.ID]
	if !ok {
		return s
	}
	s.State = inst.state
	s.LoadedAt = inst.loadedAt
	s.LastUsedAt = inst.lastUsedAt
	s.UsageCount = inst.usageCount
	s.MemoryFootprintMB = inst.footprintMB
	if inst.state == StateLoading {
		s.MemoryFootprintMB = inst.reservedMB
	}
	s.LoadTimeMS = inst.loadTime.Milliseconds()
	s.LoadCount = inst.loadCount
	s.LoadedFromCache = inst.fromCache
	s.ErrorMessage = inst.errMsg
	s.ErrorCount = inst.errorCount
	s.QueueLen = len(inst.queueCh)
	s.Inflight = len(inst.genCh)
	return s
}
