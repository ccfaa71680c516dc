package manager

import (
	"time"

	"modelrouter/internal/common/fsutil"
	"modelrouter/internal/registry"
)

// estimateMB is the reservation used while a model loads: the declared hint,
// else the last measured footprint, else the file size. Remote models without
// a hint reserve 1MB so budget checks are never bypassed.
func estimateMB(d registry.Descriptor, lastFootprint int) int {
	switch {
	case d.MemoryHintMB > 0:
		return d.MemoryHintMB
	case lastFootprint > 0:
		return lastFootprint
	case d.Kind == registry.KindLlama:
		return fsutil.SizeMB(d.Location)
	}
	return 1
}

// usageLocked sums footprints of loaded models and reservations of loading ones.
func (m *Manager) usageLocked() (count, usedMB int) {
	for _, inst := range m.instances {
		switch inst.state {
		case StateLoaded:
			count++
			usedMB += inst.footprintMB
		case StateLoading:
			count++
			usedMB += inst.reservedMB
		}
	}
	return count, usedMB
}

func (m *Manager) fits(count, usedMB, needMB int) bool {
	return count+1 <= m.cfg.MaxModelsInMemory && usedMB+needMB <= m.cfg.MaxMemoryUsageMB
}

func (m *Manager) idleLimit(inst *instance) time.Duration {
	if inst.desc.MaxIdleSec > 0 {
		return time.Duration(inst.desc.MaxIdleSec) * time.Second
	}
	return m.cfg.ModelIdleTimeout
}

func (m *Manager) touchLocked(inst *instance) {
	inst.lastUsedAt = m.now()
	inst.usageCount++
}
