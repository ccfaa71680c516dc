package manager

import (
	"context"
	"time"
)

// UnloadModel frees the handle of a loaded model. Without force it refuses
// models that have work queued or served a request within the in-use window.
// With force it stops admitting new work and waits up to the drain timeout
// for in-flight requests before closing. A model in the error state is reset
// to unloaded. It reports whether the model is now unloaded.
func (m *Manager) UnloadModel(ctx context.Context, id string, force bool) bool {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	switch inst.state {
	case StateError:
		inst.state = StateUnloaded
		m.mu.Unlock()
		return true
	case StateLoaded:
	default:
		m.mu.Unlock()
		return false
	}
	if !force {
		if inst.inUse() || m.now().Sub(inst.lastUsedAt) < m.cfg.InUseWindow {
			m.mu.Unlock()
			m.log.Debug().Str("event", "unload_refused").Str("model", id).Msg("model in use")
			return false
		}
	}
	inst.state = StateUnloading
	m.mu.Unlock()
	m.publish(EventUnloadStart, id, map[string]any{"force": force})

	m.drain(ctx, id, inst)

	m.mu.Lock()
	h := inst.handle
	inst.handle = nil
	m.mu.Unlock()
	m.closeHandle(id, h)

	m.mu.Lock()
	inst.state = StateUnloaded
	_, used := m.usageLocked()
	m.mu.Unlock()
	memoryUsedMB.Set(float64(used))
	m.refreshLoadedGauge()
	m.persistUsage(ctx, id)
	m.log.Info().Str("event", "unload_done").Str("model", id).Bool("force", force).Msg("model unloaded")
	m.publish(EventUnloadDone, id, nil)
	return true
}

// drain waits for in-flight and queued requests to finish, bounded by the
// drain timeout and ctx.
func (m *Manager) drain(ctx context.Context, id string, inst *instance) {
	deadline := time.Now().Add(m.cfg.DrainTimeout)
	for {
		m.mu.Lock()
		qlen, inflight := len(inst.queueCh), len(inst.genCh)
		m.mu.Unlock()
		if inflight == 0 && qlen == 0 {
			return
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			m.log.Warn().Str("event", "unload_timeout").Str("model", id).Int("inflight", inflight).Int("queue", qlen).Msg("drain incomplete")
			m.publish(EventUnloadTimeout, id, map[string]any{"inflight": inflight, "queue": qlen})
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
