package manager

import (
	"context"
	"time"
)

// StartMonitor launches the background monitor. It is a no-op after the first
// call. The monitor stops when Close is called.
func (m *Manager) StartMonitor() {
	m.monitorOnce.Do(func() {
		m.wg.Add(1)
		go m.monitorLoop()
	})
}

func (m *Manager) monitorLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.MemoryCheckInterval)
	defer t.Stop()
	m.log.Info().Dur("interval", m.cfg.MemoryCheckInterval).Msg("monitor started")
	for {
		select {
		case <-m.stopCh:
			m.log.Info().Msg("monitor stopped")
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.MemoryCheckInterval)
			m.Sweep(ctx)
			cancel()
		}
	}
}

// Sweep runs one monitor pass: idle models are unloaded, then memory pressure
// is relieved. It returns the ids unloaded for idleness and evicted for pressure.
func (m *Manager) Sweep(ctx context.Context) (idle, pressured []string) {
	idle = m.unloadIdle(ctx)
	pressured = m.relievePressure(ctx)
	return idle, pressured
}

func (m *Manager) unloadIdle(ctx context.Context) []string {
	now := m.now()
	m.mu.Lock()
	var ids []string
	for id, inst := range m.instances {
		if inst.state == StateLoaded && !inst.inUse() && now.Sub(inst.lastUsedAt) > m.idleLimit(inst) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	var out []string
	for _, id := range ids {
		// idleness already exceeds the in-use window; force skips the re-check
		if m.UnloadModel(ctx, id, true) {
			idleUnloadsTotal.Inc()
			m.log.Info().Str("event", "idle_unload").Str("model", id).Msg("unloaded idle model")
			out = append(out, id)
		}
	}
	return out
}

// relievePressure evicts when accounted or host memory utilisation is above
// the threshold. Accounted pressure evicts until utilisation is back under the
// threshold; host pressure evicts a single candidate per pass since its effect
// is only visible on the next sample.
func (m *Manager) relievePressure(ctx context.Context) []string {
	hostUtil := -1.0
	if m.sampler != nil {
		if u, err := m.sampler(ctx); err == nil {
			hostUtil = u
			hostMemoryRatio.Set(u)
		} else {
			m.log.Debug().Err(err).Msg("host memory sample failed")
		}
	}

	m.mu.Lock()
	if hostUtil >= 0 {
		m.hostMemPercent = hostUtil * 100
	}
	_, used := m.usageLocked()
	limit := m.cfg.PressureThreshold * float64(m.cfg.MaxMemoryUsageMB)
	var victims []*instance
	cands := m.evictionCandidatesLocked("")
	for _, c := range cands {
		if float64(used) <= limit {
			break
		}
		victims = append(victims, c)
		used -= c.footprintMB
	}
	if len(victims) == 0 && hostUtil > m.cfg.PressureThreshold && len(cands) > 0 {
		victims = cands[:1]
	}
	if len(victims) == 0 {
		m.mu.Unlock()
		return nil
	}
	evicted := m.evictLocked(victims, "pressure")
	m.mu.Unlock()
	m.log.Warn().Str("event", "memory_pressure").Int("evicting", len(evicted)).Float64("host_util", hostUtil).Msg("relieving memory pressure")
	m.finishEvictions(ctx, evicted)
	out := make([]string, len(evicted))
	for i, e := range evicted {
		out[i] = e.id
	}
	return out
}
