package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modelrouter/internal/cache"
	"modelrouter/internal/registry"
)

type loadResult struct {
	handle    Handle
	fromCache bool
	err       error
}

// LoadModel makes id resident. A model that is already loaded is a cache hit:
// its usage is bumped and no I/O happens unless force is set. A model that is
// loading or unloading yields a busy error instead of a duplicate load. When
// the ceilings would be exceeded the eviction plan runs first; if it cannot
// make room a MemoryPressureError is returned and nothing is evicted.
func (m *Manager) LoadModel(ctx context.Context, id string, force bool) (Handle, error) {
	startTs := m.now()
	m.mu.Lock()
	inst, err := m.instanceLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	switch inst.state {
	case StateLoaded:
		if !force {
			m.touchLocked(inst)
			h := inst.handle
			m.mu.Unlock()
			return h, nil
		}
		if inst.inUse() {
			m.mu.Unlock()
			return nil, tooBusyError{modelID: id, reason: "reload while serving"}
		}
		// forced reload drops the current handle first
		old := inst.handle
		inst.state = StateUnloading
		m.mu.Unlock()
		m.closeHandle(id, old)
		m.mu.Lock()
		inst.state = StateUnloaded
		inst.handle = nil
	case StateLoading, StateUnloading:
		st := inst.state
		m.mu.Unlock()
		return nil, tooBusyError{modelID: id, reason: string(st)}
	}
	if m.closed {
		m.mu.Unlock()
		return nil, ErrDependencyUnavailable("manager closed")
	}

	need := estimateMB(inst.desc, inst.footprintMB)
	var evicted []evictedHandle
	if count, used := m.usageLocked(); !m.fits(count, used, need) {
		victims, ok := m.planEvictionLocked(need, id)
		if !ok {
			m.mu.Unlock()
			err := &MemoryPressureError{ModelID: id, RequiredMB: need, UsedMB: used, MaxMB: m.cfg.MaxMemoryUsageMB,
				LoadedModels: count, MaxModels: m.cfg.MaxModelsInMemory}
			m.log.Warn().Str("event", "load_no_room").Str("model", id).Int("need_mb", need).Int("used_mb", used).Msg("cannot make room")
			m.publish(EventLoadNoRoom, id, map[string]any{"need_mb": need})
			return nil, err
		}
		evicted = m.evictLocked(victims, "make_room")
	}
	inst.state = StateLoading
	inst.reservedMB = need
	inst.errMsg = ""
	desc := inst.desc
	m.mu.Unlock()

	m.finishEvictions(ctx, evicted)
	m.log.Info().Str("event", "load_start").Str("model", id).Str("kind", desc.Kind).Int("reserve_mb", need).Msg("loading model")
	m.publish(EventLoadStart, id, map[string]any{"reserve_mb": need})

	done := make(chan loadResult, 1)
	go m.runLoad(ctx, desc, startTs, done)
	select {
	case res := <-done:
		return res.handle, res.err
	case <-ctx.Done():
		// the load keeps running and is committed when it finishes
		return nil, ctx.Err()
	}
}

// GetModel returns the live handle for id, loading it when autoLoad is set.
func (m *Manager) GetModel(ctx context.Context, id string, autoLoad bool) (Handle, error) {
	m.mu.Lock()
	inst, err := m.instanceLocked(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if inst.state == StateLoaded {
		m.touchLocked(inst)
		h := inst.handle
		m.mu.Unlock()
		return h, nil
	}
	st := inst.state
	m.mu.Unlock()
	if !autoLoad {
		return nil, fmt.Errorf("model %s is %s", id, st)
	}
	return m.LoadModel(ctx, id, false)
}

// runLoad materializes desc bounded by the load timeout and commits the result.
// A handle that arrives after the timeout is closed.
func (m *Manager) runLoad(parent context.Context, desc registry.Descriptor, startTs time.Time, done chan<- loadResult) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.cfg.LoadTimeout)
	defer cancel()
	resCh := make(chan loadResult, 1)
	go func() {
		h, fromCache, err := m.materialize(lctx, desc)
		resCh <- loadResult{handle: h, fromCache: fromCache, err: err}
	}()

	timer := time.NewTimer(m.cfg.LoadTimeout)
	defer timer.Stop()
	var res loadResult
	select {
	case res = <-resCh:
	case <-timer.C:
		res.err = fmt.Errorf("load timed out after %s", m.cfg.LoadTimeout)
		go func() {
			late := <-resCh
			if late.handle != nil {
				_ = late.handle.Close()
				m.log.Warn().Str("model", desc.ID).Msg("closed handle that arrived after load timeout")
			}
		}()
	}
	done <- m.commitLoad(context.WithoutCancel(parent), desc.ID, startTs, res)
}

// commitLoad records the outcome of a load. When the measured footprint is
// larger than the reservation the ceilings are checked again: other models
// are evicted to absorb the difference, or the new handle is dropped with a
// MemoryPressureError when no eviction plan fits.
func (m *Manager) commitLoad(ctx context.Context, id string, startTs time.Time, res loadResult) loadResult {
	m.mu.Lock()
	inst := m.instances[id]
	if res.err != nil {
		inst.state = StateError
		inst.errMsg = res.err.Error()
		inst.errorCount++
		inst.reservedMB = 0
		m.loadErrors++
		m.mu.Unlock()
		loadErrorsTotal.Inc()
		m.log.Error().Err(res.err).Str("event", "load_error").Str("model", id).Msg("model load failed")
		m.publish(EventLoadError, id, map[string]any{"error": res.err.Error()})
		return loadResult{err: &LoadError{ModelID: id, Err: res.err}}
	}
	footprint := inst.reservedMB
	if fp := res.handle.FootprintMB(); fp > 0 {
		footprint = fp
	}
	var evicted []evictedHandle
	if footprint > inst.reservedMB {
		reserved := inst.reservedMB
		// take the reservation out so the plan sees the real footprint
		inst.state = StateUnloaded
		inst.reservedMB = 0
		count, used := m.usageLocked()
		if !m.fits(count, used, footprint) {
			victims, ok := m.planEvictionLocked(footprint, id)
			if !ok {
				m.mu.Unlock()
				m.closeHandle(id, res.handle)
				err := &MemoryPressureError{ModelID: id, RequiredMB: footprint, UsedMB: used, MaxMB: m.cfg.MaxMemoryUsageMB,
					LoadedModels: count, MaxModels: m.cfg.MaxModelsInMemory}
				m.log.Warn().Str("event", "load_no_room").Str("model", id).Int("reserved_mb", reserved).
					Int("footprint_mb", footprint).Int("used_mb", used).Msg("measured footprint does not fit")
				m.publish(EventLoadNoRoom, id, map[string]any{"need_mb": footprint, "reserved_mb": reserved})
				return loadResult{err: err}
			}
			evicted = m.evictLocked(victims, "footprint")
		}
	}
	now := m.now()
	inst.state = StateLoaded
	inst.handle = res.handle
	inst.footprintMB = footprint
	inst.reservedMB = 0
	inst.loadedAt = now
	inst.loadTime = now.Sub(startTs)
	inst.loadCount++
	inst.fromCache = res.fromCache
	m.touchLocked(inst)
	m.loads++
	if res.fromCache {
		m.cacheHits++
	}
	dur := inst.loadTime
	_, used := m.usageLocked()
	m.mu.Unlock()
	m.finishEvictions(ctx, evicted)

	loadsTotal.Inc()
	loadDuration.Observe(dur.Seconds())
	memoryUsedMB.Set(float64(used))
	m.refreshLoadedGauge()
	m.log.Info().Str("event", "load_ready").Str("model", id).Int("footprint_mb", footprint).
		Int64("dur_ms", dur.Milliseconds()).Bool("from_cache", res.fromCache).Msg("model loaded")
	m.publish(EventLoadReady, id, map[string]any{
		"dur_ms": dur.Milliseconds(), "footprint_mb": footprint, "from_cache": res.fromCache})
	return loadResult{handle: res.handle, fromCache: res.fromCache}
}

// materialize restores from the model cache when possible and otherwise
// performs a full load, writing a snapshot back to the cache afterwards.
func (m *Manager) materialize(ctx context.Context, d registry.Descriptor) (Handle, bool, error) {
	rt, ok := m.runtimes[d.Kind]
	if !ok || rt == nil {
		return nil, false, ErrDependencyUnavailable("no runtime for kind " + d.Kind)
	}
	restorer, canRestore := rt.(Restorer)
	var src cache.Source
	if m.cache != nil && canRestore {
		src = cache.Source{Location: d.Location, Format: restorer.SnapshotFormat(), Metadata: map[string]string{"kind": d.Kind}}
		if blob, hit := m.cache.LoadCached(ctx, d.ID, src); hit {
			h, err := restorer.Restore(ctx, d, blob)
			if err == nil {
				return h, true, nil
			}
			m.log.Warn().Err(err).Str("model", d.ID).Msg("restore from cache failed; loading from source")
			m.cache.Invalidate(ctx, d.ID)
		}
	}
	h, err := rt.Load(ctx, d)
	if err != nil {
		return nil, false, err
	}
	if h == nil {
		return nil, false, errors.New("runtime returned no handle")
	}
	if m.cache != nil && canRestore {
		if sn, ok := h.(Snapshotter); ok {
			blob, err := sn.Snapshot()
			if err == nil {
				_, err = m.cache.Put(ctx, d.ID, blob, src)
			}
			if err != nil {
				m.log.Warn().Err(err).Str("model", d.ID).Msg("model snapshot not cached")
			}
		}
	}
	return h, false, nil
}

func (m *Manager) closeHandle(id string, h Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		m.log.Warn().Err(err).Str("model", id).Msg("close handle")
	}
}
