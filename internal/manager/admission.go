package manager

import (
	"context"
	"time"
)

// BeginInference reserves a queue slot and then a concurrency slot on a loaded
// model. Returns a release func to be deferred. Reserved slots mark the model
// as in use, so it is skipped by eviction until released.
func (m *Manager) BeginInference(ctx context.Context, modelID string) (func(), error) {
	m.mu.Lock()
	inst := m.instances[modelID]
	var st State
	if inst != nil {
		st = inst.state
	}
	m.mu.Unlock()
	if inst == nil {
		return func() {}, modelNotFoundError{id: modelID}
	}
	// unloading rejects new work to allow graceful drain
	if st != StateLoaded {
		return func() {}, tooBusyError{modelID: modelID, reason: string(st)}
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(m.cfg.MaxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		backpressureTotal.WithLabelValues("queue_full").Inc()
		return func() {}, tooBusyError{modelID: modelID, reason: "queue full"}
	}

	// Wait to acquire a concurrency slot
	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
		}
	}()
	select {
	case inst.genCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		backpressureTotal.WithLabelValues("wait_timeout").Inc()
		return func() {}, tooBusyError{modelID: modelID, reason: "wait timeout"}
	}
	// the model may have started unloading while we queued
	m.mu.Lock()
	if inst.state != StateLoaded {
		st := inst.state
		m.mu.Unlock()
		<-inst.genCh
		return func() {}, tooBusyError{modelID: modelID, reason: string(st)}
	}
	acquired = true
	inst.lastUsedAt = m.now()
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		inst.lastUsedAt = m.now()
		m.mu.Unlock()
		<-inst.genCh
		<-inst.queueCh
	}, nil
}
