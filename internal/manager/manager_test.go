package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"modelrouter/internal/registry"
)

func TestNewAppliesDefaults(t *testing.T) {
	m := New(Config{}, nil)
	c := m.Config()
	if c.MaxModelsInMemory != defaultMaxModels || c.MaxMemoryUsageMB != defaultMaxMemoryMB {
		t.Fatalf("unexpected ceilings: %+v", c)
	}
	if c.ModelIdleTimeout != defaultIdleTimeout || c.MemoryCheckInterval != defaultCheckInterval {
		t.Fatalf("unexpected intervals: %+v", c)
	}
	if c.LoadTimeout != defaultLoadTimeout || c.InUseWindow != defaultInUseWindow {
		t.Fatalf("unexpected timeouts: %+v", c)
	}
	if c.PressureThreshold != defaultPressureThreshold {
		t.Fatalf("expected threshold %v got %v", defaultPressureThreshold, c.PressureThreshold)
	}
}

func TestLoadModel_NotFound(t *testing.T) {
	m, _ := newTestManager(t, Config{}, newFakeRuntime(), nil)
	_, err := m.LoadModel(testCtx(t), "missing", false)
	if !IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestLoadModel_SecondCallIsCacheHit(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, Config{}, rt, []spec{{id: "a", memMB: 10}})
	ctx := testCtx(t)

	h1, err := m.LoadModel(ctx, "a", false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	st1, _ := m.ModelStatus("a")
	h2, err := m.LoadModel(ctx, "a", false)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected the same handle")
	}
	if n := rt.loadCount("a"); n != 1 {
		t.Fatalf("expected exactly one real load, got %d", n)
	}
	st2, _ := m.ModelStatus("a")
	if st2.UsageCount != 2 {
		t.Fatalf("usage count=%d want 2", st2.UsageCount)
	}
	if st2.LoadCount != 1 || st2.LoadTimeMS != st1.LoadTimeMS || !st2.LoadedAt.Equal(st1.LoadedAt) {
		t.Fatalf("load time must be recorded once: before=%+v after=%+v", st1, st2)
	}
	if st2.MemoryFootprintMB != 10 {
		t.Fatalf("footprint=%d want 10", st2.MemoryFootprintMB)
	}
}

func TestLoadModel_ForceReloads(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, Config{}, rt, []spec{{id: "a", memMB: 1}})
	ctx := testCtx(t)
	if _, err := m.LoadModel(ctx, "a", false); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := m.LoadModel(ctx, "a", true); err != nil {
		t.Fatalf("forced load: %v", err)
	}
	if n := rt.loadCount("a"); n != 2 {
		t.Fatalf("expected two real loads, got %d", n)
	}
	if rt.closed.Load() != 1 {
		t.Fatalf("old handle should be closed")
	}
	mustState(t, m, "a", StateLoaded)
}

// With room for a single model, loading a second evicts the first.
func TestLoadModel_EvictsWhenCountCeilingReached(t *testing.T) {
	pub := NewMemoryPublisher(0)
	m, _ := newTestManager(t, Config{MaxModelsInMemory: 1}, newFakeRuntime(),
		[]spec{{id: "modelA", priority: 1, memMB: 10}, {id: "modelB", priority: 1, memMB: 10}},
		WithPublisher(pub))
	ctx := testCtx(t)

	if _, err := m.LoadModel(ctx, "modelA", false); err != nil {
		t.Fatalf("load A: %v", err)
	}
	before := m.Status().Evictions
	if _, err := m.LoadModel(ctx, "modelB", false); err != nil {
		t.Fatalf("load B: %v", err)
	}
	mustState(t, m, "modelA", StateUnloaded)
	mustState(t, m, "modelB", StateLoaded)
	if got := m.Status().Evictions - before; got != 1 {
		t.Fatalf("eviction counter moved by %d, want 1", got)
	}
	if pub.Count(EventEvict) != 1 {
		t.Fatalf("expected one evict event, got %+v", pub.Events())
	}
}

func TestEviction_LowestPriorityThenLRU(t *testing.T) {
	clk := newClock(time.Second)
	m, _ := newTestManager(t, Config{MaxModelsInMemory: 3}, newFakeRuntime(),
		[]spec{{id: "pinned", priority: 5}, {id: "old", priority: 1}, {id: "recent", priority: 1}, {id: "new", priority: 1}},
		WithClock(clk.Now))
	ctx := testCtx(t)
	for _, id := range []string{"old", "pinned", "recent"} {
		if _, err := m.LoadModel(ctx, id, false); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	// touching pinned makes it the most recent, but priority still protects it
	if _, err := m.GetModel(ctx, "pinned", false); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := m.LoadModel(ctx, "new", false); err != nil {
		t.Fatalf("load new: %v", err)
	}
	mustState(t, m, "old", StateUnloaded)
	mustState(t, m, "recent", StateLoaded)
	mustState(t, m, "pinned", StateLoaded)

	// next victim is recent (priority 1) even though pinned is older now
	clk.Advance(time.Hour)
	if _, err := m.GetModel(ctx, "new", false); err != nil {
		t.Fatalf("get new: %v", err)
	}
	if _, err := m.LoadModel(ctx, "old", false); err != nil {
		t.Fatalf("reload old: %v", err)
	}
	mustState(t, m, "recent", StateUnloaded)
	mustState(t, m, "pinned", StateLoaded)
}

func TestLoadModel_MemoryPressureLeavesNoPartialState(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxMemoryUsageMB: 100}, newFakeRuntime(),
		[]spec{{id: "a", memMB: 40}, {id: "b", memMB: 40}, {id: "big", memMB: 90}})
	ctx := testCtx(t)
	for _, id := range []string{"a", "b"} {
		if _, err := m.LoadModel(ctx, id, false); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	// a is busy, so only b can be evicted, which is not enough
	release, err := m.BeginInference(ctx, "a")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer release()

	_, err = m.LoadModel(ctx, "big", false)
	if !IsInsufficientMemory(err) {
		t.Fatalf("expected insufficient memory, got %v", err)
	}
	mustState(t, m, "a", StateLoaded)
	mustState(t, m, "b", StateLoaded)
	mustState(t, m, "big", StateUnloaded)
	if ev := m.Status().Evictions; ev != 0 {
		t.Fatalf("nothing should be evicted, got %d", ev)
	}
}

func TestLoadModel_LargerThanBudget(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxMemoryUsageMB: 50}, newFakeRuntime(), []spec{{id: "huge", memMB: 51}})
	if _, err := m.LoadModel(testCtx(t), "huge", false); !IsInsufficientMemory(err) {
		t.Fatalf("expected insufficient memory, got %v", err)
	}
}

// The hint admits the load but the handle reports more; the difference is
// made up by evicting another model.
func TestLoadModel_MeasuredFootprintEvictsToFit(t *testing.T) {
	rt := newFakeRuntime()
	rt.measured = map[string]int{"a": 600, "b": 600}
	m, _ := newTestManager(t, Config{MaxMemoryUsageMB: 1000, MaxModelsInMemory: 5}, rt,
		[]spec{{id: "a", memMB: 100}, {id: "b", memMB: 100}})
	ctx := testCtx(t)
	for _, id := range []string{"a", "b"} {
		if _, err := m.LoadModel(ctx, id, false); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	mustState(t, m, "a", StateUnloaded)
	mustState(t, m, "b", StateLoaded)
	if r := m.Status(); r.UsedMemoryMB != 600 || r.Evictions != 1 {
		t.Fatalf("unexpected report: used=%d evictions=%d", r.UsedMemoryMB, r.Evictions)
	}
}

func TestLoadModel_MeasuredFootprintWithoutRoomIsDropped(t *testing.T) {
	rt := newFakeRuntime()
	rt.measured = map[string]int{"a": 600, "b": 600}
	m, _ := newTestManager(t, Config{MaxMemoryUsageMB: 1000, MaxModelsInMemory: 5}, rt,
		[]spec{{id: "a", memMB: 100}, {id: "b", memMB: 100}})
	ctx := testCtx(t)
	if _, err := m.LoadModel(ctx, "a", false); err != nil {
		t.Fatalf("load a: %v", err)
	}
	release, err := m.BeginInference(ctx, "a")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer release()

	if _, err := m.LoadModel(ctx, "b", false); !IsInsufficientMemory(err) {
		t.Fatalf("expected insufficient memory, got %v", err)
	}
	mustState(t, m, "a", StateLoaded)
	mustState(t, m, "b", StateUnloaded)
	if rt.closed.Load() != 1 {
		t.Fatalf("rejected handle not closed, closed=%d", rt.closed.Load())
	}
	if r := m.Status(); r.UsedMemoryMB != 600 || r.LoadErrors != 0 {
		t.Fatalf("unexpected report: used=%d load_errors=%d", r.UsedMemoryMB, r.LoadErrors)
	}
}

func TestLoadModel_BusyWhileLoading(t *testing.T) {
	rt := newFakeRuntime()
	rt.gate = make(chan struct{})
	rt.started = make(chan string, 1)
	m, _ := newTestManager(t, Config{}, rt, []spec{{id: "a"}})
	ctx := testCtx(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.LoadModel(ctx, "a", false)
		errCh <- err
	}()
	<-rt.started
	mustState(t, m, "a", StateLoading)
	if _, err := m.LoadModel(ctx, "a", false); !IsTooBusy(err) {
		t.Fatalf("expected busy while loading, got %v", err)
	}
	close(rt.gate)
	if err := <-errCh; err != nil {
		t.Fatalf("first load: %v", err)
	}
	if n := rt.loadCount("a"); n != 1 {
		t.Fatalf("duplicate load performed: %d", n)
	}
}

func TestLoadModel_FailureMovesToErrorAndRetrySucceeds(t *testing.T) {
	rt := newFakeRuntime()
	rt.fail("a", errors.New("corrupt weights"))
	pub := NewMemoryPublisher(0)
	m, _ := newTestManager(t, Config{}, rt, []spec{{id: "a"}}, WithPublisher(pub))
	ctx := testCtx(t)

	_, err := m.LoadModel(ctx, "a", false)
	if !IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	st, _ := m.ModelStatus("a")
	if st.State != StateError || st.ErrorMessage == "" || st.ErrorCount != 1 {
		t.Fatalf("unexpected status after failure: %+v", st)
	}
	if m.Status().LoadErrors != 1 || pub.Count(EventLoadError) != 1 {
		t.Fatalf("error not counted")
	}

	rt.fail("a", nil)
	if _, err := m.LoadModel(ctx, "a", false); err != nil {
		t.Fatalf("retry: %v", err)
	}
	st, _ = m.ModelStatus("a")
	if st.State != StateLoaded || st.ErrorMessage != "" {
		t.Fatalf("retry did not recover: %+v", st)
	}
}

func TestLoadModel_TimeoutClosesLateHandle(t *testing.T) {
	rt := newFakeRuntime()
	rt.gate = make(chan struct{})
	m, _ := newTestManager(t, Config{LoadTimeout: 50 * time.Millisecond}, rt, []spec{{id: "slow"}})

	_, err := m.LoadModel(testCtx(t), "slow", false)
	if !IsLoadError(err) {
		t.Fatalf("expected LoadError on timeout, got %v", err)
	}
	mustState(t, m, "slow", StateError)

	close(rt.gate)
	deadline := time.Now().Add(2 * time.Second)
	for rt.closed.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("late handle was never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadModel_UnknownKindIsDependencyError(t *testing.T) {
	m, reg := newTestManager(t, Config{}, newFakeRuntime(), nil)
	p := createModelFile(t, t.TempDir(), "x.gguf", 1)
	if _, err := reg.Register(context.Background(), registry.Descriptor{ID: "x", Subject: "math", Location: p, Kind: "onnx"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := m.LoadModel(testCtx(t), "x", false)
	if !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
	mustState(t, m, "x", StateError)
}

func TestGetModel_AutoLoad(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, Config{}, rt, []spec{{id: "a"}})
	ctx := testCtx(t)
	if _, err := m.GetModel(ctx, "a", false); err == nil {
		t.Fatalf("expected error without autoLoad")
	}
	if rt.loadCount("a") != 0 {
		t.Fatalf("getModel without autoLoad must not load")
	}
	if _, err := m.GetModel(ctx, "a", true); err != nil {
		t.Fatalf("autoLoad: %v", err)
	}
	mustState(t, m, "a", StateLoaded)
}

func TestUnloadModel_RefusesRecentlyUsed(t *testing.T) {
	clk := newClock(0)
	rt := newFakeRuntime()
	m, _ := newTestManager(t, Config{InUseWindow: 30 * time.Second}, rt, []spec{{id: "a"}}, WithClock(clk.Now))
	ctx := testCtx(t)
	if _, err := m.LoadModel(ctx, "a", false); err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.UnloadModel(ctx, "a", false) {
		t.Fatalf("unload of a just-used model should be refused")
	}
	mustState(t, m, "a", StateLoaded)

	clk.Advance(31 * time.Second)
	if !m.UnloadModel(ctx, "a", false) {
		t.Fatalf("unload after the in-use window should succeed")
	}
	mustState(t, m, "a", StateUnloaded)
	if rt.closed.Load() != 1 {
		t.Fatalf("handle not closed")
	}
	if m.UnloadModel(ctx, "a", false) {
		t.Fatalf("unloading an unloaded model reports false")
	}
}

func TestUnloadModel_ForceDrainsInflight(t *testing.T) {
	m, _ := newTestManager(t, Config{DrainTimeout: time.Second}, newFakeRuntime(), []spec{{id: "a"}})
	ctx := testCtx(t)
	if _, err := m.LoadModel(ctx, "a", false); err != nil {
		t.Fatalf("load: %v", err)
	}
	release, err := m.BeginInference(ctx, "a")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if m.UnloadModel(ctx, "a", false) {
		t.Fatalf("in-flight work must block a non-forced unload")
	}
	done := make(chan bool, 1)
	go func() { done <- m.UnloadModel(ctx, "a", true) }()

	// the unloading model rejects new work
	deadline := time.Now().Add(time.Second)
	for {
		if st, _ := m.State("a"); st == StateUnloading {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("model never entered unloading")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := m.BeginInference(ctx, "a"); !IsTooBusy(err) {
		t.Fatalf("expected busy while unloading, got %v", err)
	}
	release()
	if !<-done {
		t.Fatalf("forced unload failed")
	}
	mustState(t, m, "a", StateUnloaded)
}

func TestUnloadModel_ResetsErrorState(t *testing.T) {
	rt := newFakeRuntime()
	rt.fail("a", errors.New("boom"))
	m, _ := newTestManager(t, Config{}, rt, []spec{{id: "a"}})
	ctx := testCtx(t)
	_, _ = m.LoadModel(ctx, "a", false)
	if !m.UnloadModel(ctx, "a", false) {
		t.Fatalf("expected reset from error state")
	}
	mustState(t, m, "a", StateUnloaded)
}

func TestUsagePersistedThroughCatalogue(t *testing.T) {
	clk := newClock(0)
	m, reg := newTestManager(t, Config{InUseWindow: time.Second}, newFakeRuntime(), []spec{{id: "a", memMB: 7}}, WithClock(clk.Now))
	ctx := testCtx(t)
	for i := 0; i < 3; i++ {
		if _, err := m.LoadModel(ctx, "a", false); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	clk.Advance(time.Minute)
	if !m.UnloadModel(ctx, "a", false) {
		t.Fatalf("unload refused")
	}
	d, _ := reg.Get("a")
	if d.UsageCount != 3 || d.FootprintMB != 7 || d.LastUsedAt.IsZero() {
		t.Fatalf("usage not handed to catalogue: %+v", d)
	}
}

func TestReadyAndSanity(t *testing.T) {
	m, _ := newTestManager(t, Config{}, newFakeRuntime(), []spec{{id: "a"}})
	if m.Ready() {
		t.Fatalf("expected not ready initially")
	}
	if _, err := m.LoadModel(testCtx(t), "a", false); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.Ready() {
		t.Fatalf("expected ready after load")
	}
	rep := m.SanityCheck()
	if rep.LlamaBuilt != llamaBuilt || len(rep.Runtimes) != 3 {
		t.Fatalf("unexpected sanity report: %+v", rep)
	}
}

func TestStatusReport(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxModelsInMemory: 2, MaxMemoryUsageMB: 500}, newFakeRuntime(),
		[]spec{{id: "a", memMB: 100}, {id: "b", memMB: 50}, {id: "c"}})
	ctx := testCtx(t)
	for _, id := range []string{"a", "b"} {
		if _, err := m.LoadModel(ctx, id, false); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	r := m.Status()
	if r.ModelsLoaded != 2 || r.UsedMemoryMB != 150 || r.MaxModels != 2 || r.MaxMemoryMB != 500 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if len(r.Models) != 3 || r.Models[2].ID != "c" || r.Models[2].State != StateUnloaded {
		t.Fatalf("unexpected models: %+v", r.Models)
	}
	if r.Loads != 2 {
		t.Fatalf("loads=%d want 2", r.Loads)
	}
}

func TestCloseUnloadsEverything(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, Config{}, rt, []spec{{id: "a"}, {id: "b"}})
	ctx := testCtx(t)
	for _, id := range []string{"a", "b"} {
		if _, err := m.LoadModel(ctx, id, false); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	m.StartMonitor()
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rt.closed.Load() != 2 {
		t.Fatalf("expected both handles closed, got %d", rt.closed.Load())
	}
	if _, err := m.LoadModel(ctx, "a", false); !IsDependencyUnavailable(err) {
		t.Fatalf("load after close should fail, got %v", err)
	}
	// idempotent
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestEstimateMB(t *testing.T) {
	p := createModelFile(t, t.TempDir(), "m.gguf", 2)
	if got := estimateMB(registry.Descriptor{Kind: registry.KindLlama, Location: p}, 0); got != 2 {
		t.Fatalf("file size estimate=%d want 2", got)
	}
	if got := estimateMB(registry.Descriptor{Kind: registry.KindLlama, Location: p, MemoryHintMB: 9}, 5); got != 9 {
		t.Fatalf("hint should win, got %d", got)
	}
	if got := estimateMB(registry.Descriptor{Kind: registry.KindLlamaServer, Location: "http://x"}, 5); got != 5 {
		t.Fatalf("last footprint should be used, got %d", got)
	}
	if got := estimateMB(registry.Descriptor{Kind: registry.KindLlamaServer, Location: "http://x"}, 0); got != 1 {
		t.Fatalf("unknown size reserves 1MB, got %d", got)
	}
}
