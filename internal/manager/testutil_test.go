package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelrouter/internal/registry"
)

const fakeKind = "fake"

// createModelFile creates a file of approximately sizeMB megabytes and returns its path.
func createModelFile(t testing.TB, dir, name string, sizeMB int) string {
	t.Helper()
	if sizeMB <= 0 {
		sizeMB = 1
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer f.Close()
	// write sizeMB megabytes (use 1MiB blocks)
	block := make([]byte, 1024*1024)
	for i := 0; i < sizeMB; i++ {
		if _, err := f.Write(block); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return p
}

// fakeRuntime is a lightweight in-memory runtime used for tests.
type fakeRuntime struct {
	mu      sync.Mutex
	loads   map[string]int
	failing map[string]error
	// gate, when set, blocks Load until a value is received
	gate     chan struct{}
	started  chan string
	closed   atomic.Int64
	restores atomic.Int64
	snapshot bool
	output   string
	// measured overrides the footprint a handle reports, keyed by model id
	measured map[string]int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{loads: map[string]int{}, failing: map[string]error{}, output: "ok"}
}

func (f *fakeRuntime) Load(ctx context.Context, d registry.Descriptor) (Handle, error) {
	if f.started != nil {
		f.started <- d.ID
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[d.ID]; err != nil {
		return nil, err
	}
	f.loads[d.ID]++
	fp := d.MemoryHintMB
	if mb, ok := f.measured[d.ID]; ok {
		fp = mb
	}
	return &fakeHandle{rt: f, id: d.ID, footprint: fp}, nil
}

func (f *fakeRuntime) loadCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[id]
}

func (f *fakeRuntime) fail(id string, err error) {
	f.mu.Lock()
	f.failing[id] = err
	f.mu.Unlock()
}

type fakeHandle struct {
	rt        *fakeRuntime
	id        string
	footprint int
}

func (h *fakeHandle) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	if err := ctx.Err(); err != nil {
		return FinalResult{}, err
	}
	if onToken != nil {
		if err := onToken(h.rt.output); err != nil {
			return FinalResult{}, err
		}
	}
	return FinalResult{FinishReason: "stop"}, nil
}

func (h *fakeHandle) FootprintMB() int { return h.footprint }

func (h *fakeHandle) Close() error {
	h.rt.closed.Add(1)
	return nil
}

// snapshotRuntime adds cache support on top of fakeRuntime.
type snapshotRuntime struct{ *fakeRuntime }

func (s snapshotRuntime) SnapshotFormat() string { return "fake/1" }

func (s snapshotRuntime) Restore(ctx context.Context, d registry.Descriptor, blob []byte) (Handle, error) {
	if string(blob) != "state:"+d.ID {
		return nil, errors.New("bad snapshot")
	}
	s.restores.Add(1)
	return &snapshotHandle{fakeHandle{rt: s.fakeRuntime, id: d.ID, footprint: d.MemoryHintMB}}, nil
}

func (s snapshotRuntime) Load(ctx context.Context, d registry.Descriptor) (Handle, error) {
	h, err := s.fakeRuntime.Load(ctx, d)
	if err != nil {
		return nil, err
	}
	return &snapshotHandle{*h.(*fakeHandle)}, nil
}

type snapshotHandle struct{ fakeHandle }

func (h *snapshotHandle) Snapshot() ([]byte, error) { return []byte("state:" + h.id), nil }

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newClock(step time.Duration) *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type spec struct {
	id       string
	priority int
	memMB    int
	maxIdle  int
}

// newTestManager registers models backed by small files and wires rt as
// the runtime for their kind.
func newTestManager(t testing.TB, cfg Config, rt Runtime, specs []spec, opts ...Option) (*Manager, *registry.Registry) {
	t.Helper()
	ctx := context.Background()
	reg, err := registry.Open(ctx, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	dir := t.TempDir()
	for _, s := range specs {
		p := filepath.Join(dir, s.id+".bin")
		if err := os.WriteFile(p, []byte(s.id), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := reg.Register(ctx, registry.Descriptor{ID: s.id, Subject: "math", Location: p, Kind: fakeKind,
			Priority: s.priority, MemoryHintMB: s.memMB, MaxIdleSec: s.maxIdle})
		if err != nil {
			t.Fatalf("register %s: %v", s.id, err)
		}
	}
	opts = append([]Option{WithRuntime(fakeKind, rt)}, opts...)
	m := New(cfg, reg, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m, reg
}

func mustState(t testing.TB, m *Manager, id string, want State) {
	t.Helper()
	got, ok := m.State(id)
	if !ok {
		t.Fatalf("model %s unknown", id)
	}
	if got != want {
		t.Fatalf("model %s state=%s want %s", id, got, want)
	}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
