package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelrouter/internal/cache"
	"modelrouter/internal/registry"
)

// Catalogue is the part of the registry the manager reads descriptors from
// and hands usage statistics back to.
type Catalogue interface {
	Get(id string) (registry.Descriptor, bool)
	List(f registry.Filter) []registry.Descriptor
	SaveUsage(ctx context.Context, id string, u registry.Usage) error
}

// BlobCache is the model artifact cache consulted around loads.
type BlobCache interface {
	Put(ctx context.Context, modelID string, blob []byte, src cache.Source) (bool, error)
	LoadCached(ctx context.Context, modelID string, src cache.Source) ([]byte, bool)
	Invalidate(ctx context.Context, modelID string) bool
}

// Manager is the sole writer of model runtime state.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	cat       Catalogue
	runtimes  map[string]Runtime
	cache     BlobCache
	instances map[string]*instance

	log       zerolog.Logger
	publisher EventPublisher
	sampler   MemorySampler
	now       func() time.Time

	loads, evictions, loadErrors, cacheHits int64
	hostMemPercent                          float64

	monitorOnce sync.Once
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closed      bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l.With().Str("component", "manager").Logger() }
}

// WithRuntime registers the runtime used for models of kind.
func WithRuntime(kind string, rt Runtime) Option {
	return func(m *Manager) { m.runtimes[kind] = rt }
}

// WithCache enables the model artifact cache.
func WithCache(c BlobCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithPublisher receives lifecycle events.
func WithPublisher(p EventPublisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithMemorySampler overrides the host memory sampler used by the monitor.
func WithMemorySampler(p MemorySampler) Option {
	return func(m *Manager) { m.sampler = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager. The default runtimes (llama and llama_server) are
// installed unless overridden with WithRuntime.
func New(cfg Config, cat Catalogue, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		cat:       cat,
		runtimes:  make(map[string]Runtime),
		instances: make(map[string]*instance),
		log:       zerolog.Nop(),
		publisher: noopPublisher{},
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	m.runtimes[registry.KindLlama] = NewLlamaRuntime(cfg.LlamaContextSize, cfg.LlamaThreads)
	m.runtimes[registry.KindLlamaServer] = NewServerRuntime(cfg.ServerRequestTimeout)
	for _, o := range opts {
		o(m)
	}
	if m.sampler == nil && cfg.HostMemoryCheck {
		m.sampler = hostMemorySampler
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Ready reports whether at least one model is loaded.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.state == StateLoaded {
			return true
		}
	}
	return false
}

// State returns the lifecycle state of id. Models never touched by the
// manager are unloaded.
func (m *Manager) State(id string) (State, bool) {
	if _, ok := m.cat.Get(id); !ok {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		return inst.state, true
	}
	return StateUnloaded, true
}

// Close stops the monitor and unloads every model, persisting usage.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	var ids []string
	for id, inst := range m.instances {
		if inst.state == StateLoaded {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	ctx := context.Background()
	for _, id := range ids {
		m.UnloadModel(ctx, id, true)
	}
	return nil
}

// instanceLocked returns the record for id, creating it from the catalogue on
// first use. Descriptor changes in the catalogue are picked up while unloaded.
func (m *Manager) instanceLocked(id string) (*instance, error) {
	d, ok := m.cat.Get(id)
	if !ok {
		return nil, ErrModelNotFound(id)
	}
	inst, ok := m.instances[id]
	if !ok {
		inst = &instance{
			desc:        d,
			state:       StateUnloaded,
			lastUsedAt:  d.LastUsedAt,
			usageCount:  d.UsageCount,
			footprintMB: d.FootprintMB,
			genCh:       make(chan struct{}, m.cfg.MaxConcurrency),
			queueCh:     make(chan struct{}, m.cfg.MaxQueueDepth),
		}
		m.instances[id] = inst
	} else if inst.state == StateUnloaded || inst.state == StateError {
		inst.desc = d
	}
	return inst, nil
}
