package manager

import (
	"time"

	"modelrouter/internal/registry"
)

// State is the lifecycle state of a model.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateUnloading State = "unloading"
	StateError     State = "error"
)

// Routable reports whether a model in this state may be chosen as a target.
// Unloaded models are routable because they load on demand.
func (s State) Routable() bool { return s == StateLoaded || s == StateUnloaded }

// instance is the manager's runtime record for one registered model.
type instance struct {
	desc       registry.Descriptor
	state      State
	handle     Handle
	loadedAt   time.Time
	lastUsedAt time.Time
	usageCount int64
	// footprintMB is the measured size once loaded; reservedMB holds the
	// estimate while loading.
	footprintMB int
	reservedMB  int
	loadTime    time.Duration
	loadCount   int
	fromCache   bool
	errMsg      string
	errorCount  int
	// Queueing primitives
	genCh   chan struct{} // concurrency slots
	queueCh chan struct{} // queue slots
}

func (i *instance) inUse() bool { return len(i.genCh) > 0 || len(i.queueCh) > 0 }

// ModelStatus is a read-only projection of one model: the catalogue entry
// joined with its runtime state.
type ModelStatus struct {
	ID                string    `json:"id"`
	Subject           string    `json:"subject"`
	Location          string    `json:"location"`
	Kind              string    `json:"kind"`
	Priority          int       `json:"priority"`
	State             State     `json:"state"`
	MaxIdleSec        int       `json:"max_idle_sec"`
	LoadedAt          time.Time `json:"loaded_at,omitempty"`
	LastUsedAt        time.Time `json:"last_used_at,omitempty"`
	UsageCount        int64     `json:"usage_count"`
	MemoryFootprintMB int       `json:"memory_footprint_mb"`
	LoadTimeMS        int64     `json:"load_time_ms"`
	LoadCount         int       `json:"load_count"`
	LoadedFromCache   bool      `json:"loaded_from_cache,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ErrorCount        int       `json:"error_count"`
	QueueLen          int       `json:"queue_len"`
	Inflight          int       `json:"inflight"`
}

// Report summarizes the manager for status endpoints.
type Report struct {
	ModelsLoaded      int           `json:"models_loaded"`
	ModelsLoading     int           `json:"models_loading"`
	MaxModels         int           `json:"max_models"`
	UsedMemoryMB      int           `json:"used_memory_mb"`
	MaxMemoryMB       int           `json:"max_memory_mb"`
	HostMemoryPercent float64       `json:"host_memory_percent,omitempty"`
	Loads             int64         `json:"loads"`
	Evictions         int64         `json:"evictions"`
	LoadErrors        int64         `json:"load_errors"`
	CacheHits         int64         `json:"cache_hits"`
	Models            []ModelStatus `json:"models"`
}
