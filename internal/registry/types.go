package registry

import "time"

// Runtime kinds understood by the lifecycle manager.
const (
	KindLlama       = "llama"
	KindLlamaServer = "llama_server"
)

// GeneralSubject is the catch-all subject for models outside any specialization.
const GeneralSubject = "general"

// Descriptor is the catalogue view of a model. Runtime state (loaded,
// footprint, errors) is owned by the lifecycle manager, not the registry.
type Descriptor struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Location     string    `json:"location"`
	Kind         string    `json:"kind"`
	Priority     int       `json:"priority"`
	MaxIdleSec   int       `json:"max_idle_sec,omitempty"`
	MemoryHintMB int       `json:"memory_hint_mb,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	// Persisted usage, handed back by the manager on unload/shutdown.
	LastUsedAt  time.Time `json:"last_used_at,omitempty"`
	UsageCount  int64     `json:"usage_count"`
	FootprintMB int       `json:"footprint_mb,omitempty"`
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Subject string
	Kind    string
}

func (f Filter) match(d Descriptor) bool {
	if f.Subject != "" && f.Subject != d.Subject {
		return false
	}
	if f.Kind != "" && f.Kind != d.Kind {
		return false
	}
	return true
}

// Usage carries the statistics the manager persists through the registry.
type Usage struct {
	LastUsedAt  time.Time
	UsageCount  int64
	FootprintMB int
}
