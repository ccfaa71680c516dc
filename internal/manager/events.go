package manager

import "time"

// Lifecycle event names.
const (
	EventLoadStart     = "load_start"
	EventLoadReady     = "load_ready"
	EventLoadError     = "load_error"
	EventLoadNoRoom    = "load_no_room"
	EventUnloadStart   = "unload_start"
	EventUnloadDone    = "unload_done"
	EventUnloadTimeout = "unload_timeout"
	EventEvict         = "evict"
)

// Event is one model lifecycle transition.
type Event struct {
	Name    string         `json:"name"`
	ModelID string         `json:"model_id"`
	At      time.Time      `json:"at"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// EventPublisher receives lifecycle events. Publish may run with the manager
// lock held; it must not block or call back into the manager.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(name, id string, fields map[string]any) {
	m.publisher.Publish(Event{Name: name, ModelID: id, At: m.now(), Fields: fields})
}
