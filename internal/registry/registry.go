// Package registry keeps the durable catalogue of known models and discovers
// model files on disk.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"modelrouter/internal/common/fsutil"
	"modelrouter/internal/store"
)

const defaultReachTimeout = 2 * time.Second

// Registry is the catalogue of model descriptors. When backed by a store,
// every registration is persisted so a restart does not lose the catalogue.
type Registry struct {
	mu           sync.RWMutex
	items        map[string]Descriptor
	st           *store.Store
	log          zerolog.Logger
	reachTimeout time.Duration
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l.With().Str("component", "registry").Logger() }
}

// WithReachTimeout bounds the reachability check for remote locations.
func WithReachTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.reachTimeout = d
		}
	}
}

// Open builds a registry and reloads persisted descriptors. st may be nil for
// a purely in-memory catalogue.
func Open(ctx context.Context, st *store.Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		items:        make(map[string]Descriptor),
		st:           st,
		log:          zerolog.Nop(),
		reachTimeout: defaultReachTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if st == nil {
		return r, nil
	}
	rows, err := st.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	for _, row := range rows {
		r.items[row.ID] = fromRow(row)
	}
	r.log.Info().Int("models", len(r.items)).Msg("catalogue loaded")
	return r, nil
}

// Register validates and adds a descriptor. It fails with a RegistrationError
// if the id is taken or the location cannot be reached; the catalogue is left
// unchanged on failure.
func (r *Registry) Register(ctx context.Context, d Descriptor) (Descriptor, error) {
	d = normalize(d)
	if d.ID == "" {
		d.ID = d.Subject + "-" + strings.ToLower(ulid.Make().String())
	}
	if d.Subject == "" || d.Kind == "" {
		return Descriptor{}, &RegistrationError{ID: d.ID, Reason: reasonInvalid, Err: errors.New("subject and kind are required")}
	}
	if err := fsutil.Reachable(d.Location, r.reachTimeout); err != nil {
		return Descriptor{}, &RegistrationError{ID: d.ID, Reason: reasonUnreachable, Err: err}
	}
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[d.ID]; exists {
		return Descriptor{}, &RegistrationError{ID: d.ID, Reason: reasonDuplicate}
	}
	if r.st != nil {
		if err := r.st.InsertModel(ctx, toRow(d)); err != nil {
			return Descriptor{}, fmt.Errorf("persist %s: %w", d.ID, err)
		}
	}
	r.items[d.ID] = d
	r.log.Info().Str("event", "register").Str("model", d.ID).Str("subject", d.Subject).Str("kind", d.Kind).Int("priority", d.Priority).Msg("model registered")
	return d, nil
}

// Deregister removes a descriptor from the catalogue.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotRegistered
	}
	if r.st != nil {
		if err := r.st.DeleteModel(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	delete(r.items, id)
	r.log.Info().Str("event", "deregister").Str("model", id).Msg("model removed")
	return nil
}

// Get returns a descriptor by id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[id]
	return d, ok
}

// List returns descriptors matching f, sorted by id. The result is a copy.
func (r *Registry) List(f Filter) []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.items))
	for _, d := range r.items {
		if f.match(d) {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subjects returns the distinct subjects present in the catalogue.
func (r *Registry) Subjects() []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for _, d := range r.items {
		seen[d.Subject] = struct{}{}
	}
	r.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// SaveUsage persists usage statistics for id. Unknown ids are ignored.
func (r *Registry) SaveUsage(ctx context.Context, id string, u Usage) error {
	r.mu.Lock()
	d, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	d.LastUsedAt = u.LastUsedAt
	d.UsageCount = u.UsageCount
	d.FootprintMB = u.FootprintMB
	r.items[id] = d
	r.mu.Unlock()
	if r.st == nil {
		return nil
	}
	return r.st.UpdateModelUsage(ctx, id, u.LastUsedAt, u.UsageCount, u.FootprintMB)
}

func normalize(d Descriptor) Descriptor {
	d.ID = strings.TrimSpace(d.ID)
	d.Subject = strings.ToLower(strings.TrimSpace(d.Subject))
	d.Location = strings.TrimSpace(d.Location)
	d.Kind = strings.TrimSpace(d.Kind)
	if d.Kind == "" {
		d.Kind = inferKind(d.Location)
	}
	if d.Priority == 0 {
		d.Priority = 1
	}
	return d
}

func inferKind(location string) string {
	switch {
	case fsutil.IsRemote(location):
		return KindLlamaServer
	case strings.EqualFold(filepath.Ext(location), ".json"):
		return KindLlamaServer
	case strings.EqualFold(filepath.Ext(location), ".gguf"):
		return KindLlama
	}
	return ""
}

func toRow(d Descriptor) store.ModelRow {
	return store.ModelRow{
		ID:           d.ID,
		Subject:      d.Subject,
		Location:     d.Location,
		Kind:         d.Kind,
		Priority:     d.Priority,
		MaxIdleSec:   d.MaxIdleSec,
		MemoryHintMB: d.MemoryHintMB,
		RegisteredAt: d.RegisteredAt,
		LastUsedAt:   d.LastUsedAt,
		UsageCount:   d.UsageCount,
		FootprintMB:  d.FootprintMB,
	}
}

func fromRow(row store.ModelRow) Descriptor {
	return Descriptor{
		ID:           row.ID,
		Subject:      row.Subject,
		Location:     row.Location,
		Kind:         row.Kind,
		Priority:     row.Priority,
		MaxIdleSec:   row.MaxIdleSec,
		MemoryHintMB: row.MemoryHintMB,
		RegisteredAt: row.RegisteredAt,
		LastUsedAt:   row.LastUsedAt,
		UsageCount:   row.UsageCount,
		FootprintMB:  row.FootprintMB,
	}
}
