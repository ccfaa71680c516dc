package router

import (
	"sync"
	"time"
)

// ModelStats tracks serving results for one model.
type ModelStats struct {
	Successes int64     `json:"successes"`
	Errors    int64     `json:"errors"`
	EWMAms    float64   `json:"ewma_ms"`
	LastAt    time.Time `json:"last_at"`
}

// SubjectStats tracks routing hits and serving results for one subject.
type SubjectStats struct {
	Hits      int64   `json:"hits"`
	Successes int64   `json:"successes"`
	Errors    int64   `json:"errors"`
	EWMAms    float64 `json:"ewma_ms"`
}

// Snapshot is a copy of the routing statistics.
type Snapshot struct {
	TotalQueries     int64                   `json:"total_queries"`
	SuccessfulRoutes int64                   `json:"successful_routes"`
	FallbackRoutes   int64                   `json:"fallback_routes"`
	FallbacksUsed    int64                   `json:"fallbacks_used"`
	Subjects         map[string]SubjectStats `json:"subjects"`
	Models           map[string]ModelStats   `json:"models"`
}

// Stats is updated synchronously by Route and ObserveResult so a caller
// sees its own updates on the next read.
type Stats struct {
	mu       sync.Mutex
	alpha    float64
	now      func() time.Time
	total    int64
	success  int64
	fallback int64
	used     int64
	subjects map[string]*SubjectStats
	models   map[string]*ModelStats
}

func newStats(alpha float64, now func() time.Time) *Stats {
	return &Stats{
		alpha:    alpha,
		now:      now,
		subjects: map[string]*SubjectStats{},
		models:   map[string]*ModelStats{},
	}
}

func (s *Stats) recordRoute(d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if d.IsGeneral() {
		s.fallback++
	} else {
		s.success++
	}
	s.subjectLocked(d.PrimarySubject).Hits++
}

func (s *Stats) recordFallbackUsed() {
	s.mu.Lock()
	s.used++
	s.mu.Unlock()
}

func (s *Stats) observe(modelID, subject string, elapsed time.Duration, ok bool) {
	ms := float64(elapsed.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.models[modelID]
	if m == nil {
		m = &ModelStats{}
		s.models[modelID] = m
	}
	m.EWMAms = s.ewma(m.EWMAms, ms)
	m.LastAt = s.now()
	sub := s.subjectLocked(subject)
	sub.EWMAms = s.ewma(sub.EWMAms, ms)
	if ok {
		m.Successes++
		sub.Successes++
	} else {
		m.Errors++
		sub.Errors++
	}
}

func (s *Stats) ewma(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return s.alpha*sample + (1-s.alpha)*prev
}

func (s *Stats) subjectLocked(name string) *SubjectStats {
	st := s.subjects[name]
	if st == nil {
		st = &SubjectStats{}
		s.subjects[name] = st
	}
	return st
}

func (s *Stats) model(id string) ModelStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.models[id]; m != nil {
		return *m
	}
	return ModelStats{}
}

func (s *Stats) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		TotalQueries:     s.total,
		SuccessfulRoutes: s.success,
		FallbackRoutes:   s.fallback,
		FallbacksUsed:    s.used,
		Subjects:         make(map[string]SubjectStats, len(s.subjects)),
		Models:           make(map[string]ModelStats, len(s.models)),
	}
	for k, v := range s.subjects {
		out.Subjects[k] = *v
	}
	for k, v := range s.models {
		out.Models[k] = *v
	}
	return out
}
