// Package router turns a classification into a routing decision over the
// models that are currently able to serve.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelrouter/internal/classifier"
	"modelrouter/internal/manager"
	"modelrouter/internal/registry"
)

// Strategy names.
const (
	StrategyConfidence   = "confidence"
	StrategyCascade      = "cascade"
	StrategyLoadBalanced = "load_balanced"
)

// GeneralModel is the designated fallback target. It is always available and
// is answered without invoking a model.
const GeneralModel = registry.GeneralSubject

const (
	defaultThreshold = 0.6
	defaultAlpha     = 0.2
)

// Availability exposes the manager's per-model state to the router.
type Availability interface {
	Models(f registry.Filter) []manager.ModelStatus
}

// Config tunes routing.
type Config struct {
	Strategy            string  `json:"strategy" yaml:"strategy" toml:"strategy"`
	// ConfidenceThreshold is the minimum confidence for a specialized route.
	// Nil means the default; 0 trusts every prediction.
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty" toml:"confidence_threshold,omitempty"`
	// EWMAAlpha smooths observed response times (0..1).
	EWMAAlpha float64 `json:"ewma_alpha,omitempty" yaml:"ewma_alpha,omitempty" toml:"ewma_alpha,omitempty"`
}

// Threshold returns a pointer for Config.ConfidenceThreshold.
func Threshold(v float64) *float64 { return &v }

// Threshold returns the effective confidence threshold.
func (c Config) Threshold() float64 {
	if c.ConfidenceThreshold == nil {
		return defaultThreshold
	}
	return *c.ConfidenceThreshold
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyConfidence
	}
	c.Strategy = strings.ToLower(c.Strategy)
	if c.ConfidenceThreshold == nil {
		c.ConfidenceThreshold = Threshold(defaultThreshold)
	}
	if c.EWMAAlpha <= 0 || c.EWMAAlpha >= 1 {
		c.EWMAAlpha = defaultAlpha
	}
	return c
}

// Decision is the outcome of routing one query.
type Decision struct {
	PrimaryModel   string            `json:"primary_model"`
	PrimarySubject string            `json:"primary_subject"`
	FallbackModels []string          `json:"fallback_models"`
	Confidence     float64           `json:"confidence"`
	Reasoning      string            `json:"reasoning"`
	Classification classifier.Result `json:"classification"`
	RoutingTimeMS  float64           `json:"routing_time_ms"`
	Strategy       string            `json:"strategy"`
}

// IsGeneral reports whether the decision targets the general fallback.
func (d Decision) IsGeneral() bool { return d.PrimaryModel == GeneralModel }

// Router routes queries. It is safe for concurrent use.
type Router struct {
	cfg   Config
	cls   classifier.Classifier
	avail Availability
	stats *Stats
	log   zerolog.Logger
	now   func() time.Time
}

// Option customizes a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.log = l.With().Str("component", "router").Logger() }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New validates cfg and builds a router.
func New(cfg Config, cls classifier.Classifier, avail Availability, opts ...Option) (*Router, error) {
	cfg = cfg.withDefaults()
	switch cfg.Strategy {
	case StrategyConfidence, StrategyCascade, StrategyLoadBalanced:
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", cfg.Strategy)
	}
	if t := cfg.Threshold(); t < 0 || t > 1 {
		return nil, fmt.Errorf("confidence threshold %.2f out of range", t)
	}
	r := &Router{cfg: cfg, cls: cls, avail: avail, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	r.stats = newStats(cfg.EWMAAlpha, r.now)
	return r, nil
}

// Config returns the effective configuration.
func (r *Router) Config() Config { return r.cfg }

// Route classifies query and picks a target. A classification failure is
// not fatal: the query goes to the general fallback.
func (r *Router) Route(ctx context.Context, query, userContext string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	start := r.now()
	text := query
	if strings.TrimSpace(userContext) != "" && strings.TrimSpace(query) != "" {
		text = query + "\n" + userContext
	}
	cls, err := r.cls.Classify(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		r.log.Warn().Err(err).Msg("classification failed; using general fallback")
		d := Decision{
			PrimaryModel:   GeneralModel,
			PrimarySubject: registry.GeneralSubject,
			Reasoning:      "classification failed: " + err.Error(),
			Strategy:       r.cfg.Strategy,
		}
		return r.finish(d, start), nil
	}

	view := r.snapshot()
	var d Decision
	switch r.cfg.Strategy {
	case StrategyCascade:
		d = r.cascade(cls, view)
	case StrategyLoadBalanced:
		d = r.loadBalanced(cls, view)
	default:
		d = r.confidence(cls, view)
	}
	d.Classification = cls
	d.Confidence = cls.Confidence
	d.Strategy = r.cfg.Strategy
	d.FallbackModels = dedupe(d.PrimaryModel, d.FallbackModels)
	return r.finish(d, start), nil
}

func (r *Router) finish(d Decision, start time.Time) Decision {
	elapsed := r.now().Sub(start)
	d.RoutingTimeMS = float64(elapsed.Microseconds()) / 1000
	r.stats.recordRoute(d)
	routesTotal.WithLabelValues(d.Strategy, routeOutcome(d)).Inc()
	routeDuration.Observe(elapsed.Seconds())
	r.log.Debug().
		Str("primary", d.PrimaryModel).
		Strs("fallbacks", d.FallbackModels).
		Float64("confidence", d.Confidence).
		Float64("routing_ms", d.RoutingTimeMS).
		Msg("routed")
	return d
}

func routeOutcome(d Decision) string {
	if d.IsGeneral() {
		return "general"
	}
	return "specialized"
}

// view is the availability snapshot used for one routing call.
type view struct {
	ranked map[string][]manager.ModelStatus // subject -> routable models, best first
	usage  map[string]int64                 // subject -> usage across routable models
}

// snapshot reads model states once. Only loaded and unloaded models are
// candidates; loading, unloading and error never are.
func (r *Router) snapshot() view {
	v := view{ranked: map[string][]manager.ModelStatus{}, usage: map[string]int64{}}
	for _, m := range r.avail.Models(registry.Filter{}) {
		if !m.State.Routable() || m.Subject == registry.GeneralSubject {
			continue
		}
		v.usage[m.Subject] += m.UsageCount
		v.ranked[m.Subject] = append(v.ranked[m.Subject], m)
	}
	for _, ms := range v.ranked {
		sort.Slice(ms, func(i, j int) bool { return better(ms[i], ms[j]) })
	}
	return v
}

// best returns the preferred routable model of subject.
func (v view) best(subject string) (manager.ModelStatus, bool) {
	ms := v.ranked[subject]
	if len(ms) == 0 {
		return manager.ModelStatus{}, false
	}
	return ms[0], true
}

// alternates lists the other routable models of subject, best first.
func (v view) alternates(subject string) []string {
	ms := v.ranked[subject]
	if len(ms) < 2 {
		return nil
	}
	out := make([]string, 0, len(ms)-1)
	for _, m := range ms[1:] {
		out = append(out, m.ID)
	}
	return out
}

// better orders models within a subject: loaded first, then higher priority,
// then id.
func better(a, b manager.ModelStatus) bool {
	al, bl := a.State == manager.StateLoaded, b.State == manager.StateLoaded
	if al != bl {
		return al
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

// dedupe drops repeats and the primary from fallbacks, keeping order.
func dedupe(primary string, fallbacks []string) []string {
	out := make([]string, 0, len(fallbacks))
	seen := map[string]bool{primary: true}
	for _, id := range fallbacks {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func general(reason string) Decision {
	return Decision{PrimaryModel: GeneralModel, PrimarySubject: registry.GeneralSubject, Reasoning: reason}
}

func (r *Router) confidence(cls classifier.Result, v view) Decision {
	if cls.Confidence < r.cfg.Threshold() {
		return general(fmt.Sprintf("confidence %.2f below threshold %.2f for %s; %s",
			cls.Confidence, r.cfg.Threshold(), cls.PredictedSubject, cls.Reasoning))
	}
	m, ok := v.best(cls.PredictedSubject)
	if !ok {
		return general(fmt.Sprintf("no available model for %s; %s", cls.PredictedSubject, cls.Reasoning))
	}
	d := Decision{
		PrimaryModel:   m.ID,
		PrimarySubject: m.Subject,
		Reasoning:      fmt.Sprintf("%s with confidence %.2f; %s", m.Subject, cls.Confidence, cls.Reasoning),
		FallbackModels: v.alternates(m.Subject),
	}
	for _, s := range cls.FallbackSubjects {
		if fm, ok := v.best(s); ok {
			d.FallbackModels = append(d.FallbackModels, fm.ID)
		}
	}
	return d
}

func (r *Router) cascade(cls classifier.Result, v view) Decision {
	var chain []manager.ModelStatus
	for _, s := range append([]string{cls.PredictedSubject}, cls.FallbackSubjects...) {
		if m, ok := v.best(s); ok {
			chain = append(chain, m)
		}
	}
	if len(chain) == 0 {
		return general(fmt.Sprintf("no available model for %s or its fallbacks; %s", cls.PredictedSubject, cls.Reasoning))
	}
	d := Decision{
		PrimaryModel:   chain[0].ID,
		PrimarySubject: chain[0].Subject,
		Reasoning:      fmt.Sprintf("cascade picked %s (predicted %s); %s", chain[0].Subject, cls.PredictedSubject, cls.Reasoning),
		FallbackModels: v.alternates(chain[0].Subject),
	}
	for _, m := range chain[1:] {
		d.FallbackModels = append(d.FallbackModels, m.ID)
	}
	d.FallbackModels = append(d.FallbackModels, GeneralModel)
	return d
}

func (r *Router) loadBalanced(cls classifier.Result, v view) Decision {
	type cand struct {
		m      manager.ModelStatus
		usage  int64
		errors int64
		ewma   float64
		order  int
	}
	var cands []cand
	for i, s := range append([]string{cls.PredictedSubject}, cls.FallbackSubjects...) {
		m, ok := v.best(s)
		if !ok {
			continue
		}
		ms := r.stats.model(m.ID)
		cands = append(cands, cand{m: m, usage: v.usage[s], errors: ms.Errors, ewma: ms.EWMAms, order: i})
	}
	if len(cands) == 0 {
		return general(fmt.Sprintf("no available model for %s or its fallbacks; %s", cls.PredictedSubject, cls.Reasoning))
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.usage != b.usage {
			return a.usage < b.usage
		}
		if a.errors != b.errors {
			return a.errors < b.errors
		}
		if a.ewma != b.ewma {
			return a.ewma < b.ewma
		}
		return a.order < b.order
	})
	pick := cands[0]
	d := Decision{
		PrimaryModel:   pick.m.ID,
		PrimarySubject: pick.m.Subject,
		Reasoning: fmt.Sprintf("least used of %d candidates: %s (usage %d, predicted %s); %s",
			len(cands), pick.m.Subject, pick.usage, cls.PredictedSubject, cls.Reasoning),
		FallbackModels: v.alternates(pick.m.Subject),
	}
	rest := cands[1:]
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].order < rest[j].order })
	for _, c := range rest {
		d.FallbackModels = append(d.FallbackModels, c.m.ID)
	}
	d.FallbackModels = append(d.FallbackModels, GeneralModel)
	return d
}

// ObserveResult records the outcome of serving a query with modelID.
func (r *Router) ObserveResult(modelID, subject string, elapsed time.Duration, err error) {
	r.stats.observe(modelID, subject, elapsed, err == nil)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	resultsTotal.WithLabelValues(subject, outcome).Inc()
}

// RecordFallbackUsed counts a query that was answered by a fallback target.
func (r *Router) RecordFallbackUsed() { r.stats.recordFallbackUsed() }

// Stats returns a consistent snapshot of routing statistics.
func (r *Router) Stats() Snapshot { return r.stats.snapshot() }
