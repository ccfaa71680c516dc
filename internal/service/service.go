// Package service assembles the registry, model cache, lifecycle manager,
// classifier and router into the query-serving facade used by the HTTP API
// and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"modelrouter/internal/cache"
	"modelrouter/internal/classifier"
	"modelrouter/internal/common/fsutil"
	"modelrouter/internal/config"
	"modelrouter/internal/embedding"
	"modelrouter/internal/manager"
	"modelrouter/internal/registry"
	"modelrouter/internal/router"
	"modelrouter/internal/store"
)

const recentEvents = 64

// Service owns every component for the lifetime of the process.
type Service struct {
	cfg config.Config
	log zerolog.Logger
	now func() time.Time

	st      *store.Store
	reg     *registry.Registry
	cache   *cache.Cache
	sweeper *cache.Sweeper
	mgr     *manager.Manager
	cls     classifier.Classifier
	rtr     *router.Router
	events  *manager.MemoryPublisher

	startedAt time.Time
	running   atomic.Bool
	closeOnce sync.Once
}

type options struct {
	log     zerolog.Logger
	now     func() time.Time
	cls     classifier.Classifier
	mgrOpts []manager.Option
}

// Option customizes New.
type Option func(*options)

// WithLogger sets the root logger; components derive their own from it.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithClassifier replaces the classifier built from configuration.
func WithClassifier(c classifier.Classifier) Option { return func(o *options) { o.cls = c } }

// WithRuntime installs the runtime used for models of kind.
func WithRuntime(kind string, rt manager.Runtime) Option {
	return func(o *options) { o.mgrOpts = append(o.mgrOpts, manager.WithRuntime(kind, rt)) }
}

// WithManagerOptions forwards extra options to the lifecycle manager.
func WithManagerOptions(opts ...manager.Option) Option {
	return func(o *options) { o.mgrOpts = append(o.mgrOpts, opts...) }
}

// New opens persistent state and wires the components. It does not scan
// model directories; call Start for that.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	o := options{log: zerolog.Nop(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	s := &Service{cfg: cfg, log: o.log.With().Str("component", "service").Logger(), now: o.now}

	st, err := store.Open(ctx, cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	s.st = st
	fail := func(err error) (*Service, error) {
		_ = st.Close()
		return nil, err
	}

	if s.reg, err = registry.Open(ctx, st, registry.WithLogger(o.log)); err != nil {
		return fail(err)
	}

	mgrOpts := []manager.Option{manager.WithLogger(o.log), manager.WithClock(o.now)}
	if cfg.CacheOn() {
		if s.cache, err = cache.Open(ctx, cfg.CacheConfig(), st, cache.WithLogger(o.log), cache.WithClock(o.now)); err != nil {
			return fail(fmt.Errorf("open model cache: %w", err))
		}
		mgrOpts = append(mgrOpts, manager.WithCache(s.cache))
	}
	s.events = manager.NewMemoryPublisher(recentEvents)
	mgrOpts = append(mgrOpts, manager.WithPublisher(s.events))
	s.mgr = manager.New(cfg.ManagerConfig(), s.reg, append(mgrOpts, o.mgrOpts...)...)

	s.cls = o.cls
	if s.cls == nil {
		if s.cls, err = buildClassifier(ctx, cfg, o.log); err != nil {
			_ = s.mgr.Close()
			return fail(err)
		}
	}
	if s.rtr, err = router.New(cfg.Router, s.cls, s.mgr, router.WithLogger(o.log), router.WithClock(o.now)); err != nil {
		_ = s.mgr.Close()
		return fail(err)
	}
	return s, nil
}

func buildClassifier(ctx context.Context, cfg config.Config, log zerolog.Logger) (classifier.Classifier, error) {
	subjects := classifier.DefaultSubjects()
	if cfg.Classifier.SubjectsFile != "" {
		path := cfg.Classifier.SubjectsFile
		if p, err := fsutil.ExpandHome(path); err == nil {
			path = p
		}
		loaded, err := classifier.LoadSubjects(path)
		if err != nil {
			return nil, err
		}
		subjects = loaded
	}
	var emb embedding.Embedder
	if !strings.EqualFold(cfg.Classifier.Strategy, classifier.StrategyKeyword) {
		var err error
		if emb, err = embedding.New(cfg.Embedding); err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
	}
	return classifier.New(ctx, cfg.Classifier, subjects, emb, log.With().Str("component", "classifier").Logger())
}

// Start discovers models on disk, registers them, preloads the configured
// subjects and starts the background workers. Discovery problems are logged;
// only a second call fails.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("service already started")
	}
	s.startedAt = s.now()
	s.discover(ctx)
	s.preload(ctx)
	s.mgr.StartMonitor()
	if s.cache != nil {
		sw, err := s.cache.StartSweeper(s.cfg.CacheVerifySchedule)
		if err != nil {
			s.log.Warn().Err(err).Msg("cache verification disabled")
		} else {
			s.sweeper = sw
		}
	}
	rt := s.mgr.SanityCheck()
	s.log.Info().
		Str("event", "start").
		Int("models", s.reg.Len()).
		Strs("subjects", s.reg.Subjects()).
		Strs("runtimes", rt.Runtimes).
		Bool("llama_built", rt.LlamaBuilt).
		Bool("cache", rt.Cache).
		Msg("service started")
	return nil
}

func (s *Service) discover(ctx context.Context) {
	var dirs []string
	for _, d := range s.cfg.ModelDirs() {
		if !fsutil.PathExists(d) {
			s.log.Warn().Str("dir", d).Msg("models directory does not exist")
			continue
		}
		dirs = append(dirs, d)
	}
	if len(dirs) == 0 {
		return
	}
	found, skipped, err := registry.NewScanner().Scan(dirs...)
	if err != nil {
		s.log.Warn().Err(err).Msg("model scan failed")
		return
	}
	for _, e := range skipped {
		s.log.Warn().Err(e).Msg("skipping model file")
	}
	added := 0
	for _, d := range found {
		if _, err := s.reg.Register(ctx, d); err != nil {
			if registry.IsDuplicate(err) {
				s.log.Debug().Str("model", d.ID).Msg("already registered")
				continue
			}
			s.log.Warn().Err(err).Str("model", d.ID).Msg("skipping model")
			continue
		}
		added++
	}
	s.log.Info().Str("event", "discover").Int("found", len(found)).Int("registered", added).Msg("model discovery finished")
}

// preload loads the best model of each preload subject, trying lower ranked
// models when the best one fails.
func (s *Service) preload(ctx context.Context) {
	for _, subject := range s.cfg.PreloadSubjects {
		candidates := s.reg.List(registry.Filter{Subject: subject})
		if len(candidates) == 0 {
			s.log.Warn().Str("subject", subject).Msg("no model to preload")
			continue
		}
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Priority > candidates[j].Priority })
		for _, d := range candidates {
			if _, err := s.mgr.LoadModel(ctx, d.ID, false); err != nil {
				s.log.Warn().Err(err).Str("model", d.ID).Str("subject", subject).Msg("preload failed")
				continue
			}
			s.log.Info().Str("event", "preload").Str("model", d.ID).Str("subject", subject).Msg("model preloaded")
			break
		}
	}
}

// Ready reports whether the service has started and can route queries.
func (s *Service) Ready() bool { return s.running.Load() && s.reg.Len() > 0 }

// Close stops background work, unloads models and closes persistent state.
// It is safe to call more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.running.Store(false)
		s.sweeper.Stop()
		err = s.mgr.Close()
		if cerr := s.st.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.log.Info().Str("event", "stop").Msg("service stopped")
	})
	return err
}

// Router exposes the router for diagnostics.
func (s *Service) Router() *router.Router { return s.rtr }

// Manager exposes the lifecycle manager for diagnostics.
func (s *Service) Manager() *manager.Manager { return s.mgr }

// Cache returns the model cache, or nil when caching is disabled.
func (s *Service) Cache() *cache.Cache { return s.cache }

// Events returns the most recent lifecycle events, oldest first.
func (s *Service) Events() []manager.Event { return s.events.Events() }
