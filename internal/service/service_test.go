package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelrouter/internal/classifier"
	"modelrouter/internal/config"
	"modelrouter/internal/manager"
	"modelrouter/internal/registry"
	"modelrouter/internal/router"
	"modelrouter/pkg/types"
)

// fakeRuntime answers every prompt with a fixed reply per model.
type fakeRuntime struct {
	mu       sync.Mutex
	replies  map[string]string
	failures map[string]error
	prompts  []string
	calls    map[string]int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{replies: map[string]string{}, failures: map[string]error{}, calls: map[string]int{}}
}

func (r *fakeRuntime) Load(ctx context.Context, d registry.Descriptor) (manager.Handle, error) {
	return &fakeHandle{rt: r, id: d.ID}, nil
}

func (r *fakeRuntime) callCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

type fakeHandle struct {
	rt *fakeRuntime
	id string
}

func (h *fakeHandle) Generate(ctx context.Context, prompt string, params manager.InferParams, onToken func(string) error) (manager.FinalResult, error) {
	h.rt.mu.Lock()
	defer h.rt.mu.Unlock()
	h.rt.calls[h.id]++
	h.rt.prompts = append(h.rt.prompts, prompt)
	if err := h.rt.failures[h.id]; err != nil {
		return manager.FinalResult{}, err
	}
	out, ok := h.rt.replies[h.id]
	if !ok {
		out = "answer from " + h.id
	}
	return manager.FinalResult{Content: out, FinishReason: "stop"}, nil
}

func (h *fakeHandle) FootprintMB() int { return 10 }
func (h *fakeHandle) Close() error     { return nil }

func writeModel(t *testing.T, root, subject, name string) {
	t.Helper()
	dir := filepath.Join(root, subject)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".gguf"), []byte("GGUF"), 0o644))
}

func testConfig(t *testing.T, modelsDir string) config.Config {
	t.Helper()
	off := false
	cfg := config.Config{
		ModelsDir:       modelsDir,
		CacheDirectory:  t.TempDir(),
		HostMemoryCheck: &off,
		Classifier:      classifier.Config{Strategy: classifier.StrategyKeyword},
	}
	return cfg.WithDefaults()
}

func newService(t *testing.T, cfg config.Config, rt *fakeRuntime) *Service {
	t.Helper()
	s, err := New(context.Background(), cfg, WithRuntime(registry.KindLlama, rt))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Start(context.Background()))
	return s
}

func TestStart_DiscoversAndPreloads(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	writeModel(t, root, "programming", "coder")
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte("{"), 0o644))

	cfg := testConfig(t, root)
	cfg.ExtraDirs = []string{filepath.Join(root, "missing")}
	cfg.PreloadSubjects = []string{"math", "history"}
	s := newService(t, cfg, newFakeRuntime())

	models := s.Models()
	require.Len(t, models, 2)
	states := map[string]string{}
	for _, m := range models {
		states[m.ID] = m.State
	}
	assert.Equal(t, "loaded", states["algebra"])
	assert.Equal(t, "unloaded", states["coder"])
	assert.True(t, s.Ready())
	assert.Error(t, s.Start(context.Background()), "second start must fail")
}

func TestStart_RestartKeepsCatalogue(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	cfg := testConfig(t, root)

	s, err := New(context.Background(), cfg, WithRuntime(registry.KindLlama, newFakeRuntime()))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// the catalogue persists; rescanning the same files is not an error
	s2 := newService(t, cfg, newFakeRuntime())
	assert.Len(t, s2.Models(), 1)
}

func TestProcessQuery_RoutesToSubjectModel(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	writeModel(t, root, "programming", "coder")
	rt := newFakeRuntime()
	rt.replies["algebra"] = " 15 + 27 = 42 "
	s := newService(t, testConfig(t, root), rt)

	resp, err := s.ProcessQuery(context.Background(), types.QueryRequest{Query: "What is 15 + 27?"})
	require.NoError(t, err)
	assert.Equal(t, "algebra", resp.ModelUsed)
	assert.Equal(t, "15 + 27 = 42", resp.Response)
	assert.False(t, resp.FallbackUsed)
	assert.Greater(t, resp.Confidence, 0.6)
	assert.NotEmpty(t, resp.Reasoning)
	assert.Equal(t, 0, rt.callCount("coder"))

	st := s.Router().Stats()
	assert.Equal(t, int64(1), st.TotalQueries)
	assert.Equal(t, int64(1), st.Subjects["math"].Successes)
}

func TestProcessQuery_UserContextReachesPrompt(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	rt := newFakeRuntime()
	s := newService(t, testConfig(t, root), rt)

	_, err := s.ProcessQuery(context.Background(), types.QueryRequest{
		Query:       "What is 15 + 27?",
		UserContext: json.RawMessage(`"homework help"`),
	})
	require.NoError(t, err)
	require.Len(t, rt.prompts, 1)
	assert.Contains(t, rt.prompts[0], "Context: homework help")
	assert.Contains(t, rt.prompts[0], "Question: What is 15 + 27?")
}

func TestProcessQuery_LowConfidenceAnswersGeneral(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	rt := newFakeRuntime()
	s := newService(t, testConfig(t, root), rt)

	resp, err := s.ProcessQuery(context.Background(), types.QueryRequest{Query: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, router.GeneralModel, resp.ModelUsed)
	assert.NotEmpty(t, resp.Response)
	assert.False(t, resp.FallbackUsed)
	assert.InDelta(t, 0.2, resp.Confidence, 1e-9)
	assert.Equal(t, 0, rt.callCount("algebra"))
	assert.Equal(t, int64(1), s.Router().Stats().FallbackRoutes)
}

func TestProcessQuery_FallsBackToNextModel(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	writeModel(t, root, "programming", "coder")
	rt := newFakeRuntime()
	rt.failures["algebra"] = errors.New("kv cache exhausted")
	s := newService(t, testConfig(t, root), rt)

	resp, err := s.ProcessQuery(context.Background(), types.QueryRequest{Query: "What is 15 + 27?"})
	require.NoError(t, err)
	assert.Equal(t, "coder", resp.ModelUsed)
	assert.True(t, resp.FallbackUsed)

	st := s.Router().Stats()
	assert.Equal(t, int64(1), st.FallbacksUsed)
	assert.Equal(t, int64(1), st.Models["algebra"].Errors)
	assert.Equal(t, int64(1), st.Models["coder"].Successes)
}

func TestProcessQuery_CascadeEndsInGeneral(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	rt := newFakeRuntime()
	rt.replies["algebra"] = "   "
	cfg := testConfig(t, root)
	cfg.Router = router.Config{Strategy: router.StrategyCascade}
	s := newService(t, cfg, rt)

	resp, err := s.ProcessQuery(context.Background(), types.QueryRequest{Query: "What is 15 + 27?"})
	require.NoError(t, err)
	assert.Equal(t, router.GeneralModel, resp.ModelUsed)
	assert.True(t, resp.FallbackUsed)
	assert.Equal(t, 1, rt.callCount("algebra"))
}

func TestProcessQuery_AllModelsFailed(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	rt := newFakeRuntime()
	rt.failures["algebra"] = errors.New("boom")
	s := newService(t, testConfig(t, root), rt)

	_, err := s.ProcessQuery(context.Background(), types.QueryRequest{Query: "What is 15 + 27?"})
	require.ErrorIs(t, err, ErrAllModelsFailed)
	var all *AllModelsFailedError
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Attempts, 1)
	assert.Equal(t, "algebra", all.Attempts[0].ModelID)
	assert.False(t, all.Busy())
	assert.Equal(t, http.StatusInternalServerError, statusOf(err))
	assert.Equal(t, int64(1), s.Router().Stats().Subjects["math"].Errors)
}

func TestProcessQuery_NoModelsAndEmptyQuery(t *testing.T) {
	s := newService(t, testConfig(t, t.TempDir()), newFakeRuntime())
	assert.False(t, s.Ready())

	_, err := s.ProcessQuery(context.Background(), types.QueryRequest{Query: "What is 15 + 27?"})
	assert.ErrorIs(t, err, ErrNoModels)
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(err))

	_, err = s.ProcessQuery(context.Background(), types.QueryRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestProcessQuery_CanceledContext(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	s := newService(t, testConfig(t, root), newFakeRuntime())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ProcessQuery(ctx, types.QueryRequest{Query: "What is 15 + 27?"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegisterLoadUnload(t *testing.T) {
	s := newService(t, testConfig(t, t.TempDir()), newFakeRuntime())
	ctx := context.Background()
	loc := filepath.Join(t.TempDir(), "chronicle.gguf")
	require.NoError(t, os.WriteFile(loc, []byte("GGUF"), 0o644))

	m, err := s.Register(ctx, types.RegisterModelRequest{ID: "chronicle", Subject: "History", Location: loc, Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, "history", m.Subject)
	assert.Equal(t, registry.KindLlama, m.Kind)
	assert.Equal(t, "unloaded", m.State)

	_, err = s.Register(ctx, types.RegisterModelRequest{ID: "chronicle", Subject: "history", Location: loc})
	assert.True(t, registry.IsDuplicate(err))
	_, err = s.Register(ctx, types.RegisterModelRequest{Subject: "history", Location: filepath.Join(t.TempDir(), "nope.gguf")})
	assert.True(t, registry.IsRegistrationError(err))

	res, err := s.LoadModel(ctx, "chronicle")
	require.NoError(t, err)
	assert.Equal(t, types.ModelActionResponse{ID: "chronicle", State: "loaded", OK: true}, res)

	res, err = s.UnloadModel(ctx, "chronicle", true)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "unloaded", res.State)

	_, err = s.LoadModel(ctx, "ghost")
	assert.True(t, manager.IsModelNotFound(err))
	_, err = s.UnloadModel(ctx, "ghost", false)
	assert.True(t, manager.IsModelNotFound(err))
}

func TestStatus(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "math", "algebra")
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s, err := New(context.Background(), testConfig(t, root), WithRuntime(registry.KindLlama, newFakeRuntime()), WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Start(context.Background()))

	_, err = s.ProcessQuery(context.Background(), types.QueryRequest{Query: "What is 15 + 27?"})
	require.NoError(t, err)
	mu.Lock()
	now = start.Add(90 * time.Second)
	mu.Unlock()

	brief := s.Status(false)
	assert.Equal(t, StatusHealthy, brief.Status)
	assert.True(t, brief.ServiceRunning)
	assert.Equal(t, 1, brief.ModelsLoaded)
	assert.Equal(t, int64(90), brief.UptimeSeconds)
	assert.Nil(t, brief.Detail)

	full := s.Status(true)
	require.NotNil(t, full.Detail)
	assert.Len(t, full.Detail.Models, 1)
	assert.Equal(t, int64(1), full.Detail.Routing.TotalQueries)
	assert.Equal(t, int64(1), full.Detail.Subjects["math"].Hits)
	require.NotNil(t, full.Detail.Cache)
	assert.Equal(t, 10, full.Detail.Cache.MaxEntries)
	assert.NotEmpty(t, s.Events())

	require.NoError(t, s.Close())
	assert.Equal(t, StatusStopped, s.Status(false).Status)
}

func TestNew_CacheDisabled(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	off := false
	cfg.CacheEnabled = &off
	s := newService(t, cfg, newFakeRuntime())
	assert.Nil(t, s.Cache())
	assert.Nil(t, s.Status(true).Detail.Cache)
}

func TestNew_BadRouterConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Router.Strategy = "random"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func statusOf(err error) int {
	var he interface{ StatusCode() int }
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return 0
}

func TestContextText(t *testing.T) {
	assert.Equal(t, "", contextText(nil))
	assert.Equal(t, "", contextText(json.RawMessage("null")))
	assert.Equal(t, "plain", contextText(json.RawMessage(`"  plain "`)))
	assert.Equal(t, `{"grade":5}`, contextText(json.RawMessage("{ \"grade\": 5 }")))
}
