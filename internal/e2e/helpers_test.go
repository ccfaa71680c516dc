package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"modelrouter/internal/classifier"
	"modelrouter/internal/config"
	"modelrouter/internal/httpapi"
	"modelrouter/internal/manager"
	"modelrouter/internal/registry"
	"modelrouter/internal/service"
)

// scriptedRuntime answers every prompt with a fixed reply per model. When
// gate is set, generation blocks on it after signalling entered.
type scriptedRuntime struct {
	mu      sync.Mutex
	replies map[string]string
	gate    chan struct{}
	entered chan string
}

func (r *scriptedRuntime) Load(ctx context.Context, d registry.Descriptor) (manager.Handle, error) {
	return &scriptedHandle{rt: r, id: d.ID}, nil
}

type scriptedHandle struct {
	rt *scriptedRuntime
	id string
}

func (h *scriptedHandle) Generate(ctx context.Context, prompt string, params manager.InferParams, onToken func(string) error) (manager.FinalResult, error) {
	if h.rt.gate != nil {
		h.rt.entered <- h.id
		select {
		case <-h.rt.gate:
		case <-ctx.Done():
			return manager.FinalResult{}, ctx.Err()
		}
	}
	h.rt.mu.Lock()
	out := h.rt.replies[h.id]
	h.rt.mu.Unlock()
	if onToken != nil {
		if err := onToken(out); err != nil {
			return manager.FinalResult{}, err
		}
	}
	return manager.FinalResult{Content: out, FinishReason: "stop"}, nil
}

func (h *scriptedHandle) FootprintMB() int { return 100 }
func (h *scriptedHandle) Close() error     { return nil }

// createModelTree writes <root>/<subject>/<name>.gguf placeholders.
func createModelTree(t *testing.T, models map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, subject := range models {
		dir := filepath.Join(root, subject)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, name+".gguf"), []byte("GGUF"), 0o644); err != nil {
			t.Fatalf("write model %s: %v", name, err)
		}
	}
	return root
}

func baseConfig(t *testing.T, modelsDir string) config.Config {
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

// newServer wires the whole stack behind an httptest server.
func newServer(t *testing.T, cfg config.Config, rt *scriptedRuntime) (*httptest.Server, *service.Service) {
	t.Helper()
	svc, err := service.New(context.Background(), cfg, service.WithRuntime(registry.KindLlama, rt))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(srv.Close)
	return srv, svc
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
