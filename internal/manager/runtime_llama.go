//go:build llama

package manager

import (
	"context"
	"errors"
	"os"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"modelrouter/internal/common/fsutil"
	"modelrouter/internal/registry"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaRuntime loads gguf files in process through go-llama.cpp.
type llamaRuntime struct {
	ctxSize int
	threads int
}

// NewLlamaRuntime returns the in-process llama.cpp runtime.
func NewLlamaRuntime(ctxSize, threads int) Runtime {
	return &llamaRuntime{ctxSize: ctxSize, threads: threads}
}

// llamaHandle owns the loaded model
type llamaHandle struct {
	model     *llama.LLama
	threads   int
	footprint int
}

func (r *llamaRuntime) Load(ctx context.Context, d registry.Descriptor) (Handle, error) {
	if strings.TrimSpace(d.Location) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := llama.New(d.Location, llama.SetContext(r.ctxSize))
	if err != nil {
		return nil, err
	}
	return &llamaHandle{model: m, threads: r.threads, footprint: fsutil.SizeMB(d.Location)}, nil
}

// SnapshotFormat tags llama context state blobs.
func (r *llamaRuntime) SnapshotFormat() string { return "llama-state/1" }

// Restore loads the model and applies a saved context state on top of it.
func (r *llamaRuntime) Restore(ctx context.Context, d registry.Descriptor, blob []byte) (Handle, error) {
	h, err := r.Load(ctx, d)
	if err != nil {
		return nil, err
	}
	lh := h.(*llamaHandle)
	f, err := os.CreateTemp("", "llama-state-*")
	if err != nil {
		_ = lh.Close()
		return nil, err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(blob); err != nil {
		f.Close()
		_ = lh.Close()
		return nil, err
	}
	f.Close()
	if err := lh.model.LoadState(f.Name()); err != nil {
		_ = lh.Close()
		return nil, err
	}
	return lh, nil
}

func (h *llamaHandle) Snapshot() ([]byte, error) {
	f, err := os.CreateTemp("", "llama-state-*")
	if err != nil {
		return nil, err
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)
	if err := h.model.SaveState(name); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

func (h *llamaHandle) FootprintMB() int { return h.footprint }

func (h *llamaHandle) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	if h.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}

	// Bridge token streaming to onToken and respect cancellation
	h.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return false
			}
		}
		return true
	})
	text, err := h.model.Predict(prompt, predictOptions(params, h.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	// token counts are not available without deeper hooks
	return FinalResult{Content: text, FinishReason: "stop"}, nil
}

func (h *llamaHandle) Close() error {
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts InferParams into go-llama.cpp options
func predictOptions(params InferParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, params.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
