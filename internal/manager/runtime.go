package manager

import (
	"context"

	"modelrouter/internal/registry"
)

// Runtime materializes models of one kind. Concrete implementations
// (in-process llama.cpp, llama_server) satisfy this interface.
type Runtime interface {
	// Load makes the model ready for inference. Implementations should honor
	// ctx cancellation where the underlying library allows it.
	Load(ctx context.Context, d registry.Descriptor) (Handle, error)
}

// Restorer is implemented by runtimes that can rebuild a handle from a blob
// previously produced by Snapshotter. The manager then consults the model
// cache before a full load.
type Restorer interface {
	Restore(ctx context.Context, d registry.Descriptor, blob []byte) (Handle, error)
	// SnapshotFormat tags blobs so format changes invalidate old entries.
	SnapshotFormat() string
}

// Snapshotter is implemented by handles whose state can be serialized.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// Handle is a loaded model.
type Handle interface {
	// Generate streams tokens for the given prompt. The onToken callback is
	// invoked for each token and may be nil. Implementations must return when
	// the context is canceled.
	Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error)
	// FootprintMB is the memory the model occupies, 0 if unknown.
	FootprintMB() int
	// Close releases any resources associated with the handle.
	Close() error
}

// InferParams captures generation parameters passed to the runtime.
type InferParams struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// FinalResult summarizes the generation after streaming.
type FinalResult struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
