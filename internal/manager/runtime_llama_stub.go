//go:build !llama

package manager

// No-CGO stand-in for the in-process llama runtime, compiled when the 'llama'
// build tag is NOT set. It refuses to load rather than mock inference.

import (
	"context"

	"modelrouter/internal/registry"
)

var llamaBuilt = false

type llamaRuntime struct {
	ctxSize int
	threads int
}

// NewLlamaRuntime returns a runtime that reports llama.cpp as unavailable.
func NewLlamaRuntime(ctxSize, threads int) Runtime {
	return &llamaRuntime{ctxSize: ctxSize, threads: threads}
}

func (r *llamaRuntime) Load(ctx context.Context, d registry.Descriptor) (Handle, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
