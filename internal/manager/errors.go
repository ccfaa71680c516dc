package manager

import (
	"errors"
	"fmt"
)

// tooBusyError signals a model that cannot take the request right now: it is
// loading or unloading, or its queue timed out. Mapped to 429.
type tooBusyError struct {
	modelID string
	reason  string
}

func (e tooBusyError) Error() string {
	if e.reason == "" {
		return "too busy: " + e.modelID
	}
	return "too busy: " + e.modelID + " (" + e.reason + ")"
}

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error when a requested model id is not present in the registry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var nf modelNotFoundError
	return errors.As(err, &nf)
}

// dependencyUnavailableError signals a missing runtime (e.g. llama.cpp not built in)
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var du dependencyUnavailableError
	return errors.As(err, &du)
}

// LoadError records a failed materialization. The model is left in StateError.
type LoadError struct {
	ModelID string
	Err     error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.ModelID, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// MemoryPressureError means eviction could not free enough room for a load.
// Nothing was evicted when it is returned.
type MemoryPressureError struct {
	ModelID      string
	RequiredMB   int
	UsedMB       int
	MaxMB        int
	LoadedModels int
	MaxModels    int
}

func (e *MemoryPressureError) Error() string {
	return fmt.Sprintf("insufficient memory for %s: need %dMB, using %d/%dMB with %d/%d models loaded",
		e.ModelID, e.RequiredMB, e.UsedMB, e.MaxMB, e.LoadedModels, e.MaxModels)
}

// IsInsufficientMemory reports whether err is a MemoryPressureError.
func IsInsufficientMemory(err error) bool {
	var mp *MemoryPressureError
	return errors.As(err, &mp)
}
