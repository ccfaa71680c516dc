package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"modelrouter/internal/manager"
)

// statusError is an error that carries its HTTP status.
type statusError struct {
	msg  string
	code int
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.code }

var (
	// ErrNoModels is returned when a query arrives and nothing is registered.
	ErrNoModels error = &statusError{msg: "no models registered", code: http.StatusServiceUnavailable}
	// ErrEmptyQuery rejects blank query text.
	ErrEmptyQuery error = &statusError{msg: "query is required", code: http.StatusBadRequest}
)

// ErrAllModelsFailed matches any *AllModelsFailedError via errors.Is.
var ErrAllModelsFailed = errors.New("all candidate models failed")

// Attempt records one model tried while serving a query.
type Attempt struct {
	ModelID string
	Err     error
}

// AllModelsFailedError lists every target tried for a query, in order.
type AllModelsFailedError struct {
	Attempts []Attempt
}

func (e *AllModelsFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.ModelID, a.Err))
	}
	return ErrAllModelsFailed.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *AllModelsFailedError) Is(target error) bool { return target == ErrAllModelsFailed }

// Busy reports whether every attempt was rejected by admission control.
func (e *AllModelsFailedError) Busy() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if !manager.IsTooBusy(a.Err) {
			return false
		}
	}
	return true
}

// StatusCode maps the failure to an HTTP status for the API layer.
func (e *AllModelsFailedError) StatusCode() int {
	if e.Busy() {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
