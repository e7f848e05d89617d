package pdfrenderer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendUnavailable means a backend cannot run here; the chain moves on without an attempt
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrRenderFailure means a backend ran and did not produce a complete page set
	ErrRenderFailure = errors.New("render failed")
	// ErrAllBackendsFailed is matched by *AllBackendsFailedError
	ErrAllBackendsFailed = errors.New("all render backends failed")

	ErrEmptyDocument   = errors.New("document has no pages")
	ErrInvalidDocument = errors.New("document is not a valid PDF")
)

// Attempt records what one backend did during a chain run
type Attempt struct {
	Backend string
	Skipped bool
	Err     error
}

// AllBackendsFailedError carries every attempt and the last underlying error
type AllBackendsFailedError struct {
	Attempts []Attempt
	Last     error
}

func (e *AllBackendsFailedError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Backend)
	}
	if e.Last == nil {
		return fmt.Sprintf("%s (tried: %s)", ErrAllBackendsFailed, strings.Join(names, ", "))
	}
	return fmt.Sprintf("%s (tried: %s): %v", ErrAllBackendsFailed, strings.Join(names, ", "), e.Last)
}

func (e *AllBackendsFailedError) Unwrap() error {
	return e.Last
}

func (e *AllBackendsFailedError) Is(target error) bool {
	return target == ErrAllBackendsFailed
}

func unavailable(backend string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrBackendUnavailable, backend, fmt.Sprintf(format, args...))
}

func renderFailure(backend string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrRenderFailure, backend, fmt.Sprintf(format, args...))
}
