package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Result is the output of the first backend that produced a complete page set.
// Dir holds the pages and belongs to the caller, who removes it.
type Result struct {
	Backend  string
	Degraded bool
	Pages    []Page
	Dir      string
}

// Chain tries backends in order until one succeeds
type Chain struct {
	workDir  string
	backends []Backend
}

// NewChain renders into fresh directories under workDir, one per attempt
func NewChain(workDir string, backends ...Backend) *Chain {
	return &Chain{workDir: workDir, backends: backends}
}

// Backends lists the backend names in try order
func (c *Chain) Backends() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return names
}

// Render returns the first complete result. A failed attempt's directory is removed
// before the next backend starts, so no partial output survives.
func (c *Chain) Render(ctx context.Context, doc *Document) (*Result, error) {
	if doc.PageCount() == 0 {
		return nil, ErrEmptyDocument
	}
	if err := os.MkdirAll(c.workDir, 0755); err != nil {
		return nil, fmt.Errorf("create render work directory: %w", err)
	}

	var attempts []Attempt
	var last error
	for _, backend := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := backend.Name()

		if err := backend.Available(ctx, doc); err != nil {
			if !errors.Is(err, ErrBackendUnavailable) {
				err = fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, name, err)
			}
			Logger.Debug("Skipping render backend", "backend", name, "error", err)
			attempts = append(attempts, Attempt{Backend: name, Skipped: true, Err: err})
			last = err
			continue
		}

		dir, err := os.MkdirTemp(c.workDir, name+"-*")
		if err != nil {
			return nil, fmt.Errorf("create attempt directory: %w", err)
		}

		start := time.Now()
		pages, err := c.attempt(ctx, backend, doc, dir)
		if err == nil {
			Logger.Info("Rendered document",
				"backend", name,
				"pages", len(pages),
				"degraded", backend.Degraded(),
				"duration_ms", time.Since(start).Milliseconds())
			return &Result{Backend: name, Degraded: backend.Degraded(), Pages: pages, Dir: dir}, nil
		}

		removeAttemptDir(dir)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, ErrRenderFailure) {
			err = fmt.Errorf("%w: %s: %v", ErrRenderFailure, name, err)
		}
		Logger.Warn("Render backend failed, trying next", "backend", name, "error", err)
		attempts = append(attempts, Attempt{Backend: name, Err: err})
		last = err
	}

	return nil, &AllBackendsFailedError{Attempts: attempts, Last: last}
}

// attempt runs one backend and checks its page set, recovering from panics in cgo or wasm bindings
func (c *Chain) attempt(ctx context.Context, backend Backend, doc *Document, dir string) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Render backend panicked", "backend", backend.Name(), "panic", r)
			pages = nil
			err = renderFailure(backend.Name(), "panic: %v", r)
		}
	}()

	pages, err = backend.Render(ctx, doc, dir)
	if err != nil {
		return nil, err
	}
	if err := verifyPages(pages, doc); err != nil {
		return nil, renderFailure(backend.Name(), "%v", err)
	}
	return pages, nil
}

func verifyPages(pages []Page, doc *Document) error {
	if len(pages) != doc.PageCount() {
		return fmt.Errorf("returned %d pages, expected %d", len(pages), doc.PageCount())
	}
	for i, page := range pages {
		if page.Index != i+1 {
			return fmt.Errorf("page at position %d has index %d", i+1, page.Index)
		}
		info, err := os.Stat(page.Path)
		if err != nil {
			return fmt.Errorf("page %d: %w", page.Index, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("page %d is empty", page.Index)
		}
	}
	return nil
}

func removeAttemptDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		Logger.Warn("Failed to remove render attempt directory", "dir", dir, "error", err)
	}
}

// Close releases backends holding resources
func (c *Chain) Close() error {
	var errs []error
	for _, backend := range c.backends {
		if closer, ok := backend.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
