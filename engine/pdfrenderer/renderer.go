// Package pdfrenderer turns a PDF into one PNG per page through an ordered chain of
// rendering backends, falling back to placeholder pages when no real engine can run.
package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger = slog.Default()

// DefaultScale renders at 144 DPI
const DefaultScale = 2.0

// Page is one rendered page on disk
type Page struct {
	// Index is 1-based
	Index  int
	Path   string
	Width  int
	Height int
}

// Backend defines one way of rasterizing a document
type Backend interface {
	Name() string

	// Degraded is true when the output is not a faithful rendering
	Degraded() bool

	// Available is a cheap check run before Render. Errors wrap ErrBackendUnavailable.
	Available(ctx context.Context, doc *Document) error

	// Render writes exactly doc.PageCount() PNG files into outDir, named with PageFileName,
	// and returns them in page order. Errors wrap ErrRenderFailure.
	Render(ctx context.Context, doc *Document, outDir string) ([]Page, error)
}

// Options selects and tunes the default chain
type Options struct {
	// Scale multiplies the 72 DPI page size
	Scale float64
	// PdftoppmPath is the native tool, looked up on PATH when not absolute
	PdftoppmPath  string
	NativeTimeout time.Duration
	// PDFiumWorkers caps the WebAssembly instance pool
	PDFiumWorkers int
}

// NewDefaultChain builds native, fitz, pdfium and the degraded fallback in that order
func NewDefaultChain(workDir string, opts Options) *Chain {
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	return NewChain(workDir,
		NewNativeBackend(opts.PdftoppmPath, opts.Scale, opts.NativeTimeout),
		NewFitzBackend(opts.Scale),
		NewPDFiumBackend(opts.Scale, opts.PDFiumWorkers),
		NewDegradedBackend(opts.Scale),
	)
}

// writePage encodes img as the canonical page file inside dir
func writePage(dir, base string, index, total int, img image.Image) (Page, error) {
	path := filepath.Join(dir, PageFileName(base, index, total))
	f, err := os.Create(path)
	if err != nil {
		return Page{}, fmt.Errorf("create page file: %w", err)
	}
	if err := imaging.Encode(f, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
		f.Close()
		return Page{}, fmt.Errorf("encode page %d: %w", index, err)
	}
	if err := f.Close(); err != nil {
		return Page{}, fmt.Errorf("close page file: %w", err)
	}
	bounds := img.Bounds()
	return Page{Index: index, Path: path, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func dpiFor(scale float64) float64 {
	return 72 * scale
}
