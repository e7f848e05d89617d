package pdfrenderer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

const pdfiumInstanceTimeout = 30 * time.Second

// PDFiumBackend renders with PDFium compiled to WebAssembly (pure Go, no CGo).
// The pool is started on first use and kept until Close.
type PDFiumBackend struct {
	dpi     int
	workers int

	mu      sync.Mutex
	pool    pdfium.Pool
	initErr error
}

func NewPDFiumBackend(scale float64, workers int) *PDFiumBackend {
	if scale <= 0 {
		scale = DefaultScale
	}
	if workers < 1 {
		workers = 1
	}
	return &PDFiumBackend{dpi: int(math.Round(dpiFor(scale))), workers: workers}
}

func (r *PDFiumBackend) Name() string { return "pdfium" }

func (r *PDFiumBackend) Degraded() bool { return false }

func (r *PDFiumBackend) instance() (pdfium.Pdfium, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool == nil && r.initErr == nil {
		pool, err := webassembly.Init(webassembly.Config{
			MinIdle:  1,
			MaxIdle:  r.workers,
			MaxTotal: r.workers,
		})
		if err != nil {
			r.initErr = fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
			Logger.Warn("PDFium backend disabled", "error", err)
		} else {
			r.pool = pool
		}
	}
	if r.initErr != nil {
		return nil, r.initErr
	}
	return r.pool.GetInstance(pdfiumInstanceTimeout)
}

// Available opens and closes the document on a pooled instance
func (r *PDFiumBackend) Available(ctx context.Context, doc *Document) error {
	instance, err := r.instance()
	if err != nil {
		return unavailable(r.Name(), "%v", err)
	}
	defer instance.Close()

	opened, err := instance.OpenDocument(&requests.OpenDocument{File: &doc.Data})
	if err != nil {
		return unavailable(r.Name(), "unable to open document: %v", err)
	}
	instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: opened.Document})
	return nil
}

func (r *PDFiumBackend) Render(ctx context.Context, doc *Document, outDir string) ([]Page, error) {
	instance, err := r.instance()
	if err != nil {
		return nil, renderFailure(r.Name(), "%v", err)
	}
	defer instance.Close()

	opened, err := instance.OpenDocument(&requests.OpenDocument{File: &doc.Data})
	if err != nil {
		return nil, renderFailure(r.Name(), "unable to open document: %v", err)
	}
	defer instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: opened.Document})

	pageCount, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: opened.Document})
	if err != nil {
		return nil, renderFailure(r.Name(), "unable to get page count: %v", err)
	}
	total := doc.PageCount()
	if pageCount.PageCount != total {
		return nil, renderFailure(r.Name(), "found %d pages, expected %d", pageCount.PageCount, total)
	}

	pages := make([]Page, 0, total)
	for pageIndex := 0; pageIndex < total; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rendered, err := instance.RenderPageInDPI(&requests.RenderPageInDPI{
			DPI: r.dpi,
			Page: requests.Page{
				ByIndex: &requests.PageByIndex{
					Document: opened.Document,
					Index:    pageIndex,
				},
			},
		})
		if err != nil {
			return nil, renderFailure(r.Name(), "unable to render page %d: %v", pageIndex+1, err)
		}

		// the image lives in WebAssembly memory until Cleanup, so encode first
		page, err := writePage(outDir, doc.BaseName, pageIndex+1, total, rendered.Result.Image)
		rendered.Cleanup()
		if err != nil {
			return nil, renderFailure(r.Name(), "%v", err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// Close shuts down the WebAssembly pool
func (r *PDFiumBackend) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		err := r.pool.Close()
		r.pool = nil
		return err
	}
	return nil
}
