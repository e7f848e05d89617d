package pdfrenderer

import (
	"context"

	"github.com/gen2brain/go-fitz"
)

// FitzBackend renders with MuPDF through go-fitz (requires CGo)
type FitzBackend struct {
	scale float64
}

func NewFitzBackend(scale float64) *FitzBackend {
	if scale <= 0 {
		scale = DefaultScale
	}
	return &FitzBackend{scale: scale}
}

func (r *FitzBackend) Name() string { return "mupdf" }

func (r *FitzBackend) Degraded() bool { return false }

// Available opens the document once to see whether MuPDF can parse it
func (r *FitzBackend) Available(ctx context.Context, doc *Document) error {
	fdoc, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return unavailable(r.Name(), "unable to open document: %v", err)
	}
	fdoc.Close()
	return nil
}

func (r *FitzBackend) Render(ctx context.Context, doc *Document, outDir string) ([]Page, error) {
	fdoc, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return nil, renderFailure(r.Name(), "unable to open document: %v", err)
	}
	defer fdoc.Close()

	total := doc.PageCount()
	if numPages := fdoc.NumPage(); numPages != total {
		return nil, renderFailure(r.Name(), "found %d pages, expected %d", numPages, total)
	}

	pages := make([]Page, 0, total)
	for pageNum := 0; pageNum < total; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := fdoc.ImageDPI(pageNum, dpiFor(r.scale))
		if err != nil {
			return nil, renderFailure(r.Name(), "unable to render page %d: %v", pageNum+1, err)
		}
		page, err := writePage(outDir, doc.BaseName, pageNum+1, total, img)
		if err != nil {
			return nil, renderFailure(r.Name(), "%v", err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
