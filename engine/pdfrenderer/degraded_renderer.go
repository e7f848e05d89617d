package pdfrenderer

import (
	"context"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// maxPlaceholderPixels keeps a single absurd MediaBox from allocating gigabytes
const maxPlaceholderPixels = 100_000_000

// DegradedBackend is the last resort: one blank white page per document page, sized from
// the page geometry. It is always available and its output is flagged degraded.
type DegradedBackend struct {
	scale float64
}

func NewDegradedBackend(scale float64) *DegradedBackend {
	if scale <= 0 {
		scale = DefaultScale
	}
	return &DegradedBackend{scale: scale}
}

func (r *DegradedBackend) Name() string { return "placeholder" }

func (r *DegradedBackend) Degraded() bool { return true }

func (r *DegradedBackend) Available(ctx context.Context, doc *Document) error {
	return nil
}

// PixelSize is the canvas size for a page geometry, at least 1x1
func (r *DegradedBackend) PixelSize(g PageGeometry) (int, int) {
	width := int(math.Round(g.Width * r.scale))
	height := int(math.Round(g.Height * r.scale))
	return max(width, 1), max(height, 1)
}

func (r *DegradedBackend) Render(ctx context.Context, doc *Document, outDir string) ([]Page, error) {
	total := doc.PageCount()
	pages := make([]Page, 0, total)
	for i, geometry := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		width, height := r.PixelSize(geometry)
		// compare per side so the product cannot overflow
		if width > maxPlaceholderPixels/height {
			return nil, renderFailure(r.Name(), "page %d is %dx%d pixels, over the placeholder limit", i+1, width, height)
		}
		page, err := writePage(outDir, doc.BaseName, i+1, total, imaging.New(width, height, color.White))
		if err != nil {
			return nil, renderFailure(r.Name(), "%v", err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
