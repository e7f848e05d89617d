package pdfrenderer

import (
	"bytes"
	"fmt"
	"math"

	"github.com/ledongthuc/pdf"
)

// PageGeometry is a page's declared size in PDF points (1/72 inch), rotation applied
type PageGeometry struct {
	Width  float64
	Height float64
}

// Document is one staged upload, ready for the backends
type Document struct {
	// Path is the staged scratch copy, for backends that read from disk
	Path string
	// Data is the same content held in memory
	Data []byte
	// BaseName is the sanitized token used to name output pages
	BaseName string
	// Pages holds one geometry per page in document order
	Pages []PageGeometry
}

// PageCount is the number of pages found during inspection
func (d *Document) PageCount() int {
	return len(d.Pages)
}

var letter = PageGeometry{Width: 612, Height: 792}

// Inspect is the structural check run before any backend sees the document.
// It reports ErrInvalidDocument for anything the parser rejects and ErrEmptyDocument
// for a well-formed document without pages.
func Inspect(data []byte) (pages []PageGeometry, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing %%PDF header", ErrInvalidDocument)
	}

	// the parser panics on some malformed input
	defer func() {
		if r := recover(); r != nil {
			Logger.Warn("PDF parser panicked during inspection", "panic", r)
			pages = nil
			err = fmt.Errorf("%w: %v", ErrInvalidDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	numPages := reader.NumPage()
	if numPages < 0 {
		return nil, fmt.Errorf("%w: negative page count", ErrInvalidDocument)
	}
	if numPages == 0 {
		return nil, ErrEmptyDocument
	}

	pages = make([]PageGeometry, 0, numPages)
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			return nil, fmt.Errorf("%w: page %d of %d missing from page tree", ErrInvalidDocument, pageNum, numPages)
		}
		pages = append(pages, pageGeometry(page.V))
	}
	return pages, nil
}

// pageGeometry reads MediaBox (falling back to CropBox, then US Letter) and applies /Rotate
func pageGeometry(page pdf.Value) PageGeometry {
	geometry := letter
	for _, key := range []string{"MediaBox", "CropBox"} {
		if box, ok := readBox(inherited(page, key)); ok {
			geometry = box
			break
		}
	}

	rotate := inherited(page, "Rotate").Int64() % 360
	if rotate < 0 {
		rotate += 360
	}
	if rotate == 90 || rotate == 270 {
		geometry.Width, geometry.Height = geometry.Height, geometry.Width
	}
	return geometry
}

// inherited walks up the page tree, since boxes may live on an ancestor /Pages node
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; !v.IsNull() && depth < 64; depth++ {
		if r := v.Key(key); !r.IsNull() {
			return r
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

func readBox(box pdf.Value) (PageGeometry, bool) {
	if box.Kind() != pdf.Array || box.Len() != 4 {
		return PageGeometry{}, false
	}
	x0, y0 := box.Index(0).Float64(), box.Index(1).Float64()
	x1, y1 := box.Index(2).Float64(), box.Index(3).Float64()
	width, height := math.Abs(x1-x0), math.Abs(y1-y0)
	if width < 1 || height < 1 {
		return PageGeometry{}, false
	}
	return PageGeometry{Width: width, Height: height}, true
}
