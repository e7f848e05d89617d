// Package pdftest builds small, structurally valid PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
)

// Size is a page size in PDF points
type Size struct {
	Width  float64
	Height float64
}

var (
	Letter = Size{Width: 612, Height: 792}
	A4     = Size{Width: 595, Height: 842}
)

// Options tweak the generated document
type Options struct {
	// InheritedBox puts a MediaBox on the page tree node instead of on each page
	InheritedBox *Size
	// Text is drawn on every page with Helvetica when non-empty
	Text string
}

// Build returns a PDF with one page per size, with a correct xref table
func Build(sizes ...Size) []byte {
	return BuildWithOptions(Options{}, sizes...)
}

// Letters returns a PDF with n US Letter pages
func Letters(n int) []byte {
	sizes := make([]Size, n)
	for i := range sizes {
		sizes[i] = Letter
	}
	return Build(sizes...)
}

// BuildWithOptions is Build with extra structure
func BuildWithOptions(opts Options, sizes ...Size) []byte {
	var buf bytes.Buffer
	var offsets []int

	object := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	// 1 catalog, 2 pages, 3 font, then for each page: page object and content stream
	const firstPage = 4
	kids := ""
	for i := range sizes {
		kids += fmt.Sprintf("%d 0 R ", firstPage+i*2)
	}
	object("<< /Type /Catalog /Pages 2 0 R >>")
	pagesDict := fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d", kids, len(sizes))
	if opts.InheritedBox != nil {
		pagesDict += fmt.Sprintf(" /MediaBox [0 0 %s %s]", num(opts.InheritedBox.Width), num(opts.InheritedBox.Height))
	}
	object(pagesDict + " >>")
	object("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, size := range sizes {
		page := fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R", firstPage+i*2+1)
		if opts.InheritedBox == nil {
			page += fmt.Sprintf(" /MediaBox [0 0 %s %s]", num(size.Width), num(size.Height))
		}
		object(page + " >>")

		content := ""
		if opts.Text != "" {
			content = fmt.Sprintf("BT /F1 24 Tf 72 72 Td (%s %d) Tj ET", opts.Text, i+1)
		}
		object(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefOffset)
	return buf.Bytes()
}

func num(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}
