package pdfrenderer

import (
	"errors"
	"testing"

	"github.com/HizumeKazushi/pdftopng/pdftest"
)

func TestInspect_PageGeometry(t *testing.T) {
	pages, err := Inspect(pdftest.Build(pdftest.Letter, pdftest.A4, pdftest.Letter))
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(pages))
	}
	if pages[0] != (PageGeometry{612, 792}) {
		t.Errorf("Page 1 expected Letter, got %+v", pages[0])
	}
	if pages[1] != (PageGeometry{595, 842}) {
		t.Errorf("Page 2 expected A4, got %+v", pages[1])
	}
}

func TestInspect_InheritedMediaBox(t *testing.T) {
	box := pdftest.Size{Width: 400, Height: 300}
	pages, err := Inspect(pdftest.BuildWithOptions(pdftest.Options{InheritedBox: &box}, box, box))
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	for i, page := range pages {
		if page.Width != 400 || page.Height != 300 {
			t.Errorf("Page %d expected inherited 400x300, got %+v", i+1, page)
		}
	}
}

func TestInspect_Rejects(t *testing.T) {
	valid := pdftest.Letters(2)
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty input", nil, ErrInvalidDocument},
		{"not a pdf", []byte("this is plain text, not a document"), ErrInvalidDocument},
		{"header only", []byte("%PDF-1.4\n"), ErrInvalidDocument},
		{"truncated", valid[:len(valid)/2], ErrInvalidDocument},
		{"zero pages", pdftest.Build(), ErrEmptyDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Inspect(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSanitizeBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report"},
		{"Report.PDF", "Report"},
		{"my report (final).pdf", "my_report_final"},
		{"../../etc/passwd.pdf", "passwd"},
		{`C:\Users\me\scan.pdf`, "scan"},
		{"請求書.pdf", "請求書"},
		{"...pdf", "document"},
		{"", "document"},
		{"a..b.pdf", "a_b"},
	}
	for _, tt := range tests {
		if got := SanitizeBaseName(tt.in); got != tt.want {
			t.Errorf("SanitizeBaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPageFileName(t *testing.T) {
	tests := []struct {
		index, total int
		want         string
	}{
		{1, 1, "doc-1.png"},
		{9, 9, "doc-9.png"},
		{1, 10, "doc-01.png"},
		{10, 10, "doc-10.png"},
		{7, 120, "doc-007.png"},
	}
	for _, tt := range tests {
		if got := PageFileName("doc", tt.index, tt.total); got != tt.want {
			t.Errorf("PageFileName(doc, %d, %d) = %q, want %q", tt.index, tt.total, got, tt.want)
		}
	}
}
