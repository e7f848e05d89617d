package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HizumeKazushi/pdftopng/storage"
)

// DefaultNativeTimeout bounds one pdftoppm invocation
const DefaultNativeTimeout = 2 * time.Minute

// NativeBackend shells out to poppler's pdftoppm
type NativeBackend struct {
	binary  string
	scale   float64
	timeout time.Duration

	runner   Runner
	lookPath func(string) (string, error)
}

// NewNativeBackend uses the real exec runner; binary defaults to "pdftoppm"
func NewNativeBackend(binary string, scale float64, timeout time.Duration) *NativeBackend {
	if binary == "" {
		binary = "pdftoppm"
	}
	if scale <= 0 {
		scale = DefaultScale
	}
	if timeout <= 0 {
		timeout = DefaultNativeTimeout
	}
	return &NativeBackend{
		binary:   binary,
		scale:    scale,
		timeout:  timeout,
		runner:   execRunner{},
		lookPath: exec.LookPath,
	}
}

// WithRunner swaps the command runner, mostly for tests
func (n *NativeBackend) WithRunner(r Runner, lookPath func(string) (string, error)) *NativeBackend {
	n.runner = r
	if lookPath != nil {
		n.lookPath = lookPath
	}
	return n
}

func (n *NativeBackend) Name() string { return "pdftoppm" }

func (n *NativeBackend) Degraded() bool { return false }

func (n *NativeBackend) Available(ctx context.Context, doc *Document) error {
	if doc.Path == "" {
		return unavailable(n.Name(), "document has no staged file")
	}
	if _, err := n.lookPath(n.binary); err != nil {
		return unavailable(n.Name(), "%s not found: %v", n.binary, err)
	}
	return nil
}

// Render runs pdftoppm -png -r <dpi> <pdf> <outDir>/<base>, then renames whatever
// numbering the tool picked to the canonical page names
func (n *NativeBackend) Render(ctx context.Context, doc *Document, outDir string) ([]Page, error) {
	runCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	binary, err := n.lookPath(n.binary)
	if err != nil {
		return nil, unavailable(n.Name(), "%s not found: %v", n.binary, err)
	}

	prefix := filepath.Join(outDir, doc.BaseName)
	dpi := strconv.FormatFloat(dpiFor(n.scale), 'f', -1, 64)
	_, stderr, err := n.runner.Run(runCtx, binary, Logger, "-png", "-r", dpi, doc.Path, prefix)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, renderFailure(n.Name(), "timed out after %s", n.timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, renderFailure(n.Name(), "%v: %s", err, truncate(strings.TrimSpace(string(stderr)), 1<<10))
	}

	return n.collect(outDir, doc)
}

// collect checks the tool produced pages 1..N exactly once each and renames them
func (n *NativeBackend) collect(outDir string, doc *Document) ([]Page, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, renderFailure(n.Name(), "read output directory: %v", err)
	}

	type output struct {
		name   string
		number int
	}
	var outputs []output
	seen := make(map[int]bool)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(entry.Name()), ".png") {
			continue
		}
		number := storage.PageNumber(entry.Name())
		if number < 1 {
			continue
		}
		if seen[number] {
			return nil, renderFailure(n.Name(), "page %d produced twice", number)
		}
		seen[number] = true
		outputs = append(outputs, output{name: entry.Name(), number: number})
	}

	if len(outputs) == 0 {
		return nil, renderFailure(n.Name(), "produced no output files")
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].number < outputs[j].number })

	total := doc.PageCount()
	if len(outputs) != total {
		return nil, renderFailure(n.Name(), "produced %d of %d pages", len(outputs), total)
	}

	pages := make([]Page, 0, total)
	for i, out := range outputs {
		index := i + 1
		if out.number != index {
			return nil, renderFailure(n.Name(), "page %d missing from output", index)
		}
		from := filepath.Join(outDir, out.name)
		to := filepath.Join(outDir, PageFileName(doc.BaseName, index, total))
		if from != to {
			if err := os.Rename(from, to); err != nil {
				return nil, renderFailure(n.Name(), "rename page %d: %v", index, err)
			}
		}
		width, height, err := pngSize(to)
		if err != nil {
			return nil, renderFailure(n.Name(), "page %d is not a readable PNG: %v", index, err)
		}
		pages = append(pages, Page{Index: index, Path: to, Width: width, Height: height})
	}
	return pages, nil
}

func pngSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	if format != "png" {
		return 0, 0, fmt.Errorf("unexpected format %s", format)
	}
	return cfg.Width, cfg.Height, nil
}
