// Command pdftopng converts PDF files on disk without starting the HTTP server.
//
//	pdftopng -out ./pages [-zip pages.zip] [-scale 2] report.pdf invoice.pdf
//
// Each input becomes a job directory under -out. With -zip every page of every
// input is also bundled into one archive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	config "github.com/HizumeKazushi/pdftopng/config"
	engine "github.com/HizumeKazushi/pdftopng/engine"
	pdfrenderer "github.com/HizumeKazushi/pdftopng/engine/pdfrenderer"
	storage "github.com/HizumeKazushi/pdftopng/storage"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger = slog.Default()

// newChain is swapped in tests to avoid depending on the engines installed on the host
var newChain = func(workDir string, serverConfig config.ServerConfig, scale float64) *pdfrenderer.Chain {
	return pdfrenderer.NewDefaultChain(workDir, pdfrenderer.Options{
		Scale:         scale,
		PdftoppmPath:  serverConfig.PdftoppmPath,
		NativeTimeout: serverConfig.NativeTimeout,
		PDFiumWorkers: 1,
	})
}

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	engine.Logger = Logger
	pdfrenderer.Logger = Logger
	storage.Logger = Logger
}

func main() {
	injectGlobals(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "pdftopng:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	serverConfig := config.Load()

	flags := flag.NewFlagSet("pdftopng", flag.ContinueOnError)
	outDir := flags.String("out", "pages", "Directory that receives one folder per converted PDF")
	zipPath := flags.String("zip", "", "Also bundle every page into this zip archive")
	scale := flags.Float64("scale", serverConfig.RenderScale, "Render scale relative to 72 DPI")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("no input PDFs given")
	}

	store, err := storage.NewFSStore(*outDir)
	if err != nil {
		return err
	}
	scratch, err := os.MkdirTemp("", "pdftopng-*")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	chain := newChain(filepath.Join(scratch, "render"), serverConfig, *scale)
	defer chain.Close()

	converter, err := engine.NewConverter(store, chain, engine.ConverterOptions{
		ScratchPath:       scratch,
		MaxConcurrentJobs: 1,
	})
	if err != nil {
		return err
	}

	var refs []storage.Ref
	manifests := make([]*engine.Manifest, 0, flags.NArg())
	for _, input := range flags.Args() {
		data, err := os.ReadFile(input)
		if err != nil {
			return err
		}
		manifest, err := converter.Convert(ctx, filepath.Base(input), data)
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
		if manifest.Degraded {
			Logger.Warn("No rendering engine succeeded, wrote placeholder pages", "input", input)
		}
		for _, artifact := range manifest.ArtifactRefs {
			refs = append(refs, storage.Ref{JobID: manifest.JobID, Filename: artifact.Filename})
		}
		manifests = append(manifests, manifest)
	}

	if *zipPath != "" {
		if err := writeArchive(ctx, engine.NewPackager(store), refs, *zipPath); err != nil {
			return err
		}
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(manifests)
}

func writeArchive(ctx context.Context, packager *engine.Packager, refs []storage.Ref, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := packager.Pack(ctx, refs, f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
