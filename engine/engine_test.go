package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/HizumeKazushi/pdftopng/config"
	"github.com/HizumeKazushi/pdftopng/database"
	"github.com/HizumeKazushi/pdftopng/engine/pdfrenderer"
	"github.com/HizumeKazushi/pdftopng/pdftest"
	"github.com/HizumeKazushi/pdftopng/storage"
	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"
)

// whiteBackend renders every page as a small white image, or always fails
type whiteBackend struct {
	fail bool
}

func (w whiteBackend) Name() string   { return "white" }
func (w whiteBackend) Degraded() bool { return false }

func (w whiteBackend) Available(ctx context.Context, doc *pdfrenderer.Document) error {
	return nil
}

func (w whiteBackend) Render(ctx context.Context, doc *pdfrenderer.Document, outDir string) ([]pdfrenderer.Page, error) {
	if w.fail {
		return nil, fmt.Errorf("%w: white: broken on purpose", pdfrenderer.ErrRenderFailure)
	}
	total := doc.PageCount()
	pages := make([]pdfrenderer.Page, 0, total)
	for i := 1; i <= total; i++ {
		path := filepath.Join(outDir, pdfrenderer.PageFileName(doc.BaseName, i, total))
		if err := imaging.Save(imaging.New(10+i, 10, color.White), path); err != nil {
			return nil, err
		}
		pages = append(pages, pdfrenderer.Page{Index: i, Path: path, Width: 10 + i, Height: 10})
	}
	return pages, nil
}

type testEnv struct {
	converter *Converter
	store     *storage.FSStore
	scratch   string
	ledger    database.Repository
}

func newTestEnv(t *testing.T, ledger database.Repository, backends ...pdfrenderer.Backend) *testEnv {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFSStore(filepath.Join(root, "output"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	scratch := filepath.Join(root, "scratch")
	chain := pdfrenderer.NewChain(filepath.Join(scratch, "render"), backends...)
	converter, err := NewConverter(store, chain, ConverterOptions{
		ScratchPath:       scratch,
		MaxConcurrentJobs: 2,
		MaxUploadBytes:    1 << 20,
		Ledger:            ledger,
	})
	if err != nil {
		t.Fatalf("Failed to create converter: %v", err)
	}
	return &testEnv{converter: converter, store: store, scratch: scratch, ledger: ledger}
}

func newTestLedger(t *testing.T) database.Repository {
	t.Helper()
	db, err := database.NewRepository(config.ServerConfig{DatabaseType: "ephemeral"})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// assertScratchEmpty checks no staged upload or render directory survived
func assertScratchEmpty(t *testing.T, scratch string) {
	t.Helper()
	for _, dir := range []string{"uploads", "render"} {
		entries, err := os.ReadDir(filepath.Join(scratch, dir))
		if err != nil && !os.IsNotExist(err) {
			t.Fatalf("Failed to read %s: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Errorf("Expected empty scratch/%s, found %d entries", dir, len(entries))
		}
	}
}

func TestConvert_ThreePages(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	env := newTestEnv(t, ledger, whiteBackend{})

	manifest, err := env.converter.Convert(ctx, "report.pdf", pdftest.Letters(3))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if manifest.PageCount != 3 || len(manifest.ArtifactRefs) != 3 {
		t.Fatalf("Expected 3 pages, got page_count=%d refs=%d", manifest.PageCount, len(manifest.ArtifactRefs))
	}
	if manifest.Degraded || manifest.Status != string(database.JobStatusSucceeded) || manifest.Backend != "white" {
		t.Errorf("Unexpected manifest header: %+v", manifest)
	}

	for i, ref := range manifest.ArtifactRefs {
		wantName := fmt.Sprintf("report-%d.png", i+1)
		if ref.Page != i+1 || ref.Filename != wantName {
			t.Errorf("Ref %d: expected page %d %s, got %+v", i, i+1, wantName, ref)
		}
		if ref.RetrievalKey != manifest.JobID+"/"+wantName {
			t.Errorf("Unexpected retrieval key %s", ref.RetrievalKey)
		}
		if ref.URL != "/api/download/"+manifest.JobID+"/"+wantName {
			t.Errorf("Unexpected url %s", ref.URL)
		}
		if ref.Size <= 0 {
			t.Errorf("Ref %d has no size", i)
		}

		first, err := env.converter.Fetch(ctx, manifest.JobID, ref.Filename)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		second, err := env.converter.Fetch(ctx, manifest.JobID, ref.Filename)
		if err != nil {
			t.Fatalf("Second fetch failed: %v", err)
		}
		if !bytes.Equal(first.Data, second.Data) || first.ContentType != "image/png" {
			t.Errorf("Fetch is not stable for %s", ref.Filename)
		}
		if int64(len(first.Data)) != ref.Size {
			t.Errorf("Size %d does not match stored %d bytes", ref.Size, len(first.Data))
		}
	}

	listed, err := env.store.List(ctx, manifest.JobID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("Expected exactly 3 stored artifacts, got %v", listed)
	}
	if err := env.store.Put(ctx, manifest.JobID, "report-4.png", bytes.NewReader([]byte("x"))); !errors.Is(err, storage.ErrSealed) {
		t.Errorf("Expected finished job to be sealed, got %v", err)
	}
	assertScratchEmpty(t, env.scratch)

	id, _ := ulid.ParseStrict(manifest.JobID)
	job, err := ledger.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("Ledger lookup failed: %v", err)
	}
	if job.Status != database.JobStatusSucceeded || job.PageCount != 3 || job.DisplayName != "report.pdf" {
		t.Errorf("Unexpected ledger row: %+v", job)
	}
}

func TestConvert_DegradedFallback(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	env := newTestEnv(t, ledger, whiteBackend{fail: true}, pdfrenderer.NewDegradedBackend(0.25))

	manifest, err := env.converter.Convert(ctx, "scan.pdf", pdftest.Build(pdftest.Letter, pdftest.A4))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !manifest.Degraded || manifest.Status != string(database.JobStatusDegraded) {
		t.Errorf("Expected degraded manifest, got %+v", manifest)
	}
	if manifest.PageCount != 2 {
		t.Errorf("Expected 2 placeholder pages, got %d", manifest.PageCount)
	}

	artifact, err := env.converter.Fetch(ctx, manifest.JobID, manifest.ArtifactRefs[1].Filename)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(artifact.Data))
	if err != nil {
		t.Fatalf("Placeholder is not an image: %v", err)
	}
	// A4 at a quarter scale
	if img.Bounds().Dx() != 149 || img.Bounds().Dy() != 211 {
		t.Errorf("Expected 149x211 placeholder, got %v", img.Bounds())
	}

	id, _ := ulid.ParseStrict(manifest.JobID)
	job, err := ledger.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("Ledger lookup failed: %v", err)
	}
	if job.Status != database.JobStatusDegraded || !job.Degraded {
		t.Errorf("Expected degraded ledger row, got %+v", job)
	}
}

func TestConvert_Failures(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		backend  pdfrenderer.Backend
		wantKind string
		wantErr  error
		wantJob  bool
	}{
		{"empty upload", nil, whiteBackend{}, KindValidation, ErrValidation, false},
		{"not a pdf", []byte("hello, plain text"), whiteBackend{}, KindValidation, ErrValidation, false},
		{"zero pages", pdftest.Build(), whiteBackend{}, KindEmptyDocument, pdfrenderer.ErrEmptyDocument, true},
		{"broken pdf", []byte("%PDF-1.4\ngarbage without structure"), whiteBackend{}, KindInvalidDocument, pdfrenderer.ErrInvalidDocument, true},
		{"all backends fail", pdftest.Letters(2), whiteBackend{fail: true}, KindRenderFailed, pdfrenderer.ErrAllBackendsFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := newTestLedger(t)
			env := newTestEnv(t, ledger, tt.backend)

			manifest, err := env.converter.Convert(ctx, "doc.pdf", tt.data)
			if manifest != nil {
				t.Fatalf("Expected no manifest, got %+v", manifest)
			}
			var jobErr *JobError
			if !errors.As(err, &jobErr) {
				t.Fatalf("Expected *JobError, got %T: %v", err, err)
			}
			if jobErr.Kind != tt.wantKind || !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected kind %s wrapping %v, got %s: %v", tt.wantKind, tt.wantErr, jobErr.Kind, err)
			}
			if (jobErr.JobID != "") != tt.wantJob {
				t.Errorf("Unexpected job id %q", jobErr.JobID)
			}

			jobs, err := env.store.Jobs(ctx)
			if err != nil {
				t.Fatalf("Jobs failed: %v", err)
			}
			if len(jobs) != 0 {
				t.Errorf("Failed conversion left artifacts behind: %v", jobs)
			}
			assertScratchEmpty(t, env.scratch)

			if tt.wantJob {
				id, _ := ulid.ParseStrict(jobErr.JobID)
				job, err := ledger.GetJob(ctx, id)
				if err != nil {
					t.Fatalf("Ledger lookup failed: %v", err)
				}
				if job.Status != database.JobStatusFailed || job.ErrorKind != tt.wantKind {
					t.Errorf("Unexpected ledger row: %+v", job)
				}
			}
		})
	}
}

func TestConvert_OversizedUpload(t *testing.T) {
	env := newTestEnv(t, nil, whiteBackend{})
	data := append([]byte("%PDF-1.4\n"), make([]byte, 1<<20)...)
	_, err := env.converter.Convert(context.Background(), "big.pdf", data)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestConvert_UnicodeName(t *testing.T) {
	env := newTestEnv(t, nil, whiteBackend{})
	manifest, err := env.converter.Convert(context.Background(), "請求書 2024.pdf", pdftest.Letters(1))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if got := manifest.ArtifactRefs[0].Filename; got != "請求書_2024-1.png" {
		t.Errorf("Expected 請求書_2024-1.png, got %s", got)
	}
}

func TestConvert_ConcurrentJobsAreIsolated(t *testing.T) {
	env := newTestEnv(t, nil, whiteBackend{})
	data := pdftest.Letters(2)

	const jobs = 6
	var wg sync.WaitGroup
	results := make([]*Manifest, jobs)
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.converter.Convert(context.Background(), "same.pdf", data)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < jobs; i++ {
		if errs[i] != nil {
			t.Fatalf("Job %d failed: %v", i, errs[i])
		}
		if seen[results[i].JobID] {
			t.Errorf("Duplicate job id %s", results[i].JobID)
		}
		seen[results[i].JobID] = true

		names, err := env.store.List(context.Background(), results[i].JobID)
		if err != nil || len(names) != 2 {
			t.Errorf("Job %s expected 2 artifacts, got %v (%v)", results[i].JobID, names, err)
		}
	}
}

func TestConvert_CanceledWhileWaiting(t *testing.T) {
	env := newTestEnv(t, nil, whiteBackend{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// occupy every slot so Acquire has to wait on the canceled context
	if err := env.converter.sem.Acquire(context.Background(), 2); err != nil {
		t.Fatalf("Failed to fill semaphore: %v", err)
	}
	defer env.converter.sem.Release(2)

	_, err := env.converter.Convert(ctx, "doc.pdf", pdftest.Letters(1))
	var jobErr *JobError
	if !errors.As(err, &jobErr) || jobErr.Kind != KindCanceled {
		t.Errorf("Expected canceled job error, got %v", err)
	}
}

func TestFetch_RejectsTraversal(t *testing.T) {
	env := newTestEnv(t, nil, whiteBackend{})
	for _, name := range []string{"../secret.png", "..", "a/b.png", ""} {
		if _, err := env.converter.Fetch(context.Background(), ulid.Make().String(), name); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Fetch(%q) expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty", ErrValidation), 400},
		{pdfrenderer.ErrInvalidDocument, 400},
		{pdfrenderer.ErrEmptyDocument, 400},
		{storage.ErrNotFound, 404},
		{ErrEmptyArchive, 404},
		{&pdfrenderer.AllBackendsFailedError{}, 422},
		{errors.New("disk on fire"), 500},
	}
	for _, tt := range tests {
		if got := HTTPStatus(Classify(tt.err)); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
