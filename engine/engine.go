package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/HizumeKazushi/pdftopng/database"
	"github.com/HizumeKazushi/pdftopng/engine/pdfrenderer"
	"github.com/HizumeKazushi/pdftopng/storage"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"
)

// ConverterOptions tune a Converter
type ConverterOptions struct {
	// ScratchPath receives staged uploads under uploads/
	ScratchPath       string
	MaxConcurrentJobs int
	// MaxUploadBytes rejects larger uploads; 0 disables the check
	MaxUploadBytes int64
	// Ledger records job transitions when set
	Ledger database.Repository
}

// Converter runs one upload through staging, preflight, rendering and persistence
type Converter struct {
	store    storage.ArtifactStore
	chain    *pdfrenderer.Chain
	ledger   database.Repository
	uploads  string
	maxBytes int64
	sem      *semaphore.Weighted

	mu     sync.Mutex
	active map[string]struct{}
}

// NewConverter creates the upload staging directory
func NewConverter(store storage.ArtifactStore, chain *pdfrenderer.Chain, opts ConverterOptions) (*Converter, error) {
	if opts.ScratchPath == "" {
		return nil, errors.New("scratch path not configured")
	}
	uploads := filepath.Join(opts.ScratchPath, "uploads")
	if err := os.MkdirAll(uploads, 0755); err != nil {
		return nil, fmt.Errorf("create upload staging directory: %w", err)
	}
	if opts.MaxConcurrentJobs < 1 {
		opts.MaxConcurrentJobs = 1
	}
	return &Converter{
		store:    store,
		chain:    chain,
		ledger:   opts.Ledger,
		uploads:  uploads,
		maxBytes: opts.MaxUploadBytes,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrentJobs)),
		active:   make(map[string]struct{}),
	}, nil
}

// Store is the artifact store the converter persists into
func (c *Converter) Store() storage.ArtifactStore {
	return c.store
}

// Convert turns an uploaded PDF into persisted page images and returns their manifest.
// Errors are always *JobError.
func (c *Converter) Convert(ctx context.Context, displayName string, data []byte) (*Manifest, error) {
	if err := c.validate(data); err != nil {
		return nil, &JobError{Kind: KindValidation, Err: err}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, &JobError{Kind: Classify(err), Err: fmt.Errorf("waiting for a render slot: %w", err)}
	}
	defer c.sem.Release(1)

	id := ulid.Make()
	jobID := id.String()
	c.track(jobID)
	defer c.untrack(jobID)

	log := Logger.With("jobID", jobID)
	log.Info("Conversion job staged", "name", displayName, "bytes", len(data))
	c.recordCreate(ctx, &database.Job{ID: id, DisplayName: displayName, Status: database.JobStatusStaged, SizeBytes: int64(len(data))})

	stagedPath, release, err := c.stage(jobID, data)
	if err != nil {
		return nil, c.fail(ctx, id, err)
	}
	defer release()

	pages, err := pdfrenderer.Inspect(data)
	if err != nil {
		return nil, c.fail(ctx, id, err)
	}

	c.recordStatus(ctx, id, database.JobStatusRendering)
	doc := &pdfrenderer.Document{
		Path:     stagedPath,
		Data:     data,
		BaseName: pdfrenderer.SanitizeBaseName(displayName),
		Pages:    pages,
	}
	result, err := c.chain.Render(ctx, doc)
	if err != nil {
		return nil, c.fail(ctx, id, err)
	}
	defer func() {
		if err := os.RemoveAll(result.Dir); err != nil {
			log.Warn("Failed to remove render directory", "dir", result.Dir, "error", err)
		}
	}()

	refs, err := c.persist(ctx, jobID, result.Pages)
	if err != nil {
		return nil, c.fail(ctx, id, err)
	}
	if err := c.store.Seal(ctx, jobID); err != nil {
		return nil, c.fail(ctx, id, fmt.Errorf("seal job: %w", err))
	}

	status := database.JobStatusSucceeded
	if result.Degraded {
		status = database.JobStatusDegraded
		log.Warn("No rendering engine could handle the document, served placeholder pages", "pages", len(refs))
	}
	c.recordComplete(ctx, id, database.JobResult{Backend: result.Backend, PageCount: len(refs), Degraded: result.Degraded})
	log.Info("Conversion job finished", "status", status, "backend", result.Backend, "pages", len(refs))

	return &Manifest{
		JobID:        jobID,
		PageCount:    len(refs),
		Degraded:     result.Degraded,
		Backend:      result.Backend,
		Status:       string(status),
		ArtifactRefs: refs,
	}, nil
}

func (c *Converter) validate(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty upload", ErrValidation)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return fmt.Errorf("%w: upload of %d bytes exceeds the %d byte limit", ErrValidation, len(data), c.maxBytes)
	}
	if mediaType := http.DetectContentType(data); mediaType != "application/pdf" {
		return fmt.Errorf("%w: expected application/pdf, got %s", ErrValidation, mediaType)
	}
	return nil
}

// stage writes the upload to scratch; release removes it and only logs failures
func (c *Converter) stage(jobID string, data []byte) (string, func(), error) {
	path := filepath.Join(c.uploads, jobID+".pdf")
	if err := os.WriteFile(path, data, 0600); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("stage upload: %w", err)
	}
	release := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			Logger.Warn("Failed to remove staged upload", "jobID", jobID, "path", path, "error", err)
		}
	}
	return path, release, nil
}

// persist copies pages into the store in page order
func (c *Converter) persist(ctx context.Context, jobID string, pages []pdfrenderer.Page) ([]ArtifactRef, error) {
	refs := make([]ArtifactRef, 0, len(pages))
	for _, page := range pages {
		ref := storage.Ref{JobID: jobID, Filename: filepath.Base(page.Path)}
		size, err := c.putFile(ctx, ref, page.Path)
		if err != nil {
			return nil, fmt.Errorf("persist page %d: %w", page.Index, err)
		}
		refs = append(refs, newArtifactRef(page.Index, ref, size))
	}
	return refs, nil
}

func (c *Converter) putFile(ctx context.Context, ref storage.Ref, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := c.store.Put(ctx, ref.JobID, ref.Filename, f); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// fail drops partial artifacts, records the failure and classifies the error
func (c *Converter) fail(ctx context.Context, id ulid.ULID, err error) error {
	jobID := id.String()
	kind := Classify(err)
	cleanupCtx := context.WithoutCancel(ctx)
	if discardErr := c.store.Discard(cleanupCtx, jobID); discardErr != nil {
		Logger.Error("Failed to discard partial artifacts", "jobID", jobID, "error", discardErr)
	}
	c.recordFailure(cleanupCtx, id, kind, err)
	Logger.Warn("Conversion job failed", "jobID", jobID, "kind", kind, "error", err)
	return &JobError{JobID: jobID, Kind: kind, Err: err}
}

// Artifact is one page served back to a client
type Artifact struct {
	Ref         storage.Ref
	Data        []byte
	ContentType string
}

// Fetch returns the bytes of a persisted page. Repeated calls return identical bytes.
func (c *Converter) Fetch(ctx context.Context, jobID, filename string) (*Artifact, error) {
	ref := storage.Ref{JobID: jobID, Filename: filename}
	if err := storage.ValidateRef(ref); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	data, err := c.store.Get(ctx, jobID, filename)
	if err != nil {
		return nil, err
	}
	return &Artifact{Ref: ref, Data: data, ContentType: storage.ContentType}, nil
}

// Artifacts lists a job's persisted pages in order
func (c *Converter) Artifacts(ctx context.Context, jobID string) ([]ArtifactRef, error) {
	if err := storage.ValidateJobID(jobID); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	names, err := c.store.List(ctx, jobID)
	if err != nil {
		return nil, err
	}
	refs := make([]ArtifactRef, 0, len(names))
	for i, name := range names {
		refs = append(refs, newArtifactRef(i+1, storage.Ref{JobID: jobID, Filename: name}, 0))
	}
	return refs, nil
}

// InFlight reports whether a job is still being converted
func (c *Converter) InFlight(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[jobID]
	return ok
}

func (c *Converter) track(jobID string) {
	c.mu.Lock()
	c.active[jobID] = struct{}{}
	c.mu.Unlock()
}

func (c *Converter) untrack(jobID string) {
	c.mu.Lock()
	delete(c.active, jobID)
	c.mu.Unlock()
}

func (c *Converter) recordCreate(ctx context.Context, job *database.Job) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.CreateJob(ctx, job); err != nil {
		Logger.Warn("Failed to record job", "jobID", job.ID.String(), "error", err)
	}
}

func (c *Converter) recordStatus(ctx context.Context, id ulid.ULID, status database.JobStatus) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.UpdateJobStatus(ctx, id, status); err != nil {
		Logger.Warn("Failed to record job status", "jobID", id.String(), "status", status, "error", err)
	}
}

func (c *Converter) recordComplete(ctx context.Context, id ulid.ULID, result database.JobResult) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.CompleteJob(ctx, id, result); err != nil {
		Logger.Warn("Failed to record job result", "jobID", id.String(), "error", err)
	}
}

func (c *Converter) recordFailure(ctx context.Context, id ulid.ULID, kind string, cause error) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.FailJob(ctx, id, kind, cause.Error()); err != nil {
		Logger.Warn("Failed to record job failure", "jobID", id.String(), "error", err)
	}
}
