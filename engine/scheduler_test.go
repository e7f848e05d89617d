package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HizumeKazushi/pdftopng/database"
	"github.com/HizumeKazushi/pdftopng/pdftest"
	"github.com/HizumeKazushi/pdftopng/storage"
	"github.com/oklog/ulid/v2"
)

func TestRetentionSweeper(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	env := newTestEnv(t, ledger, whiteBackend{})

	manifest, err := env.converter.Convert(ctx, "keep.pdf", pdftest.Letters(1))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	sweeper := NewRetentionSweeper(env.converter, ledger, 24*time.Hour)

	deleted, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Fresh job must survive, %d deleted", deleted)
	}
	if _, err := env.store.List(ctx, manifest.JobID); err != nil {
		t.Errorf("Fresh job artifacts missing: %v", err)
	}

	// two days later the same job has expired
	sweeper.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	deleted, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 expired job, got %d", deleted)
	}
	if _, err := env.store.List(ctx, manifest.JobID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected expired job to be gone, got %v", err)
	}
	id, _ := ulid.ParseStrict(manifest.JobID)
	if _, err := ledger.GetJob(ctx, id); !errors.Is(err, database.ErrJobNotFound) {
		t.Errorf("Expected ledger row to be pruned, got %v", err)
	}
}

func TestRetentionSweeper_SkipsInFlightJobs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, whiteBackend{})

	jobID := ulid.MustNew(ulid.Timestamp(time.Now().Add(-72*time.Hour)), ulid.DefaultEntropy()).String()
	seedStore(t, env.store, jobID, "doc-1.png")
	env.converter.track(jobID)

	sweeper := NewRetentionSweeper(env.converter, nil, time.Hour)
	if deleted, err := sweeper.Sweep(ctx); err != nil || deleted != 0 {
		t.Errorf("In-flight job must not be swept, deleted=%d err=%v", deleted, err)
	}

	env.converter.untrack(jobID)
	if deleted, err := sweeper.Sweep(ctx); err != nil || deleted != 1 {
		t.Errorf("Expected abandoned job to be swept, deleted=%d err=%v", deleted, err)
	}
}
