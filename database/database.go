package database

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger = slog.Default()

// ErrJobNotFound is returned when the ledger has no row for a job id
var ErrJobNotFound = errors.New("job not found")

// Repository is the conversion job ledger
type Repository interface {
	Close() error
	CreateJob(ctx context.Context, job *Job) error
	UpdateJobStatus(ctx context.Context, jobID ulid.ULID, status JobStatus) error
	CompleteJob(ctx context.Context, jobID ulid.ULID, result JobResult) error
	FailJob(ctx context.Context, jobID ulid.ULID, kind string, message string) error
	GetJob(ctx context.Context, jobID ulid.ULID) (*Job, error)
	GetRecentJobs(ctx context.Context, limit, offset int) ([]Job, error)
	// DeleteJobsBefore removes finished jobs created before cutoff
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
