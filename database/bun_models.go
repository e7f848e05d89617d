package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunJob represents the conversion_jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:conversion_jobs,alias:j"`

	ID          string     `bun:"id,pk"` // ULID as string
	DisplayName string     `bun:"display_name,notnull"`
	Status      string     `bun:"status,notnull"`
	SizeBytes   int64      `bun:"size_bytes,notnull"`
	Backend     string     `bun:"backend,nullzero"`
	PageCount   int        `bun:"page_count,notnull"`
	Degraded    bool       `bun:"degraded,notnull"`
	ErrorKind   string     `bun:"error_kind,nullzero"`
	Error       string     `bun:"error,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		DisplayName: bj.DisplayName,
		Status:      JobStatus(bj.Status),
		SizeBytes:   bj.SizeBytes,
		Backend:     bj.Backend,
		PageCount:   bj.PageCount,
		Degraded:    bj.Degraded,
		ErrorKind:   bj.ErrorKind,
		Error:       bj.Error,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		DisplayName: job.DisplayName,
		Status:      string(job.Status),
		SizeBytes:   job.SizeBytes,
		Backend:     job.Backend,
		PageCount:   job.PageCount,
		Degraded:    job.Degraded,
		ErrorKind:   job.ErrorKind,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	}
}
