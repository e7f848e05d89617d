package database

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// JobStatus represents the lifecycle state of a conversion job
type JobStatus string

const (
	JobStatusStaged    JobStatus = "staged"
	JobStatusRendering JobStatus = "rendering"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusDegraded  JobStatus = "degraded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition can happen
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusDegraded || s == JobStatusFailed
}

// Job is one conversion request as recorded in the ledger
type Job struct {
	ID          ulid.ULID  `json:"id"`
	DisplayName string     `json:"displayName"`
	Status      JobStatus  `json:"status"`
	SizeBytes   int64      `json:"sizeBytes"`
	Backend     string     `json:"backend,omitempty"`
	PageCount   int        `json:"pageCount"`
	Degraded    bool       `json:"degraded"`
	ErrorKind   string     `json:"errorKind,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobResult is what a successful render adds to the row
type JobResult struct {
	Backend   string
	PageCount int
	Degraded  bool
}
