// Package storage persists rendered page images per conversion job and serves them back
// without re-rendering. A job's artifacts are append-only while the job renders and
// immutable once it is sealed.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger = slog.Default()

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
	ErrSealed      = errors.New("job artifacts are sealed")
)

// ArtifactExt is the only extension the store lists back
const ArtifactExt = ".png"

// ContentType is the media type of every persisted artifact
const ContentType = "image/png"

// ArtifactStore maps a job id to an ordered set of page images
type ArtifactStore interface {
	// Put writes one artifact. Overwrites are allowed until the job is sealed.
	Put(ctx context.Context, jobID, filename string, r io.Reader) error
	// Get returns the artifact bytes or ErrNotFound
	Get(ctx context.Context, jobID, filename string) ([]byte, error)
	Exists(ctx context.Context, jobID, filename string) (bool, error)
	// List returns the job's artifact names in page order
	List(ctx context.Context, jobID string) ([]string, error)
	// Seal moves the job to its terminal state
	Seal(ctx context.Context, jobID string) error
	// Discard removes the partial writes of an unsealed job
	Discard(ctx context.Context, jobID string) error
	// Delete removes a job entirely, sealed or not. Used by retention.
	Delete(ctx context.Context, jobID string) error
	// Jobs lists every job id the store holds, for retention sweeps
	Jobs(ctx context.Context) ([]string, error)
}

// Ref addresses one artifact
type Ref struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
}

// Key is the retrieval key handed to clients
func (r Ref) Key() string {
	return r.JobID + "/" + r.Filename
}

func (r Ref) String() string {
	return r.Key()
}

// ParseRef accepts a retrieval key ("job/file") or a download URL and keeps the last two segments
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 2 {
		return Ref{}, fmt.Errorf("%w: %q is not a retrieval key", ErrInvalidName, s)
	}
	ref := Ref{JobID: parts[len(parts)-2], Filename: parts[len(parts)-1]}
	if err := ValidateRef(ref); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// ValidateRef checks both halves of a reference before they address storage
func ValidateRef(ref Ref) error {
	if err := ValidateJobID(ref.JobID); err != nil {
		return err
	}
	return ValidateName(ref.Filename)
}

// ValidateJobID only accepts ULIDs, which also keeps job ids free of path syntax
func ValidateJobID(jobID string) error {
	if _, err := ulid.ParseStrict(jobID); err != nil {
		return fmt.Errorf("%w: job id %q", ErrInvalidName, jobID)
	}
	return nil
}

// ValidateName rejects anything that could escape the job namespace
func ValidateName(filename string) error {
	switch {
	case filename == "", filename == ".", filename == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, filename)
	case strings.ContainsAny(filename, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, filename)
	case strings.Contains(filename, ".."):
		return fmt.Errorf("%w: %q contains a parent reference", ErrInvalidName, filename)
	case strings.HasPrefix(filename, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, filename)
	}
	return nil
}

var pageNumber = regexp.MustCompile(`(\d+)\.[^.]+$`)

// PageNumber extracts the trailing page number of an artifact name, or -1
func PageNumber(filename string) int {
	m := pageNumber.FindStringSubmatch(path.Base(filename))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// SortPages orders names by page number so that page 2 precedes page 10
// whether or not the names are zero padded.
func SortPages(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := PageNumber(names[i]), PageNumber(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
}

func isArtifact(name string) bool {
	return strings.EqualFold(path.Ext(name), ArtifactExt) && ValidateName(name) == nil
}
