package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/HizumeKazushi/pdftopng/engine/pdfrenderer"
	"github.com/HizumeKazushi/pdftopng/storage"
)

var (
	// ErrValidation covers uploads rejected before any work starts
	ErrValidation = errors.New("invalid upload")
	// ErrEmptyArchive means none of the requested artifacts exist
	ErrEmptyArchive = errors.New("no requested artifacts found")
)

// Error kinds as recorded in the ledger and returned to clients
const (
	KindValidation      = "validation"
	KindInvalidDocument = "invalid_document"
	KindEmptyDocument   = "empty_document"
	KindRenderFailed    = "render_failed"
	KindNotFound        = "not_found"
	KindCanceled        = "canceled"
	KindInternal        = "internal"
)

// JobError is the single classified error a conversion returns
type JobError struct {
	JobID string
	Kind  string
	Err   error
}

func (e *JobError) Error() string {
	if e.JobID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Classify maps an error onto one of the Kind constants
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, pdfrenderer.ErrInvalidDocument):
		return KindInvalidDocument
	case errors.Is(err, pdfrenderer.ErrEmptyDocument):
		return KindEmptyDocument
	case errors.Is(err, pdfrenderer.ErrAllBackendsFailed):
		return KindRenderFailed
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrEmptyArchive):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindInternal
}

// HTTPStatus is the response code for an error kind
func HTTPStatus(kind string) int {
	switch kind {
	case KindValidation, KindInvalidDocument, KindEmptyDocument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRenderFailed:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
