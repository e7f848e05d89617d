package engine

import (
	"net/url"

	"github.com/HizumeKazushi/pdftopng/storage"
)

// ArtifactRef points at one persisted page
type ArtifactRef struct {
	Page         int    `json:"page"`
	Filename     string `json:"filename"`
	RetrievalKey string `json:"retrieval_key"`
	URL          string `json:"url"`
	Size         int64  `json:"size,omitempty"`
}

// Manifest describes a finished conversion. PageCount always equals len(ArtifactRefs)
// and pages run 1..PageCount in order.
type Manifest struct {
	JobID        string        `json:"job_id"`
	PageCount    int           `json:"page_count"`
	Degraded     bool          `json:"degraded"`
	Backend      string        `json:"backend"`
	Status       string        `json:"status"`
	ArtifactRefs []ArtifactRef `json:"artifact_refs"`
}

// DownloadURL is the retrieval path served by the HTTP boundary
func DownloadURL(ref storage.Ref) string {
	return "/api/download/" + url.PathEscape(ref.JobID) + "/" + url.PathEscape(ref.Filename)
}

func newArtifactRef(page int, ref storage.Ref, size int64) ArtifactRef {
	return ArtifactRef{
		Page:         page,
		Filename:     ref.Filename,
		RetrievalKey: ref.Key(),
		URL:          DownloadURL(ref),
		Size:         size,
	}
}
