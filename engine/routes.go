package engine

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/HizumeKazushi/pdftopng/config"
	"github.com/HizumeKazushi/pdftopng/database"
	"github.com/HizumeKazushi/pdftopng/storage"
	"github.com/labstack/echo/v4"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Converter    *Converter
	Packager     *Packager
	// DB is nil when the job ledger is disabled
	DB       database.Repository
	Backends []string
}

// AddRoutes registers the API on Echo
func (serverHandler *ServerHandler) AddRoutes() {
	e := serverHandler.Echo
	e.POST("/api/upload", serverHandler.UploadPDF)
	e.GET("/api/download/:job/:filename", serverHandler.DownloadPage)
	e.POST("/api/download/all", serverHandler.DownloadAll)
	e.GET("/api/jobs", serverHandler.GetRecentJobs)
	e.GET("/api/jobs/:id", serverHandler.GetJob)
	e.GET("/health", serverHandler.Health)
}

// UploadedFile is one entry of the upload response file list
type UploadedFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// UploadResponse keeps the legacy {success, message, files} shape next to the manifest
type UploadResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Files   []UploadedFile `json:"files"`
	*Manifest
}

// errorResponse writes a classified error as JSON
func errorResponse(c echo.Context, err error) error {
	kind := Classify(err)
	body := map[string]interface{}{
		"success": false,
		"error":   err.Error(),
		"kind":    kind,
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		kind = jobErr.Kind
		body["kind"] = kind
		if jobErr.JobID != "" {
			body["job_id"] = jobErr.JobID
		}
	}
	status := HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		Logger.Error("Request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, body)
}

// UploadPDF converts the multipart field "pdf" and returns its manifest
func (serverHandler *ServerHandler) UploadPDF(c echo.Context) error {
	fileHeader, err := c.FormFile("pdf")
	if err != nil {
		return errorResponse(c, fmt.Errorf("%w: no file uploaded in field \"pdf\"", ErrValidation))
	}
	src, err := fileHeader.Open()
	if err != nil {
		return errorResponse(c, fmt.Errorf("%w: unreadable upload: %v", ErrValidation, err))
	}
	defer src.Close()

	limit := int64(serverHandler.ServerConfig.MaxUploadMB) << 20
	reader := io.Reader(src)
	if limit > 0 {
		// one extra byte so the converter sees an oversized upload
		reader = io.LimitReader(src, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return errorResponse(c, fmt.Errorf("%w: unreadable upload: %v", ErrValidation, err))
	}

	manifest, err := serverHandler.Converter.Convert(c.Request().Context(), fileHeader.Filename, data)
	if err != nil {
		return errorResponse(c, err)
	}

	files := make([]UploadedFile, 0, len(manifest.ArtifactRefs))
	for _, ref := range manifest.ArtifactRefs {
		files = append(files, UploadedFile{Name: ref.Filename, URL: ref.URL})
	}
	message := fmt.Sprintf("Converted %d pages", manifest.PageCount)
	if manifest.Degraded {
		message += " (placeholder images, no rendering engine could read the document)"
	}
	return c.JSON(http.StatusOK, UploadResponse{
		Success:  true,
		Message:  message,
		Files:    files,
		Manifest: manifest,
	})
}

// DownloadPage serves one page as an attachment
func (serverHandler *ServerHandler) DownloadPage(c echo.Context) error {
	jobID := pathParam(c, "job")
	filename := pathParam(c, "filename")

	artifact, err := serverHandler.Converter.Fetch(c.Request().Context(), jobID, filename)
	if err != nil {
		return errorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(artifact.Ref.Filename))
	return c.Blob(http.StatusOK, artifact.ContentType, artifact.Data)
}

// BulkFile is one requested artifact. Any one of the three forms is enough.
type BulkFile struct {
	URL          string `json:"url,omitempty"`
	RetrievalKey string `json:"retrieval_key,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

// BulkRequest is the body of a bulk download
type BulkRequest struct {
	Files []BulkFile `json:"files"`
}

// Ref resolves whichever form the client sent
func (f BulkFile) Ref() (storage.Ref, error) {
	switch {
	case f.JobID != "" || f.Filename != "":
		ref := storage.Ref{JobID: f.JobID, Filename: f.Filename}
		return ref, storage.ValidateRef(ref)
	case f.RetrievalKey != "":
		return storage.ParseRef(f.RetrievalKey)
	case f.URL != "":
		if u, err := url.Parse(f.URL); err == nil {
			return storage.ParseRef(u.Path)
		}
		return storage.ParseRef(f.URL)
	}
	return storage.Ref{}, fmt.Errorf("%w: empty file entry", storage.ErrInvalidName)
}

// DownloadAll streams a zip of the requested pages
func (serverHandler *ServerHandler) DownloadAll(c echo.Context) error {
	var request BulkRequest
	if err := c.Bind(&request); err != nil || len(request.Files) == 0 {
		return errorResponse(c, fmt.Errorf("%w: file list is missing or empty", ErrValidation))
	}

	refs := make([]storage.Ref, 0, len(request.Files))
	for _, file := range request.Files {
		ref, err := file.Ref()
		if err != nil {
			Logger.Info("Skipping unresolvable bulk entry", "entry", file, "error", err)
			continue
		}
		refs = append(refs, ref)
	}

	out := &lazyAttachment{c: c, contentType: "application/zip", filename: BulkArchiveName}
	count, err := serverHandler.Packager.Pack(c.Request().Context(), refs, out)
	if err != nil {
		if !out.started {
			return errorResponse(c, err)
		}
		Logger.Error("Bulk download interrupted", "entries", count, "error", err)
		return nil
	}
	Logger.Info("Bulk download served", "requested", len(request.Files), "entries", count)
	return nil
}

// lazyAttachment commits headers on the first write, so errors before any output
// can still become a JSON response
type lazyAttachment struct {
	c           echo.Context
	contentType string
	filename    string
	started     bool
}

func (l *lazyAttachment) Write(p []byte) (int, error) {
	if !l.started {
		l.started = true
		header := l.c.Response().Header()
		header.Set(echo.HeaderContentType, l.contentType)
		header.Set(echo.HeaderContentDisposition, attachment(l.filename))
		l.c.Response().WriteHeader(http.StatusOK)
	}
	return l.c.Response().Write(p)
}

func attachment(filename string) string {
	if value := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); value != "" {
		return value
	}
	return "attachment"
}

// pathParam undoes percent encoding that echo leaves in place when the raw path is used
func pathParam(c echo.Context, name string) string {
	value := c.Param(name)
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

// Health reports liveness and the configured render chain
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"backends": serverHandler.Backends,
		"storage":  serverHandler.ServerConfig.StorageBackend,
		"ledger":   serverHandler.DB != nil,
	})
}
