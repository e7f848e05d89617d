package engine

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/HizumeKazushi/pdftopng/database"
	"github.com/HizumeKazushi/pdftopng/storage"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// JobDetails combines the ledger row, when there is one, with the stored pages
type JobDetails struct {
	JobID        string        `json:"job_id"`
	Job          *database.Job `json:"job,omitempty"`
	ArtifactRefs []ArtifactRef `json:"artifact_refs"`
}

// GetJob retrieves a job by ID
func (serverHandler *ServerHandler) GetJob(c echo.Context) error {
	jobIDStr := c.Param("id")

	jobID, err := ulid.ParseStrict(jobIDStr)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid job ID format",
		})
	}
	ctx := c.Request().Context()
	details := JobDetails{JobID: jobID.String(), ArtifactRefs: []ArtifactRef{}}

	if serverHandler.DB != nil {
		job, err := serverHandler.DB.GetJob(ctx, jobID)
		switch {
		case err == nil:
			details.Job = job
		case !errors.Is(err, database.ErrJobNotFound):
			Logger.Error("Failed to get job", "jobID", jobIDStr, "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"error": "Failed to retrieve job",
			})
		}
	}

	refs, err := serverHandler.Converter.Artifacts(ctx, details.JobID)
	switch {
	case err == nil:
		details.ArtifactRefs = refs
	case !errors.Is(err, storage.ErrNotFound):
		return errorResponse(c, err)
	}

	if details.Job == nil && len(details.ArtifactRefs) == 0 {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Job not found",
		})
	}
	return c.JSON(http.StatusOK, details)
}

// GetRecentJobs retrieves recent jobs with pagination
func (serverHandler *ServerHandler) GetRecentJobs(c echo.Context) error {
	if serverHandler.DB == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "Job ledger is disabled",
		})
	}

	limit := 20
	offset := 0

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	jobs, err := serverHandler.DB.GetRecentJobs(c.Request().Context(), limit, offset)
	if err != nil {
		Logger.Error("Failed to get recent jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve jobs",
		})
	}

	if jobs == nil {
		jobs = []database.Job{}
	}

	return c.JSON(http.StatusOK, jobs)
}
