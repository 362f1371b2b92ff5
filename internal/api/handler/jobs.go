package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/repository"
	"gorm.io/gorm"
)

// JobsHandler exposes the refresh job ledger.
type JobsHandler struct {
	jobs *repository.JobRepository
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(jobs *repository.JobRepository) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// ListJobs handles GET /api/v1/jobs. Optional filters: status, entry_id.
func (h *JobsHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var (
		records []domain.RefreshJob
		err     error
	)
	if entryID := c.Query("entry_id"); entryID != "" {
		records, err = h.jobs.ListByEntry(c.Request.Context(), entryID, limit)
	} else {
		records, err = h.jobs.List(c.Request.Context(), domain.JobStatus(c.Query("status")), limit, offset)
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list jobs", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   records,
		"count":  len(records),
		"limit":  limit,
		"offset": offset,
	})
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *JobsHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "job not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load job", nil)
		return
	}

	c.JSON(http.StatusOK, job)
}
