package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docstream/corpusd/internal/api/middleware"
	"github.com/docstream/corpusd/internal/repository"
)

// JobHandler serves job progress lookups.
type JobHandler struct {
	jobs *repository.JobRepository
	docs *repository.DocumentRepository
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobs *repository.JobRepository, docs *repository.DocumentRepository) *JobHandler {
	return &JobHandler{jobs: jobs, docs: docs}
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	// Jobs have no owner column; ownership flows through the document.
	if _, err := h.docs.GetOwned(c.Request.Context(), middleware.OwnerID(c), job.DocumentID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}
