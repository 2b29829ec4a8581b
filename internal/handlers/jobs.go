package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/repos"
)

type JobHandler struct {
	log  *logger.Logger
	jobs repos.IngestionJobRepo
}

func NewJobHandler(log *logger.Logger, jobs repos.IngestionJobRepo) *JobHandler {
	return &JobHandler{log: log.With("handler", "JobHandler"), jobs: jobs}
}

// Get returns the live status of one ingestion job; the admin UI polls it.
func (h *JobHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeValidation, "invalid job id")
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, http.StatusNotFound, CodeNotFound, "job not found")
			return
		}
		h.log.Error("get job failed", "job_id", id, "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, "failed to load job")
		return
	}

	var logs []string
	if len(job.Logs) > 0 {
		if err := json.Unmarshal(job.Logs, &logs); err != nil {
			h.log.Warn("job logs malformed", "job_id", id, "error", err)
		}
	}

	RespondOK(c, http.StatusOK, gin.H{
		"id":     job.ID,
		"bookId": job.BookID,
		"status": job.Status,
		"step":   job.Step,
		"progress": gin.H{
			"done":  job.ProgressDone,
			"total": job.ProgressTotal,
		},
		"percent":    job.Percent(),
		"logs":       logs,
		"error":      job.Error,
		"startedAt":  job.StartedAt,
		"finishedAt": job.FinishedAt,
	})
}
