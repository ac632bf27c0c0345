package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finrelay/finrelay/internal/infrastructure/repository"
	"github.com/finrelay/finrelay/internal/shared/logger"
	"github.com/finrelay/finrelay/internal/shared/utils"
)

const maxJobListLimit = 200

// JobLister reads the sync audit log.
type JobLister interface {
	ListRecent(ctx context.Context, limit int) ([]repository.BulkJobModel, error)
}

// JobsHandler exposes the bulk sync history for operators.
type JobsHandler struct {
	jobs   JobLister
	logger logger.Interface
}

func NewJobsHandler(jobs JobLister, log logger.Interface) *JobsHandler {
	return &JobsHandler{jobs: jobs, logger: log}
}

type jobResponse struct {
	JobID            string     `json:"job_id"`
	BatchType        string     `json:"batch_type"`
	Object           string     `json:"object"`
	Operation        string     `json:"operation"`
	State            string     `json:"state"`
	RecordCount      int        `json:"record_count"`
	ProcessedRecords int        `json:"processed_records"`
	FailedRecords    int        `json:"failed_records"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// ListJobs handles GET /jobs.
func (h *JobsHandler) ListJobs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxJobListLimit {
			utils.ErrorResponse(c, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	models, err := h.jobs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Errorw("failed to list sync jobs", "error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}

	jobs := make([]jobResponse, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, jobResponse{
			JobID:            m.JobID,
			BatchType:        m.BatchType,
			Object:           m.Object,
			Operation:        m.Operation,
			State:            m.State,
			RecordCount:      m.RecordCount,
			ProcessedRecords: m.ProcessedRecords,
			FailedRecords:    m.FailedRecords,
			ErrorMessage:     m.ErrorMessage,
			SubmittedAt:      m.SubmittedAt,
			CompletedAt:      m.CompletedAt,
		})
	}

	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"jobs": jobs})
}
