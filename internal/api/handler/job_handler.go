package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/roomflow/internal/api/dto"
	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/cuongbtq/roomflow/internal/reconciler"
	"github.com/cuongbtq/roomflow/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SubmitTransformation handles POST /api/v1/transformations
func (h *JobHandler) SubmitTransformation(c *gin.Context) {
	var req dto.SubmitTransformationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "owner_id, image_ref and style_id are required"})
		return
	}

	job, err := h.submitter.SubmitTransformation(c.Request.Context(), req.OwnerID, req.ImageRef, req.StyleID)
	if err != nil {
		respondError(c, h.logger, "submit transformation", err)
		return
	}

	c.JSON(http.StatusOK, dto.SubmitTransformationResponse{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Status:        string(job.Status),
	})
}

// SubmitPaymentOrder handles POST /api/v1/payments/orders
func (h *JobHandler) SubmitPaymentOrder(c *gin.Context) {
	var req dto.SubmitPaymentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "owner_id and a numeric amount are required"})
		return
	}

	order, err := h.submitter.SubmitPaymentOrder(c.Request.Context(), req.OwnerID, req.Amount, req.Currency, req.Notes)
	if err != nil {
		respondError(c, h.logger, "submit payment order", err)
		return
	}

	c.JSON(http.StatusOK, dto.SubmitPaymentOrderResponse{
		JobID:         order.Job.ID,
		Status:        string(order.Job.Status),
		ProviderOrder: rawOrEmpty(order.ProviderOrder),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// With ?wait=<duration> it polls until the job is terminal or the wait
// elapses, answering still_processing instead of an error on timeout.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return
	}
	ownerID := c.Query("owner_id")

	var wait time.Duration
	if raw := c.Query("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "wait must be a non-negative duration such as 30s"})
			return
		}
		wait = min(d, h.maxWait)
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	switch {
	case err == nil:
		if ownerID != "" && job.OwnerID != ownerID {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
			return
		}
	case errors.Is(err, domain.ErrJobNotFound) && wait > 0:
		// may become visible while waiting
	default:
		respondError(c, h.logger, "get job", err)
		return
	}

	if wait <= 0 || (job != nil && job.IsTerminal()) {
		c.JSON(http.StatusOK, jobStatus(job))
		return
	}

	poller := reconciler.NewPoller(reconciler.NewStoreFetcher(h.store), reconciler.Config{
		Interval:    h.pollInterval,
		MaxInterval: h.pollInterval,
		Timeout:     wait,
	}, h.logger)

	res, err := poller.Wait(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Debug("Client went away while waiting", slog.String("job_id", jobID))
		c.Abort()
		return
	}

	resp := dto.JobStatusResponse{
		JobID:           jobID,
		Status:          string(res.Status),
		ResultRef:       res.ResultRef,
		Terminal:        res.Terminal,
		StillProcessing: res.StillProcessing,
	}
	if job != nil {
		resp.Kind = string(job.Kind)
	}
	c.JSON(http.StatusOK, resp)
}

func jobStatus(job *domain.Job) dto.JobStatusResponse {
	return dto.JobStatusResponse{
		JobID:         job.ID,
		Kind:          string(job.Kind),
		Status:        string(job.Status),
		ResultRef:     job.ResultRef,
		FailureReason: job.FailureReason,
		Terminal:      job.IsTerminal(),
	}
}

// parseAnyStatus accepts a status valid for at least one job kind
func parseAnyStatus(raw string) (domain.Status, error) {
	for _, kind := range []domain.Kind{domain.KindTransformation, domain.KindPaymentOrder} {
		if status, err := domain.ParseStatus(kind, raw); err == nil {
			return status, nil
		}
	}
	return "", domain.NewInvalidArgument("unknown status %q", raw)
}

// ListJobs handles GET /api/v1/jobs
// Lists an owner's jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "owner_id is required"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	filter := storage.JobFilter{
		OwnerID:  req.OwnerID,
		PageSize: req.PageSize,
	}
	if req.Kind != "" {
		kind, err := domain.ParseKind(req.Kind)
		if err != nil {
			respondError(c, h.logger, "list jobs", err)
			return
		}
		filter.Kind = kind
		if req.Status != "" {
			status, err := domain.ParseStatus(kind, req.Status)
			if err != nil {
				respondError(c, h.logger, "list jobs", err)
				return
			}
			filter.Status = status
		}
	} else if req.Status != "" {
		status, err := parseAnyStatus(req.Status)
		if err != nil {
			respondError(c, h.logger, "list jobs", err)
			return
		}
		filter.Status = status
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid cursor"})
		return
	}
	filter.Cursor = cursor

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "list jobs", err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.JobDTO{
			JobID:         job.ID,
			OwnerID:       job.OwnerID,
			Kind:          string(job.Kind),
			CorrelationID: job.CorrelationID,
			Status:        string(job.Status),
			InputRef:      job.InputRef,
			ResultRef:     job.ResultRef,
			FailureReason: job.FailureReason,
			Metadata:      marshalMetadata(job.Metadata),
			CreatedAt:     job.CreatedAt.Format(time.RFC3339Nano),
			UpdatedAt:     job.UpdatedAt.Format(time.RFC3339Nano),
		}
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// GetCredits handles GET /api/v1/credits/:owner_id
func (h *JobHandler) GetCredits(c *gin.Context) {
	ownerID := c.Param("owner_id")

	credits, err := h.store.CreditBalance(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, h.logger, "get credits", err)
		return
	}

	c.JSON(http.StatusOK, dto.CreditsResponse{OwnerID: ownerID, Credits: credits})
}

// ListStyles handles GET /api/v1/styles
func (h *JobHandler) ListStyles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"styles": domain.Styles()})
}
