package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"product-data-service/internal/app/service"
	"product-data-service/internal/transport/httpserver/dto"
	"product-data-service/internal/validator"
)

// QueueHandler exposes the background job queue over HTTP.
type QueueHandler struct {
	queue     *service.QueueService
	validator *validator.Validator
	logger    *zap.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(q *service.QueueService, v *validator.Validator, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{
		queue:     q,
		validator: v,
		logger:    logger,
	}
}

// Enqueue handles POST /api/v1/jobs
func (h *QueueHandler) Enqueue(c *fiber.Ctx) error {
	var req dto.EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_BODY",
		})
	}

	if err := h.validator.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Code:    "VALIDATION_ERROR",
			Details: err,
		})
	}

	job, err := h.queue.Add(c.Context(), req.Action, req.Payload, service.JobOptions{
		Provider:   req.Provider,
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
		Delay:      req.Delay(),
	})
	if err != nil {
		h.logger.Error("enqueue failed", zap.String("action", req.Action), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to enqueue job",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.EnqueueResponse{Job: dto.FromJob(job)})
}

// EnqueueBulk handles POST /api/v1/jobs/bulk
func (h *QueueHandler) EnqueueBulk(c *fiber.Ctx) error {
	var req dto.BulkEnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_BODY",
		})
	}

	if err := h.validator.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Code:    "VALIDATION_ERROR",
			Details: err,
		})
	}

	batchID, jobs, err := h.queue.AddBulk(c.Context(), req.Action, req.Payloads, service.JobOptions{
		Provider: req.Provider,
		Priority: req.Priority,
	})
	if err != nil {
		h.logger.Error("bulk enqueue failed",
			zap.String("action", req.Action),
			zap.String("batch_id", batchID),
			zap.Error(err),
		)

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to enqueue batch",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.BulkEnqueueResponse{
		BatchID: batchID,
		Jobs:    dto.FromJobs(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *QueueHandler) GetJob(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return invalidJobID(c)
	}

	job, err := h.queue.Job(c.Context(), int64(id))
	if err != nil {
		h.logger.Error("job lookup failed", zap.Int("job_id", id), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to get job",
			Code:  "INTERNAL_ERROR",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: "job not found",
			Code:  "NOT_FOUND",
		})
	}

	return c.JSON(dto.FromJob(job))
}

// CancelJob handles DELETE /api/v1/jobs/:id
func (h *QueueHandler) CancelJob(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return invalidJobID(c)
	}

	cancelled, err := h.queue.CancelJob(c.Context(), int64(id))
	if err != nil {
		h.logger.Error("job cancel failed", zap.Int("job_id", id), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to cancel job",
			Code:  "INTERNAL_ERROR",
		})
	}
	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: "job is not pending",
			Code:  "NOT_CANCELLABLE",
		})
	}

	return c.JSON(fiber.Map{"cancelled": true})
}

// GetBatch handles GET /api/v1/batches/:id
func (h *QueueHandler) GetBatch(c *fiber.Ctx) error {
	batchID := c.Params("id")
	if batchID == "" {
		return missingBatchID(c)
	}

	status, err := h.queue.BatchStatus(c.Context(), batchID)
	if err != nil {
		h.logger.Error("batch lookup failed", zap.String("batch_id", batchID), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to get batch status",
			Code:  "INTERNAL_ERROR",
		})
	}
	if status == nil || status.Total == 0 {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: "batch not found",
			Code:  "NOT_FOUND",
		})
	}

	return c.JSON(status)
}

// GetBatchJobs handles GET /api/v1/batches/:id/jobs
func (h *QueueHandler) GetBatchJobs(c *fiber.Ctx) error {
	batchID := c.Params("id")
	if batchID == "" {
		return missingBatchID(c)
	}

	jobs, err := h.queue.BatchJobs(c.Context(), batchID)
	if err != nil {
		h.logger.Error("batch jobs lookup failed", zap.String("batch_id", batchID), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to get batch jobs",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.JSON(fiber.Map{
		"batch_id": batchID,
		"jobs":     dto.FromJobs(jobs),
	})
}

// CancelBatch handles DELETE /api/v1/batches/:id
func (h *QueueHandler) CancelBatch(c *fiber.Ctx) error {
	batchID := c.Params("id")
	if batchID == "" {
		return missingBatchID(c)
	}

	cancelled, err := h.queue.CancelBatch(c.Context(), batchID)
	if err != nil {
		h.logger.Error("batch cancel failed", zap.String("batch_id", batchID), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to cancel batch",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.JSON(fiber.Map{"cancelled": cancelled})
}

// RetryFailed handles POST /api/v1/jobs/retry
func (h *QueueHandler) RetryFailed(c *fiber.Ctx) error {
	var req dto.RetryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: "invalid request body",
				Code:  "INVALID_BODY",
			})
		}
	}

	retried, err := h.queue.RetryFailed(c.Context(), req.BatchID)
	if err != nil {
		h.logger.Error("retry failed jobs errored", zap.String("batch_id", req.BatchID), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to retry jobs",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.JSON(fiber.Map{"retried": retried})
}

// Stats handles GET /api/v1/queue/stats
func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.queue.Stats(c.Context())
	if err != nil {
		h.logger.Error("queue stats failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to get queue stats",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.JSON(stats)
}

// Process handles POST /api/v1/queue/process. It runs one sweep
// synchronously, the same way the scheduler does on its ticker.
func (h *QueueHandler) Process(c *fiber.Ctx) error {
	report, err := h.queue.ProcessQueue(c.Context())
	if err != nil {
		h.logger.Error("manual queue sweep failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "queue processing failed",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.JSON(report)
}

func invalidJobID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: "invalid job id",
		Code:  "INVALID_ID",
	})
}

func missingBatchID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: "batch id is required",
		Code:  "MISSING_BATCH_ID",
	})
}
