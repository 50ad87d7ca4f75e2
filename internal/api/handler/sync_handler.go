package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/fivetran-sync/internal/api/domain"
	"github.com/cuongbtq/fivetran-sync/internal/api/dto"
	"github.com/cuongbtq/fivetran-sync/internal/api/model"
	"github.com/cuongbtq/fivetran-sync/internal/api/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// runMessage is the payload published to the worker queue
type runMessage struct {
	RunID string `json:"run_id"`
}

// CreateSync handles POST /api/v1/syncs
// Records a sync run and hands it to the worker queue. Requests reusing an
// idempotency key return the existing run instead of starting a second sync.
func (h *SyncHandler) CreateSync(c *gin.Context) {
	var req dto.CreateSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	scheduleType := req.ScheduleType
	if scheduleType == "" {
		scheduleType = "manual"
	}
	if scheduleType != "manual" && scheduleType != "auto" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": `schedule_type must be either "manual" or "auto"`,
		})
		return
	}

	if req.PollIntervalSeconds < 0 || req.TimeoutSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "poll_interval_seconds and timeout_seconds must not be negative",
		})
		return
	}

	// Idempotency: an existing run wins over a new one
	existing, err := h.storage.GetRunByIdempotencyKey(c.Request.Context(), req.IdempotencyKey)
	if err == nil {
		c.JSON(http.StatusOK, toRunDTO(existing))
		return
	}
	if !errors.Is(err, domain.ErrRunNotFound) {
		h.logger.Error("Failed to check idempotency key", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create sync run",
		})
		return
	}

	run := model.SyncRun{
		RunID:               uuid.New().String(),
		IdempotencyKey:      req.IdempotencyKey,
		RequestedBy:         req.RequestedBy,
		ConnectorID:         req.ConnectorID,
		ScheduleType:        scheduleType,
		PollIntervalSeconds: req.PollIntervalSeconds,
		TimeoutSeconds:      req.TimeoutSeconds,
		Status:              domain.RunStatusPending,
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}

	if err := h.storage.CreateRun(c.Request.Context(), &run); err != nil {
		if errors.Is(err, storage.ErrDuplicateIdempotencyKey) {
			// Lost the race; return the run that got there first
			winner, getErr := h.storage.GetRunByIdempotencyKey(c.Request.Context(), req.IdempotencyKey)
			if getErr == nil {
				c.JSON(http.StatusOK, toRunDTO(winner))
				return
			}
		}
		h.logger.Error("Failed to create sync run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create sync run",
		})
		return
	}

	body, err := json.Marshal(runMessage{RunID: run.RunID})
	if err != nil {
		h.logger.Error("Failed to marshal run message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue sync run",
		})
		return
	}

	if err := h.rabbitClient.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish run message",
			slog.String("run_id", run.RunID),
			slog.String("error", err.Error()),
		)
		// The run exists but nothing will ever pick it up. Settle it as
		// FAILED so a retry under the same idempotency key is not handed a
		// run that never executes. Detached context: the request may
		// already be gone.
		failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if failErr := h.storage.FailRun(failCtx, run.RunID, "failed to enqueue run"); failErr != nil {
			h.logger.Error("Failed to settle unpublished run",
				slog.String("run_id", run.RunID),
				slog.String("error", failErr.Error()),
			)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue sync run",
		})
		return
	}

	h.logger.Info("Sync run created",
		slog.String("run_id", run.RunID),
		slog.String("connector_id", run.ConnectorID),
	)

	c.JSON(http.StatusAccepted, toRunDTO(&run))
}

// GetSync handles GET /api/v1/syncs/:run_id
func (h *SyncHandler) GetSync(c *gin.Context) {
	runID := c.Param("run_id")

	if _, err := uuid.Parse(runID); err != nil {
		h.logger.Error("Invalid run_id format", slog.String("run_id", runID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "run_id must be a valid UUID",
		})
		return
	}

	run, err := h.storage.GetRunByID(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Sync run not found",
			})
			return
		}
		h.logger.Error("Failed to get sync run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get sync run",
		})
		return
	}

	c.JSON(http.StatusOK, toRunDTO(run))
}

// ListSyncs handles GET /api/v1/syncs
// Lists sync runs with optional filtering and cursor pagination
func (h *SyncHandler) ListSyncs(c *gin.Context) {
	var req dto.ListSyncsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.RunFilter{
		RequestedBy: req.RequestedBy,
		ConnectorID: req.ConnectorID,
		Status:      req.Status,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	}

	runs, err := h.storage.ListRuns(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list sync runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list sync runs",
		})
		return
	}

	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	runResponse := make([]dto.SyncRunDTO, len(runs))
	for i, run := range runs {
		runResponse[i] = *toRunDTO(&run)
	}

	var nextCursor string
	if hasMore {
		lastRun := runs[len(runs)-1]
		cursorObj := storage.RunCursor{
			CreatedAt: lastRun.CreatedAt,
			RunID:     lastRun.RunID,
		}
		nextCursor, err = EncodeRunCursor(&cursorObj)
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListSyncsResponse{
		Runs:       runResponse,
		NextCursor: nextCursor,
	})
}

// CancelSync handles POST /api/v1/syncs/:run_id/cancel
// A pending run is canceled outright; a running run is flagged and the worker
// stops it at the next suspension point between polls.
func (h *SyncHandler) CancelSync(c *gin.Context) {
	runID := c.Param("run_id")

	if _, err := uuid.Parse(runID); err != nil {
		h.logger.Error("Invalid run_id format", slog.String("run_id", runID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "run_id must be a valid UUID",
		})
		return
	}

	status, err := h.storage.RequestCancel(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Sync run not found",
			})
		case errors.Is(err, domain.ErrRunFinished):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Sync run already in a terminal state",
			})
		default:
			h.logger.Error("Failed to cancel sync run", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel sync run",
			})
		}
		return
	}

	h.logger.Info("Sync run cancellation requested",
		slog.String("run_id", runID),
		slog.String("status", status),
	)

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": status,
	})
}

func toRunDTO(run *model.SyncRun) *dto.SyncRunDTO {
	return &dto.SyncRunDTO{
		RunID:               run.RunID,
		IdempotencyKey:      run.IdempotencyKey,
		RequestedBy:         run.RequestedBy,
		ConnectorID:         run.ConnectorID,
		ScheduleType:        run.ScheduleType,
		PollIntervalSeconds: run.PollIntervalSeconds,
		TimeoutSeconds:      run.TimeoutSeconds,
		Status:              run.Status,
		LastSyncState:       run.LastSyncState,
		OutcomeDetail:       run.OutcomeDetail,
		CancelRequested:     run.CancelRequested,
		CreatedAt:           run.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           run.UpdatedAt.Format(time.RFC3339),
	}
}
