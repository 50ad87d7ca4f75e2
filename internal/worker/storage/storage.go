package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/fivetran-sync/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimRun attempts to claim a sync run using optimistic locking.
// Returns full run details on success, error if the run is already claimed
// or doesn't exist.
func (s *Storage) ClaimRun(ctx context.Context, runID, workerID string) (*domain.Run, error) {
	query := `
		UPDATE sync_runs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE run_id = $3
		  AND status = $4
		RETURNING connector_id, schedule_type, retry_count, max_retries,
		          poll_interval_seconds, timeout_seconds, cancel_requested
	`

	run := domain.Run{RunID: runID}
	err := s.db.QueryRowContext(ctx, query, domain.RunStatusRunning, workerID, runID, domain.RunStatusPending).Scan(
		&run.ConnectorID,
		&run.ScheduleType,
		&run.RetryCount,
		&run.MaxRetries,
		&run.PollIntervalSeconds,
		&run.TimeoutSeconds,
		&run.CancelRequested,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim run - already claimed or not found",
				slog.String("run_id", runID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrRunAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	run.Status = domain.RunStatusRunning
	run.WorkerID = workerID

	s.logger.Info("Run claimed successfully",
		slog.String("run_id", runID),
		slog.String("worker_id", workerID),
		slog.String("connector_id", run.ConnectorID),
	)

	return &run, nil
}

// FinishRun records the terminal status of a run along with the last observed
// sync state and the outcome detail
func (s *Storage) FinishRun(ctx context.Context, runID, status, lastSyncState, outcomeDetail string) error {
	query := `
		UPDATE sync_runs
		SET status = $1,
		    last_sync_state = $2,
		    outcome_detail = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE run_id = $4
	`

	_, err := s.db.ExecContext(ctx, query, status, lastSyncState, outcomeDetail, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	s.logger.Info("Run finished",
		slog.String("run_id", runID),
		slog.String("status", status),
	)

	return nil
}

// ReleaseRunForRetry puts a run back to PENDING with an incremented retry
// count so another delivery can pick it up
func (s *Storage) ReleaseRunForRetry(ctx context.Context, runID string) error {
	query := `
		UPDATE sync_runs
		SET status = $1,
		    worker_id = NULL,
		    retry_count = retry_count + 1,
		    updated_at = NOW()
		WHERE run_id = $2 AND status = $3
	`

	_, err := s.db.ExecContext(ctx, query, domain.RunStatusPending, runID, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to release run for retry: %w", err)
	}

	s.logger.Info("Run released for retry",
		slog.String("run_id", runID),
	)

	return nil
}

// UpdateRunHeartbeat updates the last_heartbeat_at timestamp for a running run
func (s *Storage) UpdateRunHeartbeat(ctx context.Context, runID string) error {
	query := `
		UPDATE sync_runs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE run_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, runID, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update run heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Run heartbeat update - no rows affected (run may not be running)",
			slog.String("run_id", runID),
		)
	}

	return nil
}

// CancelRequested reports whether cancellation has been requested for the run
func (s *Storage) CancelRequested(ctx context.Context, runID string) (bool, error) {
	query := `SELECT cancel_requested FROM sync_runs WHERE run_id = $1`

	var requested bool
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&requested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrRunNotFound
		}
		return false, fmt.Errorf("failed to check cancel flag: %w", err)
	}

	return requested, nil
}
