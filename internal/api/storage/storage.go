package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/fivetran-sync/internal/api/domain"
	"github.com/cuongbtq/fivetran-sync/internal/api/model"
	"github.com/cuongbtq/fivetran-sync/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const runColumns = `
	run_id, idempotency_key, requested_by, connector_id, schedule_type,
	poll_interval_seconds, timeout_seconds, status, last_sync_state,
	outcome_detail, cancel_requested, created_at, updated_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateRun inserts a new sync run. A duplicate idempotency key reports
// ErrDuplicateIdempotencyKey so the handler can re-fetch the winner of the race.
func (s *Storage) CreateRun(ctx context.Context, run *model.SyncRun) error {
	query := `
		INSERT INTO sync_runs (
			run_id, idempotency_key, requested_by, connector_id, schedule_type,
			poll_interval_seconds, timeout_seconds, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		run.RunID,
		run.IdempotencyKey,
		run.RequestedBy,
		run.ConnectorID,
		run.ScheduleType,
		run.PollIntervalSeconds,
		run.TimeoutSeconds,
		run.Status,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to create sync run: %w", err)
	}

	return nil
}

// ErrDuplicateIdempotencyKey signals a unique violation on idempotency_key
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

func (s *Storage) GetRunByID(ctx context.Context, runID string) (*model.SyncRun, error) {
	var run model.SyncRun
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE run_id = $1`

	err := s.db.GetContext(ctx, &run, query, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}

	return &run, nil
}

func (s *Storage) GetRunByIdempotencyKey(ctx context.Context, key string) (*model.SyncRun, error) {
	var run model.SyncRun
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE idempotency_key = $1`

	err := s.db.GetContext(ctx, &run, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get sync run by idempotency key: %w", err)
	}

	return &run, nil
}

// FailRun settles a run that never reached the queue. Only a run still
// PENDING is touched, so the caller can retry under a fresh idempotency key
// instead of being handed a run nothing will ever execute.
func (s *Storage) FailRun(ctx context.Context, runID, detail string) error {
	query := `
		UPDATE sync_runs
		SET status = $2,
		    outcome_detail = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE run_id = $1 AND status = $4
	`

	_, err := s.db.ExecContext(ctx, query, runID, domain.RunStatusFailed, detail, domain.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to fail sync run: %w", err)
	}

	return nil
}

type RunFilter struct {
	RequestedBy string
	ConnectorID string
	Status      string
	PageSize    int
	Cursor      *RunCursor
}

type RunCursor struct {
	CreatedAt time.Time
	RunID     string
}

func (s *Storage) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.RequestedBy != "" {
		query += fmt.Sprintf(" AND requested_by = $%d", argIdx)
		args = append(args, filter.RequestedBy)
		argIdx++
	}

	if filter.ConnectorID != "" {
		query += fmt.Sprintf(" AND connector_id = $%d", argIdx)
		args = append(args, filter.ConnectorID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, run_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.RunID)
		argIdx += 2
	}

	// Order by created_at DESC, run_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, run_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var runs []model.SyncRun
	err := s.db.SelectContext(ctx, &runs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	return runs, nil
}

// RequestCancel marks a run for cancellation. A run still PENDING is canceled
// outright; a RUNNING run only gets the flag, which the worker honors at its
// next suspension point. Terminal runs report ErrRunFinished.
func (s *Storage) RequestCancel(ctx context.Context, runID string) (string, error) {
	query := `
		UPDATE sync_runs
		SET cancel_requested = TRUE,
		    status = CASE WHEN status = $2 THEN $3 ELSE status END,
		    outcome_detail = CASE WHEN status = $2 THEN 'canceled before start' ELSE outcome_detail END,
		    completed_at = CASE WHEN status = $2 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE run_id = $1 AND status IN ($2, $4)
		RETURNING status
	`

	var status string
	err := s.db.QueryRowContext(ctx, query, runID,
		domain.RunStatusPending, domain.RunStatusCanceled, domain.RunStatusRunning,
	).Scan(&status)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a missing run from one already finished
			if _, getErr := s.GetRunByID(ctx, runID); getErr != nil {
				return "", getErr
			}
			return "", domain.ErrRunFinished
		}
		return "", fmt.Errorf("failed to request cancel: %w", err)
	}

	return status, nil
}
