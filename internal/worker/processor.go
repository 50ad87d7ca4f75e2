package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fivetran-sync/internal/syncer"
	"github.com/cuongbtq/fivetran-sync/internal/worker/domain"
)

// processRun drives a single sync run: claim it, trigger the connector sync,
// and wait for the outcome while sending heartbeats and honoring cancel
// requests
func (w *Worker) processRun(ctx context.Context, msg *domain.RunMessage) error {
	w.logger.Info("Processing run",
		slog.String("run_id", msg.RunID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: Claim run from database (PENDING -> RUNNING)
	run, err := w.storage.ClaimRun(ctx, msg.RunID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrRunAlreadyClaimed) {
			// Run already claimed or settled elsewhere - don't requeue
			w.logger.Warn("Run already claimed, skipping",
				slog.String("run_id", msg.RunID),
			)
			return fmt.Errorf("run already claimed: %w", err)
		}
		// Database error - could be transient
		w.logger.Error("Failed to claim run",
			slog.String("run_id", msg.RunID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to claim run: %w", err))
	}

	// A cancel request that landed before the claim is honored without ever
	// touching the connector
	if run.CancelRequested {
		w.logger.Info("Run canceled before start",
			slog.String("run_id", run.RunID),
		)
		return w.storage.FinishRun(ctx, run.RunID, domain.RunStatusCanceled, "", "canceled before start")
	}

	// Step 2: Resolve wait options, falling back to configured defaults
	opts := w.waitOptionsFor(run)

	// Step 3: Bound the whole run with the worker-level timeout
	runCtx, cancelRun := context.WithTimeout(ctx, w.runTimeout)
	defer cancelRun()

	// Step 4: Start heartbeat goroutine
	heartbeatDone := make(chan struct{})
	go w.sendRunHeartbeat(runCtx, run.RunID, heartbeatDone)
	defer close(heartbeatDone)

	// Step 5: Start cancel watcher. It cancels runCtx when a cancel request
	// appears, which the wait loop observes at its next suspension point.
	watcherDone := make(chan struct{})
	go w.watchCancelRequests(runCtx, run.RunID, cancelRun, watcherDone)
	defer close(watcherDone)

	// Step 6: Trigger the sync and wait for it to settle
	result, err := w.pipeline.TriggerAndWait(runCtx, run.ConnectorID, run.ScheduleType, opts)

	// Status writes use a detached context so a shutdown that interrupted the
	// wait cannot also strand the run in RUNNING
	settleCtx, cancelSettle := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSettle()

	if err != nil {
		// Rejected options or a failed trigger, before any waiting happened
		return w.settleTriggerFailure(settleCtx, run, err)
	}

	return w.settleOutcome(settleCtx, run, result)
}

// waitOptionsFor resolves per-run overrides against the worker defaults
func (w *Worker) waitOptionsFor(run *domain.Run) syncer.WaitOptions {
	opts := syncer.WaitOptions{
		PollInterval: w.defaultPollInterval,
		Timeout:      w.defaultWaitTimeout,
	}
	if run.PollIntervalSeconds > 0 {
		opts.PollInterval = time.Duration(run.PollIntervalSeconds) * time.Second
	}
	if run.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(run.TimeoutSeconds) * time.Second
	}
	// The wait never outlives the worker-level run timeout. An oversized or
	// unbounded override is clamped so the wait settles as a timeout instead
	// of tripping the run deadline.
	if w.runTimeout > 0 && (opts.Timeout <= 0 || opts.Timeout > w.runTimeout) {
		opts.Timeout = w.runTimeout
	}
	return opts
}

// settleTriggerFailure records a run whose sync never started. Connector
// lookups and force-sync calls can fail transiently, so these runs retry up
// to max_retries.
func (w *Worker) settleTriggerFailure(ctx context.Context, run *domain.Run, err error) error {
	w.logger.Error("Failed to trigger sync",
		slog.String("run_id", run.RunID),
		slog.String("connector_id", run.ConnectorID),
		slog.String("error", err.Error()),
	)

	if run.RetryCount < run.MaxRetries {
		if relErr := w.storage.ReleaseRunForRetry(ctx, run.RunID); relErr != nil {
			w.logger.Error("Failed to release run for retry",
				slog.String("run_id", run.RunID),
				slog.String("error", relErr.Error()),
			)
		}
		w.logger.Info("Run will be retried",
			slog.String("run_id", run.RunID),
			slog.Int("retry_count", run.RetryCount),
			slog.Int("max_retries", run.MaxRetries),
		)
		return domain.NewRetryableError(fmt.Errorf("sync trigger failed: %w", err))
	}

	w.logger.Warn("Run exceeded max retries",
		slog.String("run_id", run.RunID),
		slog.Int("retry_count", run.RetryCount),
		slog.Int("max_retries", run.MaxRetries),
	)
	if finErr := w.storage.FinishRun(ctx, run.RunID, domain.RunStatusFailed, "", err.Error()); finErr != nil {
		w.logger.Error("Failed to update run status to FAILED",
			slog.String("run_id", run.RunID),
			slog.String("error", finErr.Error()),
		)
	}
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, err)
}

// settleOutcome maps a wait outcome onto a terminal run status and the
// ACK/NACK decision
func (w *Worker) settleOutcome(ctx context.Context, run *domain.Run, result syncer.WaitResult) error {
	lastState := string(result.Last.SyncState)
	detail := ""
	if result.Err != nil {
		detail = result.Err.Error()
	}

	switch result.Outcome {
	case syncer.OutcomeSucceeded:
		return w.finishRun(ctx, run.RunID, domain.RunStatusSucceeded, lastState, "")

	case syncer.OutcomeSyncFailed:
		// The connector itself failed; retrying the run would re-trigger the
		// same broken sync, so the failure is terminal
		return w.finishRun(ctx, run.RunID, domain.RunStatusFailed, lastState, detail)

	case syncer.OutcomeTimedOut:
		return w.finishRun(ctx, run.RunID, domain.RunStatusTimedOut, lastState, detail)

	case syncer.OutcomeLookupFailed:
		if run.RetryCount < run.MaxRetries {
			if relErr := w.storage.ReleaseRunForRetry(ctx, run.RunID); relErr != nil {
				w.logger.Error("Failed to release run for retry",
					slog.String("run_id", run.RunID),
					slog.String("error", relErr.Error()),
				)
			}
			w.logger.Info("Run will be retried after lookup failure",
				slog.String("run_id", run.RunID),
				slog.Int("retry_count", run.RetryCount),
				slog.Int("max_retries", run.MaxRetries),
			)
			return domain.NewRetryableError(result.Err)
		}
		if err := w.finishRun(ctx, run.RunID, domain.RunStatusFailed, lastState, detail); err != nil {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, result.Err)

	case syncer.OutcomeCanceled:
		// Tell the interruptions apart: a user cancel settles the run, the
		// worker-level run deadline times it out, and a shutdown hands the
		// run back for another worker, capped by max_retries
		requested, err := w.storage.CancelRequested(ctx, run.RunID)
		if err == nil && requested {
			return w.finishRun(ctx, run.RunID, domain.RunStatusCanceled, lastState, detail)
		}
		if errors.Is(result.Err, context.DeadlineExceeded) {
			return w.finishRun(ctx, run.RunID, domain.RunStatusTimedOut, lastState, "run timeout exceeded")
		}
		if run.RetryCount >= run.MaxRetries {
			w.logger.Warn("Interrupted run exceeded max retries",
				slog.String("run_id", run.RunID),
				slog.Int("retry_count", run.RetryCount),
				slog.Int("max_retries", run.MaxRetries),
			)
			if finErr := w.finishRun(ctx, run.RunID, domain.RunStatusFailed, lastState, detail); finErr != nil {
				return finErr
			}
			return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, result.Err)
		}
		if relErr := w.storage.ReleaseRunForRetry(ctx, run.RunID); relErr != nil {
			w.logger.Error("Failed to release interrupted run",
				slog.String("run_id", run.RunID),
				slog.String("error", relErr.Error()),
			)
		}
		return domain.NewRetryableError(fmt.Errorf("run interrupted: %w", result.Err))

	default:
		return fmt.Errorf("unknown wait outcome %d for run %s", result.Outcome, run.RunID)
	}
}

func (w *Worker) finishRun(ctx context.Context, runID, status, lastState, detail string) error {
	if err := w.storage.FinishRun(ctx, runID, status, lastState, detail); err != nil {
		w.logger.Error("Failed to record run status",
			slog.String("run_id", runID),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(err)
	}
	return nil
}

// sendRunHeartbeat periodically updates the run's heartbeat timestamp
func (w *Worker) sendRunHeartbeat(ctx context.Context, runID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Run heartbeat started",
		slog.String("run_id", runID),
	)

	for {
		select {
		case <-done:
			w.logger.Debug("Run heartbeat stopped",
				slog.String("run_id", runID),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Run heartbeat stopped - context canceled",
				slog.String("run_id", runID),
			)
			return

		case <-ticker.C:
			if err := w.storage.UpdateRunHeartbeat(ctx, runID); err != nil {
				w.logger.Warn("Failed to update run heartbeat",
					slog.String("run_id", runID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// watchCancelRequests polls the cancel_requested flag and cancels the run
// context when it is set
func (w *Worker) watchCancelRequests(ctx context.Context, runID string, cancelRun context.CancelFunc, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			requested, err := w.storage.CancelRequested(ctx, runID)
			if err != nil {
				w.logger.Warn("Failed to check cancel flag",
					slog.String("run_id", runID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if requested {
				w.logger.Info("Cancel requested, stopping run",
					slog.String("run_id", runID),
				)
				cancelRun()
				return
			}
		}
	}
}
