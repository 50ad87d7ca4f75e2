package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrInvalidPollInterval is returned when a wait is requested with a
	// non-positive poll interval
	ErrInvalidPollInterval = errors.New("poll interval must be positive")

	// ErrInvalidTimeout is returned when a wait is requested with a negative timeout
	ErrInvalidTimeout = errors.New("timeout must not be negative")

	// ErrWaitTimeout marks a wait that exhausted its budget before the sync
	// reached a terminal state
	ErrWaitTimeout = errors.New("timed out waiting for sync completion")
)

// StatusLookup queries the current status of a connector. Implementations are
// called once per poll iteration, never concurrently within one wait.
type StatusLookup interface {
	LookupStatus(ctx context.Context, connectorID string) (Snapshot, error)
}

// StatusLookupFunc adapts a function to the StatusLookup interface
type StatusLookupFunc func(ctx context.Context, connectorID string) (Snapshot, error)

func (f StatusLookupFunc) LookupStatus(ctx context.Context, connectorID string) (Snapshot, error) {
	return f(ctx, connectorID)
}

// WaitOptions controls the polling cadence and budget of a single wait
type WaitOptions struct {
	// PollInterval is the pause between status checks. Must be positive.
	PollInterval time.Duration

	// Timeout bounds the total wall-clock wait. Zero means wait forever,
	// which callers must opt into deliberately.
	Timeout time.Duration
}

// Outcome classifies how a wait ended
type Outcome int

const (
	// OutcomeSucceeded means the sync completed successfully
	OutcomeSucceeded Outcome = iota
	// OutcomeSyncFailed means the connector reported a terminal failure
	OutcomeSyncFailed
	// OutcomeTimedOut means the budget ran out while the sync was still going
	OutcomeTimedOut
	// OutcomeLookupFailed means a status lookup itself failed
	OutcomeLookupFailed
	// OutcomeCanceled means the wait was canceled at a suspension point
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSyncFailed:
		return "sync_failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeLookupFailed:
		return "lookup_failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// WaitResult is the terminal result of one wait invocation, created exactly
// once when a terminal condition is detected.
type WaitResult struct {
	Outcome Outcome
	// Last is the most recent snapshot observed before the wait ended.
	// Zero-valued when the first lookup never completed.
	Last    Snapshot
	Polls   int
	Elapsed time.Duration
	// Err carries the cause for every non-success outcome
	Err error
}

// Waiter polls a connector's status until the triggered sync reaches a
// terminal state. It performs no retries of its own: a failed sync, a failed
// lookup, and an exhausted budget each end the wait immediately with a
// distinct outcome the caller can branch on.
type Waiter struct {
	lookup StatusLookup
	vocab  Vocabulary
	logger *slog.Logger
}

// NewWaiter creates a Waiter over the given status lookup
func NewWaiter(lookup StatusLookup, vocab Vocabulary, logger *slog.Logger) *Waiter {
	return &Waiter{
		lookup: lookup,
		vocab:  vocab,
		logger: logger,
	}
}

// Wait polls until the sync identified by handle completes, fails, exceeds the
// timeout, or the context is canceled. The returned error reports invalid
// options only; every runtime condition is classified in the WaitResult.
func (w *Waiter) Wait(ctx context.Context, handle Handle, opts WaitOptions) (WaitResult, error) {
	if opts.PollInterval <= 0 {
		return WaitResult{}, ErrInvalidPollInterval
	}
	if opts.Timeout < 0 {
		return WaitResult{}, ErrInvalidTimeout
	}

	start := time.Now()
	result := WaitResult{}

	for {
		// Cancellation is only observed at suspension points, never mid-request
		if err := ctx.Err(); err != nil {
			return w.finish(result, OutcomeCanceled, start, err), nil
		}

		if opts.Timeout > 0 && time.Since(start) >= opts.Timeout {
			return w.finish(result, OutcomeTimedOut, start, ErrWaitTimeout), nil
		}

		snapshot, err := w.lookup.LookupStatus(ctx, handle.ConnectorID)
		if err != nil {
			if ctx.Err() != nil {
				return w.finish(result, OutcomeCanceled, start, ctx.Err()), nil
			}
			return w.finish(result, OutcomeLookupFailed, start,
				fmt.Errorf("status lookup failed: %w", err)), nil
		}

		result.Polls++
		result.Last = snapshot

		w.logger.Info("Connector sync state observed",
			slog.String("connector_id", handle.ConnectorID),
			slog.String("sync_state", string(snapshot.SyncState)),
			slog.Int("polls", result.Polls),
		)

		// The API exposes no "done" status. A sync has failed when failed_at
		// advances past the watermark recorded at trigger time, and succeeded
		// when succeeded_at does.
		if snapshot.FailedAt.After(handle.PreviousCompletedAt) {
			return w.finish(result, OutcomeSyncFailed, start,
				fmt.Errorf("sync for connector %q failed: %s", handle.ConnectorID, snapshot.Reason)), nil
		}

		if snapshot.SucceededAt.After(handle.PreviousCompletedAt) {
			return w.finish(result, OutcomeSucceeded, start, nil), nil
		}

		if w.vocab.IsTerminal(snapshot.SyncState) {
			return w.finish(result, OutcomeSyncFailed, start,
				fmt.Errorf("connector %q entered terminal sync_state %q", handle.ConnectorID, snapshot.SyncState)), nil
		}

		if canceled := w.suspend(ctx, start, opts); canceled {
			return w.finish(result, OutcomeCanceled, start, ctx.Err()), nil
		}
	}
}

// suspend sleeps for the poll interval, truncated to the remaining budget,
// and reports whether the context was canceled during the sleep
func (w *Waiter) suspend(ctx context.Context, start time.Time, opts WaitOptions) bool {
	pause := opts.PollInterval
	if opts.Timeout > 0 {
		if remaining := opts.Timeout - time.Since(start); remaining < pause {
			pause = remaining
		}
	}
	if pause <= 0 {
		return false
	}

	timer := time.NewTimer(pause)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (w *Waiter) finish(result WaitResult, outcome Outcome, start time.Time, err error) WaitResult {
	result.Outcome = outcome
	result.Elapsed = time.Since(start)
	result.Err = err

	level := slog.LevelInfo
	if outcome != OutcomeSucceeded {
		level = slog.LevelWarn
	}
	w.logger.Log(context.Background(), level, "Sync wait finished",
		slog.String("connector_id", result.Last.ConnectorID),
		slog.String("outcome", outcome.String()),
		slog.Int("polls", result.Polls),
		slog.Duration("elapsed", result.Elapsed),
	)

	return result
}
