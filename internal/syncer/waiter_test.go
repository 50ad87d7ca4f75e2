package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lookupStep is one scripted response; the last step repeats forever
type lookupStep struct {
	snapshot Snapshot
	err      error
}

type scriptedLookup struct {
	mu    sync.Mutex
	steps []lookupStep
	calls int
}

func (s *scriptedLookup) LookupStatus(ctx context.Context, connectorID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++

	step := s.steps[idx]
	return step.snapshot, step.err
}

func (s *scriptedLookup) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func syncingSnapshot(observed time.Time) Snapshot {
	return Snapshot{
		ConnectorID: "conn_1",
		SyncState:   SyncStateSyncing,
		SetupState:  "connected",
		ObservedAt:  observed,
	}
}

func TestWaiter_Wait_InvalidOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    WaitOptions
		wantErr error
	}{
		{
			name:    "zero poll interval",
			opts:    WaitOptions{PollInterval: 0, Timeout: time.Second},
			wantErr: ErrInvalidPollInterval,
		},
		{
			name:    "negative poll interval",
			opts:    WaitOptions{PollInterval: -time.Second, Timeout: time.Second},
			wantErr: ErrInvalidPollInterval,
		},
		{
			name:    "negative timeout",
			opts:    WaitOptions{PollInterval: time.Second, Timeout: -time.Second},
			wantErr: ErrInvalidTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &scriptedLookup{steps: []lookupStep{{snapshot: syncingSnapshot(time.Now())}}}
			w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

			_, err := w.Wait(context.Background(), Handle{ConnectorID: "conn_1"}, tt.opts)

			require.ErrorIs(t, err, tt.wantErr)
			// Validation failures never reach the API
			assert.Equal(t, 0, lookup.callCount())
		})
	}
}

func TestWaiter_Wait_SucceedsOnFirstPoll(t *testing.T) {
	watermark := time.Now().Add(-time.Hour)
	snapshot := syncingSnapshot(time.Now())
	snapshot.SyncState = SyncStateScheduled
	snapshot.SucceededAt = watermark.Add(30 * time.Minute)

	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: snapshot}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: watermark},
		WaitOptions{PollInterval: time.Hour, Timeout: 2 * time.Hour},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, result.Polls)
	assert.Equal(t, snapshot.SucceededAt, result.Last.SucceededAt)
}

func TestWaiter_Wait_SucceedsAfterSeveralPolls(t *testing.T) {
	watermark := time.Now().Add(-time.Hour)

	still := syncingSnapshot(time.Now())
	still.SucceededAt = watermark

	done := still
	done.SucceededAt = watermark.Add(time.Minute)

	lookup := &scriptedLookup{steps: []lookupStep{
		{snapshot: still},
		{snapshot: still},
		{snapshot: done},
	}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: watermark},
		WaitOptions{PollInterval: 5 * time.Millisecond, Timeout: time.Minute},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, 3, result.Polls)
	assert.Equal(t, 3, lookup.callCount())
}

func TestWaiter_Wait_SyncFailed(t *testing.T) {
	watermark := time.Now().Add(-time.Hour)

	failed := syncingSnapshot(time.Now())
	failed.FailedAt = watermark.Add(time.Minute)
	failed.Reason = "source credentials rejected"

	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: failed}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: watermark},
		WaitOptions{PollInterval: time.Second, Timeout: time.Minute},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncFailed, result.Outcome)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "source credentials rejected")
	assert.Equal(t, 1, result.Polls)
}

func TestWaiter_Wait_FailureWinsOverSuccess(t *testing.T) {
	// When both timestamps advanced past the watermark, the failure is
	// reported: failed_at is checked first
	watermark := time.Now().Add(-time.Hour)

	snapshot := syncingSnapshot(time.Now())
	snapshot.SucceededAt = watermark.Add(time.Minute)
	snapshot.FailedAt = watermark.Add(2 * time.Minute)
	snapshot.Reason = "sync broke after partial load"

	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: snapshot}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: watermark},
		WaitOptions{PollInterval: time.Second, Timeout: time.Minute},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncFailed, result.Outcome)
}

func TestWaiter_Wait_PausedIsTerminal(t *testing.T) {
	watermark := time.Now().Add(-time.Hour)

	paused := syncingSnapshot(time.Now())
	paused.SyncState = SyncStatePaused

	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: paused}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: watermark},
		WaitOptions{PollInterval: time.Second, Timeout: time.Minute},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncFailed, result.Outcome)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "paused")
}

func TestWaiter_Wait_RescheduledKeepsPolling(t *testing.T) {
	watermark := time.Now().Add(-time.Hour)

	rescheduled := syncingSnapshot(time.Now())
	rescheduled.SyncState = SyncStateRescheduled

	done := syncingSnapshot(time.Now())
	done.SucceededAt = watermark.Add(time.Minute)

	lookup := &scriptedLookup{steps: []lookupStep{
		{snapshot: rescheduled},
		{snapshot: rescheduled},
		{snapshot: done},
	}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: watermark},
		WaitOptions{PollInterval: 5 * time.Millisecond, Timeout: time.Minute},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, 3, result.Polls)
}

func TestWaiter_Wait_RescheduledTerminalWhenConfigured(t *testing.T) {
	watermark := time.Now().Add(-time.Hour)

	rescheduled := syncingSnapshot(time.Now())
	rescheduled.SyncState = SyncStateRescheduled

	vocab := Vocabulary{Terminal: map[SyncState]bool{
		SyncStatePaused:      true,
		SyncStateRescheduled: true,
	}}

	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: rescheduled}}}
	w := NewWaiter(lookup, vocab, testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: watermark},
		WaitOptions{PollInterval: time.Second, Timeout: time.Minute},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncFailed, result.Outcome)
	assert.Equal(t, 1, result.Polls)
}

func TestWaiter_Wait_TimeoutShorterThanInterval(t *testing.T) {
	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: syncingSnapshot(time.Now())}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	start := time.Now()
	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: time.Now().Add(-time.Hour)},
		WaitOptions{PollInterval: time.Hour, Timeout: 30 * time.Millisecond},
	)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrWaitTimeout)
	// One poll happens before the budget runs out, and the pause is
	// truncated so the wait never overshoots into the full interval
	assert.Equal(t, 1, result.Polls)
	assert.Less(t, elapsed, time.Second)
}

func TestWaiter_Wait_TimesOutAfterPolling(t *testing.T) {
	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: syncingSnapshot(time.Now())}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: time.Now().Add(-time.Hour)},
		WaitOptions{PollInterval: 10 * time.Millisecond, Timeout: 25 * time.Millisecond},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, result.Outcome)
	assert.GreaterOrEqual(t, result.Polls, 2)
	assert.GreaterOrEqual(t, result.Elapsed, 25*time.Millisecond)
	// The caller gets the last observed status to decide what to do next
	assert.Equal(t, SyncStateSyncing, result.Last.SyncState)
}

func TestWaiter_Wait_LookupFailureEndsImmediately(t *testing.T) {
	lookupErr := errors.New("fivetran api error: status 500")

	lookup := &scriptedLookup{steps: []lookupStep{
		{snapshot: syncingSnapshot(time.Now())},
		{err: lookupErr},
		{snapshot: syncingSnapshot(time.Now())},
	}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: time.Now().Add(-time.Hour)},
		WaitOptions{PollInterval: 5 * time.Millisecond, Timeout: time.Minute},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeLookupFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, lookupErr)
	// The failed call is not retried and does not count as a poll
	assert.Equal(t, 1, result.Polls)
	assert.Equal(t, 2, lookup.callCount())
}

func TestWaiter_Wait_CanceledBeforeFirstPoll(t *testing.T) {
	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: syncingSnapshot(time.Now())}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := w.Wait(ctx,
		Handle{ConnectorID: "conn_1"},
		WaitOptions{PollInterval: time.Second, Timeout: time.Minute},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, result.Outcome)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 0, result.Polls)
	assert.Equal(t, 0, lookup.callCount())
}

func TestWaiter_Wait_CanceledDuringPause(t *testing.T) {
	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: syncingSnapshot(time.Now())}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := w.Wait(ctx,
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: time.Now().Add(-time.Hour)},
		WaitOptions{PollInterval: time.Hour},
	)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, result.Outcome)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 1, result.Polls)
	// Cancellation is observed promptly, not after the full interval
	assert.Less(t, elapsed, time.Second)
}

func TestWaiter_Wait_CancellationBeatsTimeoutDuringPause(t *testing.T) {
	lookup := &scriptedLookup{steps: []lookupStep{{snapshot: syncingSnapshot(time.Now())}}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := w.Wait(ctx,
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: time.Now().Add(-time.Hour)},
		WaitOptions{PollInterval: time.Hour, Timeout: time.Hour},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, result.Outcome)
	assert.NotEqual(t, OutcomeTimedOut, result.Outcome)
}

func TestWaiter_Wait_UnboundedTimeout(t *testing.T) {
	watermark := time.Now().Add(-time.Hour)

	still := syncingSnapshot(time.Now())
	done := still
	done.SucceededAt = watermark.Add(time.Minute)

	lookup := &scriptedLookup{steps: []lookupStep{
		{snapshot: still},
		{snapshot: still},
		{snapshot: still},
		{snapshot: done},
	}}
	w := NewWaiter(lookup, DefaultVocabulary(), testLogger())

	result, err := w.Wait(context.Background(),
		Handle{ConnectorID: "conn_1", PreviousCompletedAt: watermark},
		WaitOptions{PollInterval: 2 * time.Millisecond, Timeout: 0},
	)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, 4, result.Polls)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "succeeded", OutcomeSucceeded.String())
	assert.Equal(t, "sync_failed", OutcomeSyncFailed.String())
	assert.Equal(t, "timed_out", OutcomeTimedOut.String())
	assert.Equal(t, "lookup_failed", OutcomeLookupFailed.String())
	assert.Equal(t, "canceled", OutcomeCanceled.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
