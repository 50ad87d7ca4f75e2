package syncer

import (
	"time"
)

// SyncState is the sync_state a connector reports while a data sync moves
// through its lifecycle. A started sync sits in "scheduled" before moving to
// "syncing" or "rescheduled", and drops back to "scheduled" once it completes.
type SyncState string

const (
	SyncStateScheduled   SyncState = "scheduled"
	SyncStateSyncing     SyncState = "syncing"
	SyncStateRescheduled SyncState = "rescheduled"
	SyncStatePaused      SyncState = "paused"
)

// Vocabulary declares which sync states are terminal, meaning the connector
// cannot make further progress without outside intervention. The API contract
// leaves room for interpretation here (rescheduled in particular), so callers
// can supply their own set instead of relying on the default.
type Vocabulary struct {
	Terminal map[SyncState]bool
}

// DefaultVocabulary treats only "paused" as terminal. A rescheduled sync is
// retried by Fivetran on its own, so the waiter keeps polling through it.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Terminal: map[SyncState]bool{
			SyncStatePaused: true,
		},
	}
}

// IsTerminal reports whether the state is in the terminal set
func (v Vocabulary) IsTerminal(state SyncState) bool {
	return v.Terminal[state]
}

// Handle identifies a triggered sync: the connector plus the completed-at
// watermark observed at trigger time. Immutable once created.
type Handle struct {
	ConnectorID string
	// PreviousCompletedAt is the most recent of succeeded_at/failed_at before
	// the sync was started. The sync is done once either timestamp advances
	// past it.
	PreviousCompletedAt time.Time
}

// Snapshot is one immutable status observation for a connector. Every poll
// produces a fresh snapshot; none is ever mutated.
type Snapshot struct {
	ConnectorID string
	SyncState   SyncState
	SetupState  string
	SucceededAt time.Time
	FailedAt    time.Time
	// Reason carries the connector's own message for non-success states
	Reason     string
	ObservedAt time.Time
}

// CompletedAt returns the later of the success and failure timestamps
func (s Snapshot) CompletedAt() time.Time {
	if s.SucceededAt.After(s.FailedAt) {
		return s.SucceededAt
	}
	return s.FailedAt
}
