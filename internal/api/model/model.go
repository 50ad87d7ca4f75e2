package model

import "time"

type SyncRun struct {
	RunID               string    `db:"run_id"`
	IdempotencyKey      string    `db:"idempotency_key"`
	RequestedBy         string    `db:"requested_by"`
	ConnectorID         string    `db:"connector_id"`
	ScheduleType        string    `db:"schedule_type"`
	PollIntervalSeconds int       `db:"poll_interval_seconds"`
	TimeoutSeconds      int       `db:"timeout_seconds"`
	Status              string    `db:"status"`
	LastSyncState       string    `db:"last_sync_state"`
	OutcomeDetail       string    `db:"outcome_detail"`
	CancelRequested     bool      `db:"cancel_requested"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}
