package dto

type CreateSyncRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	RequestedBy    string `json:"requested_by" binding:"required"`
	ConnectorID    string `json:"connector_id" binding:"required"`
	// ScheduleType defaults to "manual" so the sync stays API-controlled
	ScheduleType string `json:"schedule_type"`
	// Zero values defer to the worker's configured defaults
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	TimeoutSeconds      int `json:"timeout_seconds"`
}

type ListSyncsRequest struct {
	RequestedBy string `form:"requested_by"`
	ConnectorID string `form:"connector_id"`
	Status      string `form:"status"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListSyncsResponse struct {
	Runs       []SyncRunDTO `json:"runs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type SyncRunDTO struct {
	RunID               string `json:"run_id"`
	IdempotencyKey      string `json:"idempotency_key"`
	RequestedBy         string `json:"requested_by"`
	ConnectorID         string `json:"connector_id"`
	ScheduleType        string `json:"schedule_type"`
	PollIntervalSeconds int    `json:"poll_interval_seconds,omitempty"`
	TimeoutSeconds      int    `json:"timeout_seconds,omitempty"`
	Status              string `json:"status"`
	LastSyncState       string `json:"last_sync_state,omitempty"`
	OutcomeDetail       string `json:"outcome_detail,omitempty"`
	CancelRequested     bool   `json:"cancel_requested"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}
