package domain

// Run represents a sync run from the database for worker processing
type Run struct {
	RunID               string
	ConnectorID         string
	ScheduleType        string
	Status              string
	WorkerID            string
	RetryCount          int
	MaxRetries          int
	PollIntervalSeconds int
	TimeoutSeconds      int
	CancelRequested     bool
}

// RunMessage represents a sync run message from RabbitMQ
type RunMessage struct {
	RunID       string `json:"run_id"`
	DeliveryTag uint64 `json:"-"`
}
