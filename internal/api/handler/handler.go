package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/fivetran-sync/internal/api/model"
	"github.com/cuongbtq/fivetran-sync/internal/api/storage"
	"github.com/cuongbtq/fivetran-sync/shared/postgresql"
	"github.com/cuongbtq/fivetran-sync/shared/rabbitmq"
)

// runStore is the storage surface the sync handlers depend on
type runStore interface {
	CreateRun(ctx context.Context, run *model.SyncRun) error
	GetRunByID(ctx context.Context, runID string) (*model.SyncRun, error)
	GetRunByIdempotencyKey(ctx context.Context, key string) (*model.SyncRun, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]model.SyncRun, error)
	RequestCancel(ctx context.Context, runID string) (string, error)
	FailRun(ctx context.Context, runID, detail string) error
}

// runPublisher hands run messages to the worker queue
type runPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
}

// SyncHandler handles sync-run HTTP requests
type SyncHandler struct {
	logger       *slog.Logger
	dbClient     *postgresql.Client
	rabbitClient runPublisher
	storage      runStore
}

// NewSyncHandler creates a new SyncHandler instance
func NewSyncHandler(deps *Dependencies) *SyncHandler {
	return &SyncHandler{
		logger:       deps.Logger,
		dbClient:     deps.DBClient,
		rabbitClient: deps.RabbitClient,
		storage:      storage.NewStorage(deps.DBClient),
	}
}
