package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/fivetran-sync/internal/config"
	"github.com/cuongbtq/fivetran-sync/internal/syncer"
	"github.com/cuongbtq/fivetran-sync/internal/worker/domain"
	"github.com/cuongbtq/fivetran-sync/internal/worker/storage"
	"github.com/cuongbtq/fivetran-sync/shared/postgresql"
	"github.com/cuongbtq/fivetran-sync/shared/rabbitmq"
	"github.com/google/uuid"
)

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
	Pipeline     *syncer.Pipeline
	Worker       config.WorkerConfig
	Fivetran     config.FivetranConfig
	QueueName    string
	Prefetch     int
}

// runStore is the storage surface the worker needs for run lifecycle updates
type runStore interface {
	ClaimRun(ctx context.Context, runID, workerID string) (*domain.Run, error)
	FinishRun(ctx context.Context, runID, status, lastSyncState, outcomeDetail string) error
	ReleaseRunForRetry(ctx context.Context, runID string) error
	UpdateRunHeartbeat(ctx context.Context, runID string) error
	CancelRequested(ctx context.Context, runID string) (bool, error)
}

// Worker consumes sync run messages and drives each run through the
// Fivetran trigger-and-wait pipeline
type Worker struct {
	logger       *slog.Logger
	dbClient     *postgresql.Client
	rabbitClient *rabbitmq.Client
	pipeline     *syncer.Pipeline
	storage      runStore

	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	runTimeout        time.Duration
	heartbeatInterval time.Duration

	// Defaults applied when a run carries no per-run overrides
	defaultPollInterval time.Duration
	defaultWaitTimeout  time.Duration

	runsChan chan *domain.RunMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:              cfg.Logger,
		dbClient:            cfg.DBClient,
		rabbitClient:        cfg.RabbitClient,
		pipeline:            cfg.Pipeline,
		storage:             storage.NewStorage(cfg.DBClient.GetDB(), cfg.Logger),
		workerID:            uuid.New().String(),
		queueName:           cfg.QueueName,
		concurrency:         cfg.Worker.Concurrency,
		prefetchCount:       cfg.Prefetch,
		runTimeout:          cfg.Worker.RunTimeout,
		heartbeatInterval:   cfg.Worker.HeartbeatInterval,
		defaultPollInterval: cfg.Fivetran.PollInterval,
		defaultWaitTimeout:  cfg.Fivetran.WaitTimeout,
		runsChan:            make(chan *domain.RunMessage),
		stopChan:            make(chan struct{}),
	}
}

// Start begins consuming and processing sync runs. It blocks until the
// context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("run_timeout", w.runTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.startMessageDispatcher(ctx, deliveries)

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker and waits for in-flight runs to settle
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...",
		slog.String("worker_id", w.workerID),
	)
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
