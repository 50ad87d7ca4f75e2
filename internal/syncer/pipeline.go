package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fivetran-sync/shared/fivetran"
)

// ErrInvalidScheduleType is returned when a schedule type other than
// "manual" or "auto" is requested
var ErrInvalidScheduleType = errors.New(`schedule_type must be either "manual" or "auto"`)

// ConnectorAPI is the slice of the Fivetran client the pipeline depends on
type ConnectorAPI interface {
	GetConnector(ctx context.Context, connectorID string) (*fivetran.Connector, error)
	PatchConnector(ctx context.Context, connectorID string, patch fivetran.ConnectorPatch) (*fivetran.Connector, error)
	ForceSync(ctx context.Context, connectorID string) error
}

// Pipeline runs the connector sync orchestration steps: verify the connector
// is ready, take it off (or put it back on) Fivetran's schedule, start a sync,
// and wait for it to complete.
type Pipeline struct {
	api    ConnectorAPI
	waiter *Waiter
	logger *slog.Logger
}

// NewPipeline creates a Pipeline over the given connector API
func NewPipeline(api ConnectorAPI, vocab Vocabulary, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		api:    api,
		logger: logger,
	}
	p.waiter = NewWaiter(StatusLookupFunc(p.lookupStatus), vocab, logger)
	return p
}

// VerifyConnector ensures the connector's setup has been completed and is not
// broken. Returns the connector details on success.
func (p *Pipeline) VerifyConnector(ctx context.Context, connectorID string) (*fivetran.Connector, error) {
	if connectorID == "" {
		return nil, fmt.Errorf("connector id is required")
	}

	connector, err := p.api.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	if connector.Status.SetupState != fivetran.SetupStateConnected {
		return nil, fmt.Errorf(
			"connector %q not correctly configured, setup_state: %s; please complete setup at %s",
			connectorID,
			connector.Status.SetupState,
			fivetran.SetupURL(connector.Service, connector.Schema),
		)
	}

	p.logger.Info("Connector verified",
		slog.String("connector_id", connectorID),
		slog.String("service", connector.Service),
		slog.String("schema", connector.Schema),
	)

	return connector, nil
}

// SetSchedule moves the connector onto the requested schedule type. Patches
// only when the current schedule differs.
func (p *Pipeline) SetSchedule(ctx context.Context, connectorID, scheduleType string) error {
	if scheduleType != fivetran.ScheduleManual && scheduleType != fivetran.ScheduleAuto {
		return ErrInvalidScheduleType
	}

	connector, err := p.api.GetConnector(ctx, connectorID)
	if err != nil {
		return err
	}

	if connector.ScheduleType == scheduleType {
		return nil
	}

	_, err = p.api.PatchConnector(ctx, connectorID, fivetran.ConnectorPatch{
		ScheduleType: &scheduleType,
	})
	if err != nil {
		return err
	}

	p.logger.Info("Connector schedule updated",
		slog.String("connector_id", connectorID),
		slog.String("schedule_type", scheduleType),
	)

	return nil
}

// StartSync unpauses the connector if needed, records the completed-at
// watermark, and forces a sync. The returned handle carries everything a
// later wait needs.
func (p *Pipeline) StartSync(ctx context.Context, connectorID string) (Handle, error) {
	connector, err := p.api.GetConnector(ctx, connectorID)
	if err != nil {
		return Handle{}, err
	}

	if connector.Paused {
		paused := false
		if _, err := p.api.PatchConnector(ctx, connectorID, fivetran.ConnectorPatch{
			Paused: &paused,
		}); err != nil {
			return Handle{}, fmt.Errorf("failed to unpause connector %s: %w", connectorID, err)
		}
		p.logger.Info("Connector unpaused",
			slog.String("connector_id", connectorID),
		)
	}

	succeededAt := fivetran.ParseTimestamp(connector.SucceededAt)
	failedAt := fivetran.ParseTimestamp(connector.FailedAt)

	watermark := succeededAt
	if failedAt.After(watermark) {
		watermark = failedAt
	}
	if watermark.IsZero() {
		// The connector never ran; anchor the watermark at now so the very
		// first completion is detected.
		watermark = time.Now()
	}

	if err := p.api.ForceSync(ctx, connectorID); err != nil {
		return Handle{}, err
	}

	p.logger.Info("Connector sync started",
		slog.String("connector_id", connectorID),
		slog.Time("previous_completed_at", watermark),
		slog.String("logs_url", fivetran.LogsURL(connector.Service, connector.Schema)),
	)

	return Handle{
		ConnectorID:         connectorID,
		PreviousCompletedAt: watermark,
	}, nil
}

// WaitForSync blocks until the sync identified by handle reaches a terminal
// state, the timeout budget runs out, or ctx is canceled
func (p *Pipeline) WaitForSync(ctx context.Context, handle Handle, opts WaitOptions) (WaitResult, error) {
	return p.waiter.Wait(ctx, handle, opts)
}

// TriggerAndWait verifies the connector, applies the schedule type, starts a
// sync, and waits for it to complete
func (p *Pipeline) TriggerAndWait(ctx context.Context, connectorID, scheduleType string, opts WaitOptions) (WaitResult, error) {
	if _, err := p.VerifyConnector(ctx, connectorID); err != nil {
		return WaitResult{}, err
	}

	if err := p.SetSchedule(ctx, connectorID, scheduleType); err != nil {
		return WaitResult{}, err
	}

	handle, err := p.StartSync(ctx, connectorID)
	if err != nil {
		return WaitResult{}, err
	}

	return p.WaitForSync(ctx, handle, opts)
}

// lookupStatus maps one connector fetch onto a status snapshot
func (p *Pipeline) lookupStatus(ctx context.Context, connectorID string) (Snapshot, error) {
	connector, err := p.api.GetConnector(ctx, connectorID)
	if err != nil {
		return Snapshot{}, err
	}

	reason := ""
	if len(connector.Status.Tasks) > 0 {
		reason = fmt.Sprintf("%s (see %s)",
			connector.Status.Tasks[0].Message,
			fivetran.LogsURL(connector.Service, connector.Schema),
		)
	} else {
		reason = fmt.Sprintf("see %s", fivetran.LogsURL(connector.Service, connector.Schema))
	}

	return Snapshot{
		ConnectorID: connector.ID,
		SyncState:   SyncState(connector.Status.SyncState),
		SetupState:  connector.Status.SetupState,
		SucceededAt: fivetran.ParseTimestamp(connector.SucceededAt),
		FailedAt:    fivetran.ParseTimestamp(connector.FailedAt),
		Reason:      reason,
		ObservedAt:  time.Now(),
	}, nil
}
