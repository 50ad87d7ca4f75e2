package worker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/fivetran-sync/internal/syncer"
	"github.com/cuongbtq/fivetran-sync/internal/worker/domain"
	"github.com/stretchr/testify/assert"
)

func TestWorker_ShouldRequeueRun(t *testing.T) {
	w := &Worker{}

	tests := []struct {
		name        string
		err         error
		wantRequeue bool
	}{
		{
			name:        "already claimed runs are not requeued",
			err:         fmt.Errorf("run already claimed: %w", domain.ErrRunAlreadyClaimed),
			wantRequeue: false,
		},
		{
			name:        "max retries exceeded is not requeued",
			err:         fmt.Errorf("%w: lookup kept failing", domain.ErrMaxRetriesExceeded),
			wantRequeue: false,
		},
		{
			name:        "missing run is not requeued",
			err:         domain.ErrRunNotFound,
			wantRequeue: false,
		},
		{
			name:        "retryable errors are requeued",
			err:         domain.NewRetryableError(errors.New("connection reset")),
			wantRequeue: true,
		},
		{
			name:        "wrapped retryable errors are requeued",
			err:         fmt.Errorf("processing: %w", domain.NewRetryableError(errors.New("db down"))),
			wantRequeue: true,
		},
		{
			name:        "unknown errors are not requeued",
			err:         errors.New("something unexpected"),
			wantRequeue: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRequeue, w.shouldRequeueRun(tt.err))
		})
	}
}

func TestWorker_WaitOptionsFor(t *testing.T) {
	w := &Worker{
		runTimeout:          3 * time.Hour,
		defaultPollInterval: 30 * time.Second,
		defaultWaitTimeout:  2 * time.Hour,
	}

	tests := []struct {
		name string
		run  *domain.Run
		want syncer.WaitOptions
	}{
		{
			name: "defaults apply when run carries no overrides",
			run:  &domain.Run{},
			want: syncer.WaitOptions{
				PollInterval: 30 * time.Second,
				Timeout:      2 * time.Hour,
			},
		},
		{
			name: "run overrides both knobs",
			run: &domain.Run{
				PollIntervalSeconds: 5,
				TimeoutSeconds:      600,
			},
			want: syncer.WaitOptions{
				PollInterval: 5 * time.Second,
				Timeout:      10 * time.Minute,
			},
		},
		{
			name: "partial override keeps the other default",
			run: &domain.Run{
				PollIntervalSeconds: 15,
			},
			want: syncer.WaitOptions{
				PollInterval: 15 * time.Second,
				Timeout:      2 * time.Hour,
			},
		},
		{
			name: "override beyond the run timeout is clamped",
			run: &domain.Run{
				TimeoutSeconds: 86400,
			},
			want: syncer.WaitOptions{
				PollInterval: 30 * time.Second,
				Timeout:      3 * time.Hour,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.waitOptionsFor(tt.run))
		})
	}
}
