package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/messaging"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

// SyncRunner runs sync attempts for connections
//
//go:generate mockgen -source=worker.go -destination=../mocks/sync_runner.go -package=mocks -mock_names=SyncRunner=MockSyncRunner
type SyncRunner interface {
	// PerformSync creates a new ingestion job for the connection and runs it
	PerformSync(ctx context.Context, connectionID, tenantID string, opts domain.SyncOptions) (*domain.SyncResult, error)
	// ExecuteJob runs a pre-created pending job
	ExecuteJob(ctx context.Context, jobID, connectionID, tenantID string, opts domain.SyncOptions) (*domain.SyncResult, error)
}

// Worker consumes sync requests from the queue and executes them
type Worker struct {
	subscriber messaging.Subscriber
	runner     SyncRunner
}

// NewWorker creates a sync worker
func NewWorker(subscriber messaging.Subscriber, runner SyncRunner) *Worker {
	return &Worker{subscriber: subscriber, runner: runner}
}

// Run consumes sync requests until the context is canceled
func (w *Worker) Run(ctx context.Context) error {
	return w.subscriber.Subscribe(ctx, w.handle)
}

// Close closes the underlying subscription
func (w *Worker) Close() {
	w.subscriber.Close()
}

func (w *Worker) handle(ctx context.Context, event *webhook.SyncRequestEvent) error {
	logger.InfoCtx(ctx, "processing sync request",
		zap.String("eventID", event.EventID),
		zap.String("jobID", event.JobID),
		zap.String("connectionID", event.ConnectionID),
		zap.String("provider", event.Provider),
		zap.String("trigger", string(event.Options.Trigger)))

	var result *domain.SyncResult
	var err error
	if event.JobID != "" {
		result, err = w.runner.ExecuteJob(ctx, event.JobID, event.ConnectionID, event.TenantID, event.Options)
	} else {
		result, err = w.runner.PerformSync(ctx, event.ConnectionID, event.TenantID, event.Options)
	}
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "sync request processed",
		zap.String("eventID", event.EventID),
		zap.String("jobID", result.JobID),
		zap.String("status", result.Status))
	return nil
}
