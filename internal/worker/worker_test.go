package worker_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/messaging"
	"github.com/ledgerkit/bank-sync/internal/mocks"
	"github.com/ledgerkit/bank-sync/internal/webhook"
	"github.com/ledgerkit/bank-sync/internal/worker"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

// runHandler wires the worker's handler out of Subscribe so tests can drive it directly
func runHandler(t *testing.T, w *worker.Worker, sub *mocks.MockSubscriber, event *webhook.SyncRequestEvent) error {
	t.Helper()
	var captured messaging.SyncRequestHandler
	sub.EXPECT().
		Subscribe(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, handler messaging.SyncRequestHandler) error {
			captured = handler
			return nil
		})
	require.NoError(t, w.Run(context.Background()))
	require.NotNil(t, captured)
	return captured(context.Background(), event)
}

func TestWorker_ExecutesPreCreatedJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := mocks.NewMockSubscriber(ctrl)
	runner := mocks.NewMockSyncRunner(ctrl)
	w := worker.NewWorker(sub, runner)

	event := webhook.NewSyncRequestEvent("conn-1", "tenant-1", domain.ProviderQuickBooks, domain.DefaultSyncOptions())
	event.JobID = "job-1"

	runner.EXPECT().
		ExecuteJob(gomock.Any(), "job-1", "conn-1", "tenant-1", event.Options).
		Return(&domain.SyncResult{JobID: "job-1", Status: "completed"}, nil)

	assert.NoError(t, runHandler(t, w, sub, &event))
}

func TestWorker_PerformsAdHocSync(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := mocks.NewMockSubscriber(ctrl)
	runner := mocks.NewMockSyncRunner(ctrl)
	w := worker.NewWorker(sub, runner)

	event := webhook.NewSyncRequestEvent("conn-1", "tenant-1", domain.ProviderPlaid, domain.DefaultSyncOptions())

	runner.EXPECT().
		PerformSync(gomock.Any(), "conn-1", "tenant-1", event.Options).
		Return(&domain.SyncResult{JobID: "job-2", Status: "completed"}, nil)

	assert.NoError(t, runHandler(t, w, sub, &event))
}

func TestWorker_PropagatesSyncError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := mocks.NewMockSubscriber(ctrl)
	runner := mocks.NewMockSyncRunner(ctrl)
	w := worker.NewWorker(sub, runner)

	event := webhook.NewSyncRequestEvent("conn-1", "tenant-1", domain.ProviderPlaid, domain.DefaultSyncOptions())
	syncErr := errors.New("connection not found")

	runner.EXPECT().
		PerformSync(gomock.Any(), "conn-1", "tenant-1", event.Options).
		Return(nil, syncErr)

	assert.ErrorIs(t, runHandler(t, w, sub, &event), syncErr)
}

func TestWorker_Close(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := mocks.NewMockSubscriber(ctrl)
	runner := mocks.NewMockSyncRunner(ctrl)
	sub.EXPECT().Close()

	worker.NewWorker(sub, runner).Close()
}
