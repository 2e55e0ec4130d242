package syncer_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/mocks"
	"github.com/ledgerkit/bank-sync/internal/providers"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
	"github.com/ledgerkit/bank-sync/internal/syncer"
	"github.com/ledgerkit/bank-sync/internal/token"
)

type orchestratorFixture struct {
	store        *mocks.MockStore
	provider     *mocks.MockProvider
	clock        *mocks.MockClock
	orchestrator *syncer.Orchestrator
	now          time.Time
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	mockClock.EXPECT().Now().Return(now).AnyTimes()
	mockProvider.EXPECT().Name().Return(domain.ProviderStarling).AnyTimes()

	registry := providers.NewRegistry()
	registry.Register(mockProvider)

	jsonCodec := adapter.NewJSON()
	orchestrator := syncer.NewOrchestrator(
		mockStore,
		registry,
		token.NewManager(mockStore, mockClock, jsonCodec),
		mockClock,
		jsonCodec,
		syncConfig(),
		6*time.Hour,
	)

	return &orchestratorFixture{
		store:        mockStore,
		provider:     mockProvider,
		clock:        mockClock,
		orchestrator: orchestrator,
		now:          now,
	}
}

func (f *orchestratorFixture) expectConnection(conn *schema.Connection) {
	f.store.EXPECT().GetConnection(gomock.Any(), connectionID).Return(conn, nil)
}

func (f *orchestratorFixture) expectActiveToken() {
	f.store.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderStarling).
		Return(&schema.OAuthToken{
			ID:           1,
			ConnectionID: connectionID,
			ProviderID:   domain.ProviderStarling,
			AccessToken:  "access-1",
			ExpiresAt:    f.now.Add(time.Hour),
			Status:       schema.TokenStatusActive,
		}, nil)
	f.provider.EXPECT().IsTokenExpired(f.now.Add(time.Hour)).Return(false)
}

func TestPerformSync_HappyPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	conn := testConnection()

	f.expectConnection(conn)
	f.store.EXPECT().
		CreateIngestionJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j *schema.IngestionJob) error {
			assert.Equal(t, schema.JobStatusRunning, j.Status)
			assert.Equal(t, conn.TenantID, j.TenantID)
			assert.Equal(t, domain.SyncTriggerManual, j.Trigger)
			return nil
		})
	f.expectActiveToken()

	f.provider.EXPECT().
		FetchAccounts(gomock.Any(), gomock.Any()).
		Return([]domain.ProviderAccount{
			{ExternalID: "acc-1", Name: "Current", Currency: "GBP", Status: domain.AccountStatusActive},
		}, nil)
	f.store.EXPECT().ListAccountExternalIDs(gomock.Any(), connectionID, []string{"acc-1"}).Return(nil, nil)
	f.store.EXPECT().
		UpsertAccounts(gomock.Any(), gomock.Len(1)).
		DoAndReturn(func(_ context.Context, rows []*schema.Account) error {
			rows[0].ID = 7
			return nil
		})
	f.store.EXPECT().UpsertProviderAccounts(gomock.Any(), gomock.Len(1)).Return(nil)
	f.store.EXPECT().MarkMissingAccountsClosed(gomock.Any(), connectionID, []string{"acc-1"}).Return(int64(0), nil)

	account := &schema.Account{ID: 7, ConnectionID: connectionID, ProviderID: domain.ProviderStarling, ExternalID: "acc-1", Currency: "GBP"}
	f.store.EXPECT().ListSyncEnabledAccounts(gomock.Any(), connectionID).Return([]*schema.Account{account}, nil)
	f.provider.EXPECT().
		FetchTransactions(gomock.Any(), gomock.Any(), "acc-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.Credentials, _ string, query domain.TransactionQuery) ([]domain.NormalizedTransaction, error) {
			// never synced, default lookback
			assert.Equal(t, f.now.Add(-90*24*time.Hour), query.StartDate)
			assert.Equal(t, f.now, query.EndDate)
			return []domain.NormalizedTransaction{
				{ExternalID: "txn-1", Amount: -5, Type: domain.TransactionTypeDebit, Date: f.now},
				{ExternalID: "txn-2", Amount: 10, Type: domain.TransactionTypeCredit, Date: f.now},
			}, nil
		})
	f.store.EXPECT().ListTransactionExternalIDs(gomock.Any(), connectionID, []string{"txn-1", "txn-2"}).Return(nil, nil)
	f.store.EXPECT().UpsertTransactions(gomock.Any(), gomock.Len(2)).Return(nil)
	f.store.EXPECT().UpdateAccountLastSynced(gomock.Any(), int64(7), f.now).Return(nil)

	f.store.EXPECT().
		UpdateIngestionJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j *schema.IngestionJob) error {
			assert.Equal(t, schema.JobStatusCompleted, j.Status)
			assert.Equal(t, 3, j.RecordsImported)
			assert.NotNil(t, j.CompletedAt)
			return nil
		})
	f.store.EXPECT().ListJobsSince(gomock.Any(), connectionID, gomock.Any()).Return(nil, nil)
	f.store.EXPECT().
		UpdateConnection(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, c *schema.Connection) error {
			assert.Equal(t, f.now, *c.LastSyncAt)
			assert.Equal(t, f.now.Add(6*time.Hour), *c.NextSyncAt)
			assert.Zero(t, c.ConsecutiveFailures)
			return nil
		})

	result, err := f.orchestrator.PerformSync(context.Background(), connectionID, "tenant-1", domain.SyncOptions{
		SyncAccounts:     true,
		SyncTransactions: true,
	})

	require.NoError(t, err)
	assert.Equal(t, string(schema.JobStatusCompleted), result.Status)
	assert.Equal(t, 1, result.Summary.AccountsSynced)
	assert.Equal(t, 2, result.Summary.TransactionsSynced)
	assert.Equal(t, 2, result.Summary.TransactionsCreated)
	assert.Empty(t, result.Summary.Errors)
}

func TestPerformSync_ConnectionNotFound(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.store.EXPECT().GetConnection(gomock.Any(), connectionID).Return(nil, nil)

	_, err := f.orchestrator.PerformSync(context.Background(), connectionID, "tenant-1", domain.DefaultSyncOptions())

	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestPerformSync_TenantMismatch(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.expectConnection(testConnection())

	_, err := f.orchestrator.PerformSync(context.Background(), connectionID, "other-tenant", domain.DefaultSyncOptions())

	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestPerformSync_TokenFailureSealsFailed(t *testing.T) {
	f := newOrchestratorFixture(t)
	conn := testConnection()

	f.expectConnection(conn)
	f.store.EXPECT().CreateIngestionJob(gomock.Any(), gomock.Any()).Return(nil)
	f.store.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderStarling).
		Return(nil, nil)

	f.store.EXPECT().
		UpdateIngestionJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j *schema.IngestionJob) error {
			assert.Equal(t, schema.JobStatusFailed, j.Status)
			assert.Zero(t, j.RecordsImported)
			return nil
		})
	f.store.EXPECT().ListJobsSince(gomock.Any(), connectionID, gomock.Any()).Return(nil, nil)
	f.store.EXPECT().
		UpdateConnection(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, c *schema.Connection) error {
			assert.Equal(t, 1, c.ConsecutiveFailures)
			assert.NotNil(t, c.LastError)
			return nil
		})

	result, err := f.orchestrator.PerformSync(context.Background(), connectionID, "tenant-1", domain.DefaultSyncOptions())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	assert.Equal(t, string(schema.JobStatusFailed), result.Status)
}

func TestPerformSync_AccountPhaseErrorStillSyncsTransactions(t *testing.T) {
	f := newOrchestratorFixture(t)
	conn := testConnection()

	f.expectConnection(conn)
	f.store.EXPECT().CreateIngestionJob(gomock.Any(), gomock.Any()).Return(nil)
	f.expectActiveToken()

	f.provider.EXPECT().
		FetchAccounts(gomock.Any(), gomock.Any()).
		Return(nil, &domain.ProviderError{Kind: domain.ErrorKindTransient, Provider: "starling", Message: "upstream 503"})

	account := &schema.Account{ID: 7, ConnectionID: connectionID, ProviderID: domain.ProviderStarling, ExternalID: "acc-1", Currency: "GBP"}
	f.store.EXPECT().ListSyncEnabledAccounts(gomock.Any(), connectionID).Return([]*schema.Account{account}, nil)
	f.provider.EXPECT().
		FetchTransactions(gomock.Any(), gomock.Any(), "acc-1", gomock.Any()).
		Return([]domain.NormalizedTransaction{
			{ExternalID: "txn-1", Amount: 10, Type: domain.TransactionTypeCredit, Date: f.now},
		}, nil)
	f.store.EXPECT().ListTransactionExternalIDs(gomock.Any(), connectionID, gomock.Any()).Return(nil, nil)
	f.store.EXPECT().UpsertTransactions(gomock.Any(), gomock.Len(1)).Return(nil)
	f.store.EXPECT().UpdateAccountLastSynced(gomock.Any(), int64(7), f.now).Return(nil)

	f.store.EXPECT().
		UpdateIngestionJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j *schema.IngestionJob) error {
			assert.Equal(t, schema.JobStatusCompletedWithErrors, j.Status)
			return nil
		})
	f.store.EXPECT().ListJobsSince(gomock.Any(), connectionID, gomock.Any()).Return(nil, nil)
	f.store.EXPECT().UpdateConnection(gomock.Any(), gomock.Any()).Return(nil)

	result, err := f.orchestrator.PerformSync(context.Background(), connectionID, "tenant-1", domain.DefaultSyncOptions())

	require.NoError(t, err)
	assert.Equal(t, string(schema.JobStatusCompletedWithErrors), result.Status)
	require.Len(t, result.Summary.Errors, 1)
	assert.Contains(t, result.Summary.Errors[0], "failed to fetch accounts")
	assert.Equal(t, 1, result.Summary.TransactionsSynced)
}

func TestPerformSync_ReconnectRequiredAbortsEarly(t *testing.T) {
	f := newOrchestratorFixture(t)
	conn := testConnection()

	f.expectConnection(conn)
	f.store.EXPECT().CreateIngestionJob(gomock.Any(), gomock.Any()).Return(nil)
	f.expectActiveToken()

	f.provider.EXPECT().
		FetchAccounts(gomock.Any(), gomock.Any()).
		Return(nil, &domain.ProviderError{Kind: domain.ErrorKindUnauthorized, Provider: "starling", StatusCode: 401, Message: "token revoked"})

	// no transaction phase after an unauthorized listing
	f.store.EXPECT().
		UpdateIngestionJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j *schema.IngestionJob) error {
			assert.Equal(t, schema.JobStatusFailed, j.Status)
			return nil
		})
	f.store.EXPECT().ListJobsSince(gomock.Any(), connectionID, gomock.Any()).Return(nil, nil)
	f.store.EXPECT().UpdateConnection(gomock.Any(), gomock.Any()).Return(nil)

	result, err := f.orchestrator.PerformSync(context.Background(), connectionID, "tenant-1", domain.DefaultSyncOptions())

	require.Error(t, err)
	assert.True(t, domain.RequiresReconnect(err))
	assert.Equal(t, string(schema.JobStatusFailed), result.Status)
}

func TestPerformSync_SkippedAccountRecordedAsWarning(t *testing.T) {
	f := newOrchestratorFixture(t)
	conn := testConnection()

	f.expectConnection(conn)
	f.store.EXPECT().CreateIngestionJob(gomock.Any(), gomock.Any()).Return(nil)
	f.expectActiveToken()

	lastSynced := f.now.Add(-5 * time.Minute)
	account := &schema.Account{ID: 7, ConnectionID: connectionID, ExternalID: "acc-1", Currency: "GBP", LastSyncedAt: &lastSynced}
	f.store.EXPECT().ListSyncEnabledAccounts(gomock.Any(), connectionID).Return([]*schema.Account{account}, nil)

	f.store.EXPECT().UpdateIngestionJob(gomock.Any(), gomock.Any()).Return(nil)
	f.store.EXPECT().ListJobsSince(gomock.Any(), connectionID, gomock.Any()).Return(nil, nil)
	f.store.EXPECT().UpdateConnection(gomock.Any(), gomock.Any()).Return(nil)

	result, err := f.orchestrator.PerformSync(context.Background(), connectionID, "tenant-1", domain.SyncOptions{
		SyncTransactions: true,
	})

	require.NoError(t, err)
	assert.Equal(t, string(schema.JobStatusCompleted), result.Status)
	require.Len(t, result.Summary.Warnings, 1)
	assert.Contains(t, result.Summary.Warnings[0], "sync skipped")
}

func TestExecuteJob_AlreadySealed(t *testing.T) {
	f := newOrchestratorFixture(t)
	conn := testConnection()
	jobID := "22222222-2222-2222-2222-222222222222"

	f.expectConnection(conn)
	f.store.EXPECT().
		GetIngestionJob(gomock.Any(), jobID).
		Return(&schema.IngestionJob{
			ID:           jobID,
			ConnectionID: connectionID,
			Status:       schema.JobStatusCompleted,
			Summary:      []byte(`{"accounts_synced":3,"started_at":"2026-08-30T10:00:00Z","sync_duration_ms":1200}`),
		}, nil)

	result, err := f.orchestrator.ExecuteJob(context.Background(), jobID, connectionID, "tenant-1", domain.DefaultSyncOptions())

	require.NoError(t, err)
	assert.Equal(t, string(schema.JobStatusCompleted), result.Status)
	assert.Equal(t, 3, result.Summary.AccountsSynced)
}

func TestExecuteJob_ClaimsPendingJob(t *testing.T) {
	f := newOrchestratorFixture(t)
	conn := testConnection()
	jobID := "22222222-2222-2222-2222-222222222222"

	f.expectConnection(conn)
	f.store.EXPECT().
		GetIngestionJob(gomock.Any(), jobID).
		Return(&schema.IngestionJob{
			ID:           jobID,
			ConnectionID: connectionID,
			TenantID:     conn.TenantID,
			Status:       schema.JobStatusPending,
		}, nil)
	f.store.EXPECT().
		UpdateIngestionJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j *schema.IngestionJob) error {
			assert.Equal(t, schema.JobStatusRunning, j.Status)
			return nil
		})
	f.store.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderStarling).
		Return(nil, nil)

	f.store.EXPECT().
		UpdateIngestionJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j *schema.IngestionJob) error {
			assert.Equal(t, schema.JobStatusFailed, j.Status)
			return nil
		})
	f.store.EXPECT().ListJobsSince(gomock.Any(), connectionID, gomock.Any()).Return(nil, nil)
	f.store.EXPECT().UpdateConnection(gomock.Any(), gomock.Any()).Return(nil)

	result, err := f.orchestrator.ExecuteJob(context.Background(), jobID, connectionID, "tenant-1", domain.DefaultSyncOptions())

	require.Error(t, err)
	assert.Equal(t, jobID, result.JobID)
	assert.Equal(t, string(schema.JobStatusFailed), result.Status)
}
