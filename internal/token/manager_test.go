package token_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/mocks"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
	"github.com/ledgerkit/bank-sync/internal/token"
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

const connectionID = "11111111-1111-1111-1111-111111111111"

func strPtr(s string) *string { return &s }

func activeToken(expiresAt time.Time) *schema.OAuthToken {
	return &schema.OAuthToken{
		ID:           42,
		ConnectionID: connectionID,
		ProviderID:   domain.ProviderQuickBooks,
		AccessToken:  "access-1",
		RefreshToken: strPtr("refresh-1"),
		ExpiresAt:    expiresAt,
		Metadata:     []byte(`{"realm_id":"realm-42"}`),
		Status:       schema.TokenStatusActive,
	}
}

func TestCredentials_ValidToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	expiresAt := time.Now().Add(time.Hour)
	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		Return(activeToken(expiresAt), nil)
	mockProvider.EXPECT().IsTokenExpired(expiresAt).Return(false)

	creds, err := mgr.Credentials(context.Background(), connectionID, mockProvider)

	require.NoError(t, err)
	assert.Equal(t, "access-1", creds.AccessToken)
	assert.Equal(t, "realm-42", creds.Metadata["realm_id"])
}

func TestCredentials_NoToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		Return(nil, nil)

	_, err := mgr.Credentials(context.Background(), connectionID, mockProvider)

	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestCredentials_RefreshNearExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	now := time.Now()
	expiresAt := now.Add(time.Minute)
	stored := activeToken(expiresAt)

	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		Return(stored, nil)
	mockProvider.EXPECT().IsTokenExpired(expiresAt).Return(true)
	mockProvider.EXPECT().
		RefreshToken(gomock.Any(), "refresh-1").
		Return(&domain.Token{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresAt:    now.Add(time.Hour),
		}, nil)
	mockClock.EXPECT().Now().Return(now)
	mockStore.EXPECT().
		UpsertToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, row *schema.OAuthToken) error {
			assert.Equal(t, "access-2", row.AccessToken)
			require.NotNil(t, row.RefreshToken)
			assert.Equal(t, "refresh-2", *row.RefreshToken)
			assert.Equal(t, schema.TokenStatusActive, row.Status)
			// Metadata carries over from the stored token
			assert.JSONEq(t, `{"realm_id":"realm-42"}`, string(row.Metadata))
			return nil
		})

	creds, err := mgr.Credentials(context.Background(), connectionID, mockProvider)

	require.NoError(t, err)
	assert.Equal(t, "access-2", creds.AccessToken)
	assert.Equal(t, "realm-42", creds.Metadata["realm_id"])
}

func TestCredentials_RefreshKeepsPriorRefreshToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	now := time.Now()
	stored := activeToken(now.Add(time.Minute))

	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		Return(stored, nil)
	mockProvider.EXPECT().IsTokenExpired(stored.ExpiresAt).Return(true)
	// Provider omits the refresh token in its refresh response
	mockProvider.EXPECT().
		RefreshToken(gomock.Any(), "refresh-1").
		Return(&domain.Token{
			AccessToken: "access-2",
			ExpiresAt:   now.Add(time.Hour),
		}, nil)
	mockClock.EXPECT().Now().Return(now)
	mockStore.EXPECT().
		UpsertToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, row *schema.OAuthToken) error {
			require.NotNil(t, row.RefreshToken)
			assert.Equal(t, "refresh-1", *row.RefreshToken)
			return nil
		})

	_, err := mgr.Credentials(context.Background(), connectionID, mockProvider)
	require.NoError(t, err)
}

func TestCredentials_ExpiredWithoutRefreshToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	stored := activeToken(time.Now().Add(-time.Hour))
	stored.RefreshToken = nil

	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		Return(stored, nil)
	mockProvider.EXPECT().IsTokenExpired(stored.ExpiresAt).Return(true)
	mockStore.EXPECT().SetTokenStatus(gomock.Any(), int64(42), schema.TokenStatusExpired).Return(nil)

	_, err := mgr.Credentials(context.Background(), connectionID, mockProvider)

	assert.ErrorIs(t, err, domain.ErrReconnectRequired)
}

func TestCredentials_ExpiredStatusWriteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	stored := activeToken(time.Now().Add(-time.Hour))
	stored.RefreshToken = nil

	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		Return(stored, nil)
	mockProvider.EXPECT().IsTokenExpired(stored.ExpiresAt).Return(true)
	mockStore.EXPECT().
		SetTokenStatus(gomock.Any(), int64(42), schema.TokenStatusExpired).
		Return(errors.New("write failed"))

	_, err := mgr.Credentials(context.Background(), connectionID, mockProvider)

	assert.ErrorIs(t, err, domain.ErrReconnectRequired)
}

func TestCredentials_RefreshUnauthorized(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	stored := activeToken(time.Now().Add(-time.Hour))

	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		Return(stored, nil)
	mockProvider.EXPECT().IsTokenExpired(stored.ExpiresAt).Return(true)
	mockProvider.EXPECT().
		RefreshToken(gomock.Any(), "refresh-1").
		Return(nil, &domain.ProviderError{
			Kind:       domain.ErrorKindUnauthorized,
			Provider:   "quickbooks",
			StatusCode: 401,
			Message:    "invalid_grant",
		})
	mockStore.EXPECT().SetTokenStatus(gomock.Any(), int64(42), schema.TokenStatusRevoked).Return(nil)

	_, err := mgr.Credentials(context.Background(), connectionID, mockProvider)

	assert.ErrorIs(t, err, domain.ErrReconnectRequired)
}

func TestCredentials_RefreshTransientError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	stored := activeToken(time.Now().Add(-time.Hour))

	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		Return(stored, nil)
	mockProvider.EXPECT().IsTokenExpired(stored.ExpiresAt).Return(true)
	mockProvider.EXPECT().
		RefreshToken(gomock.Any(), "refresh-1").
		Return(nil, &domain.ProviderError{
			Kind:     domain.ErrorKindTransient,
			Provider: "quickbooks",
			Message:  "gateway timeout",
		})

	_, err := mgr.Credentials(context.Background(), connectionID, mockProvider)

	// Transient failures do not demand reconnection
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrReconnectRequired)
}

func TestCredentials_SingleFlightRefresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockProvider := mocks.NewMockProvider(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	now := time.Now()
	refreshed := false

	// First caller sees the stale token and refreshes; the second caller,
	// serialized behind the lock, sees the fresh one
	mockProvider.EXPECT().Name().Return(domain.ProviderQuickBooks).Times(2)
	mockStore.EXPECT().
		GetActiveToken(gomock.Any(), connectionID, domain.ProviderQuickBooks).
		DoAndReturn(func(_ context.Context, _ string, _ domain.ProviderID) (*schema.OAuthToken, error) {
			if refreshed {
				fresh := activeToken(now.Add(time.Hour))
				fresh.AccessToken = "access-2"
				return fresh, nil
			}
			return activeToken(now.Add(time.Minute)), nil
		}).
		Times(2)
	mockProvider.EXPECT().
		IsTokenExpired(gomock.Any()).
		DoAndReturn(func(expiresAt time.Time) bool {
			return expiresAt.Before(now.Add(30 * time.Minute))
		}).
		Times(2)
	mockProvider.EXPECT().
		RefreshToken(gomock.Any(), "refresh-1").
		DoAndReturn(func(_ context.Context, _ string) (*domain.Token, error) {
			refreshed = true
			return &domain.Token{
				AccessToken:  "access-2",
				RefreshToken: "refresh-2",
				ExpiresAt:    now.Add(time.Hour),
			}, nil
		})
	mockClock.EXPECT().Now().Return(now)
	mockStore.EXPECT().UpsertToken(gomock.Any(), gomock.Any()).Return(nil)

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds, err := mgr.Credentials(context.Background(), connectionID, mockProvider)
			require.NoError(t, err)
			results[i] = creds.AccessToken
		}(i)
	}
	wg.Wait()

	// Exactly one refresh happened; both callers got the new token
	assert.Equal(t, "access-2", results[0])
	assert.Equal(t, "access-2", results[1])
}

func TestStoreToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	mgr := token.NewManager(mockStore, mockClock, adapter.NewJSON())

	now := time.Now()
	mockClock.EXPECT().Now().Return(now)
	mockStore.EXPECT().
		UpsertToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, row *schema.OAuthToken) error {
			assert.Equal(t, connectionID, row.ConnectionID)
			assert.Equal(t, domain.ProviderStarling, row.ProviderID)
			assert.Equal(t, "access-1", row.AccessToken)
			assert.Equal(t, "read write", row.Scopes)
			assert.JSONEq(t, `{"account_holder_uid":"holder-1"}`, string(row.Metadata))
			return nil
		})

	err := mgr.StoreToken(context.Background(), connectionID, domain.ProviderStarling, &domain.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Hour),
		Scopes:       []string{"read", "write"},
		Metadata:     map[string]string{"account_holder_uid": "holder-1"},
	})
	require.NoError(t, err)
}
