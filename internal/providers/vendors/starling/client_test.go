package starling

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/golang/mock/gomock"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/mocks"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testCreds() config.ProviderCredentials {
	return config.ProviderCredentials{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		RedirectURI:   "https://example.com/callback",
		APIURL:        "https://api.starlingbank.com/api/v2",
		AuthURL:       "https://oauth.starlingbank.com",
		TokenURL:      "https://api.starlingbank.com/oauth/access-token",
		WebhookSecret: "webhook-secret",
	}
}

func newTestClient(t *testing.T) (*StarlingClient, *mocks.MockHTTPClient, *mocks.MockClock) {
	t.Helper()

	ctrl := gomock.NewController(t)
	httpClient := mocks.NewMockHTTPClient(ctrl)
	clock := mocks.NewMockClock(ctrl)

	client := NewClient(testCreds(), httpClient, nil, adapter.NewJSON(), clock, adapter.NewJCS())
	return client, httpClient, clock
}

func TestAuthorizationURL(t *testing.T) {
	client, _, _ := newTestClient(t)

	raw := client.AuthorizationURL("opaque-state")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "oauth.starlingbank.com", parsed.Host)
	assert.Equal(t, "client-id", parsed.Query().Get("client_id"))
	assert.Equal(t, "code", parsed.Query().Get("response_type"))
	assert.Equal(t, "opaque-state", parsed.Query().Get("state"))
}

func TestExchangeCode(t *testing.T) {
	client, httpClient, clock := newTestClient(t)

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	clock.EXPECT().Now().Return(now)

	httpClient.EXPECT().
		PostForm(gomock.Any(), "https://api.starlingbank.com/oauth/access-token", nil, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ map[string]string, form url.Values) ([]byte, error) {
			assert.Equal(t, "authorization_code", form.Get("grant_type"))
			assert.Equal(t, "auth-code", form.Get("code"))
			return []byte(`{"access_token":"access","refresh_token":"refresh","expires_in":3600}`), nil
		})
	httpClient.EXPECT().
		Get(gomock.Any(), "https://api.starlingbank.com/api/v2/account-holder", gomock.Any()).
		Return([]byte(`{"accountHolderUid":"holder-1"}`), nil)

	tok, err := client.ExchangeCode(context.Background(), "auth-code", nil)
	require.NoError(t, err)

	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
	assert.Equal(t, "holder-1", tok.Metadata["account_holder_uid"])
	assert.Equal(t, "holder-1", client.ExternalOrgID(tok))
}

func TestExchangeCode_MissingAccessToken(t *testing.T) {
	client, httpClient, _ := newTestClient(t)

	httpClient.EXPECT().
		PostForm(gomock.Any(), gomock.Any(), nil, gomock.Any()).
		Return([]byte(`{"error":"invalid_grant"}`), nil)

	_, err := client.ExchangeCode(context.Background(), "bad-code", nil)
	require.Error(t, err)

	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorKindValidation, pe.Kind)
}

func TestFetchAccounts_FiltersClosedAndNonPrimary(t *testing.T) {
	client, httpClient, _ := newTestClient(t)

	httpClient.EXPECT().
		Get(gomock.Any(), "https://api.starlingbank.com/api/v2/accounts", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, headers map[string]string) ([]byte, error) {
			assert.Equal(t, "Bearer access", headers["Authorization"])
			return []byte(`{"accounts":[
				{"accountUid":"acc-1","accountType":"PRIMARY","name":"Main","currency":"GBP","state":"OPEN","accountHolderUid":"holder-1"},
				{"accountUid":"acc-2","accountType":"PRIMARY","name":"Old","currency":"GBP","state":"CLOSED","accountHolderUid":"holder-1"},
				{"accountUid":"acc-3","accountType":"FIXED_TERM_DEPOSIT","name":"Savings","currency":"GBP","state":"OPEN","accountHolderUid":"holder-1"}
			]}`), nil
		})
	httpClient.EXPECT().
		Get(gomock.Any(), "https://api.starlingbank.com/api/v2/accounts/acc-1/balance", gomock.Any()).
		Return([]byte(`{"effectiveBalance":{"currency":"GBP","minorUnits":123456}}`), nil)

	accounts, err := client.FetchAccounts(context.Background(), domain.Credentials{AccessToken: "access"})
	require.NoError(t, err)

	require.Len(t, accounts, 1)
	assert.Equal(t, "acc-1", accounts[0].ExternalID)
	assert.Equal(t, "checking", accounts[0].Type)
	assert.Equal(t, 1234.56, accounts[0].Balance)
	assert.Equal(t, domain.AccountStatusActive, accounts[0].Status)
}

func TestFetchTransactions_SignsByDirection(t *testing.T) {
	client, httpClient, _ := newTestClient(t)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	httpClient.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, reqURL string, _ map[string]string) ([]byte, error) {
			parsed, err := url.Parse(reqURL)
			require.NoError(t, err)
			assert.Equal(t, "2026-03-01T00:00:00Z", parsed.Query().Get("minTransactionTimestamp"))
			assert.Equal(t, "2026-03-14T00:00:00Z", parsed.Query().Get("maxTransactionTimestamp"))
			return []byte(`{"feedItems":[
				{"feedItemUid":"f-1","amount":{"currency":"GBP","minorUnits":2500},"direction":"IN","reference":"Salary","transactionTime":"2026-03-02T09:00:00Z","status":"SETTLED"},
				{"feedItemUid":"f-2","amount":{"currency":"GBP","minorUnits":1200},"direction":"OUT","reference":"","counterPartyName":"Coffee Shop","transactionTime":"2026-03-03T08:30:00Z","status":"SETTLED"},
				{"feedItemUid":"f-3","amount":{"currency":"GBP","minorUnits":900},"direction":"OUT","reference":"Pending thing","transactionTime":"2026-03-04T12:00:00Z","status":"PENDING"}
			]}`), nil
		})

	txns, err := client.FetchTransactions(context.Background(), domain.Credentials{AccessToken: "access"}, "acc-1", domain.TransactionQuery{
		StartDate: start,
		EndDate:   end,
	})
	require.NoError(t, err)

	require.Len(t, txns, 2)
	assert.Equal(t, 25.0, txns[0].Amount)
	assert.Equal(t, domain.TransactionTypeCredit, txns[0].Type)
	assert.Equal(t, -12.0, txns[1].Amount)
	assert.Equal(t, domain.TransactionTypeDebit, txns[1].Type)
	assert.Equal(t, "Coffee Shop", txns[1].Description)
}

func TestFetchTransactions_LimitStopsEarly(t *testing.T) {
	client, httpClient, _ := newTestClient(t)

	httpClient.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]byte(`{"feedItems":[
			{"feedItemUid":"f-1","amount":{"currency":"GBP","minorUnits":100},"direction":"IN","transactionTime":"2026-03-02T09:00:00Z","status":"SETTLED"},
			{"feedItemUid":"f-2","amount":{"currency":"GBP","minorUnits":200},"direction":"IN","transactionTime":"2026-03-03T09:00:00Z","status":"SETTLED"}
		]}`), nil)

	txns, err := client.FetchTransactions(context.Background(), domain.Credentials{AccessToken: "access"}, "acc-1", domain.TransactionQuery{
		StartDate: time.Now().Add(-time.Hour),
		EndDate:   time.Now(),
		Limit:     1,
	})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestIsTokenExpired(t *testing.T) {
	client, _, clock := newTestClient(t)

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	clock.EXPECT().Now().Return(now).AnyTimes()

	assert.True(t, client.IsTokenExpired(now.Add(4*time.Minute)))
	assert.False(t, client.IsTokenExpired(now.Add(6*time.Minute)))
}

func TestParseWebhookEvent(t *testing.T) {
	client, _, _ := newTestClient(t)

	event, err := client.ParseWebhookEvent([]byte(`{
		"webhookEventUid":"n-1",
		"eventType":"FEED_ITEM_CREATED",
		"accountHolderUid":"holder-1",
		"eventTimestamp":"2026-03-14T09:55:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderStarling, event.Provider)
	assert.Equal(t, "holder-1", event.ExternalOrgID)
	assert.Equal(t, "FEED_ITEM_CREATED", event.EventType)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 55, 0, 0, time.UTC), event.EventTime)
}

func TestParseWebhookEvent_MissingHolder(t *testing.T) {
	client, _, _ := newTestClient(t)

	_, err := client.ParseWebhookEvent([]byte(`{"eventType":"FEED_ITEM_CREATED"}`))
	assert.Error(t, err)
}

func TestVerifyWebhookSignature(t *testing.T) {
	client, _, _ := newTestClient(t)

	body := []byte(`{"accountHolderUid":"holder-1","eventType":"FEED_ITEM_CREATED"}`)
	signature, err := webhook.Sign("webhook-secret", body, adapter.NewJCS())
	require.NoError(t, err)

	assert.NoError(t, client.VerifyWebhookSignature(signature, body))
	assert.Error(t, client.VerifyWebhookSignature(signature, []byte(`{"accountHolderUid":"other"}`)))
}
