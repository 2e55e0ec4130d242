package quickbooks

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"
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
		APIURL:        "https://quickbooks.api.intuit.com/v3",
		AuthURL:       "https://appcenter.intuit.com/connect/oauth2",
		TokenURL:      "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
		WebhookSecret: "webhook-secret",
	}
}

func newTestClient(t *testing.T, maxPages int) (*QuickBooksClient, *mocks.MockHTTPClient, *mocks.MockClock) {
	t.Helper()

	ctrl := gomock.NewController(t)
	httpClient := mocks.NewMockHTTPClient(ctrl)
	clock := mocks.NewMockClock(ctrl)

	client := NewClient(testCreds(), httpClient, nil, adapter.NewJSON(), clock, adapter.NewJCS(), maxPages)
	return client, httpClient, clock
}

func testQueryCreds() domain.Credentials {
	return domain.Credentials{
		AccessToken: "access",
		Metadata:    map[string]string{"realm_id": "realm-1"},
	}
}

// accountsPage builds a query API response holding count generated accounts
func accountsPage(offset, count int) []byte {
	rows := make([]string, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, fmt.Sprintf(
			`{"Id":"acc-%d","Name":"Account %d","AccountType":"Bank","Active":true,"CurrentBalance":10.5,"CurrencyRef":{"value":"USD"}}`,
			offset+i, offset+i))
	}
	return []byte(`{"QueryResponse":{"Account":[` + strings.Join(rows, ",") + `]}}`)
}

func TestExchangeCode_KeepsRealmID(t *testing.T) {
	client, httpClient, clock := newTestClient(t, 0)

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	clock.EXPECT().Now().Return(now)

	httpClient.EXPECT().
		PostForm(gomock.Any(), testCreds().TokenURL, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, headers map[string]string, form url.Values) ([]byte, error) {
			expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
			assert.Equal(t, expectedAuth, headers["Authorization"])
			assert.Equal(t, "authorization_code", form.Get("grant_type"))
			return []byte(`{"access_token":"access","refresh_token":"refresh","expires_in":3600,"scope":"com.intuit.quickbooks.accounting"}`), nil
		})

	tok, err := client.ExchangeCode(context.Background(), "auth-code", map[string]string{"realmId": "realm-1"})
	require.NoError(t, err)

	assert.Equal(t, "realm-1", tok.Metadata["realm_id"])
	assert.Equal(t, "realm-1", client.ExternalOrgID(tok))
	assert.Equal(t, []string{"com.intuit.quickbooks.accounting"}, tok.Scopes)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
}

func TestExchangeCode_MissingRealmID(t *testing.T) {
	client, _, _ := newTestClient(t, 0)

	_, err := client.ExchangeCode(context.Background(), "auth-code", nil)
	require.Error(t, err)

	pe, ok := domain.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorKindValidation, pe.Kind)
}

func TestFetchAccounts_PagesUntilShortPage(t *testing.T) {
	client, httpClient, _ := newTestClient(t, 0)

	var startPositions []string
	httpClient.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, reqURL string, _ map[string]string) ([]byte, error) {
			parsed, err := url.Parse(reqURL)
			require.NoError(t, err)
			query := parsed.Query().Get("query")

			var start int
			_, err = fmt.Sscanf(query[strings.Index(query, "STARTPOSITION"):], "STARTPOSITION %d", &start)
			require.NoError(t, err)
			startPositions = append(startPositions, fmt.Sprint(start))

			switch start {
			case 1, 101:
				return accountsPage(start, 100), nil
			default:
				return accountsPage(start, 50), nil
			}
		}).
		Times(3)

	accounts, err := client.FetchAccounts(context.Background(), testQueryCreds())
	require.NoError(t, err)

	assert.Len(t, accounts, 250)
	assert.Equal(t, []string{"1", "101", "201"}, startPositions)
}

func TestFetchAccounts_FiltersNonTransactable(t *testing.T) {
	client, httpClient, _ := newTestClient(t, 0)

	httpClient.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]byte(`{"QueryResponse":{"Account":[
			{"Id":"1","Name":"Checking","AccountType":"Bank","Active":true,"CurrentBalance":100,"CurrencyRef":{"value":"USD"}},
			{"Id":"2","Name":"Visa","AccountType":"Credit Card","Active":true,"CurrentBalance":-50,"CurrencyRef":{"value":"USD"}},
			{"Id":"3","Name":"Retained Earnings","AccountType":"Equity","Active":true,"CurrentBalance":0,"CurrencyRef":{"value":"USD"}},
			{"Id":"4","Name":"Old Checking","AccountType":"Bank","Active":false,"CurrentBalance":0,"CurrencyRef":{"value":"USD"}}
		]}}`), nil)

	accounts, err := client.FetchAccounts(context.Background(), testQueryCreds())
	require.NoError(t, err)

	require.Len(t, accounts, 2)
	assert.Equal(t, "checking", accounts[0].Type)
	assert.Equal(t, "credit_card", accounts[1].Type)
}

func TestFetchAccounts_PageLimitExceeded(t *testing.T) {
	client, httpClient, _ := newTestClient(t, 2)

	httpClient.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ map[string]string) ([]byte, error) {
			return accountsPage(0, 100), nil
		}).
		Times(2)

	_, err := client.FetchAccounts(context.Background(), testQueryCreds())
	assert.ErrorIs(t, err, domain.ErrPageLimitExceeded)
}

func TestFetchTransactions_SignedAmounts(t *testing.T) {
	client, httpClient, _ := newTestClient(t, 0)

	httpClient.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]byte(`{"QueryResponse":{"Transaction":[
			{"Id":"t-1","TxnDate":"2026-03-02","TotalAmt":125.5,"PrivateNote":"Invoice","CurrencyRef":{"value":"USD"},"AccountRef":{"value":"1","name":"Checking"}},
			{"Id":"t-2","TxnDate":"2026-03-03T14:00:00Z","TotalAmt":-20,"PrivateNote":"Fee","CurrencyRef":{"value":"USD"},"AccountRef":{"value":"1","name":"Checking"}}
		]}}`), nil)

	txns, err := client.FetchTransactions(context.Background(), testQueryCreds(), "1", domain.TransactionQuery{
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, txns, 2)
	assert.Equal(t, 125.5, txns[0].Amount)
	assert.Equal(t, domain.TransactionTypeCredit, txns[0].Type)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), txns[0].Date)
	assert.Equal(t, -20.0, txns[1].Amount)
	assert.Equal(t, domain.TransactionTypeDebit, txns[1].Type)
	assert.Equal(t, time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC), txns[1].Date)
}

func TestFetchTransactions_LimitTruncates(t *testing.T) {
	client, httpClient, _ := newTestClient(t, 0)

	rows := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, fmt.Sprintf(
			`{"Id":"t-%d","TxnDate":"2026-03-02","TotalAmt":1,"CurrencyRef":{"value":"USD"},"AccountRef":{"value":"1"}}`, i))
	}
	httpClient.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]byte(`{"QueryResponse":{"Transaction":[`+strings.Join(rows, ",")+`]}}`), nil)

	txns, err := client.FetchTransactions(context.Background(), testQueryCreds(), "1", domain.TransactionQuery{
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Limit:     30,
	})
	require.NoError(t, err)
	assert.Len(t, txns, 30)
}

func TestParseWebhookEvent_EarliestChange(t *testing.T) {
	client, _, _ := newTestClient(t, 0)

	event, err := client.ParseWebhookEvent([]byte(`{"eventNotifications":[{
		"realmId":"realm-1",
		"dataChangeEvent":{"entities":[
			{"name":"Purchase","id":"p-1","operation":"Update","lastUpdated":"2026-03-14T09:30:00Z"},
			{"name":"Deposit","id":"d-1","operation":"Create","lastUpdated":"2026-03-14T08:15:00Z"}
		]}
	}]}`))
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderQuickBooks, event.Provider)
	assert.Equal(t, "realm-1", event.ExternalOrgID)
	assert.Equal(t, time.Date(2026, 3, 14, 8, 15, 0, 0, time.UTC), event.EventTime)
}

func TestParseWebhookEvent_Empty(t *testing.T) {
	client, _, _ := newTestClient(t, 0)

	_, err := client.ParseWebhookEvent([]byte(`{"eventNotifications":[]}`))
	assert.Error(t, err)
}

func TestNormalizeAccountType(t *testing.T) {
	assert.Equal(t, "checking", normalizeAccountType("Bank"))
	assert.Equal(t, "credit_card", normalizeAccountType("Credit Card"))
	assert.Equal(t, "accounts_receivable", normalizeAccountType("Accounts Receivable"))
}
