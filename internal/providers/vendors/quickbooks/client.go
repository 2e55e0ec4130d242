package quickbooks

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/ratelimit"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

const PROVIDER_NAME = "quickbooks"

const (
	// pageSize is the MAXRESULTS value for query pagination
	pageSize = 100

	// tokenExpiryBuffer forces a refresh shortly before the real expiry
	tokenExpiryBuffer = 5 * time.Minute

	// metadataRealmID is the metadata key carrying the company realm id
	metadataRealmID = "realm_id"

	oauthScope = "com.intuit.quickbooks.accounting"
)

// transactableAccountTypes are the account types that carry bank-style
// transactions; internal bookkeeping accounts are skipped
var transactableAccountTypes = map[string]bool{
	"Bank":        true,
	"Credit Card": true,
}

// tokenResponse is the OAuth token endpoint response
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// accountRecord is one account row from the query API
type accountRecord struct {
	ID             string  `json:"Id"`
	Name           string  `json:"Name"`
	AccountType    string  `json:"AccountType"`
	AccountSubType string  `json:"AccountSubType"`
	Active         bool    `json:"Active"`
	CurrentBalance float64 `json:"CurrentBalance"`
	CurrencyRef    struct {
		Value string `json:"value"`
	} `json:"CurrencyRef"`
}

// transactionRecord is one transaction row from the query API.
// Amounts are signed: deposits positive, payments negative.
type transactionRecord struct {
	ID          string  `json:"Id"`
	TxnDate     string  `json:"TxnDate"`
	TotalAmount float64 `json:"TotalAmt"`
	PrivateNote string  `json:"PrivateNote"`
	CurrencyRef struct {
		Value string `json:"value"`
	} `json:"CurrencyRef"`
	AccountRef struct {
		Value string `json:"value"`
		Name  string `json:"name"`
	} `json:"AccountRef"`
}

// queryResponse is the envelope of the query API
type queryResponse struct {
	QueryResponse struct {
		Account       []accountRecord     `json:"Account"`
		Transaction   []transactionRecord `json:"Transaction"`
		StartPosition int                 `json:"startPosition"`
		MaxResults    int                 `json:"maxResults"`
	} `json:"QueryResponse"`
}

// webhookPayload is the shape of an incoming webhook notification
type webhookPayload struct {
	EventNotifications []struct {
		RealmID         string `json:"realmId"`
		DataChangeEvent struct {
			Entities []struct {
				Name        string    `json:"name"`
				ID          string    `json:"id"`
				Operation   string    `json:"operation"`
				LastUpdated time.Time `json:"lastUpdated"`
			} `json:"entities"`
		} `json:"dataChangeEvent"`
	} `json:"eventNotifications"`
}

// QuickBooksClient implements the provider adapter for QuickBooks Online
type QuickBooksClient struct {
	creds          config.ProviderCredentials
	httpClient     adapter.HTTPClient
	rateLimitProxy ratelimit.Proxy
	json           adapter.JSON
	clock          adapter.Clock
	canonicalizer  adapter.JCS
	maxPages       int
}

// NewClient creates a new QuickBooks adapter
func NewClient(
	creds config.ProviderCredentials,
	httpClient adapter.HTTPClient,
	rateLimitProxy ratelimit.Proxy,
	json adapter.JSON,
	clock adapter.Clock,
	canonicalizer adapter.JCS,
	maxPages int,
) *QuickBooksClient {
	return &QuickBooksClient{
		creds:          creds,
		httpClient:     httpClient,
		rateLimitProxy: rateLimitProxy,
		json:           json,
		clock:          clock,
		canonicalizer:  canonicalizer,
		maxPages:       maxPages,
	}
}

// Name returns the provider id
func (c *QuickBooksClient) Name() domain.ProviderID {
	return domain.ProviderQuickBooks
}

// AuthorizationURL builds the OAuth authorization redirect URL
func (c *QuickBooksClient) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("response_type", "code")
	q.Set("scope", oauthScope)
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("state", state)
	return c.creds.AuthURL + "?" + q.Encode()
}

// ExchangeCode exchanges an authorization code for a token set.
// The callback carries the company realm id, kept as token metadata
// because every API path is scoped by it.
func (c *QuickBooksClient) ExchangeCode(ctx context.Context, code string, callbackParams map[string]string) (*domain.Token, error) {
	realmID := callbackParams["realmId"]
	if realmID == "" {
		return nil, &domain.ProviderError{
			Kind:     domain.ErrorKindValidation,
			Provider: PROVIDER_NAME,
			Message:  "callback missing realmId",
		}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.creds.RedirectURI)

	token, err := c.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	token.Metadata = map[string]string{metadataRealmID: realmID}
	return token, nil
}

// RefreshToken obtains a new token set from a refresh token
func (c *QuickBooksClient) RefreshToken(ctx context.Context, refreshToken string) (*domain.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return c.requestToken(ctx, form)
}

func (c *QuickBooksClient) requestToken(ctx context.Context, form url.Values) (*domain.Token, error) {
	headers := map[string]string{
		"Authorization": "Basic " + basicAuth(c.creds.ClientID, c.creds.ClientSecret),
	}

	respBody, err := c.httpClient.PostForm(ctx, c.creds.TokenURL, headers, form)
	if err != nil {
		return nil, fmt.Errorf("failed to call QuickBooks token endpoint: %w", err)
	}

	var resp tokenResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.invalidResponse("failed to unmarshal token response", err)
	}
	if resp.AccessToken == "" {
		return nil, c.invalidResponse("token response missing access_token", nil)
	}

	return &domain.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scopes:       strings.Fields(resp.Scope),
	}, nil
}

// FetchAccounts lists active transactable accounts for the connection's realm
func (c *QuickBooksClient) FetchAccounts(ctx context.Context, creds domain.Credentials) ([]domain.ProviderAccount, error) {
	realmID := creds.Metadata[metadataRealmID]
	if realmID == "" {
		return nil, c.invalidResponse("credentials missing realm id", nil)
	}

	var accounts []domain.ProviderAccount
	err := c.fetchAllPages(ctx, func(startPosition int) (int, error) {
		query := fmt.Sprintf("SELECT * FROM Account STARTPOSITION %d MAXRESULTS %d", startPosition, pageSize)
		resp, err := c.runQuery(ctx, creds.AccessToken, realmID, query)
		if err != nil {
			return 0, err
		}

		for _, a := range resp.QueryResponse.Account {
			if !a.Active || !transactableAccountTypes[a.AccountType] {
				continue
			}
			accounts = append(accounts, domain.ProviderAccount{
				ExternalID: a.ID,
				Name:       a.Name,
				Type:       normalizeAccountType(a.AccountType),
				Currency:   a.CurrencyRef.Value,
				Balance:    a.CurrentBalance,
				Status:     domain.AccountStatusActive,
				Raw: map[string]interface{}{
					"account_type":     a.AccountType,
					"account_sub_type": a.AccountSubType,
				},
			})
		}
		return len(resp.QueryResponse.Account), nil
	})
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

// FetchTransactions fetches transactions for one account over the query window.
// QuickBooks reports signed totals, deposits positive, so no sign flip is needed.
func (c *QuickBooksClient) FetchTransactions(ctx context.Context, creds domain.Credentials, accountExternalID string, query domain.TransactionQuery) ([]domain.NormalizedTransaction, error) {
	realmID := creds.Metadata[metadataRealmID]
	if realmID == "" {
		return nil, c.invalidResponse("credentials missing realm id", nil)
	}

	var transactions []domain.NormalizedTransaction
	err := c.fetchAllPages(ctx, func(startPosition int) (int, error) {
		q := fmt.Sprintf(
			"SELECT * FROM Transaction WHERE AccountRef = '%s' AND TxnDate >= '%s' AND TxnDate <= '%s' STARTPOSITION %d MAXRESULTS %d",
			accountExternalID,
			query.StartDate.Format(time.RFC3339),
			query.EndDate.Format(time.RFC3339),
			startPosition,
			pageSize,
		)
		resp, err := c.runQuery(ctx, creds.AccessToken, realmID, q)
		if err != nil {
			return 0, err
		}

		for _, t := range resp.QueryResponse.Transaction {
			date, err := parseTxnDate(t.TxnDate)
			if err != nil {
				return 0, c.invalidResponse(fmt.Sprintf("transaction %s has invalid date %q", t.ID, t.TxnDate), err)
			}

			txnType := domain.TransactionTypeCredit
			if t.TotalAmount < 0 {
				txnType = domain.TransactionTypeDebit
			}

			transactions = append(transactions, domain.NormalizedTransaction{
				ExternalID:        t.ID,
				AccountExternalID: accountExternalID,
				Amount:            t.TotalAmount,
				Currency:          t.CurrencyRef.Value,
				Description:       t.PrivateNote,
				Type:              txnType,
				Date:              date,
				Metadata: map[string]interface{}{
					"account_name": t.AccountRef.Name,
				},
			})
		}

		if query.Limit > 0 && len(transactions) >= query.Limit {
			transactions = transactions[:query.Limit]
			return 0, nil // stop paging
		}
		return len(resp.QueryResponse.Transaction), nil
	})
	if err != nil {
		return nil, err
	}

	return transactions, nil
}

// IsTokenExpired reports whether a token should be refreshed before use
func (c *QuickBooksClient) IsTokenExpired(expiresAt time.Time) bool {
	return !expiresAt.After(c.clock.Now().Add(tokenExpiryBuffer))
}

// ExternalOrgID returns the realm id carried on the token metadata
func (c *QuickBooksClient) ExternalOrgID(token *domain.Token) string {
	if token == nil {
		return ""
	}
	return token.Metadata[metadataRealmID]
}

// VerifyWebhookSignature checks the webhook HMAC signature over the raw body
func (c *QuickBooksClient) VerifyWebhookSignature(signature string, body []byte) error {
	return webhook.Verify(c.creds.WebhookSecret, signature, body, c.canonicalizer)
}

// ParseWebhookEvent extracts the realm id and the earliest change timestamp
// from a webhook notification
func (c *QuickBooksClient) ParseWebhookEvent(body []byte) (*domain.WebhookEvent, error) {
	var payload webhookPayload
	if err := c.json.Unmarshal(body, &payload); err != nil {
		return nil, c.invalidResponse("failed to unmarshal webhook payload", err)
	}
	if len(payload.EventNotifications) == 0 {
		return nil, c.invalidResponse("webhook payload has no event notifications", nil)
	}

	notification := payload.EventNotifications[0]
	event := &domain.WebhookEvent{
		Provider:      domain.ProviderQuickBooks,
		ExternalOrgID: notification.RealmID,
		EventType:     "data_change",
	}
	for _, entity := range notification.DataChangeEvent.Entities {
		if event.EventTime.IsZero() || entity.LastUpdated.Before(event.EventTime) {
			event.EventTime = entity.LastUpdated
		}
	}
	if event.ExternalOrgID == "" {
		return nil, c.invalidResponse("webhook payload missing realmId", nil)
	}

	return event, nil
}

// ErrorMessage returns the provider-facing message of a classified error
func (c *QuickBooksClient) ErrorMessage(err error) string {
	if pe, ok := domain.AsProviderError(err); ok {
		return pe.Message
	}
	return err.Error()
}

// fetchAllPages drives STARTPOSITION paging until a short page or the safety
// bound. fetchPage returns the number of rows the page contained; a count
// below pageSize ends the loop.
func (c *QuickBooksClient) fetchAllPages(ctx context.Context, fetchPage func(startPosition int) (int, error)) error {
	maxPages := c.maxPages
	if maxPages <= 0 {
		maxPages = 50
	}

	startPosition := 1
	for page := 0; page < maxPages; page++ {
		count, err := fetchPage(startPosition)
		if err != nil {
			return err
		}
		if count < pageSize {
			return nil
		}
		startPosition += count
	}

	return &domain.ProviderError{
		Kind:     domain.ErrorKindValidation,
		Provider: PROVIDER_NAME,
		Message:  fmt.Sprintf("more than %d pages returned", maxPages),
		Err:      domain.ErrPageLimitExceeded,
	}
}

// runQuery executes one query API call through the rate limit proxy
func (c *QuickBooksClient) runQuery(ctx context.Context, accessToken, realmID, query string) (*queryResponse, error) {
	reqURL := fmt.Sprintf("%s/company/%s/query?query=%s", c.creds.APIURL, realmID, url.QueryEscape(query))
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}

	respBody, err := ratelimit.Request(ctx, c.rateLimitProxy, PROVIDER_NAME, func(ctx context.Context) ([]byte, error) {
		return c.httpClient.Get(ctx, reqURL, headers)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call QuickBooks query API: %w", err)
	}

	var resp queryResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.invalidResponse("failed to unmarshal query response", err)
	}
	return &resp, nil
}

func (c *QuickBooksClient) invalidResponse(message string, err error) *domain.ProviderError {
	return &domain.ProviderError{
		Kind:     domain.ErrorKindValidation,
		Provider: PROVIDER_NAME,
		Message:  message,
		Err:      err,
	}
}

// parseTxnDate accepts both full RFC3339 timestamps and bare dates
func parseTxnDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

// normalizeAccountType maps QuickBooks account types onto the canonical set
func normalizeAccountType(accountType string) string {
	switch accountType {
	case "Bank":
		return "checking"
	case "Credit Card":
		return "credit_card"
	default:
		return strings.ToLower(strings.ReplaceAll(accountType, " ", "_"))
	}
}

func basicAuth(clientID, clientSecret string) string {
	return base64.StdEncoding.EncodeToString([]byte(clientID + ":" + clientSecret))
}
