package starling

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/ratelimit"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

const PROVIDER_NAME = "starling"

const (
	// tokenExpiryBuffer forces a refresh shortly before the real expiry
	tokenExpiryBuffer = 5 * time.Minute

	// metadataAccountHolderUID is the metadata key carrying the account holder uid
	metadataAccountHolderUID = "account_holder_uid"
)

// tokenResponse is the OAuth token endpoint response
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// accountRecord is one account from the accounts endpoint
type accountRecord struct {
	AccountUID       string `json:"accountUid"`
	AccountType      string `json:"accountType"`
	Name             string `json:"name"`
	Currency         string `json:"currency"`
	State            string `json:"state"`
	AccountHolderUID string `json:"accountHolderUid"`
}

// accountsResponse is the accounts endpoint envelope
type accountsResponse struct {
	Accounts []accountRecord `json:"accounts"`
}

// balanceResponse is the account balance endpoint envelope
type balanceResponse struct {
	EffectiveBalance minorAmount `json:"effectiveBalance"`
}

// minorAmount is a currency amount in minor units
type minorAmount struct {
	Currency   string `json:"currency"`
	MinorUnits int64  `json:"minorUnits"`
}

// feedItem is one transaction from the feed endpoint.
// Amounts are unsigned minor units with a separate IN/OUT direction.
type feedItem struct {
	FeedItemUID      string      `json:"feedItemUid"`
	Amount           minorAmount `json:"amount"`
	Direction        string      `json:"direction"`
	Reference        string      `json:"reference"`
	TransactionTime  time.Time   `json:"transactionTime"`
	Status           string      `json:"status"`
	SpendingCategory string      `json:"spendingCategory"`
	CounterPartyName string      `json:"counterPartyName"`
}

// feedResponse is the feed endpoint envelope
type feedResponse struct {
	FeedItems []feedItem `json:"feedItems"`
}

// webhookPayload is the shape of an incoming webhook notification
type webhookPayload struct {
	WebhookEventUID  string    `json:"webhookEventUid"`
	EventType        string    `json:"eventType"`
	AccountHolderUID string    `json:"accountHolderUid"`
	EventTimestamp   time.Time `json:"eventTimestamp"`
}

// StarlingClient implements the provider adapter for the Starling bank API
type StarlingClient struct {
	creds          config.ProviderCredentials
	httpClient     adapter.HTTPClient
	rateLimitProxy ratelimit.Proxy
	json           adapter.JSON
	clock          adapter.Clock
	canonicalizer  adapter.JCS
}

// NewClient creates a new Starling adapter
func NewClient(
	creds config.ProviderCredentials,
	httpClient adapter.HTTPClient,
	rateLimitProxy ratelimit.Proxy,
	json adapter.JSON,
	clock adapter.Clock,
	canonicalizer adapter.JCS,
) *StarlingClient {
	return &StarlingClient{
		creds:          creds,
		httpClient:     httpClient,
		rateLimitProxy: rateLimitProxy,
		json:           json,
		clock:          clock,
		canonicalizer:  canonicalizer,
	}
}

// Name returns the provider id
func (c *StarlingClient) Name() domain.ProviderID {
	return domain.ProviderStarling
}

// AuthorizationURL builds the OAuth authorization redirect URL
func (c *StarlingClient) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("state", state)
	return c.creds.AuthURL + "?" + q.Encode()
}

// ExchangeCode exchanges an authorization code for a token set
func (c *StarlingClient) ExchangeCode(ctx context.Context, code string, _ map[string]string) (*domain.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.creds.RedirectURI)

	token, err := c.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	// The account holder uid scopes webhook events back to this connection
	holderUID, err := c.fetchAccountHolderUID(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	token.Metadata = map[string]string{metadataAccountHolderUID: holderUID}
	return token, nil
}

// RefreshToken obtains a new token set from a refresh token
func (c *StarlingClient) RefreshToken(ctx context.Context, refreshToken string) (*domain.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)
	form.Set("refresh_token", refreshToken)

	return c.requestToken(ctx, form)
}

func (c *StarlingClient) requestToken(ctx context.Context, form url.Values) (*domain.Token, error) {
	respBody, err := c.httpClient.PostForm(ctx, c.creds.TokenURL, nil, form)
	if err != nil {
		return nil, fmt.Errorf("failed to call Starling token endpoint: %w", err)
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
	}, nil
}

func (c *StarlingClient) fetchAccountHolderUID(ctx context.Context, accessToken string) (string, error) {
	respBody, err := c.get(ctx, accessToken, "/account-holder")
	if err != nil {
		return "", err
	}

	var holder struct {
		AccountHolderUID string `json:"accountHolderUid"`
	}
	if err := c.json.Unmarshal(respBody, &holder); err != nil {
		return "", c.invalidResponse("failed to unmarshal account holder response", err)
	}
	if holder.AccountHolderUID == "" {
		return "", c.invalidResponse("account holder response missing accountHolderUid", nil)
	}
	return holder.AccountHolderUID, nil
}

// FetchAccounts lists open primary accounts with their effective balances
func (c *StarlingClient) FetchAccounts(ctx context.Context, creds domain.Credentials) ([]domain.ProviderAccount, error) {
	respBody, err := c.get(ctx, creds.AccessToken, "/accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to call Starling accounts API: %w", err)
	}

	var resp accountsResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.invalidResponse("failed to unmarshal accounts response", err)
	}

	accounts := make([]domain.ProviderAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		// Closed and non-primary (joint space, fixed term) accounts are skipped
		if a.State != "OPEN" || a.AccountType != "PRIMARY" {
			continue
		}

		balance, err := c.fetchBalance(ctx, creds.AccessToken, a.AccountUID)
		if err != nil {
			return nil, err
		}

		accounts = append(accounts, domain.ProviderAccount{
			ExternalID: a.AccountUID,
			Name:       a.Name,
			Type:       "checking",
			Currency:   a.Currency,
			Balance:    fromMinorUnits(balance.EffectiveBalance.MinorUnits),
			Status:     domain.AccountStatusActive,
			Raw: map[string]interface{}{
				"account_type":       a.AccountType,
				"account_holder_uid": a.AccountHolderUID,
			},
		})
	}

	return accounts, nil
}

func (c *StarlingClient) fetchBalance(ctx context.Context, accessToken, accountUID string) (*balanceResponse, error) {
	respBody, err := c.get(ctx, accessToken, "/accounts/"+accountUID+"/balance")
	if err != nil {
		return nil, fmt.Errorf("failed to call Starling balance API: %w", err)
	}

	var resp balanceResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.invalidResponse("failed to unmarshal balance response", err)
	}
	return &resp, nil
}

// FetchTransactions fetches settled feed items for one account over the query
// window. Minor-unit amounts become major units; OUT items become negative.
func (c *StarlingClient) FetchTransactions(ctx context.Context, creds domain.Credentials, accountExternalID string, query domain.TransactionQuery) ([]domain.NormalizedTransaction, error) {
	path := fmt.Sprintf("/feed/account/%s/settled-transactions-between?minTransactionTimestamp=%s&maxTransactionTimestamp=%s",
		accountExternalID,
		url.QueryEscape(query.StartDate.UTC().Format(time.RFC3339)),
		url.QueryEscape(query.EndDate.UTC().Format(time.RFC3339)),
	)

	respBody, err := c.get(ctx, creds.AccessToken, path)
	if err != nil {
		return nil, fmt.Errorf("failed to call Starling feed API: %w", err)
	}

	var resp feedResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.invalidResponse("failed to unmarshal feed response", err)
	}

	transactions := make([]domain.NormalizedTransaction, 0, len(resp.FeedItems))
	for _, item := range resp.FeedItems {
		if item.Status != "SETTLED" {
			continue
		}

		amount := fromMinorUnits(item.Amount.MinorUnits)
		txnType := domain.TransactionTypeCredit
		if item.Direction == "OUT" {
			amount = -amount
			txnType = domain.TransactionTypeDebit
		}

		description := item.Reference
		if description == "" {
			description = item.CounterPartyName
		}

		transactions = append(transactions, domain.NormalizedTransaction{
			ExternalID:        item.FeedItemUID,
			AccountExternalID: accountExternalID,
			Amount:            amount,
			Currency:          item.Amount.Currency,
			Description:       description,
			Type:              txnType,
			Date:              item.TransactionTime,
			Metadata: map[string]interface{}{
				"spending_category":  item.SpendingCategory,
				"counter_party_name": item.CounterPartyName,
			},
		})

		if query.Limit > 0 && len(transactions) >= query.Limit {
			break
		}
	}

	return transactions, nil
}

// IsTokenExpired reports whether a token should be refreshed before use
func (c *StarlingClient) IsTokenExpired(expiresAt time.Time) bool {
	return !expiresAt.After(c.clock.Now().Add(tokenExpiryBuffer))
}

// ExternalOrgID returns the account holder uid carried on the token metadata
func (c *StarlingClient) ExternalOrgID(token *domain.Token) string {
	if token == nil {
		return ""
	}
	return token.Metadata[metadataAccountHolderUID]
}

// VerifyWebhookSignature checks the webhook HMAC signature over the raw body
func (c *StarlingClient) VerifyWebhookSignature(signature string, body []byte) error {
	return webhook.Verify(c.creds.WebhookSecret, signature, body, c.canonicalizer)
}

// ParseWebhookEvent extracts the account holder uid and event timestamp
// from a webhook body
func (c *StarlingClient) ParseWebhookEvent(body []byte) (*domain.WebhookEvent, error) {
	var payload webhookPayload
	if err := c.json.Unmarshal(body, &payload); err != nil {
		return nil, c.invalidResponse("failed to unmarshal webhook payload", err)
	}
	if payload.AccountHolderUID == "" {
		return nil, c.invalidResponse("webhook payload missing accountHolderUid", nil)
	}

	return &domain.WebhookEvent{
		Provider:      domain.ProviderStarling,
		ExternalOrgID: payload.AccountHolderUID,
		EventType:     payload.EventType,
		EventTime:     payload.EventTimestamp,
	}, nil
}

// ErrorMessage returns the provider-facing message of a classified error
func (c *StarlingClient) ErrorMessage(err error) string {
	if pe, ok := domain.AsProviderError(err); ok {
		return pe.Message
	}
	return err.Error()
}

// get performs a GET against the API base through the rate limit proxy
func (c *StarlingClient) get(ctx context.Context, accessToken, path string) ([]byte, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ratelimit.Request(ctx, c.rateLimitProxy, PROVIDER_NAME, func(ctx context.Context) ([]byte, error) {
		return c.httpClient.Get(ctx, c.creds.APIURL+path, headers)
	})
}

func (c *StarlingClient) invalidResponse(message string, err error) *domain.ProviderError {
	return &domain.ProviderError{
		Kind:     domain.ErrorKindValidation,
		Provider: PROVIDER_NAME,
		Message:  message,
		Err:      err,
	}
}

// fromMinorUnits converts minor units (pence) to major units
func fromMinorUnits(minorUnits int64) float64 {
	return float64(minorUnits) / 100
}
