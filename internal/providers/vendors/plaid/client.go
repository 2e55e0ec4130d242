package plaid

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

const PROVIDER_NAME = "plaid"

const (
	// pageSize is the per-request count for transaction paging
	pageSize = 500

	// tokenExpiryBuffer forces a refresh shortly before the real expiry
	tokenExpiryBuffer = 5 * time.Minute

	// metadataItemID is the metadata key carrying the item id
	metadataItemID = "item_id"

	// dateLayout is the YYYY-MM-DD format the transactions API uses
	dateLayout = "2006-01-02"
)

// tokenResponse is the token exchange response
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ItemID       string `json:"item_id"`
	ExpiresIn    int    `json:"expires_in"`
}

// accountRecord is one account from the accounts endpoint
type accountRecord struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Status    string `json:"status"`
	Balances  struct {
		Current         float64 `json:"current"`
		IsoCurrencyCode string  `json:"iso_currency_code"`
	} `json:"balances"`
}

// transactionRecord is one transaction from the transactions endpoint.
// Amounts are debit-positive; the sign is flipped during normalization.
type transactionRecord struct {
	TransactionID   string  `json:"transaction_id"`
	AccountID       string  `json:"account_id"`
	Amount          float64 `json:"amount"`
	IsoCurrencyCode string  `json:"iso_currency_code"`
	Name            string  `json:"name"`
	MerchantName    string  `json:"merchant_name"`
	Date            string  `json:"date"`
	Pending         bool    `json:"pending"`
	Category        string  `json:"personal_finance_category"`
}

// accountsResponse is the accounts endpoint envelope
type accountsResponse struct {
	Accounts []accountRecord `json:"accounts"`
}

// transactionsResponse is the transactions endpoint envelope
type transactionsResponse struct {
	Transactions      []transactionRecord `json:"transactions"`
	TotalTransactions int                 `json:"total_transactions"`
}

// webhookPayload is the shape of an incoming webhook notification
type webhookPayload struct {
	WebhookType string    `json:"webhook_type"`
	WebhookCode string    `json:"webhook_code"`
	ItemID      string    `json:"item_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// PlaidClient implements the provider adapter for the Plaid aggregator
type PlaidClient struct {
	creds          config.ProviderCredentials
	httpClient     adapter.HTTPClient
	rateLimitProxy ratelimit.Proxy
	json           adapter.JSON
	clock          adapter.Clock
	canonicalizer  adapter.JCS
	maxPages       int
}

// NewClient creates a new Plaid adapter
func NewClient(
	creds config.ProviderCredentials,
	httpClient adapter.HTTPClient,
	rateLimitProxy ratelimit.Proxy,
	json adapter.JSON,
	clock adapter.Clock,
	canonicalizer adapter.JCS,
	maxPages int,
) *PlaidClient {
	return &PlaidClient{
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
func (c *PlaidClient) Name() domain.ProviderID {
	return domain.ProviderPlaid
}

// AuthorizationURL builds the OAuth authorization redirect URL
func (c *PlaidClient) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.creds.RedirectURI)
	q.Set("state", state)
	return c.creds.APIURL + "/oauth/authorize?" + q.Encode()
}

// ExchangeCode exchanges an authorization code for an access token.
// The item id identifying the linked institution is kept as token metadata.
func (c *PlaidClient) ExchangeCode(ctx context.Context, code string, _ map[string]string) (*domain.Token, error) {
	body := map[string]string{
		"client_id":    c.creds.ClientID,
		"secret":       c.creds.ClientSecret,
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": c.creds.RedirectURI,
	}

	resp, err := c.requestToken(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.ItemID == "" {
		return nil, c.invalidResponse("token response missing item_id", nil)
	}

	token := c.buildToken(resp)
	token.Metadata = map[string]string{metadataItemID: resp.ItemID}
	return token, nil
}

// RefreshToken obtains a new token set from a refresh token
func (c *PlaidClient) RefreshToken(ctx context.Context, refreshToken string) (*domain.Token, error) {
	body := map[string]string{
		"client_id":     c.creds.ClientID,
		"secret":        c.creds.ClientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}

	resp, err := c.requestToken(ctx, body)
	if err != nil {
		return nil, err
	}
	return c.buildToken(resp), nil
}

func (c *PlaidClient) requestToken(ctx context.Context, body map[string]string) (*tokenResponse, error) {
	payload, err := c.json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	respBody, err := c.httpClient.Post(ctx, c.creds.APIURL+"/oauth/token", nil, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to call Plaid token endpoint: %w", err)
	}

	var resp tokenResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.invalidResponse("failed to unmarshal token response", err)
	}
	if resp.AccessToken == "" {
		return nil, c.invalidResponse("token response missing access_token", nil)
	}
	return &resp, nil
}

func (c *PlaidClient) buildToken(resp *tokenResponse) *domain.Token {
	return &domain.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
}

// FetchAccounts lists the item's accounts, filtering inactive and closed ones
func (c *PlaidClient) FetchAccounts(ctx context.Context, creds domain.Credentials) ([]domain.ProviderAccount, error) {
	payload, err := c.json.Marshal(map[string]string{
		"client_id":    c.creds.ClientID,
		"secret":       c.creds.ClientSecret,
		"access_token": creds.AccessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal accounts request: %w", err)
	}

	respBody, err := ratelimit.Request(ctx, c.rateLimitProxy, PROVIDER_NAME, func(ctx context.Context) ([]byte, error) {
		return c.httpClient.Post(ctx, c.creds.APIURL+"/accounts/get", nil, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Plaid accounts API: %w", err)
	}

	var resp accountsResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.invalidResponse("failed to unmarshal accounts response", err)
	}

	accounts := make([]domain.ProviderAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		if a.Status == "inactive" || a.Status == "closed" {
			continue
		}
		accounts = append(accounts, domain.ProviderAccount{
			ExternalID: a.AccountID,
			Name:       a.Name,
			Type:       normalizeAccountType(a.Type, a.Subtype),
			Currency:   a.Balances.IsoCurrencyCode,
			Balance:    a.Balances.Current,
			Status:     domain.AccountStatusActive,
			Raw: map[string]interface{}{
				"type":    a.Type,
				"subtype": a.Subtype,
			},
		})
	}

	return accounts, nil
}

// FetchTransactions fetches transactions for one account over the query
// window, offset-paged. Amounts are flipped to the signed credit-positive
// convention.
func (c *PlaidClient) FetchTransactions(ctx context.Context, creds domain.Credentials, accountExternalID string, query domain.TransactionQuery) ([]domain.NormalizedTransaction, error) {
	maxPages := c.maxPages
	if maxPages <= 0 {
		maxPages = 50
	}

	var transactions []domain.NormalizedTransaction
	offset := 0
	for page := 0; page < maxPages; page++ {
		resp, err := c.fetchTransactionsPage(ctx, creds.AccessToken, accountExternalID, query, offset)
		if err != nil {
			return nil, err
		}

		for _, t := range resp.Transactions {
			if t.Pending {
				continue
			}
			date, err := time.Parse(dateLayout, t.Date)
			if err != nil {
				return nil, c.invalidResponse(fmt.Sprintf("transaction %s has invalid date %q", t.TransactionID, t.Date), err)
			}

			// Debit-positive on the wire; canonical form is credit-positive
			amount := -t.Amount
			txnType := domain.TransactionTypeCredit
			if amount < 0 {
				txnType = domain.TransactionTypeDebit
			}

			description := t.Name
			if t.MerchantName != "" {
				description = t.MerchantName
			}

			transactions = append(transactions, domain.NormalizedTransaction{
				ExternalID:        t.TransactionID,
				AccountExternalID: accountExternalID,
				Amount:            amount,
				Currency:          t.IsoCurrencyCode,
				Description:       description,
				Type:              txnType,
				Date:              date,
				Metadata: map[string]interface{}{
					"category": t.Category,
				},
			})
		}

		if query.Limit > 0 && len(transactions) >= query.Limit {
			return transactions[:query.Limit], nil
		}

		offset += len(resp.Transactions)
		if offset >= resp.TotalTransactions || len(resp.Transactions) == 0 {
			return transactions, nil
		}
	}

	return nil, &domain.ProviderError{
		Kind:     domain.ErrorKindValidation,
		Provider: PROVIDER_NAME,
		Message:  fmt.Sprintf("more than %d pages returned", maxPages),
		Err:      domain.ErrPageLimitExceeded,
	}
}

func (c *PlaidClient) fetchTransactionsPage(ctx context.Context, accessToken, accountID string, query domain.TransactionQuery, offset int) (*transactionsResponse, error) {
	payload, err := c.json.Marshal(map[string]interface{}{
		"client_id":    c.creds.ClientID,
		"secret":       c.creds.ClientSecret,
		"access_token": accessToken,
		"start_date":   query.StartDate.Format(dateLayout),
		"end_date":     query.EndDate.Format(dateLayout),
		"options": map[string]interface{}{
			"account_ids": []string{accountID},
			"count":       pageSize,
			"offset":      offset,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transactions request: %w", err)
	}

	respBody, err := ratelimit.Request(ctx, c.rateLimitProxy, PROVIDER_NAME, func(ctx context.Context) ([]byte, error) {
		return c.httpClient.Post(ctx, c.creds.APIURL+"/transactions/get", nil, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Plaid transactions API: %w", err)
	}

	var resp transactionsResponse
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.invalidResponse("failed to unmarshal transactions response", err)
	}
	return &resp, nil
}

// IsTokenExpired reports whether a token should be refreshed before use
func (c *PlaidClient) IsTokenExpired(expiresAt time.Time) bool {
	return !expiresAt.After(c.clock.Now().Add(tokenExpiryBuffer))
}

// ExternalOrgID returns the item id carried on the token metadata
func (c *PlaidClient) ExternalOrgID(token *domain.Token) string {
	if token == nil {
		return ""
	}
	return token.Metadata[metadataItemID]
}

// VerifyWebhookSignature checks the webhook HMAC signature over the raw body
func (c *PlaidClient) VerifyWebhookSignature(signature string, body []byte) error {
	return webhook.Verify(c.creds.WebhookSecret, signature, body, c.canonicalizer)
}

// ParseWebhookEvent extracts the item id and event timestamp from a webhook body
func (c *PlaidClient) ParseWebhookEvent(body []byte) (*domain.WebhookEvent, error) {
	var payload webhookPayload
	if err := c.json.Unmarshal(body, &payload); err != nil {
		return nil, c.invalidResponse("failed to unmarshal webhook payload", err)
	}
	if payload.ItemID == "" {
		return nil, c.invalidResponse("webhook payload missing item_id", nil)
	}

	return &domain.WebhookEvent{
		Provider:      domain.ProviderPlaid,
		ExternalOrgID: payload.ItemID,
		EventType:     payload.WebhookType + "." + payload.WebhookCode,
		EventTime:     payload.Timestamp,
	}, nil
}

// ErrorMessage returns the provider-facing message of a classified error
func (c *PlaidClient) ErrorMessage(err error) string {
	if pe, ok := domain.AsProviderError(err); ok {
		return pe.Message
	}
	return err.Error()
}

func (c *PlaidClient) invalidResponse(message string, err error) *domain.ProviderError {
	return &domain.ProviderError{
		Kind:     domain.ErrorKindValidation,
		Provider: PROVIDER_NAME,
		Message:  message,
		Err:      err,
	}
}

// normalizeAccountType maps Plaid type/subtype pairs onto the canonical set
func normalizeAccountType(accountType, subtype string) string {
	switch subtype {
	case "checking", "savings":
		return subtype
	}
	switch accountType {
	case "depository":
		return "checking"
	case "credit":
		return "credit_card"
	default:
		return accountType
	}
}
