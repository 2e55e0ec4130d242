package providers

import (
	"context"
	"time"

	"github.com/ledgerkit/bank-sync/internal/domain"
)

// Provider defines the operations every bank/accounting provider adapter
// implements. Vendors normalize their API shapes into domain types here;
// nothing outside providers/vendors knows provider wire formats.
//
//go:generate mockgen -source=provider.go -destination=../mocks/provider.go -package=mocks -mock_names=Provider=MockProvider
type Provider interface {
	// Name returns the provider id
	Name() domain.ProviderID

	// AuthorizationURL builds the OAuth authorization redirect URL for the
	// given opaque state value
	AuthorizationURL(state string) string

	// ExchangeCode exchanges an authorization code for a token set.
	// callbackParams carries provider-specific callback query values
	// (e.g. the QuickBooks realmId).
	ExchangeCode(ctx context.Context, code string, callbackParams map[string]string) (*domain.Token, error)

	// RefreshToken obtains a new token set from a refresh token
	RefreshToken(ctx context.Context, refreshToken string) (*domain.Token, error)

	// FetchAccounts lists the provider's transactable accounts,
	// already normalized and filtered
	FetchAccounts(ctx context.Context, creds domain.Credentials) ([]domain.ProviderAccount, error)

	// FetchTransactions fetches transactions for one account over the query
	// window, fully paginated, normalized to signed credit-positive amounts
	FetchTransactions(ctx context.Context, creds domain.Credentials, accountExternalID string, query domain.TransactionQuery) ([]domain.NormalizedTransaction, error)

	// IsTokenExpired reports whether a token expiring at the given time
	// should be refreshed before use
	IsTokenExpired(expiresAt time.Time) bool

	// VerifyWebhookSignature checks the webhook HMAC signature over the raw body
	VerifyWebhookSignature(signature string, body []byte) error

	// ParseWebhookEvent extracts the normalized event from a webhook body
	ParseWebhookEvent(body []byte) (*domain.WebhookEvent, error)

	// ExternalOrgID extracts the provider-side organization id from a freshly
	// exchanged token's metadata, empty when the provider carries none
	ExternalOrgID(token *domain.Token) string

	// ErrorMessage returns the provider-facing message of a classified error
	ErrorMessage(err error) string
}

// Registry maps provider ids to registered adapters
type Registry struct {
	adapters map[domain.ProviderID]Provider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.ProviderID]Provider),
	}
}

// Register adds a provider adapter, replacing any previous registration
func (r *Registry) Register(p Provider) {
	r.adapters[p.Name()] = p
}

// Get returns the adapter for a provider id
func (r *Registry) Get(id domain.ProviderID) (Provider, error) {
	p, ok := r.adapters[id]
	if !ok {
		return nil, domain.ErrProviderNotConfigured
	}
	return p, nil
}

// Providers returns the registered provider ids
func (r *Registry) Providers() []domain.ProviderID {
	ids := make([]domain.ProviderID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}
