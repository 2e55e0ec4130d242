package store

import (
	"context"
	"time"

	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
)

// Store defines the interface for database operations
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	// CreateConnection stores a newly authorized connection
	CreateConnection(ctx context.Context, conn *schema.Connection) error
	// GetConnection retrieves a connection by id, nil when not found
	GetConnection(ctx context.Context, id string) (*schema.Connection, error)
	// GetConnectionByExternalOrg maps a provider-side organization id back to a
	// connection (webhook ingress), nil when not found
	GetConnectionByExternalOrg(ctx context.Context, providerID domain.ProviderID, externalOrgID string) (*schema.Connection, error)
	// ListConnectionsByTenant retrieves all connections for a tenant
	ListConnectionsByTenant(ctx context.Context, tenantID string) ([]*schema.Connection, error)
	// ListConnectionsDue retrieves non-disabled connections whose next sync is due
	ListConnectionsDue(ctx context.Context, now time.Time, limit int) ([]*schema.Connection, error)
	// UpdateConnection persists a mutated connection
	UpdateConnection(ctx context.Context, conn *schema.Connection) error

	// GetActiveToken retrieves the token row for a connection+provider when it
	// is in active status, nil when no usable token exists
	GetActiveToken(ctx context.Context, connectionID string, providerID domain.ProviderID) (*schema.OAuthToken, error)
	// UpsertToken inserts or replaces the token row keyed on (connection, provider)
	UpsertToken(ctx context.Context, token *schema.OAuthToken) error
	// SetTokenStatus transitions a token's lifecycle status
	SetTokenStatus(ctx context.Context, tokenID int64, status schema.TokenStatus) error

	// UpsertAccounts batch-upserts canonical accounts on their natural key
	UpsertAccounts(ctx context.Context, accounts []*schema.Account) error
	// UpsertProviderAccounts batch-upserts raw provider listing rows
	UpsertProviderAccounts(ctx context.Context, accounts []*schema.ProviderAccount) error
	// ListAccountExternalIDs returns which of the given external ids already
	// exist for the connection (used to split created vs updated counts)
	ListAccountExternalIDs(ctx context.Context, connectionID string, externalIDs []string) ([]string, error)
	// ListSyncEnabledAccounts retrieves active, sync-enabled accounts of a connection
	ListSyncEnabledAccounts(ctx context.Context, connectionID string) ([]*schema.Account, error)
	// GetAccountByExternalID retrieves one account by its natural key, nil when not found
	GetAccountByExternalID(ctx context.Context, connectionID string, providerID domain.ProviderID, externalID string) (*schema.Account, error)
	// UpdateAccountLastSynced advances an account's incremental sync cursor
	UpdateAccountLastSynced(ctx context.Context, accountID int64, lastSyncedAt time.Time) error
	// MarkMissingAccountsClosed closes active accounts absent from the latest
	// provider listing and returns how many were closed
	MarkMissingAccountsClosed(ctx context.Context, connectionID string, presentExternalIDs []string) (int64, error)

	// UpsertTransactions batch-upserts canonical transactions on their natural key
	UpsertTransactions(ctx context.Context, transactions []*schema.Transaction) error
	// ListTransactionExternalIDs returns which of the given external ids already
	// exist for the connection
	ListTransactionExternalIDs(ctx context.Context, connectionID string, externalIDs []string) ([]string, error)

	// CreateIngestionJob stores a new job record at sync start
	CreateIngestionJob(ctx context.Context, job *schema.IngestionJob) error
	// UpdateIngestionJob persists job mutations (sealing included)
	UpdateIngestionJob(ctx context.Context, job *schema.IngestionJob) error
	// GetIngestionJob retrieves a job by id, nil when not found
	GetIngestionJob(ctx context.Context, id string) (*schema.IngestionJob, error)
	// ListJobsSince retrieves a connection's jobs started after the given time,
	// most recent first
	ListJobsSince(ctx context.Context, connectionID string, since time.Time) ([]*schema.IngestionJob, error)
}
