package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// Migrate creates or updates the engine's tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Connection{},
		&schema.OAuthToken{},
		&schema.ProviderAccount{},
		&schema.Account{},
		&schema.Transaction{},
		&schema.IngestionJob{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// calculateSafeBatchSize computes the batch size for bulk upserts that stays
// under PostgreSQL's extended-protocol limit of 65535 parameters per query.
// Each record consumes one parameter per field, and the ON CONFLICT clause
// plus GORM bookkeeping add batch-level overhead, so a fixed headroom is
// reserved from the total.
func calculateSafeBatchSize(totalRecords int, fieldsPerRecord int) int {
	const maxParams = 65535
	const totalHeadroom = 1000

	availableParams := maxParams - totalHeadroom
	safeBatchSize := max(availableParams/fieldsPerRecord, 1)

	if safeBatchSize > totalRecords {
		return totalRecords
	}

	return safeBatchSize
}

// CreateConnection stores a newly authorized connection
func (s *pgStore) CreateConnection(ctx context.Context, conn *schema.Connection) error {
	if err := s.db.WithContext(ctx).Create(conn).Error; err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnection retrieves a connection by id
func (s *pgStore) GetConnection(ctx context.Context, id string) (*schema.Connection, error) {
	var conn schema.Connection
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// GetConnectionByExternalOrg maps a provider-side organization id back to a connection
func (s *pgStore) GetConnectionByExternalOrg(ctx context.Context, providerID domain.ProviderID, externalOrgID string) (*schema.Connection, error) {
	var conn schema.Connection
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND external_org_id = ?", providerID, externalOrgID).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection by external org: %w", err)
	}
	return &conn, nil
}

// ListConnectionsByTenant retrieves all connections for a tenant
func (s *pgStore) ListConnectionsByTenant(ctx context.Context, tenantID string) ([]*schema.Connection, error) {
	var conns []*schema.Connection
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// ListConnectionsDue retrieves non-disabled connections whose next sync is due
func (s *pgStore) ListConnectionsDue(ctx context.Context, now time.Time, limit int) ([]*schema.Connection, error) {
	var conns []*schema.Connection
	q := s.db.WithContext(ctx).
		Where("status <> ?", schema.ConnectionStatusDisabled).
		Where("next_sync_at IS NOT NULL AND next_sync_at <= ?", now).
		Order("next_sync_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("failed to list due connections: %w", err)
	}
	return conns, nil
}

// UpdateConnection persists a mutated connection
func (s *pgStore) UpdateConnection(ctx context.Context, conn *schema.Connection) error {
	conn.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(conn).Error; err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return nil
}

// GetActiveToken retrieves the active token row for a connection+provider
func (s *pgStore) GetActiveToken(ctx context.Context, connectionID string, providerID domain.ProviderID) (*schema.OAuthToken, error) {
	var token schema.OAuthToken
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND provider_id = ? AND status = ?", connectionID, providerID, schema.TokenStatusActive).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active token: %w", err)
	}
	return &token, nil
}

// UpsertToken inserts or replaces the token row keyed on (connection, provider)
func (s *pgStore) UpsertToken(ctx context.Context, token *schema.OAuthToken) error {
	token.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "expires_at", "scopes", "metadata", "status", "updated_at",
		}),
	}).Create(token).Error
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

// SetTokenStatus transitions a token's lifecycle status
func (s *pgStore) SetTokenStatus(ctx context.Context, tokenID int64, status schema.TokenStatus) error {
	err := s.db.WithContext(ctx).
		Model(&schema.OAuthToken{}).
		Where("id = ?", tokenID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("failed to set token status: %w", err)
	}
	return nil
}

// UpsertAccounts batch-upserts canonical accounts on their natural key
func (s *pgStore) UpsertAccounts(ctx context.Context, accounts []*schema.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	// 12 persisted fields per account row
	batchSize := calculateSafeBatchSize(len(accounts), 12)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "provider_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "type", "currency", "balance", "status", "updated_at",
		}),
	}).CreateInBatches(accounts, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert accounts: %w", err)
	}
	return nil
}

// UpsertProviderAccounts batch-upserts raw provider listing rows
func (s *pgStore) UpsertProviderAccounts(ctx context.Context, accounts []*schema.ProviderAccount) error {
	if len(accounts) == 0 {
		return nil
	}

	batchSize := calculateSafeBatchSize(len(accounts), 6)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "payload", "updated_at",
		}),
	}).CreateInBatches(accounts, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert provider accounts: %w", err)
	}
	return nil
}

// ListAccountExternalIDs returns which of the given external ids already exist
func (s *pgStore) ListAccountExternalIDs(ctx context.Context, connectionID string, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return []string{}, nil
	}

	var ids []string
	err := s.db.WithContext(ctx).
		Model(&schema.Account{}).
		Where("connection_id = ? AND external_id IN ?", connectionID, externalIDs).
		Pluck("external_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list account external ids: %w", err)
	}
	return ids, nil
}

// ListSyncEnabledAccounts retrieves active, sync-enabled accounts of a connection
func (s *pgStore) ListSyncEnabledAccounts(ctx context.Context, connectionID string) ([]*schema.Account, error) {
	var accounts []*schema.Account
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND sync_enabled = ? AND status = ?", connectionID, true, domain.AccountStatusActive).
		Order("id ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sync-enabled accounts: %w", err)
	}
	return accounts, nil
}

// GetAccountByExternalID retrieves one account by its natural key
func (s *pgStore) GetAccountByExternalID(ctx context.Context, connectionID string, providerID domain.ProviderID, externalID string) (*schema.Account, error) {
	var account schema.Account
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND provider_id = ? AND external_id = ?", connectionID, providerID, externalID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// UpdateAccountLastSynced advances an account's incremental sync cursor
func (s *pgStore) UpdateAccountLastSynced(ctx context.Context, accountID int64, lastSyncedAt time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&schema.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{"last_synced_at": lastSyncedAt, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("failed to update account last synced: %w", err)
	}
	return nil
}

// MarkMissingAccountsClosed closes active accounts absent from the latest
// provider listing. History is preserved; nothing is deleted.
func (s *pgStore) MarkMissingAccountsClosed(ctx context.Context, connectionID string, presentExternalIDs []string) (int64, error) {
	q := s.db.WithContext(ctx).
		Model(&schema.Account{}).
		Where("connection_id = ? AND status = ?", connectionID, domain.AccountStatusActive)
	if len(presentExternalIDs) > 0 {
		q = q.Where("external_id NOT IN ?", presentExternalIDs)
	}

	result := q.Updates(map[string]interface{}{
		"status":     domain.AccountStatusClosed,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark missing accounts closed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// UpsertTransactions batch-upserts canonical transactions on their natural key
func (s *pgStore) UpsertTransactions(ctx context.Context, transactions []*schema.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	// 12 persisted fields per transaction row
	batchSize := calculateSafeBatchSize(len(transactions), 12)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "provider_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"amount", "currency", "description", "type", "date", "metadata", "updated_at",
		}),
	}).CreateInBatches(transactions, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert transactions: %w", err)
	}
	return nil
}

// ListTransactionExternalIDs returns which of the given external ids already exist
func (s *pgStore) ListTransactionExternalIDs(ctx context.Context, connectionID string, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return []string{}, nil
	}

	var ids []string
	err := s.db.WithContext(ctx).
		Model(&schema.Transaction{}).
		Where("connection_id = ? AND external_id IN ?", connectionID, externalIDs).
		Pluck("external_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction external ids: %w", err)
	}
	return ids, nil
}

// CreateIngestionJob stores a new job record at sync start
func (s *pgStore) CreateIngestionJob(ctx context.Context, job *schema.IngestionJob) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create ingestion job: %w", err)
	}
	return nil
}

// UpdateIngestionJob persists job mutations
func (s *pgStore) UpdateIngestionJob(ctx context.Context, job *schema.IngestionJob) error {
	job.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update ingestion job: %w", err)
	}
	return nil
}

// GetIngestionJob retrieves a job by id
func (s *pgStore) GetIngestionJob(ctx context.Context, id string) (*schema.IngestionJob, error) {
	var job schema.IngestionJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ingestion job: %w", err)
	}
	return &job, nil
}

// ListJobsSince retrieves a connection's jobs started after the given time
func (s *pgStore) ListJobsSince(ctx context.Context, connectionID string, since time.Time) ([]*schema.IngestionJob, error) {
	var jobs []*schema.IngestionJob
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND started_at >= ?", connectionID, since).
		Order("started_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
