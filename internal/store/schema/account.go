package schema

import (
	"time"

	"github.com/ledgerkit/bank-sync/internal/domain"
)

// Account represents the accounts table - the canonical account shape exposed
// to the rest of the platform. The unique index on
// (connection_id, provider_id, external_id) is the upsert conflict key.
type Account struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ConnectionID is the owning connection
	ConnectionID string `gorm:"column:connection_id;not null;type:uuid;uniqueIndex:idx_accounts_natural_key,priority:1"`
	// ProviderID identifies the provider that reported the account
	ProviderID domain.ProviderID `gorm:"column:provider_id;not null;type:text;uniqueIndex:idx_accounts_natural_key,priority:2"`
	// ExternalID is the provider's identifier for the account
	ExternalID string `gorm:"column:external_id;not null;type:text;uniqueIndex:idx_accounts_natural_key,priority:3"`
	// Name is the display name reported by the provider
	Name string `gorm:"column:name;not null;type:text"`
	// Type is the provider-reported account type
	Type string `gorm:"column:type;type:text"`
	// Currency is the ISO 4217 currency code
	Currency string `gorm:"column:currency;not null;type:text"`
	// Balance is the latest balance reported by the provider
	Balance float64 `gorm:"column:balance;not null;default:0"`
	// Status is active, inactive or closed. Accounts missing from a fresh
	// provider listing are closed, never deleted.
	Status domain.AccountStatus `gorm:"column:status;not null;default:'active';type:text"`
	// SyncEnabled controls whether the transaction phase includes this account
	SyncEnabled bool `gorm:"column:sync_enabled;not null;default:true"`
	// LastSyncedAt is the end of the last successfully planned sync window
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	// CreatedAt is the timestamp when the account was first imported
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last upsert
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`

	// Associations
	Transactions []Transaction `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Account model
func (Account) TableName() string {
	return "accounts"
}
