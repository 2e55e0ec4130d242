package schema

import (
	"time"

	"gorm.io/datatypes"
)

// ProviderAccount represents the provider_accounts table - the raw account
// shape as reported by a provider, kept per connection for auditability and
// linked to the canonical Account once mapped.
type ProviderAccount struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ConnectionID is the owning connection
	ConnectionID string `gorm:"column:connection_id;not null;type:uuid;uniqueIndex:idx_provider_accounts_natural_key,priority:1"`
	// ExternalID is the provider's identifier for the account
	ExternalID string `gorm:"column:external_id;not null;type:text;uniqueIndex:idx_provider_accounts_natural_key,priority:2"`
	// AccountID links to the canonical account once mapped
	AccountID *int64 `gorm:"column:account_id;index:idx_provider_accounts_account"`
	// Payload is the raw provider listing entry
	Payload datatypes.JSON `gorm:"column:payload"`
	// CreatedAt is the timestamp when the listing entry was first seen
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last listing refresh
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the ProviderAccount model
func (ProviderAccount) TableName() string {
	return "provider_accounts"
}
