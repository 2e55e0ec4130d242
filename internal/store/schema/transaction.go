package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/ledgerkit/bank-sync/internal/domain"
)

// Transaction represents the transactions table - the canonical transaction
// shape. The unique index on (connection_id, provider_id, external_id) is the
// upsert conflict key that makes replays idempotent.
type Transaction struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ConnectionID is the owning connection
	ConnectionID string `gorm:"column:connection_id;not null;type:uuid;uniqueIndex:idx_transactions_natural_key,priority:1"`
	// ProviderID identifies the provider that reported the transaction
	ProviderID domain.ProviderID `gorm:"column:provider_id;not null;type:text;uniqueIndex:idx_transactions_natural_key,priority:2"`
	// ExternalID is the provider's identifier for the transaction
	ExternalID string `gorm:"column:external_id;not null;type:text;uniqueIndex:idx_transactions_natural_key,priority:3"`
	// AccountID links to the canonical account
	AccountID int64 `gorm:"column:account_id;not null;index:idx_transactions_account"`
	// Amount is the signed amount, credit positive / debit negative
	Amount float64 `gorm:"column:amount;not null"`
	// Currency is the ISO 4217 currency code
	Currency string `gorm:"column:currency;not null;type:text"`
	// Description is the free-form transaction description
	Description string `gorm:"column:description;type:text"`
	// Type is credit or debit, consistent with the sign of Amount
	Type domain.TransactionType `gorm:"column:type;not null;type:text"`
	// Date is the transaction date
	Date time.Time `gorm:"column:date;not null;index:idx_transactions_date"`
	// Metadata is the opaque provider payload
	Metadata datatypes.JSON `gorm:"column:metadata"`
	// CreatedAt is the timestamp when the transaction was first imported
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last upsert
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the Transaction model
func (Transaction) TableName() string {
	return "transactions"
}
