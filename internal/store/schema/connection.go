package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/ledgerkit/bank-sync/internal/domain"
)

// ConnectionStatus represents the lifecycle status of a connection
type ConnectionStatus string

const (
	// ConnectionStatusActive is a healthy connection eligible for syncs
	ConnectionStatusActive ConnectionStatus = "active"
	// ConnectionStatusError is a connection that failed its last syncs repeatedly
	ConnectionStatusError ConnectionStatus = "error"
	// ConnectionStatusDisabled is a connection turned off by a tenant admin
	ConnectionStatusDisabled ConnectionStatus = "disabled"
)

// Connection represents the connections table - a tenant's authorized link
// to one external financial data provider
type Connection struct {
	// ID is the connection identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:uuid"`
	// TenantID scopes the connection to one tenant
	TenantID string `gorm:"column:tenant_id;not null;index:idx_connections_tenant"`
	// ProviderID identifies the external provider (quickbooks, plaid, starling)
	ProviderID domain.ProviderID `gorm:"column:provider_id;not null;type:text"`
	// Status is the connection lifecycle status
	Status ConnectionStatus `gorm:"column:status;not null;default:'active';type:text"`
	// ExternalOrgID is the provider-side organization identifier
	// (e.g. a QuickBooks realm id), used to map webhook events back to a connection
	ExternalOrgID *string `gorm:"column:external_org_id;index:idx_connections_external_org"`
	// ConsecutiveFailures counts failed sync attempts since the last success
	ConsecutiveFailures int `gorm:"column:consecutive_failures;not null;default:0"`
	// HealthScore is the derived 0..1 reliability metric
	HealthScore float64 `gorm:"column:health_score;not null;default:1.0"`
	// LastSyncAt is the timestamp of the last sync attempt
	LastSyncAt *time.Time `gorm:"column:last_sync_at"`
	// NextSyncAt is when the scheduler should sync this connection next
	NextSyncAt *time.Time `gorm:"column:next_sync_at;index:idx_connections_next_sync"`
	// LastError is the most recent connection-level error message
	LastError *string `gorm:"column:last_error;type:text"`
	// LastSyncSummary is the denormalized SyncSummary of the last attempt
	LastSyncSummary datatypes.JSON `gorm:"column:last_sync_summary"`
	// CreatedAt is the timestamp when the connection was authorized
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last mutation
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`

	// Associations
	Accounts []Account      `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE"`
	Jobs     []IngestionJob `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Connection model
func (Connection) TableName() string {
	return "connections"
}
