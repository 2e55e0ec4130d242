package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/ledgerkit/bank-sync/internal/domain"
)

// TokenStatus represents the lifecycle status of an OAuth token
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusExpired TokenStatus = "expired"
	TokenStatusRevoked TokenStatus = "revoked"
)

// OAuthToken represents the oauth_tokens table. The unique index on
// (connection_id, provider_id) is the conflict key that guarantees at most
// one token row per connection and provider; refreshes replace it in place.
type OAuthToken struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ConnectionID is the owning connection
	ConnectionID string `gorm:"column:connection_id;not null;type:uuid;uniqueIndex:idx_oauth_tokens_connection_provider,priority:1"`
	// ProviderID identifies the provider the token belongs to
	ProviderID domain.ProviderID `gorm:"column:provider_id;not null;type:text;uniqueIndex:idx_oauth_tokens_connection_provider,priority:2"`
	// AccessToken is the current bearer token
	AccessToken string `gorm:"column:access_token;not null;type:text"`
	// RefreshToken is kept across refreshes when the provider omits a new one
	RefreshToken *string `gorm:"column:refresh_token;type:text"`
	// ExpiresAt is the access token expiry timestamp
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	// Scopes is the space-separated list of granted OAuth scopes
	Scopes string `gorm:"column:scopes;type:text"`
	// Metadata carries provider-specific token context (realm id, item id, ...)
	Metadata datatypes.JSON `gorm:"column:metadata"`
	// Status is the token lifecycle status
	Status TokenStatus `gorm:"column:status;not null;default:'active';type:text"`
	// CreatedAt is the timestamp when the token was first stored
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last refresh or status change
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the OAuthToken model
func (OAuthToken) TableName() string {
	return "oauth_tokens"
}
