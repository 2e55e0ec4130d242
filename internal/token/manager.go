package token

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/providers"
	"github.com/ledgerkit/bank-sync/internal/store"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
)

// Manager guards OAuth token access for connections. It refreshes tokens
// near expiry exactly once per connection at a time, keyed mutexes making
// concurrent account syncs share one refresh instead of racing the provider.
type Manager struct {
	store store.Store
	clock adapter.Clock
	json  adapter.JSON

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a token manager
func NewManager(s store.Store, clock adapter.Clock, json adapter.JSON) *Manager {
	return &Manager{
		store: s,
		clock: clock,
		json:  json,
		locks: make(map[string]*sync.Mutex),
	}
}

// Credentials returns valid credentials for a connection, refreshing the
// token first when it is near expiry. An expired token without a refresh
// token, or a refresh the provider rejects as unauthorized, marks the stored
// token and returns domain.ErrReconnectRequired.
func (m *Manager) Credentials(ctx context.Context, connectionID string, provider providers.Provider) (domain.Credentials, error) {
	lock := m.lockFor(connectionID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := m.store.GetActiveToken(ctx, connectionID, provider.Name())
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to load token: %w", err)
	}
	if stored == nil || stored.Status != schema.TokenStatusActive {
		return domain.Credentials{}, domain.ErrTokenNotFound
	}

	metadata, err := m.decodeMetadata(stored.Metadata)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to decode token metadata: %w", err)
	}

	if !provider.IsTokenExpired(stored.ExpiresAt) {
		return domain.Credentials{
			AccessToken: stored.AccessToken,
			Metadata:    metadata,
		}, nil
	}

	refreshed, err := m.refresh(ctx, stored, provider)
	if err != nil {
		return domain.Credentials{}, err
	}

	return domain.Credentials{
		AccessToken: refreshed.AccessToken,
		Metadata:    metadata,
	}, nil
}

// StoreToken persists a freshly exchanged token as the connection's active
// token, replacing any previous row
func (m *Manager) StoreToken(ctx context.Context, connectionID string, providerID domain.ProviderID, tok *domain.Token) error {
	row, err := m.toRow(connectionID, providerID, tok)
	if err != nil {
		return err
	}
	if err := m.store.UpsertToken(ctx, row); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// refresh exchanges the refresh token and persists the replacement.
// The prior refresh token is kept when the provider omits a new one.
func (m *Manager) refresh(ctx context.Context, stored *schema.OAuthToken, provider providers.Provider) (*domain.Token, error) {
	if stored.RefreshToken == nil || *stored.RefreshToken == "" {
		if err := m.store.SetTokenStatus(ctx, stored.ID, schema.TokenStatusExpired); err != nil {
			logger.WarnCtx(ctx, "failed to mark token expired", zap.Error(err), zap.String("connection_id", stored.ConnectionID))
		}
		return nil, domain.ErrReconnectRequired
	}

	refreshed, err := provider.RefreshToken(ctx, *stored.RefreshToken)
	if err != nil {
		if domain.RequiresReconnect(err) {
			if statusErr := m.store.SetTokenStatus(ctx, stored.ID, schema.TokenStatusRevoked); statusErr != nil {
				logger.WarnCtx(ctx, "failed to mark token revoked", zap.Error(statusErr), zap.String("connection_id", stored.ConnectionID))
			}
			return nil, fmt.Errorf("token refresh rejected: %w", domain.ErrReconnectRequired)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = *stored.RefreshToken
	}

	row, err := m.toRow(stored.ConnectionID, stored.ProviderID, refreshed)
	if err != nil {
		return nil, err
	}
	// Metadata travels with the connection, not the refresh response
	row.Metadata = stored.Metadata

	if err := m.store.UpsertToken(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	logger.InfoCtx(ctx, "token refreshed",
		zap.String("connection_id", stored.ConnectionID),
		zap.String("provider", string(stored.ProviderID)),
	)
	return refreshed, nil
}

func (m *Manager) toRow(connectionID string, providerID domain.ProviderID, tok *domain.Token) (*schema.OAuthToken, error) {
	row := &schema.OAuthToken{
		ConnectionID: connectionID,
		ProviderID:   providerID,
		AccessToken:  tok.AccessToken,
		ExpiresAt:    tok.ExpiresAt,
		Scopes:       strings.Join(tok.Scopes, " "),
		Status:       schema.TokenStatusActive,
		UpdatedAt:    m.clock.Now(),
	}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		row.RefreshToken = &rt
	}
	if len(tok.Metadata) > 0 {
		raw, err := m.json.Marshal(tok.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode token metadata: %w", err)
		}
		row.Metadata = raw
	}
	return row, nil
}

func (m *Manager) decodeMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var metadata map[string]string
	if err := m.json.Unmarshal(raw, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// lockFor returns the per-connection mutex, creating it on first use
func (m *Manager) lockFor(connectionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[connectionID] = lock
	}
	return lock
}
