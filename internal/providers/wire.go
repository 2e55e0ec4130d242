package providers

import (
	"context"

	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/providers/vendors/plaid"
	"github.com/ledgerkit/bank-sync/internal/providers/vendors/quickbooks"
	"github.com/ledgerkit/bank-sync/internal/providers/vendors/starling"
	"github.com/ledgerkit/bank-sync/internal/ratelimit"
)

// BuildRegistry registers an adapter for every provider whose credentials are
// complete. Incomplete credentials disable the provider without crashing the
// process.
func BuildRegistry(
	ctx context.Context,
	providersCfg config.ProvidersConfig,
	syncCfg config.SyncConfig,
	rateLimitProxy ratelimit.Proxy,
	clock adapter.Clock,
	jsonAdapter adapter.JSON,
	canonicalizer adapter.JCS,
) *Registry {
	registry := NewRegistry()

	register := func(id domain.ProviderID, build func(creds config.ProviderCredentials, httpClient adapter.HTTPClient) Provider) {
		creds, err := providersCfg.Credentials(string(id))
		if err != nil {
			return
		}
		if err := creds.Validate(); err != nil {
			logger.WarnCtx(ctx, "Provider disabled",
				zap.String("provider", string(id)),
				zap.Error(err))
			return
		}
		httpClient := adapter.NewRetryingHTTPClient(string(id), syncCfg.HTTPTimeout, clock, adapter.RetryConfig{})
		registry.Register(build(creds, httpClient))
		logger.InfoCtx(ctx, "Provider registered", zap.String("provider", string(id)))
	}

	register(domain.ProviderQuickBooks, func(creds config.ProviderCredentials, httpClient adapter.HTTPClient) Provider {
		return quickbooks.NewClient(creds, httpClient, rateLimitProxy, jsonAdapter, clock, canonicalizer, syncCfg.MaxPages)
	})
	register(domain.ProviderPlaid, func(creds config.ProviderCredentials, httpClient adapter.HTTPClient) Provider {
		return plaid.NewClient(creds, httpClient, rateLimitProxy, jsonAdapter, clock, canonicalizer, syncCfg.MaxPages)
	})
	register(domain.ProviderStarling, func(creds config.ProviderCredentials, httpClient adapter.HTTPClient) Provider {
		return starling.NewClient(creds, httpClient, rateLimitProxy, jsonAdapter, clock, canonicalizer)
	})

	return registry
}
