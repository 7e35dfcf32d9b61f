// Package registry centralizes provider construction from
// configuration.
package registry

import (
	"product-data-service/internal/config"
	"product-data-service/internal/domain"
	"product-data-service/internal/infra/provider"
	"product-data-service/internal/infra/provider/paapi"
	"product-data-service/internal/infra/provider/rainforest"
)

// NewProviders creates every enabled provider client wired to the
// shared collaborators. Order follows the configuration so the
// manager's registration order is deterministic.
func NewProviders(cfg config.ProviderConfig, deps provider.Deps) []domain.Provider {
	deps.MaxAttempts = cfg.MaxAttempts

	providers := make([]domain.Provider, 0, 2)

	if cfg.PAAPI.Enabled {
		providers = append(providers, paapi.New(paapi.Config{
			AccessKey:   cfg.PAAPI.AccessKey,
			SecretKey:   cfg.PAAPI.SecretKey,
			PartnerTag:  cfg.PAAPI.PartnerTag,
			Marketplace: cfg.PAAPI.Marketplace,
			Client:      clientConfig(cfg.PAAPI.Endpoint),
		}, deps))
	}

	if cfg.Rainforest.Enabled {
		providers = append(providers, rainforest.New(rainforest.Config{
			APIKey:      cfg.Rainforest.APIKey,
			Marketplace: cfg.Rainforest.Marketplace,
			Client:      clientConfig(cfg.Rainforest.Endpoint),
		}, deps))
	}

	return providers
}

func clientConfig(ep config.EndpointConfig) provider.ClientConfig {
	return provider.ClientConfig{
		BaseURL: ep.BaseURL,
		Timeout: ep.Timeout,
		CB: provider.CBConfig{
			MaxRequests:  ep.CB.MaxRequests,
			Interval:     ep.CB.Interval,
			Timeout:      ep.CB.Timeout,
			FailureRatio: ep.CB.FailureRatio,
		},
	}
}
