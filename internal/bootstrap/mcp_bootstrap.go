// Package bootstrap wires configuration, storage, services and the MCP
// server into a runnable application.
package bootstrap

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	mcpin "outlook_mcp_server/adapter/in/mcp"
	"outlook_mcp_server/adapter/out/graph"
	"outlook_mcp_server/adapter/out/persistence"
	"outlook_mcp_server/config"
	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/service/auth"
	"outlook_mcp_server/core/service/session"
	"outlook_mcp_server/pkg/logger"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App is the assembled MCP application.
type App struct {
	Server   *mcpin.Server
	Sessions *session.Manager
	Store    *persistence.TokenStore

	log zerolog.Logger
}

// New builds the full dependency graph. The returned cleanup closes the
// token store and stops the session manager; call it on shutdown.
func New(cfg *config.Config) (*App, func(), error) {
	log := logger.Component("bootstrap")

	store, err := persistence.NewTokenStore(cfg.DatabasePath, cfg.RefreshTokenDays)
	if err != nil {
		return nil, nil, err
	}

	authSvc := auth.NewService(store, auth.Config{
		ClientID:     cfg.AzureClientID,
		ClientSecret: cfg.AzureClientSecret,
		TenantID:     cfg.AzureTenantID,
		RedirectURI:  cfg.AzureRedirectURI,
		Scopes:       cfg.AzureScopes,
		ExpiryBuffer: cfg.TokenExpiryBuffer,
		RefreshDays:  cfg.RefreshTokenDays,
	})

	sessions := session.NewManager(authSvc, session.Config{
		TTL:             cfg.SessionTTL,
		CleanupInterval: cfg.SessionCleanupInterval,
		HTTPClient:      &http.Client{Timeout: cfg.GraphTimeout},
		QueryConfig: graph.QueryClientConfig{
			PageSize:       cfg.GraphPageSize,
			MaxConcurrency: cfg.GraphMaxConcurrency,
			BatchSize:      cfg.GraphBatchSize,
		},
	})

	catalog, err := mcpin.LoadCatalog(cfg.ToolCatalogPath)
	if err != nil {
		store.Close()
		sessions.Stop()
		return nil, nil, err
	}

	dispatcher := mcpin.NewDispatcher(catalog, cfg, authSvc, sessions)
	server, err := mcpin.NewServer(dispatcher, Version, cfg.CompatBoolEnums)
	if err != nil {
		store.Close()
		sessions.Stop()
		return nil, nil, err
	}

	if err := importAppConfig(cfg, store); err != nil {
		log.Warn().Err(err).Msg("app config import failed")
	}

	app := &App{
		Server:   server,
		Sessions: sessions,
		Store:    store,
		log:      log,
	}
	cleanup := func() {
		sessions.Stop()
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("token store close failed")
		}
	}

	log.Info().
		Int("tools", len(catalog.Tools)).
		Str("storage_backend", cfg.StorageBackend).
		Msg("application wired")
	return app, cleanup, nil
}

// importAppConfig seeds the azure_app_config row from the environment when
// the table has no entry for the configured client yet.
func importAppConfig(cfg *config.Config, store *persistence.TokenStore) error {
	ctx := context.Background()

	existing, err := store.GetAppConfig(ctx, cfg.AzureClientID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return store.SaveAppConfig(ctx, &domain.AppConfig{
		ClientID:     cfg.AzureClientID,
		ClientSecret: cfg.AzureClientSecret,
		TenantID:     cfg.AzureTenantID,
		RedirectURI:  cfg.AzureRedirectURI,
		Name:         "outlook-mcp",
	})
}
