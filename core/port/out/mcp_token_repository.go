// Package out declares the outbound ports implemented by adapters.
package out

import (
	"context"

	"outlook_mcp_server/core/domain"
)

// TokenRepository persists OAuth application config, user profiles and tokens.
// Implementations must serialize writes per user email; reads may proceed
// concurrently.
type TokenRepository interface {
	// SaveAppConfig upserts a registered OAuth application.
	SaveAppConfig(ctx context.Context, cfg *domain.AppConfig) error
	// GetAppConfig returns the config for a client ID, or nil if absent.
	GetAppConfig(ctx context.Context, clientID string) (*domain.AppConfig, error)

	// SaveUser upserts a user profile keyed by email.
	SaveUser(ctx context.Context, profile *domain.UserProfile) error

	// SaveToken upserts the token row for a user. When a refresh token is
	// present its expiry defaults to now + the configured refresh window.
	SaveToken(ctx context.Context, email string, token *domain.TokenInfo) error
	// UpdateToken is an alias for SaveToken.
	UpdateToken(ctx context.Context, email string, token *domain.TokenInfo) error
	// GetToken returns the most recently updated token for a user, or nil.
	GetToken(ctx context.Context, email string) (*domain.TokenInfo, error)
	// DeleteToken removes the token row on explicit logout.
	DeleteToken(ctx context.Context, email string) error

	// ListUsers returns all stored users joined with token validity.
	ListUsers(ctx context.Context) ([]domain.UserWithTokenStatus, error)
	// CleanupExpiredTokens deletes rows whose access or refresh expiry has
	// passed, returning the number removed.
	CleanupExpiredTokens(ctx context.Context) (int, error)

	Close() error
}
