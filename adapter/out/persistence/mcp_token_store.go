// Package persistence provides the SQLite-backed token store.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/port/out"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/crypto"
	"outlook_mcp_server/pkg/logger"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const schema = `
CREATE TABLE IF NOT EXISTS azure_app_config (
	client_id     TEXT PRIMARY KEY,
	client_secret TEXT NOT NULL,
	tenant_id     TEXT NOT NULL DEFAULT 'common',
	redirect_uri  TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS azure_user_info (
	email              TEXT PRIMARY KEY,
	azure_object_id    TEXT NOT NULL DEFAULT '',
	display_name       TEXT NOT NULL DEFAULT '',
	job_title          TEXT NOT NULL DEFAULT '',
	department         TEXT NOT NULL DEFAULT '',
	mobile_phone       TEXT NOT NULL DEFAULT '',
	preferred_language TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS azure_token_info (
	email                    TEXT PRIMARY KEY
		REFERENCES azure_user_info(email) ON DELETE CASCADE,
	access_token             TEXT NOT NULL,
	refresh_token            TEXT,
	scope                    TEXT NOT NULL DEFAULT '',
	access_token_expires_at  TEXT NOT NULL,
	refresh_token_expires_at TEXT,
	id_token                 TEXT,
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL
);
`

// TokenStore implements out.TokenRepository using SQLite. When a
// TOKEN_ENCRYPTION_KEY is configured, token columns are encrypted at rest;
// plaintext legacy rows are still readable.
type TokenStore struct {
	db               *sqlx.DB
	refreshTokenDays int
	enc              *crypto.Encryptor

	mu      sync.Mutex
	userMus map[string]*sync.Mutex
}

// NewTokenStore opens (creating if needed) the SQLite database at path.
func NewTokenStore(path string, refreshTokenDays int) (*TokenStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Database("create database directory", err)
		}
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperr.Database("open", err)
	}
	// modernc sqlite serializes writes internally; a single connection avoids
	// SQLITE_BUSY churn under concurrent tool calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, apperr.Database("enable foreign keys", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.Database("create schema", err)
	}

	if refreshTokenDays <= 0 {
		refreshTokenDays = 90
	}

	var enc *crypto.Encryptor
	if key := os.Getenv("TOKEN_ENCRYPTION_KEY"); key != "" {
		enc, err = crypto.NewEncryptor([]byte(key))
		if err != nil {
			log := logger.Component("token_store")
			log.Warn().Err(err).Msg("token encryption disabled")
			enc = nil
		}
	}

	return &TokenStore{
		db:               db,
		refreshTokenDays: refreshTokenDays,
		enc:              enc,
		userMus:          make(map[string]*sync.Mutex),
	}, nil
}

// encryptToken seals a token when encryption is configured; on failure the
// plaintext is stored rather than losing the credential.
func (s *TokenStore) encryptToken(token string) string {
	if s.enc == nil || token == "" {
		return token
	}
	encrypted, err := s.enc.Encrypt(token)
	if err != nil {
		return token
	}
	return encrypted
}

// decryptToken opens a sealed token; plaintext legacy rows pass through.
func (s *TokenStore) decryptToken(token string) string {
	if s.enc == nil || token == "" || !crypto.IsEncrypted(token) {
		return token
	}
	decrypted, err := s.enc.Decrypt(token)
	if err != nil {
		return token
	}
	return decrypted
}

// userMutex returns the per-email write mutex, creating it on first use.
func (s *TokenStore) userMutex(email string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.userMus[email]
	if !ok {
		mu = &sync.Mutex{}
		s.userMus[email] = mu
	}
	return mu
}

// nowUTC returns the current instant formatted for storage.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// parseStoredTime parses an ISO-8601 timestamp, tolerating a missing zone
// suffix (older rows were written without the trailing Z).
func parseStoredTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// SaveAppConfig upserts a registered OAuth application.
func (s *TokenStore) SaveAppConfig(ctx context.Context, cfg *domain.AppConfig) error {
	now := nowUTC()
	query := `
		INSERT INTO azure_app_config (client_id, client_secret, tenant_id, redirect_uri, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			client_secret = excluded.client_secret,
			tenant_id     = excluded.tenant_id,
			redirect_uri  = excluded.redirect_uri,
			name          = excluded.name,
			updated_at    = excluded.updated_at`

	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	_, err := s.db.ExecContext(ctx, query,
		cfg.ClientID, cfg.ClientSecret, tenant, cfg.RedirectURI, cfg.Name, now, now)
	if err != nil {
		return apperr.Database("save app config", err)
	}
	return nil
}

// GetAppConfig returns the config for a client ID, or nil if absent.
func (s *TokenStore) GetAppConfig(ctx context.Context, clientID string) (*domain.AppConfig, error) {
	var row struct {
		ClientID     string `db:"client_id"`
		ClientSecret string `db:"client_secret"`
		TenantID     string `db:"tenant_id"`
		RedirectURI  string `db:"redirect_uri"`
		Name         string `db:"name"`
		CreatedAt    string `db:"created_at"`
		UpdatedAt    string `db:"updated_at"`
	}
	query := `SELECT client_id, client_secret, tenant_id, redirect_uri, name, created_at, updated_at
		FROM azure_app_config WHERE client_id = ?`

	if err := s.db.GetContext(ctx, &row, query, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Database("get app config", err)
	}

	created, _ := parseStoredTime(row.CreatedAt)
	updated, _ := parseStoredTime(row.UpdatedAt)
	return &domain.AppConfig{
		ClientID:     row.ClientID,
		ClientSecret: row.ClientSecret,
		TenantID:     row.TenantID,
		RedirectURI:  row.RedirectURI,
		Name:         row.Name,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, nil
}

// SaveUser upserts a user profile keyed by email.
func (s *TokenStore) SaveUser(ctx context.Context, profile *domain.UserProfile) error {
	if profile == nil || profile.Email == "" {
		return ErrInvalidInput
	}

	mu := s.userMutex(profile.Email)
	mu.Lock()
	defer mu.Unlock()

	now := nowUTC()
	query := `
		INSERT INTO azure_user_info (email, azure_object_id, display_name, job_title, department, mobile_phone, preferred_language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			azure_object_id    = excluded.azure_object_id,
			display_name       = excluded.display_name,
			job_title          = excluded.job_title,
			department         = excluded.department,
			mobile_phone       = excluded.mobile_phone,
			preferred_language = excluded.preferred_language,
			updated_at         = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		profile.Email, profile.AzureObjectID, profile.DisplayName,
		profile.JobTitle, profile.Department, profile.MobilePhone,
		profile.PreferredLanguage, now, now)
	if err != nil {
		return apperr.Database("save user", err)
	}
	return nil
}

// SaveToken upserts the token row for a user. A refresh-token expiry is
// defaulted to now + the configured window when a refresh token is present
// and the caller did not provide one.
func (s *TokenStore) SaveToken(ctx context.Context, email string, token *domain.TokenInfo) error {
	if email == "" || token == nil || token.AccessToken == "" {
		return ErrInvalidInput
	}

	mu := s.userMutex(email)
	mu.Lock()
	defer mu.Unlock()

	now := nowUTC()
	var refreshExpiry sql.NullString
	if token.RefreshToken != "" {
		expiry := time.Now().UTC().Add(time.Duration(s.refreshTokenDays) * 24 * time.Hour)
		if token.RefreshTokenExpiresAt != nil {
			expiry = token.RefreshTokenExpiresAt.UTC()
		}
		refreshExpiry = sql.NullString{String: expiry.Format(time.RFC3339), Valid: true}
	}

	query := `
		INSERT INTO azure_token_info (email, access_token, refresh_token, scope, access_token_expires_at, refresh_token_expires_at, id_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			access_token             = excluded.access_token,
			refresh_token            = COALESCE(NULLIF(excluded.refresh_token, ''), azure_token_info.refresh_token),
			scope                    = excluded.scope,
			access_token_expires_at  = excluded.access_token_expires_at,
			refresh_token_expires_at = COALESCE(excluded.refresh_token_expires_at, azure_token_info.refresh_token_expires_at),
			id_token                 = COALESCE(NULLIF(excluded.id_token, ''), azure_token_info.id_token),
			updated_at               = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		email, s.encryptToken(token.AccessToken), s.encryptToken(token.RefreshToken), token.Scope,
		token.ExpiresAt.UTC().Format(time.RFC3339), refreshExpiry, s.encryptToken(token.IDToken), now, now)
	if err != nil {
		return apperr.Database("save token", err)
	}
	return nil
}

// UpdateToken is an alias for SaveToken.
func (s *TokenStore) UpdateToken(ctx context.Context, email string, token *domain.TokenInfo) error {
	return s.SaveToken(ctx, email, token)
}

// GetToken returns the stored token for a user, or nil if absent.
func (s *TokenStore) GetToken(ctx context.Context, email string) (*domain.TokenInfo, error) {
	var row struct {
		AccessToken   string         `db:"access_token"`
		RefreshToken  sql.NullString `db:"refresh_token"`
		Scope         string         `db:"scope"`
		AccessExpiry  string         `db:"access_token_expires_at"`
		RefreshExpiry sql.NullString `db:"refresh_token_expires_at"`
		IDToken       sql.NullString `db:"id_token"`
	}
	query := `
		SELECT access_token, refresh_token, scope, access_token_expires_at, refresh_token_expires_at, id_token
		FROM azure_token_info
		WHERE email = ?
		ORDER BY updated_at DESC
		LIMIT 1`

	if err := s.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Database("get token", err)
	}

	expiresAt, err := parseStoredTime(row.AccessExpiry)
	if err != nil {
		return nil, apperr.Database("parse token expiry", err)
	}

	token := &domain.TokenInfo{
		AccessToken:  s.decryptToken(row.AccessToken),
		RefreshToken: s.decryptToken(row.RefreshToken.String),
		Scope:        row.Scope,
		ExpiresAt:    expiresAt,
		IDToken:      s.decryptToken(row.IDToken.String),
	}
	if row.RefreshExpiry.Valid {
		if t, err := parseStoredTime(row.RefreshExpiry.String); err == nil {
			token.RefreshTokenExpiresAt = &t
		}
	}
	return token, nil
}

// DeleteToken removes the token row on explicit logout.
func (s *TokenStore) DeleteToken(ctx context.Context, email string) error {
	mu := s.userMutex(email)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM azure_token_info WHERE email = ?`, email); err != nil {
		return apperr.Database("delete token", err)
	}
	return nil
}

// ListUsers returns all stored users joined with token validity.
func (s *TokenStore) ListUsers(ctx context.Context) ([]domain.UserWithTokenStatus, error) {
	var rows []struct {
		Email        string         `db:"email"`
		ObjectID     string         `db:"azure_object_id"`
		DisplayName  string         `db:"display_name"`
		JobTitle     string         `db:"job_title"`
		Department   string         `db:"department"`
		MobilePhone  string         `db:"mobile_phone"`
		Language     string         `db:"preferred_language"`
		AccessExpiry sql.NullString `db:"access_token_expires_at"`
	}
	query := `
		SELECT u.email, u.azure_object_id, u.display_name, u.job_title, u.department,
		       u.mobile_phone, u.preferred_language, t.access_token_expires_at
		FROM azure_user_info u
		LEFT JOIN azure_token_info t ON t.email = u.email
		ORDER BY u.email`

	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, apperr.Database("list users", err)
	}

	now := time.Now().UTC()
	result := make([]domain.UserWithTokenStatus, 0, len(rows))
	for _, row := range rows {
		user := domain.UserWithTokenStatus{
			UserProfile: domain.UserProfile{
				Email:             row.Email,
				AzureObjectID:     row.ObjectID,
				DisplayName:       row.DisplayName,
				JobTitle:          row.JobTitle,
				Department:        row.Department,
				MobilePhone:       row.MobilePhone,
				PreferredLanguage: row.Language,
			},
		}
		if row.AccessExpiry.Valid {
			if expiry, err := parseStoredTime(row.AccessExpiry.String); err == nil {
				user.HasValidToken = expiry.After(now)
			}
		}
		result = append(result, user)
	}
	return result, nil
}

// CleanupExpiredTokens deletes rows where either expiry is in the past.
func (s *TokenStore) CleanupExpiredTokens(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM azure_token_info
		WHERE access_token_expires_at < ?
		   OR (refresh_token_expires_at IS NOT NULL AND refresh_token_expires_at < ?)`,
		now, now)
	if err != nil {
		return 0, apperr.Database("cleanup expired tokens", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteUser removes a user and, through the cascade, their token.
func (s *TokenStore) DeleteUser(ctx context.Context, email string) error {
	mu := s.userMutex(email)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM azure_user_info WHERE email = ?`, email); err != nil {
		return apperr.Database("delete user", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *TokenStore) Close() error {
	return s.db.Close()
}

// Ensure TokenStore implements out.TokenRepository
var _ out.TokenRepository = (*TokenStore)(nil)
