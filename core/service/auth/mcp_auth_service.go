// Package auth implements the OAuth token lifecycle against Azure AD.
package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/port/out"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphMeURL = "https://graph.microsoft.com/v1.0/me"

// Sentinel errors surfaced to the dispatcher.
var (
	// ErrRefreshTokenExpired indicates the refresh token is expired or was
	// revoked (invalid_grant); re-authentication is required.
	ErrRefreshTokenExpired = errors.New("refresh token expired or revoked, re-authentication required")
	// ErrUserIdentification indicates the Graph profile carried neither
	// mail nor userPrincipalName and the id_token had no usable claim.
	ErrUserIdentification = errors.New("could not determine user email from profile or id_token")
)

// Service drives authorization-code exchange, refresh and expiry checks.
type Service struct {
	repo         out.TokenRepository
	oauthConfig  *oauth2.Config
	tenantID     string
	expiryBuffer time.Duration
	refreshDays  int
	httpClient   *http.Client
	meURL        string
	log          zerolog.Logger

	// one in-flight refresh per user; concurrent callers wait and reuse it
	refreshMu  sync.Mutex
	refreshing map[string]*refreshCall
}

type refreshCall struct {
	done    chan struct{}
	outcome *domain.RefreshOutcome
}

// Config for the auth service.
type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURI  string
	Scopes       []string
	ExpiryBuffer time.Duration
	RefreshDays  int
}

// NewService creates the auth service bound to one Azure AD application.
func NewService(repo out.TokenRepository, cfg Config) *Service {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	buffer := cfg.ExpiryBuffer
	if buffer == 0 {
		buffer = 5 * time.Minute
	}
	days := cfg.RefreshDays
	if days == 0 {
		days = 90
	}

	return &Service{
		repo: repo,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		},
		tenantID:     tenant,
		expiryBuffer: buffer,
		refreshDays:  days,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		meURL:        graphMeURL,
		log:          logger.Component("auth_service"),
		refreshing:   make(map[string]*refreshCall),
	}
}

// AuthFlow is the start of an authorization-code flow.
type AuthFlow struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// StartAuthFlow builds the Azure AD authorize URL with a random state.
func (s *Service) StartAuthFlow(_ bool) *AuthFlow {
	state := uuid.NewString()
	url := s.oauthConfig.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_mode", "query"),
	)
	return &AuthFlow{AuthURL: url, State: state}
}

// AuthResult is returned by CompleteAuthFlow.
type AuthResult struct {
	UserEmail   string    `json:"user_email"`
	DisplayName string    `json:"display_name,omitempty"`
	AccessToken string    `json:"access_token"`
	HasRefresh  bool      `json:"has_refresh_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CompleteAuthFlow exchanges the authorization code, fetches the Graph
// profile, persists both and returns the result.
func (s *Service) CompleteAuthFlow(ctx context.Context, code, state string) (*AuthResult, error) {
	if code == "" {
		return nil, apperr.ValidationFailed("authorization code is required")
	}

	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeAuthRequired, "code exchange failed")
	}

	info := tokenInfoFromOAuth2(token)

	profile, err := s.fetchProfile(ctx, info.AccessToken)
	if err != nil {
		return nil, err
	}

	email := profile.Email
	if email == "" {
		email = emailFromIDToken(info.IDToken)
	}
	if email == "" {
		return nil, ErrUserIdentification
	}
	profile.Email = email

	if err := s.repo.SaveUser(ctx, profile); err != nil {
		return nil, err
	}
	if err := s.repo.SaveToken(ctx, email, info); err != nil {
		return nil, err
	}

	s.log.Info().Str("user", email).Msg("authentication completed")

	return &AuthResult{
		UserEmail:   email,
		DisplayName: profile.DisplayName,
		AccessToken: info.AccessToken,
		HasRefresh:  info.RefreshToken != "",
		ExpiresAt:   info.ExpiresAt,
	}, nil
}

// RefreshTokens posts a refresh_token grant and returns the new token set.
// When the response omits a refresh token, the old one is kept.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*domain.TokenInfo, error) {
	if refreshToken == "" {
		return nil, apperr.ValidationFailed("refresh token is required")
	}

	// A token with only a refresh token forces the source to hit the
	// token endpoint.
	source := s.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := source.Token()
	if err != nil {
		if isInvalidGrant(err) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, apperr.TokenRefreshFailed(err)
	}

	info := tokenInfoFromOAuth2(newToken)
	if info.RefreshToken == "" {
		info.RefreshToken = refreshToken
	}
	return info, nil
}

// IsTokenExpired reports whether the access token is expired or will expire
// within the buffer.
func (s *Service) IsTokenExpired(expiresAt time.Time, buffer time.Duration) bool {
	if buffer < 0 {
		buffer = s.expiryBuffer
	}
	return !time.Now().UTC().Before(expiresAt.UTC().Add(-buffer))
}

// IsRefreshTokenExpired reports whether a refresh token created at the given
// instant has outlived the flat expiry window.
func (s *Service) IsRefreshTokenExpired(createdAt time.Time, days int) bool {
	if days <= 0 {
		days = s.refreshDays
	}
	return !time.Now().UTC().Before(createdAt.UTC().Add(time.Duration(days) * 24 * time.Hour))
}

// CheckAndRefreshIfNeeded validates the stored token for a user, refreshing
// it when the access token is inside the expiry buffer. Concurrent calls for
// the same user share a single refresh.
func (s *Service) CheckAndRefreshIfNeeded(ctx context.Context, email string) *domain.RefreshOutcome {
	token, err := s.repo.GetToken(ctx, email)
	if err != nil {
		return &domain.RefreshOutcome{Status: domain.RefreshStatusError, Kind: domain.RefreshErrFailed, Err: err}
	}
	if token == nil {
		return &domain.RefreshOutcome{Status: domain.RefreshStatusError, Kind: domain.RefreshErrNoToken}
	}
	if !s.IsTokenExpired(token.ExpiresAt, -1) {
		return &domain.RefreshOutcome{Status: domain.RefreshStatusValid, Token: token}
	}
	if token.RefreshToken == "" {
		return &domain.RefreshOutcome{Status: domain.RefreshStatusError, Kind: domain.RefreshErrNoRefreshToken}
	}
	if token.RefreshTokenExpiresAt != nil && !time.Now().UTC().Before(token.RefreshTokenExpiresAt.UTC()) {
		return &domain.RefreshOutcome{Status: domain.RefreshStatusError, Kind: domain.RefreshErrExpired, Err: ErrRefreshTokenExpired}
	}

	return s.refreshShared(ctx, email, token)
}

// refreshShared de-duplicates concurrent refreshes for one user. Without it,
// two racing tool calls can both post refresh grants and the loser stores a
// stale token.
func (s *Service) refreshShared(ctx context.Context, email string, token *domain.TokenInfo) *domain.RefreshOutcome {
	s.refreshMu.Lock()
	if call, ok := s.refreshing[email]; ok {
		s.refreshMu.Unlock()
		select {
		case <-call.done:
			return call.outcome
		case <-ctx.Done():
			return &domain.RefreshOutcome{Status: domain.RefreshStatusError, Kind: domain.RefreshErrFailed, Err: ctx.Err()}
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	s.refreshing[email] = call
	s.refreshMu.Unlock()

	call.outcome = s.doRefresh(ctx, email, token)
	close(call.done)

	s.refreshMu.Lock()
	delete(s.refreshing, email)
	s.refreshMu.Unlock()

	return call.outcome
}

func (s *Service) doRefresh(ctx context.Context, email string, token *domain.TokenInfo) *domain.RefreshOutcome {
	newToken, err := s.RefreshTokens(ctx, token.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenExpired) {
			s.log.Warn().Str("user", email).Msg("refresh token expired or revoked")
			return &domain.RefreshOutcome{Status: domain.RefreshStatusError, Kind: domain.RefreshErrExpired, Err: err}
		}
		// Transient failure: persisted state stays untouched.
		return &domain.RefreshOutcome{Status: domain.RefreshStatusError, Kind: domain.RefreshErrFailed, Err: err}
	}

	// Keep the original refresh window unless Azure issued a new token.
	if newToken.RefreshToken == token.RefreshToken {
		newToken.RefreshTokenExpiresAt = token.RefreshTokenExpiresAt
	}

	if err := s.repo.SaveToken(ctx, email, newToken); err != nil {
		return &domain.RefreshOutcome{Status: domain.RefreshStatusError, Kind: domain.RefreshErrFailed, Err: err}
	}

	s.log.Debug().Str("user", email).Msg("token refreshed")
	return &domain.RefreshOutcome{Status: domain.RefreshStatusRefreshed, Token: newToken}
}

// Logout deletes the stored token for a user.
func (s *Service) Logout(ctx context.Context, email string) error {
	return s.repo.DeleteToken(ctx, email)
}

// ListUsers returns stored users with token validity.
func (s *Service) ListUsers(ctx context.Context) ([]domain.UserWithTokenStatus, error) {
	return s.repo.ListUsers(ctx)
}

// fetchProfile retrieves the Graph /me profile with a bearer token.
func (s *Service) fetchProfile(ctx context.Context, accessToken string) (*domain.UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.meURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeGraphQuery, "profile request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, apperr.GraphQuery(s.meURL, resp.StatusCode, string(body))
	}

	var me struct {
		ID                string   `json:"id"`
		Mail              string   `json:"mail"`
		UserPrincipalName string   `json:"userPrincipalName"`
		DisplayName       string   `json:"displayName"`
		JobTitle          string   `json:"jobTitle"`
		Department        string   `json:"department"`
		MobilePhone       string   `json:"mobilePhone"`
		BusinessPhones    []string `json:"businessPhones"`
		PreferredLanguage string   `json:"preferredLanguage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeGraphQuery, "decode profile")
	}

	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}

	phone := me.MobilePhone
	if phone == "" && len(me.BusinessPhones) > 0 {
		phone = me.BusinessPhones[0]
	}

	return &domain.UserProfile{
		Email:             email,
		AzureObjectID:     me.ID,
		DisplayName:       me.DisplayName,
		JobTitle:          me.JobTitle,
		Department:        me.Department,
		MobilePhone:       phone,
		PreferredLanguage: me.PreferredLanguage,
	}, nil
}

// tokenInfoFromOAuth2 converts an oauth2 token to the immutable domain value.
func tokenInfoFromOAuth2(t *oauth2.Token) *domain.TokenInfo {
	info := &domain.TokenInfo{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry.UTC(),
	}
	if scope, ok := t.Extra("scope").(string); ok {
		info.Scope = scope
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		info.IDToken = idToken
	}
	return info
}

// emailFromIDToken extracts an email claim from an unverified id_token. The
// token was just issued over TLS by the token endpoint, so signature
// verification adds nothing here.
func emailFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	for _, key := range []string{"email", "preferred_username", "upn"} {
		if v, ok := claims[key].(string); ok && strings.Contains(v, "@") {
			return v
		}
	}
	return ""
}

// isInvalidGrant reports whether a token endpoint error means the grant is
// permanently invalid.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(retrieveErr.Body), "invalid_grant")
	}
	return strings.Contains(err.Error(), "invalid_grant")
}

// TokenEndpoint returns the configured token URL (overridable in tests).
func (s *Service) TokenEndpoint() string {
	return s.oauthConfig.Endpoint.TokenURL
}

// SetEndpointsForTest points the oauth endpoints at a test server.
func (s *Service) SetEndpointsForTest(authURL, tokenURL string) {
	s.oauthConfig.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
}

// SetGraphClientForTest swaps the HTTP client used for profile fetches.
func (s *Service) SetGraphClientForTest(client *http.Client) {
	s.httpClient = client
}

// SetProfileURLForTest points the /me fetch at a test server.
func (s *Service) SetProfileURLForTest(url string) {
	s.meURL = url
}
