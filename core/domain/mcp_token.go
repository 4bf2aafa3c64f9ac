// Package domain holds the core types shared by services and adapters.
package domain

import "time"

// AppConfig is one registered OAuth application.
type AppConfig struct {
	ClientID     string    `json:"client_id" db:"client_id"`
	ClientSecret string    `json:"-" db:"client_secret"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	RedirectURI  string    `json:"redirect_uri" db:"redirect_uri"`
	Name         string    `json:"name" db:"name"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// UserProfile is the Graph /me profile of an authenticated user.
type UserProfile struct {
	Email             string `json:"email" db:"email"`
	AzureObjectID     string `json:"azure_object_id" db:"azure_object_id"`
	DisplayName       string `json:"display_name" db:"display_name"`
	JobTitle          string `json:"job_title" db:"job_title"`
	Department        string `json:"department" db:"department"`
	MobilePhone       string `json:"mobile_phone" db:"mobile_phone"`
	PreferredLanguage string `json:"preferred_language" db:"preferred_language"`
}

// TokenInfo is an immutable snapshot of a user's OAuth tokens. Refreshes
// produce a new value; nothing mutates a TokenInfo in place.
type TokenInfo struct {
	AccessToken           string     `json:"access_token"`
	RefreshToken          string     `json:"refresh_token,omitempty"`
	IDToken               string     `json:"id_token,omitempty"`
	Scope                 string     `json:"scope,omitempty"`
	ExpiresAt             time.Time  `json:"expires_at"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
}

// UserWithTokenStatus pairs a stored user with the validity of their token.
type UserWithTokenStatus struct {
	UserProfile
	HasValidToken bool `json:"has_valid_token"`
}

// RefreshStatus enumerates the outcomes of a check-and-refresh cycle.
type RefreshStatus string

const (
	RefreshStatusValid     RefreshStatus = "valid"
	RefreshStatusRefreshed RefreshStatus = "refreshed"
	RefreshStatusError     RefreshStatus = "error"
)

// RefreshErrorKind narrows a RefreshStatusError outcome.
type RefreshErrorKind string

const (
	RefreshErrNoToken        RefreshErrorKind = "no_token"
	RefreshErrNoRefreshToken RefreshErrorKind = "no_refresh_token"
	RefreshErrExpired        RefreshErrorKind = "refresh_expired"
	RefreshErrFailed         RefreshErrorKind = "refresh_failed"
)

// RefreshOutcome is the sum type carried back through the dispatch path.
type RefreshOutcome struct {
	Status RefreshStatus    `json:"status"`
	Kind   RefreshErrorKind `json:"kind,omitempty"`
	Token  *TokenInfo       `json:"-"`
	Err    error            `json:"-"`
}
