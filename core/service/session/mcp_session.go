// Package session caches per-user Graph clients behind a TTL so repeated
// tool calls reuse connections and tokens instead of rebuilding them.
package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"outlook_mcp_server/adapter/out/graph"
	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

// TokenRefresher is the slice of the auth service the manager needs: ensure
// the user has a usable access token before handing a session out.
type TokenRefresher interface {
	CheckAndRefreshIfNeeded(ctx context.Context, email string) *domain.RefreshOutcome
}

// Session binds one user's Graph clients to their current token. The token
// is swapped atomically on refresh, so in-flight requests pick up the new
// value without rebuilding clients.
type Session struct {
	Email     string
	CreatedAt time.Time
	LastUsed  time.Time

	token atomic.Pointer[domain.TokenInfo]
	query *graph.QueryClient
	mail  *graph.MailClient
}

func newSession(email string, token *domain.TokenInfo, httpClient *http.Client, cfg graph.QueryClientConfig) *Session {
	s := &Session{
		Email:     email,
		CreatedAt: time.Now(),
		LastUsed:  time.Now(),
	}
	s.token.Store(token)
	s.mail = graph.NewMailClient(httpClient, s.AccessToken, email, cfg)
	s.query = s.mail.Query()
	return s
}

// AccessToken returns the current access token. Graph clients read this per
// request.
func (s *Session) AccessToken() string {
	if t := s.token.Load(); t != nil {
		return t.AccessToken
	}
	return ""
}

// Token returns the current token snapshot.
func (s *Session) Token() *domain.TokenInfo {
	return s.token.Load()
}

// SetToken swaps in a refreshed token.
func (s *Session) SetToken(token *domain.TokenInfo) {
	if token != nil {
		s.token.Store(token)
	}
}

// Query returns the query client of this session.
func (s *Session) Query() *graph.QueryClient {
	return s.query
}

// Mail returns the mail client of this session.
func (s *Session) Mail() *graph.MailClient {
	return s.mail
}

// Config tunes the manager. Zero values fall back to defaults.
type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	QueryConfig     graph.QueryClientConfig
	HTTPClient      *http.Client
}

// Manager owns the session cache. Sessions are keyed by user email, expire
// after TTL of inactivity, and are invalidated when auth errors surface.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	auth       TokenRefresher
	httpClient *http.Client
	queryCfg   graph.QueryClientConfig
	ttl        time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	log        zerolog.Logger
}

// NewManager creates a manager and starts its cleanup loop.
func NewManager(auth TokenRefresher, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	m := &Manager{
		sessions:   make(map[string]*Session),
		auth:       auth,
		httpClient: cfg.HTTPClient,
		queryCfg:   cfg.QueryConfig,
		ttl:        cfg.TTL,
		stopCh:     make(chan struct{}),
		log:        logger.Component("session"),
	}
	go m.cleanupLoop(cfg.CleanupInterval)
	return m
}

// GetOrCreate returns a live session for email, refreshing the access token
// first when it is expired. A refresh failure that requires the user to
// re-authenticate comes back as an AUTH_REQUIRED error carrying the email.
func (m *Manager) GetOrCreate(ctx context.Context, email string) (*Session, error) {
	outcome := m.auth.CheckAndRefreshIfNeeded(ctx, email)
	if outcome.Status == domain.RefreshStatusError {
		// A transient refresh failure keeps the session; only outcomes that
		// force re-authentication tear it down.
		if outcome.Kind != domain.RefreshErrFailed {
			m.Invalidate(email)
		}
		return nil, refreshOutcomeError(email, outcome)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[email]; ok {
		if outcome.Status == domain.RefreshStatusRefreshed {
			session.SetToken(outcome.Token)
		}
		session.LastUsed = time.Now()
		return session, nil
	}

	session := newSession(email, outcome.Token, m.httpClient, m.queryCfg)
	m.sessions[email] = session
	m.log.Debug().Str("user", email).Msg("session created")
	return session, nil
}

// Get returns the cached session without touching tokens, or nil.
func (m *Manager) Get(email string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[email]
}

// Invalidate drops the session and closes idle connections so a stale token
// is not reused from a pooled connection.
func (m *Manager) Invalidate(email string) {
	m.mu.Lock()
	_, existed := m.sessions[email]
	delete(m.sessions, email)
	m.mu.Unlock()

	if existed {
		m.httpClient.CloseIdleConnections()
		m.log.Debug().Str("user", email).Msg("session invalidated")
	}
}

// Count returns the number of cached sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// cleanup evicts sessions idle past the TTL. Expired IDs are snapshotted
// first so connection teardown happens outside the lock.
func (m *Manager) cleanup() {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for email, session := range m.sessions {
		if now.Sub(session.LastUsed) > m.ttl {
			expired = append(expired, email)
			delete(m.sessions, email)
		}
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.httpClient.CloseIdleConnections()
		m.log.Debug().Int("evicted", len(expired)).Msg("expired sessions removed")
	}
}

// Stop halts the cleanup loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// refreshOutcomeError maps a failed refresh outcome onto the error taxonomy.
func refreshOutcomeError(email string, outcome *domain.RefreshOutcome) error {
	switch outcome.Kind {
	case domain.RefreshErrNoToken:
		return apperr.AuthRequired(email, "no stored token, authentication required")
	case domain.RefreshErrNoRefreshToken:
		return apperr.AuthRequired(email, "stored token has no refresh token, authentication required")
	case domain.RefreshErrExpired:
		return apperr.AuthRequired(email, "refresh token expired, re-authentication required")
	default:
		if outcome.Err != nil && apperr.IsAuthError(outcome.Err) {
			return apperr.AuthRequired(email, outcome.Err.Error())
		}
		return apperr.TokenRefreshFailed(outcome.Err)
	}
}
