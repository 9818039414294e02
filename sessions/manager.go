package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/iiif-auth-server/credentials"
	"github.com/jrsteele09/iiif-auth-server/internal/cache"
	"github.com/jrsteele09/iiif-auth-server/internal/config"
	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/internal/utils"
	"github.com/jrsteele09/iiif-auth-server/token"
)

const (
	credentialLength = 32 // 32 bytes = 256 bits
	cacheExpiryGuard = time.Second
)

// Carrier reads and writes session credentials on HTTP requests and responses.
type Carrier interface {
	ExtractCookieID(r *http.Request, customerID int) (string, credentials.State)
	ExtractBearerToken(r *http.Request) (string, credentials.State)
	IssueCookie(w http.ResponseWriter, r *http.Request, customerID int, cookieID string)
	IssueExpiredCookie(w http.ResponseWriter, r *http.Request, customerID int)
}

// Settings are the session timings used by the Manager.
type Settings struct {
	SessionTTL       time.Duration // Lifetime granted on create and on each refresh
	RefreshThreshold time.Duration // Minimum lastChecked age before a refresh
	CacheTTL         time.Duration // Upper bound for caching a successful lookup
	TokenValidFor    time.Duration // Lifetime of role provision tokens
}

// SettingsFromConfig reads Settings from the auth configuration.
func SettingsFromConfig(cfg config.AuthConfig) Settings {
	return Settings{
		SessionTTL:       cfg.GetSessionTTL(),
		RefreshThreshold: cfg.GetRefreshThreshold(),
		CacheTTL:         cfg.GetSessionCacheTTL(),
		TokenValidFor:    cfg.GetTokenValidFor(),
	}
}

// Manager owns the session lifecycle: creation, lookup with refresh, single
// use token consumption and logout.
type Manager struct {
	repo     Repo
	carrier  Carrier
	settings Settings
	cache    *cache.Cache[*SessionUser]
	nowTime  func() time.Time
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func NewManager(repo Repo, carrier Carrier, settings Settings, options ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[NewManager] repo is required")
	}
	if carrier == nil {
		return nil, errors.New("[NewManager] carrier is required")
	}
	if settings.SessionTTL <= 0 {
		return nil, errors.New("[NewManager] session TTL must be positive")
	}
	if settings.TokenValidFor <= 0 {
		settings.TokenValidFor = token.DefaultValidFor
	}

	m := &Manager{
		repo:     repo,
		carrier:  carrier,
		settings: settings,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	m.cache = cache.New[*SessionUser](cache.WithClock(m.now))
	return m, nil
}

func (m *Manager) now() time.Time {
	return m.nowTime().UTC()
}

// GetSessionFromCookie resolves the customer's session cookie. A successful
// lookup always re-issues the cookie so its lifetime follows activity.
func (m *Manager) GetSessionFromCookie(w http.ResponseWriter, r *http.Request, customerID int, origin string) (LookupResult, error) {
	cookieID, state := m.carrier.ExtractCookieID(r, customerID)
	result, err := m.lookup(r.Context(), customerID, state, CredentialCookieID, cookieID, origin)
	if err != nil {
		return result, err
	}
	if result.IsSuccess() {
		m.carrier.IssueCookie(w, r, customerID, result.Session.CookieID)
	}
	return result, nil
}

// GetSessionFromBearer resolves a bearer access token. origin may be empty to
// skip the origin check.
func (m *Manager) GetSessionFromBearer(r *http.Request, customerID int, origin string) (LookupResult, error) {
	accessToken, state := m.carrier.ExtractBearerToken(r)
	return m.lookup(r.Context(), customerID, state, CredentialAccessToken, accessToken, origin)
}

func (m *Manager) lookup(ctx context.Context, customerID int, state credentials.State, kind CredentialKind, value, origin string) (LookupResult, error) {
	switch state {
	case credentials.NotSupplied:
		log.Debug().Int("customer", customerID).Stringer("credential", kind).Msg("No credential supplied")
		return LookupResult{Status: MissingCredentials}, nil
	case credentials.Invalid:
		log.Debug().Int("customer", customerID).Stringer("credential", kind).Msg("Credential could not be parsed")
		return LookupResult{Status: InvalidCredential}, nil
	}

	key := fmt.Sprintf("%d|%d|%s|%s", customerID, kind, value, normaliseOrigin(origin))
	session, err := m.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*SessionUser, time.Duration, []string, error) {
		return m.loadSession(ctx, customerID, kind, value, origin)
	})
	if err != nil {
		return LookupResult{}, errors.Wrap(err, "[Manager.lookup] loading session")
	}

	return m.classify(session, origin), nil
}

// loadSession reads the session from the store and, when it is valid and its
// refresh is due, extends it. Only valid sessions are cached.
func (m *Manager) loadSession(ctx context.Context, customerID int, kind CredentialKind, value, origin string) (*SessionUser, time.Duration, []string, error) {
	session, err := m.repo.FindSession(ctx, customerID, kind, value)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return nil, 0, nil, nil
		}
		return nil, 0, nil, err
	}

	now := m.now()
	if m.classify(session, origin).Status != Success {
		return session, 0, nil, nil
	}

	if m.refreshDue(session, now) {
		previous := *session
		session.LastChecked = utils.Ptr(now)
		session.Expires = now.Add(m.settings.SessionTTL)
		if err := m.repo.UpdateSession(ctx, session); err != nil {
			log.Err(err).Str("session", session.ID).Msg("Failed to extend session, continuing with stored expiry")
			return &previous, 0, nil, nil
		}
		// Invalidating also stops this load from being cached; the next
		// lookup re-reads the refreshed row.
		m.invalidate(session)
	}

	return session, m.cacheTTL(session, now), sessionTags(session), nil
}

func (m *Manager) classify(session *SessionUser, origin string) LookupResult {
	switch {
	case session == nil:
		return LookupResult{Status: MissingSession}
	case session.HasExpired(m.now()):
		return LookupResult{Status: ExpiredSession, Session: session}
	case origin != "" && normaliseOrigin(origin) != normaliseOrigin(session.Origin):
		return LookupResult{Status: DifferentOrigin, Session: session}
	}
	return LookupResult{Status: Success, Session: session}
}

func (m *Manager) refreshDue(session *SessionUser, now time.Time) bool {
	if session.LastChecked == nil {
		return true
	}
	return now.Sub(*session.LastChecked) > m.settings.RefreshThreshold
}

// cacheTTL keeps a cached success no longer than the configured window, and
// expiring just before the next refresh or the session end.
func (m *Manager) cacheTTL(session *SessionUser, now time.Time) time.Duration {
	ttl := m.settings.CacheTTL
	nextRefresh := utils.Value(session.LastChecked).Add(m.settings.RefreshThreshold).Sub(now) - cacheExpiryGuard
	if nextRefresh < ttl {
		ttl = nextRefresh
	}
	if untilExpiry := session.Expires.Sub(now) - cacheExpiryGuard; untilExpiry < ttl {
		ttl = untilExpiry
	}
	return ttl
}

// CreateSessionForRoles creates and persists a new session and issues its
// cookie. It is the only path that fabricates session credentials.
func (m *Manager) CreateSessionForRoles(w http.ResponseWriter, r *http.Request, customerID int, roles []string, origin string) (*SessionUser, error) {
	session, err := m.newSession(customerID, roles, origin)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CreateSessionForRoles] newSession")
	}
	if err := m.repo.CreateSession(r.Context(), session); err != nil {
		return nil, errors.Wrap(err, "[Manager.CreateSessionForRoles] repo.CreateSession")
	}
	log.Info().Int("customer", customerID).Str("session", session.ID).Str("origin", origin).
		Int("roles", len(roles)).Msg("Session created")
	m.carrier.IssueCookie(w, r, customerID, session.CookieID)
	return session, nil
}

func (m *Manager) newSession(customerID int, roles []string, origin string) (*SessionUser, error) {
	cookieID, err := randomCredential()
	if err != nil {
		return nil, err
	}
	accessToken, err := randomCredential()
	if err != nil {
		return nil, err
	}
	now := m.now()
	return &SessionUser{
		ID:          uuid.New().String(),
		CustomerID:  customerID,
		CookieID:    cookieID,
		AccessToken: accessToken,
		Roles:       append([]string{}, roles...),
		Origin:      origin,
		Created:     now,
		Expires:     now.Add(m.settings.SessionTTL),
		LastChecked: utils.Ptr(now),
	}, nil
}

// CreateRoleProvisionToken persists a new single-use token for roles and
// origin and returns its id.
func (m *Manager) CreateRoleProvisionToken(ctx context.Context, customerID int, roles []string, origin string) (string, error) {
	now := m.now()
	tokenID, err := token.GenerateNewToken(now)
	if err != nil {
		return "", errors.Wrap(err, "[Manager.CreateRoleProvisionToken] GenerateNewToken")
	}
	if err := m.repo.CreateToken(ctx, &RoleProvisionToken{
		ID:         tokenID,
		CustomerID: customerID,
		Roles:      append([]string{}, roles...),
		Origin:     origin,
		Created:    now,
		Version:    1,
	}); err != nil {
		return "", errors.Wrap(err, "[Manager.CreateRoleProvisionToken] repo.CreateToken")
	}
	return tokenID, nil
}

// ClaimRoleProvisionToken marks an unexpired, unused token as used and
// returns it. Exactly one concurrent caller can succeed; the others get an
// error for which IsTokenRejected is true.
func (m *Manager) ClaimRoleProvisionToken(ctx context.Context, customerID int, tokenID string) (*RoleProvisionToken, error) {
	return m.claimToken(ctx, m.repo, customerID, tokenID)
}

func (m *Manager) claimToken(ctx context.Context, repo Repo, customerID int, tokenID string) (*RoleProvisionToken, error) {
	if token.HasExpiredAt(tokenID, m.settings.TokenValidFor, m.now()) {
		return nil, autherrors.ErrTokenExpired
	}

	t, err := repo.GetToken(ctx, tokenID)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return nil, autherrors.ErrInvalidToken
		}
		return nil, errors.Wrap(err, "[Manager.claimToken] repo.GetToken")
	}
	if t.CustomerID != customerID {
		return nil, autherrors.ErrInvalidToken
	}
	if t.Used {
		return nil, autherrors.ErrTokenUsed
	}

	t.Used = true
	if err := repo.UpdateToken(ctx, t); err != nil {
		if autherrors.Is(err, autherrors.ErrConcurrencyConflict) {
			log.Info().Int("customer", customerID).Msg("Role provision token claimed concurrently")
			return nil, autherrors.ErrConcurrencyConflict
		}
		return nil, errors.Wrap(err, "[Manager.claimToken] repo.UpdateToken")
	}
	return t, nil
}

// TryCreateSessionFromToken consumes a role provision token and creates a
// session for its roles and stored origin in one unit of work.
func (m *Manager) TryCreateSessionFromToken(w http.ResponseWriter, r *http.Request, customerID int, tokenID string) (*SessionUser, error) {
	if token.HasExpiredAt(tokenID, m.settings.TokenValidFor, m.now()) {
		return nil, autherrors.ErrTokenExpired
	}

	ctx := r.Context()
	var session *SessionUser
	err := m.repo.InTx(ctx, func(tx Repo) error {
		t, err := m.claimToken(ctx, tx, customerID, tokenID)
		if err != nil {
			return err
		}
		session, err = m.newSession(customerID, t.Roles, t.Origin)
		if err != nil {
			return err
		}
		return tx.CreateSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("customer", customerID).Str("session", session.ID).Str("origin", session.Origin).
		Msg("Session created from role provision token")
	m.carrier.IssueCookie(w, r, customerID, session.CookieID)
	return session, nil
}

// Logout expires the session behind the customer's cookie and clears the
// cookie. A missing or malformed cookie is not an error.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request, customerID int) error {
	cookieID, state := m.carrier.ExtractCookieID(r, customerID)
	switch state {
	case credentials.NotSupplied:
		return nil
	case credentials.Invalid:
		m.carrier.IssueExpiredCookie(w, r, customerID)
		return nil
	}
	defer m.carrier.IssueExpiredCookie(w, r, customerID)

	session, err := m.repo.FindSession(r.Context(), customerID, CredentialCookieID, cookieID)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "[Manager.Logout] repo.FindSession")
	}

	session.Expires = m.now().Add(-time.Second)
	if err := m.repo.UpdateSession(r.Context(), session); err != nil {
		return errors.Wrap(err, "[Manager.Logout] repo.UpdateSession")
	}
	m.invalidate(session)
	log.Info().Int("customer", customerID).Str("session", session.ID).Msg("Session logged out")
	return nil
}

func (m *Manager) invalidate(session *SessionUser) {
	for _, tag := range sessionTags(session) {
		m.cache.InvalidateTag(tag)
	}
}

// IsTokenRejected reports whether err is an expected single-use token
// rejection rather than a store failure.
func IsTokenRejected(err error) bool {
	return autherrors.Is(err, autherrors.ErrTokenExpired) ||
		autherrors.Is(err, autherrors.ErrInvalidToken) ||
		autherrors.Is(err, autherrors.ErrTokenUsed) ||
		autherrors.Is(err, autherrors.ErrConcurrencyConflict)
}

func sessionTags(session *SessionUser) []string {
	return []string{"cookie:" + session.CookieID, "token:" + session.AccessToken}
}

func normaliseOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}

func randomCredential() (string, error) {
	b := make([]byte, credentialLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
