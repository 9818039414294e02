package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/iiif-auth-server/access"
	"github.com/jrsteele09/iiif-auth-server/auth"
	"github.com/jrsteele09/iiif-auth-server/credentials"
	"github.com/jrsteele09/iiif-auth-server/domains"
	"github.com/jrsteele09/iiif-auth-server/internal/config"
	"github.com/jrsteele09/iiif-auth-server/server"
	"github.com/jrsteele09/iiif-auth-server/sessions"
	sessionrepofakes "github.com/jrsteele09/iiif-auth-server/sessions/repofakes"
	"github.com/jrsteele09/iiif-auth-server/tenants"
	tenantrepofakes "github.com/jrsteele09/iiif-auth-server/tenants/repofakes"
)

const (
	baseURL          = "https://dlcs.example.com"
	controlledOrigin = "https://dlcs.example.com"
	thirdPartyOrigin = "https://viewer.example.org"
)

var tokenField = regexp.MustCompile(`name="singleUseToken" value="([^"]+)"`)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type noIdentity struct{}

func (noIdentity) GetLoginURL(context.Context, *tenants.OidcSettings, string, string) (string, error) {
	return "https://idp.example.com/authorize", nil
}

func (noIdentity) ExchangeCodeForClaims(context.Context, *tenants.OidcSettings, string, string) (jwt.MapClaims, error) {
	return jwt.MapClaims{}, nil
}

// testFixture holds all test dependencies
type testFixture struct {
	server      *server.Server
	sessionRepo *sessionrepofakes.FakeSessionRepo
	carrier     *credentials.Carrier
	clock       *testClock
	role        string
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	clock := &testClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}

	tenantsRepo := tenantrepofakes.NewFakeTenantRepo()
	roles := tenantsRepo.UpsertAccessService(tenants.AccessService{
		CustomerID: 2,
		Name:       "clickthrough",
		Heading:    "Terms of use",
	}, "clickthrough")

	sessionRepo := sessionrepofakes.NewFakeSessionRepo()
	carrier := credentials.NewCarrier("dlcs-auth2-", 10*time.Minute, tenantsRepo, credentials.WithNowTime(clock.Now))
	manager, err := sessions.NewManager(sessionRepo, carrier, sessions.Settings{
		SessionTTL:       10 * time.Minute,
		RefreshThreshold: 2 * time.Minute,
		CacheTTL:         5 * time.Second,
		TokenValidFor:    5 * time.Minute,
	}, sessions.WithNowTime(clock.Now))
	require.NoError(t, err)

	orchestrator, err := auth.NewOrchestrator(auth.Deps{
		Tenants:  tenantsRepo,
		Sessions: manager,
		Trust:    domains.NewTrust(tenantsRepo),
		Identity: noIdentity{},
	})
	require.NoError(t, err)

	s, err := server.New(config.New(), server.Services{Flow: orchestrator, Sessions: manager}, server.WithNowTime(clock.Now))
	require.NoError(t, err)

	return &testFixture{server: s, sessionRepo: sessionRepo, carrier: carrier, clock: clock, role: roles[0]}
}

func (f *testFixture) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, r)
	return rec
}

func (f *testFixture) get(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, baseURL+path, nil))
}

// login runs the clickthrough flow from a controlled origin and returns the
// created session.
func (f *testFixture) login(t *testing.T) *sessions.SessionUser {
	t.Helper()
	rec := f.get("/access/2/clickthrough?origin=" + url.QueryEscape(controlledOrigin))
	require.Equal(t, http.StatusOK, rec.Code)
	created := f.sessionRepo.Sessions()
	require.Len(t, created, 1)
	return created[0]
}

func (f *testFixture) withCookie(r *http.Request, s *sessions.SessionUser) *http.Request {
	r.AddCookie(&http.Cookie{Name: f.carrier.CookieName(2), Value: "id=" + s.CookieID})
	return r
}

func TestPing(t *testing.T) {
	f := setupTestFixture(t)
	rec := f.get("/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pong", rec.Body.String())
}

func TestAccessService_ControlledOriginCreatesSession(t *testing.T) {
	f := setupTestFixture(t)
	rec := f.get("/access/2/clickthrough?origin=" + url.QueryEscape(controlledOrigin))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "window.close()")
	require.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "dlcs-auth2-2", cookies[0].Name)
	require.Len(t, f.sessionRepo.Sessions(), 1)
}

func TestAccessService_ThirdPartyOriginGestureFlow(t *testing.T) {
	f := setupTestFixture(t)
	rec := f.get("/access/2/clickthrough?origin=" + url.QueryEscape(thirdPartyOrigin))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Terms of use")
	require.Contains(t, rec.Body.String(), `action="/access/2/gesture"`)
	require.Empty(t, rec.Result().Cookies())

	match := tokenField.FindStringSubmatch(rec.Body.String())
	require.Len(t, match, 2)

	post := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, baseURL+"/access/2/gesture", strings.NewReader(url.Values{"singleUseToken": {match[1]}}.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return f.do(r)
	}

	rec = post()
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "window.close()")
	require.Len(t, rec.Result().Cookies(), 1)
	created := f.sessionRepo.Sessions()
	require.Len(t, created, 1)
	require.Equal(t, thirdPartyOrigin, created[0].Origin)

	rec = post()
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), auth.MessageTokenInvalid)
	require.Len(t, f.sessionRepo.Sessions(), 1)
}

func TestAccessService_Errors(t *testing.T) {
	f := setupTestFixture(t)
	require.Equal(t, http.StatusNotFound, f.get("/access/2/unknown?origin=x").Code)
	require.Equal(t, http.StatusNotFound, f.get("/access/9/clickthrough?origin=x").Code)
	require.Equal(t, http.StatusBadRequest, f.get("/access/abc/clickthrough?origin=x").Code)
	require.Equal(t, http.StatusBadRequest, f.get("/access/2/clickthrough/oauth2/callback?state=s").Code)
}

func TestAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	s := f.login(t)

	r := f.withCookie(httptest.NewRequest(http.MethodGet, baseURL+"/access/2/token?messageId=m1&origin="+url.QueryEscape(controlledOrigin), nil), s)
	rec := f.do(r)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("X-Frame-Options"), "the token page is framed by the viewer")
	body := rec.Body.String()
	require.Contains(t, body, s.AccessToken)
	require.Contains(t, body, access.TypeAccessToken)
	require.Contains(t, body, "m1")

	rec = f.get("/access/2/token?messageId=m2&origin=" + url.QueryEscape(controlledOrigin))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), access.ProfileMissingAspect)

	r = f.withCookie(httptest.NewRequest(http.MethodGet, baseURL+"/access/2/token?messageId=m3&origin="+url.QueryEscape(thirdPartyOrigin), nil), s)
	require.Contains(t, f.do(r).Body.String(), access.ProfileInvalidOrigin)

	require.Equal(t, http.StatusBadRequest, f.get("/access/2/token?origin=x").Code)
}

func (f *testFixture) probe(t *testing.T, s *sessions.SessionUser, role string) access.ProbeResult {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, baseURL+"/probe/2?role="+url.QueryEscape(role), nil)
	r.Header.Set("Authorization", "Bearer "+s.AccessToken)
	rec := f.do(r)
	require.Equal(t, http.StatusOK, rec.Code)

	var result access.ProbeResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	return result
}

func TestProbe(t *testing.T) {
	f := setupTestFixture(t)
	s := f.login(t)

	require.Equal(t, 200, f.probe(t, s, f.role).Status)

	forbidden := f.probe(t, s, "https://api.dlcs.io/customers/2/roles/other")
	require.Equal(t, 403, forbidden.Status)

	f.clock.Advance(11 * time.Minute)
	expired := f.probe(t, s, f.role)
	require.Equal(t, 401, expired.Status)
	require.Equal(t, access.English("Expired session"), expired.Heading)
}

func TestProbe_Preflight(t *testing.T) {
	f := setupTestFixture(t)
	r := httptest.NewRequest(http.MethodOptions, baseURL+"/probe/2", nil)
	r.Header.Set("Origin", thirdPartyOrigin)
	rec := f.do(r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestVerifyAndLogout(t *testing.T) {
	f := setupTestFixture(t)
	s := f.login(t)

	verify := func(role string) int {
		return f.do(f.withCookie(httptest.NewRequest(http.MethodGet, baseURL+"/verify/2?role="+url.QueryEscape(role), nil), s)).Code
	}

	require.Equal(t, http.StatusOK, verify(f.role))
	require.Equal(t, http.StatusForbidden, verify("https://api.dlcs.io/customers/2/roles/other"))
	require.Equal(t, http.StatusUnauthorized, f.get("/verify/2?role="+url.QueryEscape(f.role)).Code)

	rec := f.do(f.withCookie(httptest.NewRequest(http.MethodGet, baseURL+"/access/2/logout", nil), s))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, http.StatusUnauthorized, verify(f.role))

	require.Equal(t, http.StatusNoContent, f.get("/access/2/logout").Code)
}

func TestRecoverMiddleware(t *testing.T) {
	f := setupTestFixture(t)
	handler := server.ChainMiddleware(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}, f.server.RecoverMiddleware)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, baseURL+"/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestVerify_StoreFailureIsUnavailable(t *testing.T) {
	f := setupTestFixture(t)
	s := f.login(t)
	f.sessionRepo.SetError(errors.New("connection refused"))

	r := f.withCookie(httptest.NewRequest(http.MethodGet, baseURL+"/verify/2?role="+url.QueryEscape(f.role), nil), s)
	require.Equal(t, http.StatusServiceUnavailable, f.do(r).Code)
}
