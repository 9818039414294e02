package postgres_test

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/internal/store/postgres"
	"github.com/jrsteele09/iiif-auth-server/internal/utils"
	"github.com/jrsteele09/iiif-auth-server/sessions"
	"github.com/jrsteele09/iiif-auth-server/tenants"
)

func setupTestPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	require.NoError(t, conn.Close(ctx))

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		conn, err := pgx.Connect(context.Background(), dsn)
		if err != nil {
			return
		}
		defer conn.Close(context.Background())
		_, _ = conn.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func newSession(customerID int) *sessions.SessionUser {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &sessions.SessionUser{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		CookieID:    uuid.NewString(),
		AccessToken: uuid.NewString(),
		Roles:       []string{"https://api.dlcs.io/customers/2/roles/clickthrough"},
		Origin:      "https://viewer.example.org",
		Created:     now,
		Expires:     now.Add(10 * time.Minute),
	}
}

func TestSessionStore_CreateFindUpdate(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewSessionStore(setupTestPool(t, ctx))

	s := newSession(2)
	require.NoError(t, store.CreateSession(ctx, s))

	byCookie, err := store.FindSession(ctx, 2, sessions.CredentialCookieID, s.CookieID)
	require.NoError(t, err)
	require.Equal(t, s.ID, byCookie.ID)
	require.Equal(t, s.Roles, byCookie.Roles)
	require.Nil(t, byCookie.LastChecked)
	require.WithinDuration(t, s.Expires, byCookie.Expires, time.Millisecond)

	byToken, err := store.FindSession(ctx, 2, sessions.CredentialAccessToken, s.AccessToken)
	require.NoError(t, err)
	require.Equal(t, s.ID, byToken.ID)

	_, err = store.FindSession(ctx, 3, sessions.CredentialCookieID, s.CookieID)
	require.ErrorIs(t, err, autherrors.ErrNotFound)

	checked := time.Now().UTC().Truncate(time.Microsecond)
	s.LastChecked = utils.Ptr(checked)
	s.Expires = checked.Add(10 * time.Minute)
	require.NoError(t, store.UpdateSession(ctx, s))

	updated, err := store.FindSession(ctx, 2, sessions.CredentialCookieID, s.CookieID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastChecked)
	require.WithinDuration(t, checked, *updated.LastChecked, time.Millisecond)

	missing := newSession(2)
	require.ErrorIs(t, store.UpdateSession(ctx, missing), autherrors.ErrNotFound)
}

func TestSessionStore_TokenVersioning(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewSessionStore(setupTestPool(t, ctx))

	tok := &sessions.RoleProvisionToken{
		ID:         "token-1",
		CustomerID: 2,
		Origin:     "https://viewer.example.org",
		Created:    time.Now().UTC(),
		Version:    1,
	}
	require.NoError(t, store.CreateToken(ctx, tok))

	a, err := store.GetToken(ctx, tok.ID)
	require.NoError(t, err)
	require.Empty(t, a.Roles)
	b, err := store.GetToken(ctx, tok.ID)
	require.NoError(t, err)

	a.Used = true
	require.NoError(t, store.UpdateToken(ctx, a))
	require.Equal(t, int64(2), a.Version)

	b.Used = true
	require.ErrorIs(t, store.UpdateToken(ctx, b), autherrors.ErrConcurrencyConflict)

	_, err = store.GetToken(ctx, "missing")
	require.ErrorIs(t, err, autherrors.ErrNotFound)
}

func TestSessionStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewSessionStore(setupTestPool(t, ctx))

	s := newSession(2)
	err := store.InTx(ctx, func(repo sessions.Repo) error {
		require.NoError(t, repo.CreateSession(ctx, s))
		return autherrors.ErrTokenUsed
	})
	require.ErrorIs(t, err, autherrors.ErrTokenUsed)

	_, err = store.FindSession(ctx, 2, sessions.CredentialCookieID, s.CookieID)
	require.ErrorIs(t, err, autherrors.ErrNotFound)
}

func TestSessionStore_ConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewSessionStore(setupTestPool(t, ctx))

	require.NoError(t, store.CreateToken(ctx, &sessions.RoleProvisionToken{
		ID: "token-race", CustomerID: 2, Origin: "https://viewer.example.org", Created: time.Now().UTC(), Version: 1,
	}))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.InTx(ctx, func(repo sessions.Repo) error {
				tok, err := repo.GetToken(ctx, "token-race")
				if err != nil {
					return err
				}
				if tok.Used {
					return autherrors.ErrTokenUsed
				}
				tok.Used = true
				return repo.UpdateToken(ctx, tok)
			})
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}

func TestTenantStore(t *testing.T) {
	ctx := context.Background()
	pool := setupTestPool(t, ctx)
	store := postgres.NewTenantStore(pool)

	_, err := store.GetCustomerConfig(ctx, 2)
	require.ErrorIs(t, err, autherrors.ErrCustomerNotFound)

	configuration, err := json.Marshal(tenants.ProviderConfiguration{
		tenants.DefaultConfigurationKey: {
			Type: tenants.ProviderTypeOidc,
			Oidc: &tenants.OidcSettings{Issuer: "https://idp.example.com", ClientID: "dlcs", ClaimType: "groups"},
		},
	})
	require.NoError(t, err)

	serviceID := uuid.NewString()
	_, err = pool.Exec(ctx, `INSERT INTO role_providers (id, customer, configuration) VALUES ('p1', 2, $1)`, configuration)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO access_services (id, customer, name, role_provider_id, heading) VALUES ($1, 2, 'staff', 'p1', 'Staff')`, serviceID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO roles (id, customer, access_service_id, name) VALUES ('https://api.dlcs.io/customers/2/roles/staff', 2, $1, 'staff')`, serviceID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO customer_cookie_domains (customer, domains) VALUES (2, $1)`, []string{"example.org"})
	require.NoError(t, err)

	cfg, err := store.GetCustomerConfig(ctx, 2)
	require.NoError(t, err)
	service, ok := cfg.AccessService("STAFF")
	require.True(t, ok)
	require.Equal(t, serviceID, service.ID)
	require.Equal(t, []string{"https://api.dlcs.io/customers/2/roles/staff"}, cfg.RolesFor(service))

	provider, ok := cfg.RoleProvider("p1")
	require.True(t, ok)
	settings, ok := provider.Configuration.ForHost("dlcs.example.com")
	require.True(t, ok)
	require.Equal(t, tenants.ProviderTypeOidc, settings.Type)
	require.Equal(t, "groups", settings.Oidc.ClaimType)

	domains, err := store.GetCookieDomains(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"example.org"}, domains)

	domains, err = store.GetCookieDomains(ctx, 3)
	require.NoError(t, err)
	require.Empty(t, domains)
}
