package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/tenants"
)

var _ tenants.Repo = (*TenantStore)(nil)

// TenantStore reads customer configuration owned by the admin system.
type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

// GetCustomerConfig loads every access service, role and role provider of a
// customer. A customer without access services is unknown.
func (s *TenantStore) GetCustomerConfig(ctx context.Context, customerID int) (*tenants.CustomerConfig, error) {
	cfg := &tenants.CustomerConfig{CustomerID: customerID}

	serviceRows, err := s.pool.Query(ctx, `
		SELECT id, customer, name, profile, COALESCE(role_provider_id, ''), label, heading, note, confirm_label
		FROM access_services
		WHERE customer = $1
		ORDER BY name
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query access services: %w", err)
	}
	cfg.AccessServices, err = pgx.CollectRows(serviceRows, func(row pgx.CollectableRow) (tenants.AccessService, error) {
		var a tenants.AccessService
		err := row.Scan(&a.ID, &a.CustomerID, &a.Name, &a.Profile, &a.RoleProviderID, &a.Label, &a.Heading, &a.Note, &a.ConfirmLabel)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan access services: %w", err)
	}
	if len(cfg.AccessServices) == 0 {
		return nil, autherrors.ErrCustomerNotFound
	}

	roleRows, err := s.pool.Query(ctx, `
		SELECT id, customer, access_service_id, name, aliases
		FROM roles
		WHERE customer = $1
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	cfg.Roles, err = pgx.CollectRows(roleRows, func(row pgx.CollectableRow) (tenants.Role, error) {
		var r tenants.Role
		err := row.Scan(&r.ID, &r.CustomerID, &r.AccessServiceID, &r.Name, &r.Aliases)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan roles: %w", err)
	}

	providerRows, err := s.pool.Query(ctx, `
		SELECT id, customer, configuration
		FROM role_providers
		WHERE customer = $1
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query role providers: %w", err)
	}
	cfg.RoleProviders, err = pgx.CollectRows(providerRows, func(row pgx.CollectableRow) (tenants.RoleProvider, error) {
		var p tenants.RoleProvider
		err := row.Scan(&p.ID, &p.CustomerID, &p.Configuration)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan role providers: %w", err)
	}

	return cfg, nil
}

func (s *TenantStore) GetCookieDomains(ctx context.Context, customerID int) ([]string, error) {
	var domains []string
	err := s.pool.QueryRow(ctx, `
		SELECT domains FROM customer_cookie_domains WHERE customer = $1
	`, customerID).Scan(&domains)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cookie domains: %w", err)
	}
	return domains, nil
}
