package tenantrepofakes

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/tenants"
)

var _ tenants.Repo = (*FakeTenantRepo)(nil)

type FakeTenantRepo struct {
	configs map[int]*tenants.CustomerConfig
	domains map[int][]string
	calls   map[string]int
	err     error
	lock    sync.RWMutex
}

func NewFakeTenantRepo() *FakeTenantRepo {
	return &FakeTenantRepo{
		configs: make(map[int]*tenants.CustomerConfig),
		domains: make(map[int][]string),
		calls:   make(map[string]int),
	}
}

// UpsertAccessService stores service and the roles it grants, returning the
// role ids.
func (tr *FakeTenantRepo) UpsertAccessService(service tenants.AccessService, roleNames ...string) []string {
	tr.lock.Lock()
	defer tr.lock.Unlock()

	if service.ID == "" {
		service.ID = uuid.New().String()
	}
	cfg := tr.configLocked(service.CustomerID)
	cfg.AccessServices = append(cfg.AccessServices, service)

	ids := make([]string, 0, len(roleNames))
	for _, name := range roleNames {
		id := roleID(service.CustomerID, name)
		cfg.Roles = append(cfg.Roles, tenants.Role{
			ID:              id,
			CustomerID:      service.CustomerID,
			AccessServiceID: service.ID,
			Name:            name,
		})
		ids = append(ids, id)
	}
	return ids
}

func (tr *FakeTenantRepo) UpsertRoleProvider(provider tenants.RoleProvider) {
	tr.lock.Lock()
	defer tr.lock.Unlock()

	cfg := tr.configLocked(provider.CustomerID)
	for i := range cfg.RoleProviders {
		if cfg.RoleProviders[i].ID == provider.ID {
			cfg.RoleProviders[i] = provider
			return
		}
	}
	cfg.RoleProviders = append(cfg.RoleProviders, provider)
}

func (tr *FakeTenantRepo) SetCookieDomains(customerID int, domains ...string) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.domains[customerID] = domains
}

// SetError makes every subsequent read fail with err.
func (tr *FakeTenantRepo) SetError(err error) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.err = err
}

// Calls returns how many times method has been invoked.
func (tr *FakeTenantRepo) Calls(method string) int {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	return tr.calls[method]
}

func (tr *FakeTenantRepo) GetCustomerConfig(_ context.Context, customerID int) (*tenants.CustomerConfig, error) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.calls["GetCustomerConfig"]++
	if tr.err != nil {
		return nil, tr.err
	}
	cfg, ok := tr.configs[customerID]
	if !ok {
		return nil, autherrors.ErrCustomerNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (tr *FakeTenantRepo) GetCookieDomains(_ context.Context, customerID int) ([]string, error) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.calls["GetCookieDomains"]++
	if tr.err != nil {
		return nil, tr.err
	}
	return append([]string(nil), tr.domains[customerID]...), nil
}

func (tr *FakeTenantRepo) configLocked(customerID int) *tenants.CustomerConfig {
	cfg, ok := tr.configs[customerID]
	if !ok {
		cfg = &tenants.CustomerConfig{CustomerID: customerID}
		tr.configs[customerID] = cfg
	}
	return cfg
}

func roleID(customerID int, name string) string {
	return "https://api.dlcs.io/customers/" + strconv.Itoa(customerID) + "/roles/" + name
}
