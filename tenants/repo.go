package tenants

import "context"

// Repo reads customer configuration. Implementations return
// errors.ErrCustomerNotFound when a customer has no configuration at all.
type Repo interface {
	GetCustomerConfig(ctx context.Context, customerID int) (*CustomerConfig, error)

	// GetCookieDomains returns the domains, beyond the request host, that
	// session cookies may be issued for. An unknown customer has none.
	GetCookieDomains(ctx context.Context, customerID int) ([]string, error)
}
