package tenants

import (
	"context"
	"strconv"
	"time"

	"github.com/jrsteele09/iiif-auth-server/internal/cache"
)

var _ Repo = (*CachedRepo)(nil)

// CachedRepo caches each customer's configuration and cookie domains for a
// fixed TTL. Concurrent misses for the same customer share one store read.
type CachedRepo struct {
	inner   Repo
	ttl     time.Duration
	configs *cache.Cache[*CustomerConfig]
	domains *cache.Cache[[]string]
}

func NewCachedRepo(inner Repo, ttl time.Duration, opts ...cache.Option) *CachedRepo {
	return &CachedRepo{
		inner:   inner,
		ttl:     ttl,
		configs: cache.New[*CustomerConfig](opts...),
		domains: cache.New[[]string](opts...),
	}
}

func (c *CachedRepo) GetCustomerConfig(ctx context.Context, customerID int) (*CustomerConfig, error) {
	return c.configs.GetOrLoad(ctx, strconv.Itoa(customerID), func(ctx context.Context) (*CustomerConfig, time.Duration, []string, error) {
		cfg, err := c.inner.GetCustomerConfig(ctx, customerID)
		return cfg, c.ttl, nil, err
	})
}

func (c *CachedRepo) GetCookieDomains(ctx context.Context, customerID int) ([]string, error) {
	return c.domains.GetOrLoad(ctx, strconv.Itoa(customerID), func(ctx context.Context) ([]string, time.Duration, []string, error) {
		d, err := c.inner.GetCookieDomains(ctx, customerID)
		return d, c.ttl, nil, err
	})
}

// Invalidate drops cached entries for customerID.
func (c *CachedRepo) Invalidate(customerID int) {
	key := strconv.Itoa(customerID)
	c.configs.Invalidate(key)
	c.domains.Invalidate(key)
}
