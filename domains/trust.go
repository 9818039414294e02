// Package domains decides whether a web origin sits on a domain the service
// may issue session cookies for.
package domains

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/iiif-auth-server/credentials"
)

// DomainSource lists the additional cookie domains registered for a customer.
type DomainSource interface {
	GetCookieDomains(ctx context.Context, customerID int) ([]string, error)
}

// Trust resolves controlled domains for a customer.
type Trust struct {
	domains DomainSource
}

func NewTrust(domains DomainSource) *Trust {
	return &Trust{domains: domains}
}

// OriginForControlledDomain reports whether origin is the current request's
// origin, a sub- or equal-domain of the current host, or a sub- or
// equal-domain of one of the customer's cookie domains.
//
// A failure reading the customer's domains is logged and treated as
// controlled.
func (t *Trust) OriginForControlledDomain(ctx context.Context, r *http.Request, customerID int, origin string) bool {
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		log.Debug().Str("origin", origin).Msg("Origin is not an absolute URL, treating as uncontrolled")
		return false
	}

	if strings.EqualFold(originURL.Scheme+"://"+originURL.Host, RequestScheme(r)+"://"+r.Host) {
		return true
	}

	originHost := credentials.StripPort(originURL.Host)
	if IsSubOrEqualDomain(originHost, credentials.RequestHost(r)) {
		return true
	}

	customerDomains, err := t.domains.GetCookieDomains(ctx, customerID)
	if err != nil {
		log.Warn().Err(err).Int("customer", customerID).Str("origin", origin).
			Msg("Unable to read customer cookie domains, treating origin as controlled")
		return true
	}
	for _, d := range customerDomains {
		if IsSubOrEqualDomain(originHost, d) {
			return true
		}
	}
	return false
}

// IsSubOrEqualDomain reports whether host equals domain or is a subdomain of it.
func IsSubOrEqualDomain(host, domain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// RequestScheme determines the scheme (http/https) the request arrived on.
func RequestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
