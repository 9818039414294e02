// Package credentials reads and writes the two credential shapes presented to
// the service: the per-customer session cookie and the bearer access token.
package credentials

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// State describes what was found when extracting a credential.
type State int

const (
	// NotSupplied means the request carried no credential of this shape.
	NotSupplied State = iota
	// Invalid means a credential was present but could not be parsed.
	Invalid
	// Found means a well-formed credential value was extracted.
	Found
)

func (s State) String() string {
	switch s {
	case NotSupplied:
		return "not-supplied"
	case Invalid:
		return "invalid"
	case Found:
		return "found"
	}
	return "unknown"
}

const (
	cookieValuePrefix = "id="
	bearerScheme      = "bearer"
)

// DomainSource lists the additional cookie domains registered for a customer.
type DomainSource interface {
	GetCookieDomains(ctx context.Context, customerID int) ([]string, error)
}

// Carrier issues and extracts session credentials.
type Carrier struct {
	cookiePrefix string
	sessionTTL   time.Duration
	domains      DomainSource
	nowTime      func() time.Time
}

// CarrierOption defines a function type to modify the Carrier instance.
type CarrierOption func(*Carrier)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) CarrierOption {
	return func(c *Carrier) {
		c.nowTime = nowFunc
	}
}

func NewCarrier(cookiePrefix string, sessionTTL time.Duration, domains DomainSource, options ...CarrierOption) *Carrier {
	c := &Carrier{
		cookiePrefix: cookiePrefix,
		sessionTTL:   sessionTTL,
		domains:      domains,
		nowTime:      time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// CookieName returns the name of the session cookie for customerID.
func (c *Carrier) CookieName(customerID int) string {
	return c.cookiePrefix + strconv.Itoa(customerID)
}

// ExtractCookieID returns the cookie id carried by the customer's session cookie.
func (c *Carrier) ExtractCookieID(r *http.Request, customerID int) (string, State) {
	cookie, err := r.Cookie(c.CookieName(customerID))
	if err != nil {
		return "", NotSupplied
	}
	id, ok := strings.CutPrefix(cookie.Value, cookieValuePrefix)
	if !ok || strings.TrimSpace(id) == "" {
		return "", Invalid
	}
	return id, Found
}

// ExtractBearerToken returns the token from an "Authorization: Bearer" header.
func (c *Carrier) ExtractBearerToken(r *http.Request) (string, State) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", NotSupplied
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != bearerScheme {
		return "", Invalid
	}
	tok := strings.TrimSpace(parts[1])
	if tok == "" {
		return "", Invalid
	}
	return tok, Found
}

// IssueCookie writes one Set-Cookie header per trusted domain, each expiring
// one session TTL from now.
func (c *Carrier) IssueCookie(w http.ResponseWriter, r *http.Request, customerID int, cookieID string) {
	expires := c.nowTime().UTC().Add(c.sessionTTL)
	for _, domain := range c.cookieDomains(r, customerID) {
		http.SetCookie(w, &http.Cookie{
			Name:     c.CookieName(customerID),
			Value:    cookieValuePrefix + cookieID,
			Domain:   domain,
			Path:     "/",
			Expires:  expires,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
		})
	}
}

// IssueExpiredCookie overwrites the session cookie on every trusted domain
// with one that the browser discards immediately.
func (c *Carrier) IssueExpiredCookie(w http.ResponseWriter, r *http.Request, customerID int) {
	for _, domain := range c.cookieDomains(r, customerID) {
		http.SetCookie(w, &http.Cookie{
			Name:     c.CookieName(customerID),
			Value:    cookieValuePrefix,
			Domain:   domain,
			Path:     "/",
			Expires:  time.Unix(0, 0).UTC(),
			MaxAge:   -1,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
		})
	}
}

func (c *Carrier) cookieDomains(r *http.Request, customerID int) []string {
	current := RequestHost(r)
	domains := []string{current}
	seen := map[string]struct{}{current: {}}

	if c.domains == nil {
		return domains
	}
	additional, err := c.domains.GetCookieDomains(r.Context(), customerID)
	if err != nil {
		log.Err(err).Int("customer", customerID).Msg("Failed to read cookie domains, issuing for current host only")
		return domains
	}
	for _, d := range additional {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	return domains
}

// RequestHost returns the lower-cased host of r without any port.
func RequestHost(r *http.Request) string {
	return StripPort(r.Host)
}

// StripPort removes a trailing port from hostport, if present.
func StripPort(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}
