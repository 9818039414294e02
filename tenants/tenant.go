package tenants

import (
	"strings"

	"github.com/jrsteele09/iiif-auth-server/claims"
)

// ProviderType identifies how a role provider proves eligibility.
type ProviderType string

const (
	ProviderTypeClickthrough ProviderType = "clickthrough"
	ProviderTypeOidc         ProviderType = "oidc"
)

// DefaultConfigurationKey is the host key used when no host-specific provider
// configuration exists.
const DefaultConfigurationKey = "default"

// AccessService is a customer-configured named entry point describing how a
// caller proves eligibility for one or more roles.
type AccessService struct {
	ID             string `json:"id"`
	CustomerID     int    `json:"customer"`
	Name           string `json:"name"`
	Profile        string `json:"profile"` // IIIF profile: active, kiosk, external
	RoleProviderID string `json:"roleProvider,omitempty"`
	Label          string `json:"label,omitempty"`
	Heading        string `json:"heading,omitempty"`
	Note           string `json:"note,omitempty"`
	ConfirmLabel   string `json:"confirmLabel,omitempty"`
}

// Role is an opaque access grant. Roles belonging to an access service are
// the roles that service grants.
type Role struct {
	ID              string   `json:"id"`
	CustomerID      int      `json:"customer"`
	AccessServiceID string   `json:"accessService"`
	Name            string   `json:"name"`
	Aliases         []string `json:"aliases,omitempty"`
}

// RoleProvider holds per-host provider settings for an access service.
type RoleProvider struct {
	ID            string                `json:"id"`
	CustomerID    int                   `json:"customer"`
	Configuration ProviderConfiguration `json:"configuration"`
}

// ProviderConfiguration maps a request host to the settings used for it.
type ProviderConfiguration map[string]ProviderSettings

// ForHost returns the settings for host, falling back to the default entry.
func (pc ProviderConfiguration) ForHost(host string) (ProviderSettings, bool) {
	if s, ok := pc[strings.ToLower(host)]; ok {
		return s, true
	}
	s, ok := pc[DefaultConfigurationKey]
	return s, ok
}

// ProviderSettings is a closed variant over the supported provider types.
// Oidc is set only when Type is ProviderTypeOidc.
type ProviderSettings struct {
	Type           ProviderType  `json:"type"`
	GestureTitle   string        `json:"gestureTitle,omitempty"`
	GestureMessage string        `json:"gestureMessage,omitempty"`
	Oidc           *OidcSettings `json:"oidc,omitempty"`
}

// OidcSettings configures an upstream OIDC identity provider and how its
// claims translate into roles.
type OidcSettings struct {
	Issuer                string              `json:"issuer"`
	ClientID              string              `json:"clientId"`
	ClientSecretRef       string              `json:"clientSecret"` // resolved via the secrets package
	Scopes                []string            `json:"scopes,omitempty"`
	ClaimType             string              `json:"claimType"`
	Mapping               map[string][]string `json:"mapping,omitempty"`
	UnknownValueBehaviour claims.Behaviour    `json:"unknownValueBehaviour,omitempty"`
	FallbackMapping       []string            `json:"fallbackMapping,omitempty"`
}

// Policy returns the claim-to-role policy for these settings.
func (o OidcSettings) Policy() claims.Policy {
	return claims.Policy{
		ClaimType:             o.ClaimType,
		Mapping:               o.Mapping,
		UnknownValueBehaviour: o.UnknownValueBehaviour,
		FallbackMapping:       o.FallbackMapping,
	}
}

// CustomerConfig is the bulk, read-mostly configuration of one customer.
type CustomerConfig struct {
	CustomerID     int
	AccessServices []AccessService
	Roles          []Role
	RoleProviders  []RoleProvider
}

// AccessService finds an access service by name, case-insensitively.
func (c *CustomerConfig) AccessService(name string) (*AccessService, bool) {
	for i := range c.AccessServices {
		if strings.EqualFold(c.AccessServices[i].Name, name) {
			return &c.AccessServices[i], true
		}
	}
	return nil, false
}

// RolesFor returns the ids of the roles granted by service.
func (c *CustomerConfig) RolesFor(service *AccessService) []string {
	roles := make([]string, 0)
	for _, r := range c.Roles {
		if r.AccessServiceID == service.ID {
			roles = append(roles, r.ID)
		}
	}
	return roles
}

// RoleProvider finds a role provider by id.
func (c *CustomerConfig) RoleProvider(id string) (*RoleProvider, bool) {
	for i := range c.RoleProviders {
		if c.RoleProviders[i].ID == id {
			return &c.RoleProviders[i], true
		}
	}
	return nil, false
}
