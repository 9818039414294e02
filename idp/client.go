package idp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/tenants"
)

const defaultTimeout = 10 * time.Second

// SecretResolver materialises the client secret referenced by provider
// settings.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Client talks to upstream OpenID Connect providers. Discovery documents are
// fetched once per issuer and reused.
type Client struct {
	secrets    SecretResolver
	httpClient *http.Client

	providers     map[string]*oidc.Provider
	providersLock sync.RWMutex
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for discovery, JWKS and token calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every outbound call to the identity provider.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

func NewClient(secrets SecretResolver, options ...ClientOption) *Client {
	c := &Client{
		secrets:    secrets,
		httpClient: &http.Client{Timeout: defaultTimeout},
		providers:  make(map[string]*oidc.Provider),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// GetLoginURL returns the provider's authorization URL carrying state.
func (c *Client) GetLoginURL(ctx context.Context, settings *tenants.OidcSettings, callbackURL, state string) (string, error) {
	cfg, _, err := c.oauth2Config(ctx, settings, callbackURL, false)
	if err != nil {
		return "", errors.Wrap(err, "[Client.GetLoginURL] oauth2Config")
	}
	return cfg.AuthCodeURL(state), nil
}

// ExchangeCodeForClaims redeems an authorization code and returns the claims
// of the verified id_token.
func (c *Client) ExchangeCodeForClaims(ctx context.Context, settings *tenants.OidcSettings, callbackURL, code string) (jwt.MapClaims, error) {
	ctx = oidc.ClientContext(ctx, c.httpClient)

	cfg, provider, err := c.oauth2Config(ctx, settings, callbackURL, true)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ExchangeCodeForClaims] oauth2Config")
	}

	oauth2Token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ExchangeCodeForClaims] Exchange")
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, autherrors.ErrNoIdentityToken
	}

	idToken, err := provider.Verifier(&oidc.Config{ClientID: settings.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ExchangeCodeForClaims] Verify")
	}

	claims := jwt.MapClaims{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[Client.ExchangeCodeForClaims] Claims")
	}
	return claims, nil
}

func (c *Client) oauth2Config(ctx context.Context, settings *tenants.OidcSettings, callbackURL string, withSecret bool) (*oauth2.Config, *oidc.Provider, error) {
	if settings == nil || settings.Issuer == "" || settings.ClientID == "" {
		return nil, nil, errors.Wrap(autherrors.ErrInvalidArgument, "oidc settings require issuer and client id")
	}

	provider, err := c.provider(ctx, settings.Issuer)
	if err != nil {
		return nil, nil, err
	}

	cfg := &oauth2.Config{
		ClientID:    settings.ClientID,
		Endpoint:    provider.Endpoint(),
		RedirectURL: callbackURL,
		Scopes:      scopes(settings.Scopes),
	}
	if withSecret && settings.ClientSecretRef != "" {
		secret, err := c.secrets.Resolve(ctx, settings.ClientSecretRef)
		if err != nil {
			return nil, nil, errors.Wrap(err, "resolving client secret")
		}
		cfg.ClientSecret = secret
	}
	return cfg, provider, nil
}

func (c *Client) provider(ctx context.Context, issuer string) (*oidc.Provider, error) {
	c.providersLock.RLock()
	provider, exists := c.providers[issuer]
	c.providersLock.RUnlock()
	if exists {
		return provider, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), issuer)
	if err != nil {
		log.Err(err).Str("issuer", issuer).Msg("OIDC discovery failed")
		return nil, errors.Wrapf(err, "failed to create OIDC provider for %s", issuer)
	}

	c.providersLock.Lock()
	c.providers[issuer] = provider
	c.providersLock.Unlock()
	return provider, nil
}

func scopes(configured []string) []string {
	out := []string{oidc.ScopeOpenID}
	for _, s := range configured {
		if s != "" && s != oidc.ScopeOpenID {
			out = append(out, s)
		}
	}
	return out
}
