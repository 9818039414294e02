package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/iiif-auth-server/credentials"
	"github.com/jrsteele09/iiif-auth-server/domains"
	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/sessions"
	"github.com/jrsteele09/iiif-auth-server/tenants"
)

// Messages shown to the user when a flow cannot complete.
const (
	MessageTokenInvalid       = "Token invalid or expired"
	MessageNoRoles            = "No roles could be granted for this account"
	MessageIdentityUnverified = "Unable to verify identity with the identity provider"
)

const (
	defaultGestureTitle   = "Confirm access"
	defaultGestureMessage = "Click to continue to the protected content"
	defaultConfirmLabel   = "Continue"
)

// SessionManager is the slice of sessions.Manager used while provisioning.
type SessionManager interface {
	CreateSessionForRoles(w http.ResponseWriter, r *http.Request, customerID int, roles []string, origin string) (*sessions.SessionUser, error)
	CreateRoleProvisionToken(ctx context.Context, customerID int, roles []string, origin string) (string, error)
	ClaimRoleProvisionToken(ctx context.Context, customerID int, tokenID string) (*sessions.RoleProvisionToken, error)
	TryCreateSessionFromToken(w http.ResponseWriter, r *http.Request, customerID int, tokenID string) (*sessions.SessionUser, error)
}

// DomainTrust decides whether an origin is on a controlled domain.
type DomainTrust interface {
	OriginForControlledDomain(ctx context.Context, r *http.Request, customerID int, origin string) bool
}

// IdentityProvider performs the OIDC round trip with an upstream provider.
type IdentityProvider interface {
	GetLoginURL(ctx context.Context, settings *tenants.OidcSettings, callbackURL, state string) (string, error)
	ExchangeCodeForClaims(ctx context.Context, settings *tenants.OidcSettings, callbackURL, code string) (jwt.MapClaims, error)
}

// Deps holds the collaborators of the Orchestrator.
type Deps struct {
	Tenants  tenants.Repo     // Customer configuration, usually cached
	Sessions SessionManager   // Session and token lifecycle
	Trust    DomainTrust      // Controlled domain checks
	Identity IdentityProvider // Upstream OIDC client
}

// Orchestrator drives the role provisioning state machine for clickthrough
// and OIDC role providers.
type Orchestrator struct {
	deps Deps
}

func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Tenants == nil {
		return nil, errors.New("[NewOrchestrator] Tenants repo is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("[NewOrchestrator] Sessions is required")
	}
	if deps.Trust == nil {
		return nil, errors.New("[NewOrchestrator] Trust is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("[NewOrchestrator] Identity is required")
	}
	return &Orchestrator{deps: deps}, nil
}

// provisioning is the resolved configuration for one access service request.
type provisioning struct {
	config   *tenants.CustomerConfig
	service  *tenants.AccessService
	settings tenants.ProviderSettings
}

// BeginAccessService handles the initial access service request. Unknown
// customers and access services return errors matching ErrCustomerNotFound
// or ErrAccessServiceNotFound.
func (o *Orchestrator) BeginAccessService(w http.ResponseWriter, r *http.Request, customerID int, accessServiceName, origin string) (Outcome, error) {
	p, err := o.resolve(r, customerID, accessServiceName)
	if err != nil {
		return Outcome{}, err
	}

	switch p.settings.Type {
	case tenants.ProviderTypeClickthrough:
		return o.grant(w, r, customerID, p, p.config.RolesFor(p.service), origin)

	case tenants.ProviderTypeOidc:
		if p.settings.Oidc == nil {
			return Outcome{}, errors.Wrapf(autherrors.ErrInvalidArgument, "[Orchestrator.BeginAccessService] access service %s has no oidc settings", p.service.Name)
		}
		state, err := o.deps.Sessions.CreateRoleProvisionToken(r.Context(), customerID, []string{}, origin)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "[Orchestrator.BeginAccessService] CreateRoleProvisionToken")
		}
		loginURL, err := o.deps.Identity.GetLoginURL(r.Context(), p.settings.Oidc, CallbackURL(r, customerID, p.service.Name), state)
		if err != nil {
			return Outcome{}, errors.Wrap(fmt.Errorf("%w: %v", autherrors.ErrUnavailable, err), "[Orchestrator.BeginAccessService] GetLoginURL")
		}
		log.Debug().Int("customer", customerID).Str("access_service", p.service.Name).Msg("Redirecting to identity provider")
		return Outcome{Kind: RedirectToIdentityProvider, RedirectURL: loginURL}, nil
	}

	return Outcome{}, errors.Wrapf(autherrors.ErrUnsupported, "[Orchestrator.BeginAccessService] provider type %q", p.settings.Type)
}

// CompleteOidcCallback resumes an OIDC flow. The state token is consumed so a
// replayed callback grants nothing.
func (o *Orchestrator) CompleteOidcCallback(w http.ResponseWriter, r *http.Request, customerID int, accessServiceName, state, code string) (Outcome, error) {
	ctx := r.Context()
	p, err := o.resolve(r, customerID, accessServiceName)
	if err != nil {
		return Outcome{}, err
	}
	if p.settings.Type != tenants.ProviderTypeOidc || p.settings.Oidc == nil {
		return Outcome{}, errors.Wrapf(autherrors.ErrUnsupported, "[Orchestrator.CompleteOidcCallback] access service %s is not oidc", p.service.Name)
	}

	t, err := o.deps.Sessions.ClaimRoleProvisionToken(ctx, customerID, state)
	if err != nil {
		if sessions.IsTokenRejected(err) {
			log.Info().Err(err).Int("customer", customerID).Msg("OIDC callback with unusable state token")
			return errorOutcome(MessageTokenInvalid), nil
		}
		return Outcome{}, errors.Wrap(err, "[Orchestrator.CompleteOidcCallback] ClaimRoleProvisionToken")
	}

	idClaims, err := o.deps.Identity.ExchangeCodeForClaims(ctx, p.settings.Oidc, CallbackURL(r, customerID, p.service.Name), code)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		log.Err(err).Int("customer", customerID).Str("access_service", p.service.Name).Msg("Failed to exchange authorization code")
		return errorOutcome(MessageIdentityUnverified), nil
	}

	mapped := p.settings.Oidc.Policy().Map(idClaims)
	if !mapped.Success || len(mapped.Roles) == 0 {
		log.Info().Int("customer", customerID).Str("access_service", p.service.Name).Msg("Identity claims mapped to no roles")
		return errorOutcome(MessageNoRoles), nil
	}

	return o.grant(w, r, customerID, p, mapped.Roles, t.Origin)
}

// CompleteGesture consumes the single-use token posted back from the
// significant gesture page. The session origin is the one stored with the
// token.
func (o *Orchestrator) CompleteGesture(w http.ResponseWriter, r *http.Request, customerID int, singleUseToken string) (Outcome, error) {
	session, err := o.deps.Sessions.TryCreateSessionFromToken(w, r, customerID, singleUseToken)
	if err != nil {
		if sessions.IsTokenRejected(err) {
			log.Info().Err(err).Int("customer", customerID).Msg("Significant gesture with unusable token")
			return errorOutcome(MessageTokenInvalid), nil
		}
		return Outcome{}, errors.Wrap(err, "[Orchestrator.CompleteGesture] TryCreateSessionFromToken")
	}
	return Outcome{Kind: SessionCreated, Session: session}, nil
}

// grant creates the session straight away for a controlled origin, otherwise
// it parks the roles behind a single-use token for the gesture page.
func (o *Orchestrator) grant(w http.ResponseWriter, r *http.Request, customerID int, p *provisioning, roles []string, origin string) (Outcome, error) {
	if len(roles) == 0 {
		log.Warn().Err(autherrors.ErrNoRoles).Int("customer", customerID).Str("access_service", p.service.Name).Msg("Access service grants no roles")
		return errorOutcome(MessageNoRoles), nil
	}

	if o.deps.Trust.OriginForControlledDomain(r.Context(), r, customerID, origin) {
		session, err := o.deps.Sessions.CreateSessionForRoles(w, r, customerID, roles, origin)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "[Orchestrator.grant] CreateSessionForRoles")
		}
		return Outcome{Kind: SessionCreated, Session: session}, nil
	}

	tokenID, err := o.deps.Sessions.CreateRoleProvisionToken(r.Context(), customerID, roles, origin)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "[Orchestrator.grant] CreateRoleProvisionToken")
	}
	return Outcome{
		Kind:           SignificantGestureRequired,
		SingleUseToken: tokenID,
		Gesture:        gestureCopy(p),
	}, nil
}

func (o *Orchestrator) resolve(r *http.Request, customerID int, accessServiceName string) (*provisioning, error) {
	cfg, err := o.deps.Tenants.GetCustomerConfig(r.Context(), customerID)
	if err != nil {
		return nil, errors.Wrap(err, "[Orchestrator.resolve] GetCustomerConfig")
	}

	service, ok := cfg.AccessService(accessServiceName)
	if !ok {
		return nil, errors.Wrapf(autherrors.ErrAccessServiceNotFound, "[Orchestrator.resolve] %s", accessServiceName)
	}

	p := &provisioning{config: cfg, service: service}
	if service.RoleProviderID == "" {
		p.settings = tenants.ProviderSettings{Type: tenants.ProviderTypeClickthrough}
		return p, nil
	}

	provider, ok := cfg.RoleProvider(service.RoleProviderID)
	if !ok {
		return nil, errors.Wrapf(autherrors.ErrRoleProviderNotFound, "[Orchestrator.resolve] %s", service.RoleProviderID)
	}
	settings, ok := provider.Configuration.ForHost(credentials.RequestHost(r))
	if !ok {
		return nil, errors.Wrapf(autherrors.ErrRoleProviderNotFound, "[Orchestrator.resolve] no configuration for host %s", credentials.RequestHost(r))
	}
	p.settings = settings
	return p, nil
}

// CallbackURL is the OIDC redirect URI for an access service, built from the
// request's own scheme and host.
func CallbackURL(r *http.Request, customerID int, accessServiceName string) string {
	return fmt.Sprintf("%s://%s/access/%d/%s/oauth2/callback",
		domains.RequestScheme(r), r.Host, customerID, url.PathEscape(accessServiceName))
}

func gestureCopy(p *provisioning) GestureCopy {
	return GestureCopy{
		Title:        firstNonEmpty(p.settings.GestureTitle, p.service.Heading, defaultGestureTitle),
		Message:      firstNonEmpty(p.settings.GestureMessage, p.service.Note, defaultGestureMessage),
		ConfirmLabel: firstNonEmpty(p.service.ConfirmLabel, defaultConfirmLabel),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
