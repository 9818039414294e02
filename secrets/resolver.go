package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"

	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
)

const (
	envPrefix     = "env:"
	keyringPrefix = "keyring:"
)

// Resolver turns secret references from tenant configuration into secret
// values. References take the form "env:NAME" or "keyring:service/user";
// anything else is returned as the literal value.
type Resolver struct {
	lookupEnv  func(string) (string, bool)
	getKeyring func(service, user string) (string, error)
}

// ResolverOption defines a function type to modify the Resolver instance.
type ResolverOption func(*Resolver)

// WithLookupEnv replaces the environment lookup (primarily for testing)
func WithLookupEnv(lookup func(string) (string, bool)) ResolverOption {
	return func(r *Resolver) {
		r.lookupEnv = lookup
	}
}

func NewResolver(options ...ResolverOption) *Resolver {
	r := &Resolver{
		lookupEnv:  os.LookupEnv,
		getKeyring: keyring.Get,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Resolve returns the secret value for ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch {
	case strings.HasPrefix(ref, envPrefix):
		name := strings.TrimPrefix(ref, envPrefix)
		value, ok := r.lookupEnv(name)
		if !ok || value == "" {
			return "", errors.Wrapf(autherrors.ErrSecretNotFound, "[Resolver.Resolve] environment variable %s", name)
		}
		return value, nil

	case strings.HasPrefix(ref, keyringPrefix):
		service, user, ok := strings.Cut(strings.TrimPrefix(ref, keyringPrefix), "/")
		if !ok || service == "" || user == "" {
			return "", errors.Wrapf(autherrors.ErrInvalidArgument, "[Resolver.Resolve] keyring reference must be keyring:service/user")
		}
		value, err := r.getKeyring(service, user)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", errors.Wrapf(autherrors.ErrSecretNotFound, "[Resolver.Resolve] keyring entry %s/%s", service, user)
			}
			return "", errors.Wrap(err, "[Resolver.Resolve] keyring.Get")
		}
		return value, nil
	}

	return ref, nil
}
