package errors

import (
	"errors"
	"fmt"
)

// Common error types for the IIIF auth service
var (
	// Configuration errors
	ErrCustomerNotFound      = errors.New("customer not found")
	ErrAccessServiceNotFound = errors.New("access service not found")
	ErrRoleProviderNotFound  = errors.New("role provider not found")

	// Credential and token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenUsed           = errors.New("token already used")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrNoIdentityToken     = errors.New("no id_token in token response")

	// Role grant errors
	ErrNoRoles = errors.New("no roles")

	// Secret errors
	ErrSecretNotFound = errors.New("secret not found")

	// General errors
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnavailable     = errors.New("unavailable")
	ErrUnsupported     = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
