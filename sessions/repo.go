package sessions

import "context"

// Repo defines the storage operations for sessions and role provision tokens.
type Repo interface {
	// CreateSession inserts a new session
	CreateSession(ctx context.Context, session *SessionUser) error

	// UpdateSession persists Expires and LastChecked of an existing session
	UpdateSession(ctx context.Context, session *SessionUser) error

	// FindSession returns the customer's session matching the credential, or
	// errors.ErrNotFound
	FindSession(ctx context.Context, customerID int, kind CredentialKind, value string) (*SessionUser, error)

	// CreateToken inserts a new role provision token
	CreateToken(ctx context.Context, token *RoleProvisionToken) error

	// GetToken retrieves a token by id, or errors.ErrNotFound
	GetToken(ctx context.Context, tokenID string) (*RoleProvisionToken, error)

	// UpdateToken persists Used when the stored version still equals
	// token.Version, then increments token.Version. A stale version returns
	// errors.ErrConcurrencyConflict.
	UpdateToken(ctx context.Context, token *RoleProvisionToken) error

	// InTx runs fn in a single unit of work, rolling back if fn fails
	InTx(ctx context.Context, fn func(repo Repo) error) error
}
