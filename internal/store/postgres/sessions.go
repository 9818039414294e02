package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/sessions"
)

var _ sessions.Repo = (*SessionStore)(nil)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionStore persists sessions and role provision tokens.
type SessionStore struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool, q: pool}
}

const sessionColumns = `id, customer, cookie_id, access_token, roles, origin, created, expires, last_checked`

func (s *SessionStore) CreateSession(ctx context.Context, session *sessions.SessionUser) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO session_users (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, session.ID, session.CustomerID, session.CookieID, session.AccessToken, nonNil(session.Roles),
		session.Origin, session.Created, session.Expires, session.LastChecked)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, session *sessions.SessionUser) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE session_users
		SET roles = $2, origin = $3, expires = $4, last_checked = $5
		WHERE id = $1
	`, session.ID, nonNil(session.Roles), session.Origin, session.Expires, session.LastChecked)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autherrors.Wrapf(autherrors.ErrNotFound, "session %s", session.ID)
	}
	return nil
}

func (s *SessionStore) FindSession(ctx context.Context, customerID int, kind sessions.CredentialKind, value string) (*sessions.SessionUser, error) {
	column := "cookie_id"
	if kind == sessions.CredentialAccessToken {
		column = "access_token"
	}

	var session sessions.SessionUser
	row := s.q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM session_users
		WHERE customer = $1 AND `+column+` = $2
	`, customerID, value)
	if err := row.Scan(&session.ID, &session.CustomerID, &session.CookieID, &session.AccessToken, &session.Roles,
		&session.Origin, &session.Created, &session.Expires, &session.LastChecked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, autherrors.ErrNotFound
		}
		return nil, fmt.Errorf("find session by %s: %w", kind, err)
	}
	return &session, nil
}

func (s *SessionStore) CreateToken(ctx context.Context, t *sessions.RoleProvisionToken) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO role_provision_tokens (id, customer, roles, origin, used, created, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.CustomerID, nonNil(t.Roles), t.Origin, t.Used, t.Created, t.Version)
	if err != nil {
		return fmt.Errorf("insert role provision token: %w", err)
	}
	return nil
}

func (s *SessionStore) GetToken(ctx context.Context, id string) (*sessions.RoleProvisionToken, error) {
	var t sessions.RoleProvisionToken
	row := s.q.QueryRow(ctx, `
		SELECT id, customer, roles, origin, used, created, version
		FROM role_provision_tokens
		WHERE id = $1
	`, id)
	if err := row.Scan(&t.ID, &t.CustomerID, &t.Roles, &t.Origin, &t.Used, &t.Created, &t.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, autherrors.ErrNotFound
		}
		return nil, fmt.Errorf("get role provision token: %w", err)
	}
	return &t, nil
}

// UpdateToken writes t only if the stored version still matches t.Version,
// then advances t.Version.
func (s *SessionStore) UpdateToken(ctx context.Context, t *sessions.RoleProvisionToken) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE role_provision_tokens
		SET roles = $2, origin = $3, used = $4, version = version + 1
		WHERE id = $1 AND version = $5
	`, t.ID, nonNil(t.Roles), t.Origin, t.Used, t.Version)
	if err != nil {
		return fmt.Errorf("update role provision token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autherrors.ErrConcurrencyConflict
	}
	t.Version++
	return nil
}

// InTx runs fn against a store bound to one transaction, committing when fn
// returns nil. Nested calls reuse the open transaction.
func (s *SessionStore) InTx(ctx context.Context, fn func(repo sessions.Repo) error) error {
	if s.inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&SessionStore{pool: s.pool, q: tx, inTx: true})
	})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
