package sessionrepofakes

import (
	"context"
	"sync"

	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
	"github.com/jrsteele09/iiif-auth-server/sessions"
	"github.com/pkg/errors"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

// FakeSessionRepo is an in-memory sessions.Repo. It hands out copies so
// callers cannot mutate stored state without going through the repo.
type FakeSessionRepo struct {
	sessions map[string]*sessions.SessionUser
	tokens   map[string]*sessions.RoleProvisionToken
	calls    map[string]int
	err      error
	lock     sync.RWMutex
	txLock   sync.Mutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*sessions.SessionUser),
		tokens:   make(map[string]*sessions.RoleProvisionToken),
		calls:    make(map[string]int),
	}
}

// SetError makes every subsequent call fail with err. A nil err restores
// normal behaviour.
func (sr *FakeSessionRepo) SetError(err error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	sr.err = err
}

// Calls returns the number of times method has been invoked.
func (sr *FakeSessionRepo) Calls(method string) int {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	return sr.calls[method]
}

// Sessions returns a snapshot of every stored session.
func (sr *FakeSessionRepo) Sessions() []*sessions.SessionUser {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	out := make([]*sessions.SessionUser, 0, len(sr.sessions))
	for _, s := range sr.sessions {
		out = append(out, copySession(s))
	}
	return out
}

func (sr *FakeSessionRepo) CreateSession(_ context.Context, session *sessions.SessionUser) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	if err := sr.beginLocked("CreateSession"); err != nil {
		return err
	}
	if _, ok := sr.sessions[session.ID]; ok {
		return errors.Wrapf(autherrors.ErrInvalidArgument, "[FakeSessionRepo.CreateSession] session %s exists", session.ID)
	}
	sr.sessions[session.ID] = copySession(session)
	return nil
}

func (sr *FakeSessionRepo) UpdateSession(_ context.Context, session *sessions.SessionUser) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	if err := sr.beginLocked("UpdateSession"); err != nil {
		return err
	}
	if _, ok := sr.sessions[session.ID]; !ok {
		return errors.Wrapf(autherrors.ErrNotFound, "[FakeSessionRepo.UpdateSession] session %s", session.ID)
	}
	sr.sessions[session.ID] = copySession(session)
	return nil
}

func (sr *FakeSessionRepo) FindSession(_ context.Context, customerID int, kind sessions.CredentialKind, value string) (*sessions.SessionUser, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	if err := sr.beginLocked("FindSession"); err != nil {
		return nil, err
	}
	for _, s := range sr.sessions {
		if s.CustomerID != customerID {
			continue
		}
		if (kind == sessions.CredentialCookieID && s.CookieID == value) ||
			(kind == sessions.CredentialAccessToken && s.AccessToken == value) {
			return copySession(s), nil
		}
	}
	return nil, autherrors.ErrNotFound
}

func (sr *FakeSessionRepo) CreateToken(_ context.Context, t *sessions.RoleProvisionToken) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	if err := sr.beginLocked("CreateToken"); err != nil {
		return err
	}
	if _, ok := sr.tokens[t.ID]; ok {
		return errors.Wrapf(autherrors.ErrInvalidArgument, "[FakeSessionRepo.CreateToken] token exists")
	}
	sr.tokens[t.ID] = copyToken(t)
	return nil
}

func (sr *FakeSessionRepo) GetToken(_ context.Context, id string) (*sessions.RoleProvisionToken, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	if err := sr.beginLocked("GetToken"); err != nil {
		return nil, err
	}
	t, ok := sr.tokens[id]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	return copyToken(t), nil
}

func (sr *FakeSessionRepo) UpdateToken(_ context.Context, t *sessions.RoleProvisionToken) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	if err := sr.beginLocked("UpdateToken"); err != nil {
		return err
	}
	stored, ok := sr.tokens[t.ID]
	if !ok {
		return autherrors.ErrNotFound
	}
	if stored.Version != t.Version {
		return autherrors.ErrConcurrencyConflict
	}
	t.Version++
	sr.tokens[t.ID] = copyToken(t)
	return nil
}

// InTx serialises units of work and restores the previous state when fn
// fails.
func (sr *FakeSessionRepo) InTx(_ context.Context, fn func(repo sessions.Repo) error) error {
	sr.txLock.Lock()
	defer sr.txLock.Unlock()

	sr.lock.Lock()
	sr.calls["InTx"]++
	sessionSnapshot := make(map[string]*sessions.SessionUser, len(sr.sessions))
	for k, v := range sr.sessions {
		sessionSnapshot[k] = v
	}
	tokenSnapshot := make(map[string]*sessions.RoleProvisionToken, len(sr.tokens))
	for k, v := range sr.tokens {
		tokenSnapshot[k] = v
	}
	sr.lock.Unlock()

	if err := fn(sr); err != nil {
		sr.lock.Lock()
		sr.sessions = sessionSnapshot
		sr.tokens = tokenSnapshot
		sr.lock.Unlock()
		return err
	}
	return nil
}

func (sr *FakeSessionRepo) beginLocked(method string) error {
	sr.calls[method]++
	return sr.err
}

func copySession(s *sessions.SessionUser) *sessions.SessionUser {
	c := *s
	c.Roles = append([]string{}, s.Roles...)
	if s.LastChecked != nil {
		lc := *s.LastChecked
		c.LastChecked = &lc
	}
	return &c
}

func copyToken(t *sessions.RoleProvisionToken) *sessions.RoleProvisionToken {
	c := *t
	c.Roles = append([]string{}, t.Roles...)
	return &c
}
