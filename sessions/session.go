package sessions

import (
	"time"
)

// SessionUser is an active, role-bearing session scoped to one customer and
// one web origin.
type SessionUser struct {
	ID          string     // Unique session identifier (UUID)
	CustomerID  int        // Owning customer
	CookieID    string     // Carried in the session cookie value
	AccessToken string     // Bearer credential for probe calls
	Roles       []string   // Granted role ids
	Origin      string     // Web origin the session was created for
	Created     time.Time  // When the session was created
	Expires     time.Time  // Session is valid only while this is in the future
	LastChecked *time.Time // Last refresh, nil until the first one
}

// HasExpired reports whether the session is no longer valid at now.
func (s *SessionUser) HasExpired(now time.Time) bool {
	return !s.Expires.After(now)
}

// HasAnyRole reports whether the session holds at least one of roles.
func (s *SessionUser) HasAnyRole(roles []string) bool {
	for _, held := range s.Roles {
		for _, wanted := range roles {
			if held == wanted {
				return true
			}
		}
	}
	return false
}

// RoleProvisionToken is a single-use correlation token bridging a paused
// provisioning flow to the roles it will grant.
type RoleProvisionToken struct {
	ID         string    // Expiring token string, also the primary key
	CustomerID int       // Owning customer
	Roles      []string  // Candidate roles, empty until known
	Origin     string    // Origin the flow was started for
	Used       bool      // Set exactly once when the token is consumed
	Created    time.Time // When the token was created
	Version    int64     // Optimistic concurrency stamp
}

// CredentialKind selects which session credential a lookup matches on.
type CredentialKind int

const (
	CredentialCookieID CredentialKind = iota
	CredentialAccessToken
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialCookieID:
		return "cookie"
	case CredentialAccessToken:
		return "access-token"
	}
	return "unknown"
}
