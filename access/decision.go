package access

import (
	"github.com/jrsteele09/iiif-auth-server/sessions"
)

// Verdict is the outcome of an access check.
type Verdict int

const (
	Unauthorized Verdict = iota
	Authorized
	Forbidden
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case Authorized:
		return "Authorized"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case VerdictError:
		return "Error"
	}
	return "Unknown"
}

// StatusCode maps the verdict onto its HTTP equivalent.
func (v Verdict) StatusCode() int {
	switch v {
	case Authorized:
		return 200
	case Forbidden:
		return 403
	case VerdictError:
		return 503
	}
	return 401
}

// Decide grants access when the lookup succeeded and the session holds at
// least one of the requested roles.
func Decide(result sessions.LookupResult, requestedRoles []string) Verdict {
	if !result.IsSuccess() {
		return Unauthorized
	}
	if result.Session.HasAnyRole(requestedRoles) {
		return Authorized
	}
	return Forbidden
}

// Evaluate is Decide for a lookup that may have failed outright.
func Evaluate(result sessions.LookupResult, err error, requestedRoles []string) Verdict {
	if err != nil {
		return VerdictError
	}
	return Decide(result, requestedRoles)
}
