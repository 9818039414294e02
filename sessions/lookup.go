package sessions

// LookupStatus is the outcome of resolving a presented credential to a session.
type LookupStatus int

// Statuses in the order they are checked.
const (
	MissingCredentials LookupStatus = iota
	InvalidCredential
	MissingSession
	ExpiredSession
	DifferentOrigin
	Success
)

func (s LookupStatus) String() string {
	switch s {
	case MissingCredentials:
		return "MissingCredentials"
	case InvalidCredential:
		return "InvalidCredential"
	case MissingSession:
		return "MissingSession"
	case ExpiredSession:
		return "ExpiredSession"
	case DifferentOrigin:
		return "DifferentOrigin"
	case Success:
		return "Success"
	}
	return "Unknown"
}

// LookupResult carries the status and, when found, the session. Session may
// be set for ExpiredSession and DifferentOrigin as well as Success.
type LookupResult struct {
	Status  LookupStatus
	Session *SessionUser
}

func (r LookupResult) IsSuccess() bool {
	return r.Status == Success && r.Session != nil
}
