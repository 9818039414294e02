package auth

import (
	"github.com/jrsteele09/iiif-auth-server/sessions"
)

// OutcomeKind is the state a provisioning step finishes in.
type OutcomeKind int

const (
	OutcomeError OutcomeKind = iota
	SessionCreated
	SignificantGestureRequired
	RedirectToIdentityProvider
)

func (k OutcomeKind) String() string {
	switch k {
	case SessionCreated:
		return "SessionCreated"
	case SignificantGestureRequired:
		return "SignificantGestureRequired"
	case RedirectToIdentityProvider:
		return "RedirectToIdentityProvider"
	}
	return "Error"
}

// GestureCopy is the text shown on the significant gesture page.
type GestureCopy struct {
	Title        string
	Message      string
	ConfirmLabel string
}

// Outcome is the result of one provisioning step. Only the fields relevant
// to Kind are set.
type Outcome struct {
	Kind OutcomeKind

	Session        *sessions.SessionUser // SessionCreated
	SingleUseToken string                // SignificantGestureRequired
	Gesture        GestureCopy           // SignificantGestureRequired
	RedirectURL    string                // RedirectToIdentityProvider
	Message        string                // OutcomeError, safe to show to the user
}

func errorOutcome(message string) Outcome {
	return Outcome{Kind: OutcomeError, Message: message}
}
