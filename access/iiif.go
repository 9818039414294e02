package access

import (
	"math"
	"time"

	"github.com/jrsteele09/iiif-auth-server/sessions"
)

const (
	AuthContext = "http://iiif.io/api/auth/2/context.json"

	TypeProbeResult      = "AuthProbeResult2"
	TypeAccessToken      = "AuthAccessToken2"
	TypeAccessTokenError = "AuthAccessTokenError2"
)

// Access token error profiles.
const (
	ProfileMissingAspect = "missingAspect"
	ProfileInvalidAspect = "invalidAspect"
	ProfileExpiredAspect = "expiredAspect"
	ProfileInvalidOrigin = "invalidOrigin"
	ProfileUnavailable   = "unavailable"
)

// LanguageMap is a IIIF language map.
type LanguageMap map[string][]string

// English returns a language map holding a single English value.
func English(value string) LanguageMap {
	return LanguageMap{"en": {value}}
}

type ProbeResult struct {
	Context string      `json:"@context"`
	Type    string      `json:"type"`
	Status  int         `json:"status"`
	Heading LanguageMap `json:"heading,omitempty"`
	Note    LanguageMap `json:"note,omitempty"`
}

// TokenResponse is either an AccessToken or an AccessTokenError.
type TokenResponse interface {
	isTokenResponse()
}

type AccessToken struct {
	Context     string `json:"@context"`
	Type        string `json:"type"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
	MessageID   string `json:"messageId"`
}

func (AccessToken) isTokenResponse() {}

type AccessTokenError struct {
	Context   string      `json:"@context"`
	Type      string      `json:"type"`
	Profile   string      `json:"profile"`
	Heading   LanguageMap `json:"heading,omitempty"`
	Note      LanguageMap `json:"note,omitempty"`
	MessageID string      `json:"messageId"`
}

func (AccessTokenError) isTokenResponse() {}

type failureText struct {
	heading string
	note    string
}

var lookupFailures = map[sessions.LookupStatus]failureText{
	sessions.MissingCredentials: {"Missing credentials", "No credentials were supplied with the request"},
	sessions.InvalidCredential:  {"Invalid credentials", "The supplied credentials could not be read"},
	sessions.MissingSession:     {"Session not found", "No session exists for the supplied credentials"},
	sessions.ExpiredSession:     {"Expired session", "The session has expired, please log in again"},
	sessions.DifferentOrigin:    {"Invalid origin", "The session was not created for this origin"},
}

var (
	forbiddenText   = failureText{"Forbidden", "The session does not grant access to this resource"}
	unavailableText = failureText{"Unavailable", "The service is unable to verify access at this time"}
)

// Probe builds the probe service response for a lookup. Each lookup failure
// reason carries its own heading and note.
func Probe(result sessions.LookupResult, err error, requestedRoles []string) ProbeResult {
	verdict := Evaluate(result, err, requestedRoles)
	probe := ProbeResult{
		Context: AuthContext,
		Type:    TypeProbeResult,
		Status:  verdict.StatusCode(),
	}

	var text failureText
	switch verdict {
	case Authorized:
		return probe
	case Forbidden:
		text = forbiddenText
	case VerdictError:
		text = unavailableText
	default:
		text = lookupText(result.Status)
	}
	probe.Heading = English(text.heading)
	probe.Note = English(text.note)
	return probe
}

// IssueAccessToken turns a cookie lookup into an access token for the
// session, or the error profile matching why none can be issued.
func IssueAccessToken(result sessions.LookupResult, err error, messageID string, now time.Time) TokenResponse {
	if err != nil {
		return tokenError(ProfileUnavailable, unavailableText, messageID)
	}
	if result.IsSuccess() {
		return AccessToken{
			Context:     AuthContext,
			Type:        TypeAccessToken,
			AccessToken: result.Session.AccessToken,
			ExpiresIn:   expiresIn(result.Session.Expires, now),
			MessageID:   messageID,
		}
	}

	text := lookupText(result.Status)
	switch result.Status {
	case sessions.MissingCredentials:
		return tokenError(ProfileMissingAspect, text, messageID)
	case sessions.ExpiredSession:
		return tokenError(ProfileExpiredAspect, text, messageID)
	case sessions.DifferentOrigin:
		return tokenError(ProfileInvalidOrigin, text, messageID)
	default:
		return tokenError(ProfileInvalidAspect, text, messageID)
	}
}

func tokenError(profile string, text failureText, messageID string) AccessTokenError {
	return AccessTokenError{
		Context:   AuthContext,
		Type:      TypeAccessTokenError,
		Profile:   profile,
		Heading:   English(text.heading),
		Note:      English(text.note),
		MessageID: messageID,
	}
}

func lookupText(status sessions.LookupStatus) failureText {
	if text, ok := lookupFailures[status]; ok {
		return text
	}
	return lookupFailures[sessions.MissingSession]
}

func expiresIn(expires, now time.Time) int {
	secs := math.Floor(expires.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return int(secs)
}
