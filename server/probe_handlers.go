package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/iiif-auth-server/access"
)

// AccessTokenPageData contains data for rendering the access token page
type AccessTokenPageData struct {
	Body   access.TokenResponse
	Origin string
}

// AccessTokenHandler is the IIIF access token service. The response page
// posts the token, or the reason none was issued, to the requesting origin.
func (s *Server) AccessTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := customerFromPath(w, r)
		if !ok {
			return
		}
		messageID, origin := r.URL.Query().Get("messageId"), r.URL.Query().Get("origin")
		if messageID == "" || origin == "" {
			http.Error(w, "messageId and origin are required", http.StatusBadRequest)
			return
		}

		result, err := s.sessions.GetSessionFromCookie(w, r, customerID, origin)
		if err != nil {
			log.Err(err).Int("customer", customerID).Msg("Access token: session lookup failed")
		}
		body := access.IssueAccessToken(result, err, messageID, s.nowTime())

		w.Header().Set("Content-Type", contentTypeHTML)
		if err := s.accessTokenTmpl.Execute(w, AccessTokenPageData{Body: body, Origin: origin}); err != nil {
			log.Err(err).Msg("Failed to render access token template")
		}
	}
}

// ProbeHandler checks a bearer access token against the requested roles and
// reports the verdict as a probe result. The HTTP status is always 200; the
// verdict travels in the body.
func (s *Server) ProbeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := customerFromPath(w, r)
		if !ok {
			return
		}
		roles := r.URL.Query()["role"]
		result, err := s.sessions.GetSessionFromBearer(r, customerID, r.Header.Get("Origin"))
		if err != nil {
			log.Err(err).Int("customer", customerID).Msg("Probe: session lookup failed")
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(access.Probe(result, err, roles))
	}
}

// VerifyHandler checks the session cookie against the requested roles and
// answers with a bare status code.
func (s *Server) VerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := customerFromPath(w, r)
		if !ok {
			return
		}
		roles := r.URL.Query()["role"]
		result, err := s.sessions.GetSessionFromCookie(w, r, customerID, "")
		if err != nil {
			log.Err(err).Int("customer", customerID).Msg("Verify: session lookup failed")
		}
		verdict := access.Evaluate(result, err, roles)
		log.Debug().Int("customer", customerID).Stringer("lookup", result.Status).Stringer("verdict", verdict).Msg("Verify")
		w.WriteHeader(verdict.StatusCode())
	}
}
