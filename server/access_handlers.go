package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/iiif-auth-server/auth"
	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
)

// GesturePageData contains data for rendering the significant gesture page
type GesturePageData struct {
	Title          string
	Message        string
	ConfirmLabel   string
	Action         string
	SingleUseToken string
}

// WindowClosePageData contains data for rendering the window close page
type WindowClosePageData struct {
	Error string
}

// AccessServiceHandler starts the access service flow for a customer's
// access service.
func (s *Server) AccessServiceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := customerFromPath(w, r)
		if !ok {
			return
		}
		outcome, err := s.flow.BeginAccessService(w, r, customerID, r.PathValue("accessService"), r.URL.Query().Get("origin"))
		if err != nil {
			writeFlowError(w, r, err)
			return
		}
		s.renderOutcome(w, r, customerID, outcome)
	}
}

// GestureHandler accepts the significant gesture postback.
func (s *Server) GestureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := customerFromPath(w, r)
		if !ok {
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}
		token := r.PostFormValue("singleUseToken")
		if token == "" {
			s.renderWindowClose(w, auth.MessageTokenInvalid)
			return
		}
		outcome, err := s.flow.CompleteGesture(w, r, customerID, token)
		if err != nil {
			writeFlowError(w, r, err)
			return
		}
		s.renderOutcome(w, r, customerID, outcome)
	}
}

// OidcCallbackHandler receives the identity provider's redirect.
func (s *Server) OidcCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := customerFromPath(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		if idpErr := q.Get("error"); idpErr != "" {
			log.Info().Int("customer", customerID).Str("error", idpErr).Str("description", q.Get("error_description")).
				Msg("Identity provider returned an error")
			s.renderWindowClose(w, auth.MessageIdentityUnverified)
			return
		}
		state, code := q.Get("state"), q.Get("code")
		if state == "" || code == "" {
			http.Error(w, "Missing state or code", http.StatusBadRequest)
			return
		}
		outcome, err := s.flow.CompleteOidcCallback(w, r, customerID, r.PathValue("accessService"), state, code)
		if err != nil {
			writeFlowError(w, r, err)
			return
		}
		s.renderOutcome(w, r, customerID, outcome)
	}
}

// LogoutHandler expires the caller's session. It always reports success.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := customerFromPath(w, r)
		if !ok {
			return
		}
		if err := s.sessions.Logout(w, r, customerID); err != nil {
			log.Err(err).Int("customer", customerID).Msg("Logout: failed to expire session")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) renderOutcome(w http.ResponseWriter, r *http.Request, customerID int, outcome auth.Outcome) {
	switch outcome.Kind {
	case auth.SessionCreated:
		s.renderWindowClose(w, "")
	case auth.RedirectToIdentityProvider:
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
	case auth.SignificantGestureRequired:
		w.Header().Set("Content-Type", contentTypeHTML)
		if err := s.gestureTmpl.Execute(w, GesturePageData{
			Title:          outcome.Gesture.Title,
			Message:        outcome.Gesture.Message,
			ConfirmLabel:   outcome.Gesture.ConfirmLabel,
			Action:         fmt.Sprintf(gesturePathFormat, customerID),
			SingleUseToken: outcome.SingleUseToken,
		}); err != nil {
			log.Err(err).Msg("Failed to render gesture template")
		}
	default:
		s.renderWindowClose(w, outcome.Message)
	}
}

func (s *Server) renderWindowClose(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", contentTypeHTML)
	if err := s.windowCloseTmpl.Execute(w, WindowClosePageData{Error: message}); err != nil {
		log.Err(err).Msg("Failed to render window close template")
	}
}

// writeFlowError maps provisioning errors onto status codes without
// exposing their text.
func writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case autherrors.Is(err, autherrors.ErrCustomerNotFound),
		autherrors.Is(err, autherrors.ErrAccessServiceNotFound),
		autherrors.Is(err, autherrors.ErrRoleProviderNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case autherrors.Is(err, autherrors.ErrInvalidArgument),
		autherrors.Is(err, autherrors.ErrUnsupported):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Access service misconfigured or misused")
		http.Error(w, "Bad request", http.StatusBadRequest)
	case r.Context().Err() != nil:
		log.Info().Err(err).Str("path", r.URL.Path).Msg("Request cancelled")
	default:
		log.Err(err).Str("path", r.URL.Path).Msg("Access service request failed")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
	}
}

func customerFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	customerID, err := strconv.Atoi(r.PathValue("customer"))
	if err != nil || customerID <= 0 {
		http.Error(w, "Invalid customer", http.StatusBadRequest)
		return 0, false
	}
	return customerID, true
}
