package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/iiif-auth-server/auth"
	"github.com/jrsteele09/iiif-auth-server/internal/config"
	"github.com/jrsteele09/iiif-auth-server/sessions"
)

// AccessFlow runs the role provisioning state machine.
type AccessFlow interface {
	BeginAccessService(w http.ResponseWriter, r *http.Request, customerID int, accessServiceName, origin string) (auth.Outcome, error)
	CompleteOidcCallback(w http.ResponseWriter, r *http.Request, customerID int, accessServiceName, state, code string) (auth.Outcome, error)
	CompleteGesture(w http.ResponseWriter, r *http.Request, customerID int, singleUseToken string) (auth.Outcome, error)
}

// SessionLookup resolves and ends sessions.
type SessionLookup interface {
	GetSessionFromCookie(w http.ResponseWriter, r *http.Request, customerID int, origin string) (sessions.LookupResult, error)
	GetSessionFromBearer(r *http.Request, customerID int, origin string) (sessions.LookupResult, error)
	Logout(w http.ResponseWriter, r *http.Request, customerID int) error
}

// Services holds the domain services behind the HTTP surface.
type Services struct {
	Flow     AccessFlow
	Sessions SessionLookup
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	flow     AccessFlow
	sessions SessionLookup
	nowTime  func() time.Time

	gestureTmpl     *template.Template
	windowCloseTmpl *template.Template
	accessTokenTmpl *template.Template
}

// ServerOption defines a function type to modify the Server instance.
type ServerOption func(*Server)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServerOption {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

func New(config config.Config, services Services, options ...ServerOption) (*Server, error) {
	if services.Flow == nil {
		return nil, errors.New("[Server New] access flow is required")
	}
	if services.Sessions == nil {
		return nil, errors.New("[Server New] session lookup is required")
	}

	s := &Server{
		env:      config.GetEnv(),
		mux:      http.NewServeMux(),
		config:   config,
		flow:     services.Flow,
		sessions: services.Sessions,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	var err error
	if s.gestureTmpl, err = ParseTemplate("gesture.html"); err != nil {
		return nil, fmt.Errorf("[Server New] failed to parse gesture template: %w", err)
	}
	if s.windowCloseTmpl, err = ParseTemplate("window_close.html"); err != nil {
		return nil, fmt.Errorf("[Server New] failed to parse window close template: %w", err)
	}
	if s.accessTokenTmpl, err = ParseTemplate("access_token.html"); err != nil {
		return nil, fmt.Errorf("[Server New] failed to parse access token template: %w", err)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}
