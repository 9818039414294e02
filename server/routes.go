package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RoutePing, s.PingHandler())

	// Browser facing pages, opened by the viewer in a new window
	s.RegisterRouteHandler("GET "+RouteAccessService, ChainMiddleware(s.AccessServiceHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteGesture, ChainMiddleware(s.GestureHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteOidcCallback, ChainMiddleware(s.OidcCallbackHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))

	// Loaded by the viewer in a hidden iframe, so it must be frameable
	s.RegisterRouteHandler("GET "+RouteAccessToken, ChainMiddleware(s.AccessTokenHandler(), s.FrameableMiddleware()...))

	// API routes
	s.RegisterRouteHandler("GET "+RouteProbe, ChainMiddleware(s.ProbeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS "+RouteProbe, ChainMiddleware(s.preflightHandler, s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteVerify, ChainMiddleware(s.VerifyHandler(), s.APIMiddleware()...))
}

// PingHandler reports liveness.
func (s *Server) PingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("pong"))
	}
}

// preflightHandler answers OPTIONS requests without an Origin header;
// CorsMiddleware answers the rest.
func (s *Server) preflightHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
