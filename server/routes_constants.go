package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// IIIF access service routes
	RouteAccessService = "/access/{customer}/{accessService}"
	RouteGesture       = "/access/{customer}/gesture"
	RouteOidcCallback  = "/access/{customer}/{accessService}/oauth2/callback"
	RouteAccessToken   = "/access/{customer}/token"
	RouteLogout        = "/access/{customer}/logout"

	// Verification routes
	RouteProbe  = "/probe/{customer}"
	RouteVerify = "/verify/{customer}"

	RoutePing = "/ping"
)

// Path building patterns for the routes above.
const (
	gesturePathFormat = "/access/%d/gesture"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json"
)
