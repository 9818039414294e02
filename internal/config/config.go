package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	AuthConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDatabaseURL() string
	GetLogLevel() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// AuthConfig holds the session, cookie and token settings used by the
// role provisioning flow.
type AuthConfig interface {
	GetSessionTTL() time.Duration
	GetRefreshThreshold() time.Duration
	GetSessionCacheTTL() time.Duration
	GetConfigCacheTTL() time.Duration
	GetCookieNamePrefix() string
	GetTokenValidFor() time.Duration
	GetIdpTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Cors
	Auth
}

func New() Config {
	return mainConfig{}
}
