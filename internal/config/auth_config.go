package config

import "time"

type Auth struct{}

var _ AuthConfig = Auth{}

// GetSessionTTL is how long a session lives after creation or its last refresh.
func (Auth) GetSessionTTL() time.Duration {
	return GetDurationEnv("SESSION_TTL", 10*time.Minute)
}

// GetRefreshThreshold is the minimum age of lastChecked before a successful
// lookup extends the session in the store.
func (Auth) GetRefreshThreshold() time.Duration {
	return GetDurationEnv("SESSION_REFRESH_THRESHOLD", 2*time.Minute)
}

func (Auth) GetSessionCacheTTL() time.Duration {
	return GetDurationEnv("SESSION_CACHE_TTL", 5*time.Second)
}

func (Auth) GetConfigCacheTTL() time.Duration {
	return GetDurationEnv("CONFIG_CACHE_TTL", time.Minute)
}

func (Auth) GetCookieNamePrefix() string {
	return GetEnv("COOKIE_NAME_PREFIX", "dlcs-auth2-")
}

// GetTokenValidFor bounds the age of single-use role provision tokens.
func (Auth) GetTokenValidFor() time.Duration {
	return GetDurationEnv("TOKEN_VALID_FOR", 5*time.Minute)
}

func (Auth) GetIdpTimeout() time.Duration {
	return GetDurationEnv("IDP_TIMEOUT", 10*time.Second)
}
