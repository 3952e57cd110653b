package oauthkit

import (
	"net/http"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
)

// DefaultAPIBaseURL is the Spotify Web API root used for resource calls.
const DefaultAPIBaseURL = "https://api.spotify.com/v1"

// DefaultScopes is the fixed scope string requested at authorization.
var DefaultScopes = []string{
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadEmail,
}

// ProviderConfig describes the OAuth client registration and provider endpoints.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	HTTPTimeout  time.Duration
}

// ServerConfig configures the provider, cookies, and session lifetime.
type ServerConfig struct {
	Provider          ProviderConfig
	SessionSigningKey []byte
	SessionIssuer     string
	SessionCookieName string
	SessionTTL        time.Duration
	CookieDomain      string
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
}

// WithDefaults fills empty endpoint, scope, and timeout fields with Spotify defaults.
func (configuration ProviderConfig) WithDefaults() ProviderConfig {
	if configuration.AuthURL == "" {
		configuration.AuthURL = spotifyauth.AuthURL
	}
	if configuration.TokenURL == "" {
		configuration.TokenURL = spotifyauth.TokenURL
	}
	if configuration.APIBaseURL == "" {
		configuration.APIBaseURL = DefaultAPIBaseURL
	}
	if len(configuration.Scopes) == 0 {
		configuration.Scopes = append([]string(nil), DefaultScopes...)
	}
	if configuration.HTTPTimeout <= 0 {
		configuration.HTTPTimeout = 10 * time.Second
	}
	return configuration
}
