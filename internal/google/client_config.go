package google

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ClientConfig describes the application's OAuth client as registered in the
// Google Cloud Console. It is loaded once and never mutated.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
}

// LoadClientConfig reads a client secrets file downloaded from the Google
// Cloud Console ("Desktop application" or "Web application" credentials).
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newAuthError(ErrUnrecoverableAuthFailure, "load client config",
				fmt.Errorf("%s not found; create OAuth credentials (Desktop application) in the Google Cloud Console and save them there", path))
		}
		return nil, fmt.Errorf("failed to read client config %s: %w", path, err)
	}
	return ParseClientConfig(data)
}

// ParseClientConfig parses client secrets JSON.
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	conf, err := google.ConfigFromJSON(data)
	if err != nil {
		return nil, newAuthError(ErrUnrecoverableAuthFailure, "parse client config", err)
	}
	cfg := &ClientConfig{
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		AuthURL:      conf.Endpoint.AuthURL,
		TokenURL:     conf.Endpoint.TokenURL,
		RedirectURL:  conf.RedirectURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the fields needed for the authorization-code flow are set.
func (c *ClientConfig) Validate() error {
	switch {
	case c.ClientID == "":
		return newAuthError(ErrUnrecoverableAuthFailure, "validate client config", fmt.Errorf("client_id is missing"))
	case c.AuthURL == "":
		return newAuthError(ErrUnrecoverableAuthFailure, "validate client config", fmt.Errorf("auth_uri is missing"))
	case c.TokenURL == "":
		return newAuthError(ErrUnrecoverableAuthFailure, "validate client config", fmt.Errorf("token_uri is missing"))
	}
	return nil
}

// OAuth2Config returns an oauth2.Config for the given scopes and redirect URL.
// An empty redirectURL falls back to the one from the client secrets file.
func (c *ClientConfig) OAuth2Config(scopes ScopeSet, redirectURL string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = c.RedirectURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      scopes.Strings(),
	}
}

// Fingerprint returns a short, non-secret identifier for the client, safe to log.
func (c *ClientConfig) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.ClientID))
	return hex.EncodeToString(sum[:6])
}
