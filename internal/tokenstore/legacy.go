package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/teemow/jarvis/internal/google"
)

// legacyToken is the token.json format written by google-auth
// (Credentials.to_json) in earlier versions of the assistant.
type legacyToken struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	Expiry       string   `json:"expiry"`
}

// google-auth writes naive UTC timestamps, with or without a trailing Z.
var legacyExpiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ReadLegacyToken reads a google-auth token.json file.
func ReadLegacyToken(path string) (*google.TokenRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseLegacyToken(data)
}

// ParseLegacyToken converts a google-auth token.json document into a token
// record. The record keeps the client id it was issued to, so it is only
// used with the same OAuth client.
func ParseLegacyToken(data []byte) (*google.TokenRecord, error) {
	var lt legacyToken
	if err := json.Unmarshal(data, &lt); err != nil {
		return nil, fmt.Errorf("%w: %v", google.ErrCorruptToken, err)
	}
	if lt.Token == "" && lt.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no access or refresh token", google.ErrCorruptToken)
	}

	rec := &google.TokenRecord{
		AccessToken:  lt.Token,
		RefreshToken: lt.RefreshToken,
		TokenType:    "Bearer",
		Scopes:       google.NewScopeSet(lt.Scopes...),
		ClientID:     lt.ClientID,
		UpdatedAt:    time.Now().UTC(),
	}

	if lt.Expiry != "" {
		expiry, err := parseLegacyExpiry(lt.Expiry)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", google.ErrCorruptToken, err)
		}
		rec.Expiry = expiry
	} else if rec.AccessToken != "" {
		// Unknown expiry: force a refresh on first use.
		rec.AccessToken = ""
	}

	return rec, nil
}

func parseLegacyExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range legacyExpiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry %q", s)
}
