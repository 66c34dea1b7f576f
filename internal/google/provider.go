package google

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRevokeURL is Google's token revocation endpoint.
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// TokenProvider is the provider-specific part of the OAuth flow.
// Errors from ExchangeCode and Refresh are classified *AuthError values.
type TokenProvider interface {
	// AuthCodeURL returns the URL the user opens to grant consent.
	AuthCodeURL(state, redirectURL, verifier string, scopes ScopeSet) string

	// ExchangeCode trades an authorization code for a token record.
	ExchangeCode(ctx context.Context, code, redirectURL, verifier string, scopes ScopeSet) (*TokenRecord, error)

	// Refresh obtains a new access token using rec's refresh token.
	Refresh(ctx context.Context, rec *TokenRecord) (*TokenRecord, error)
}

// Revoker is implemented by providers that can revoke a grant remotely.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// OAuth2Provider implements TokenProvider on top of golang.org/x/oauth2.
type OAuth2Provider struct {
	client     *ClientConfig
	httpClient *http.Client
	revokeURL  string
}

// NewOAuth2Provider creates a provider for the given client. A nil httpClient
// uses http.DefaultClient.
func NewOAuth2Provider(client *ClientConfig, httpClient *http.Client) *OAuth2Provider {
	return &OAuth2Provider{
		client:     client,
		httpClient: httpClient,
		revokeURL:  DefaultRevokeURL,
	}
}

// SetRevokeURL overrides the revocation endpoint.
func (p *OAuth2Provider) SetRevokeURL(u string) {
	p.revokeURL = u
}

func (p *OAuth2Provider) withHTTPClient(ctx context.Context) context.Context {
	if p.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	return ctx
}

// AuthCodeURL requests offline access with PKCE (S256). prompt=consent makes
// Google return a refresh token even when the user granted access before.
func (p *OAuth2Provider) AuthCodeURL(state, redirectURL, verifier string, scopes ScopeSet) string {
	conf := p.client.OAuth2Config(scopes, redirectURL)
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return conf.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for tokens.
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code, redirectURL, verifier string, scopes ScopeSet) (*TokenRecord, error) {
	conf := p.client.OAuth2Config(scopes, redirectURL)

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := conf.Exchange(p.withHTTPClient(ctx), code, opts...)
	if err != nil {
		return nil, ClassifyTokenError("exchange", err)
	}
	if tok.RefreshToken == "" {
		// Without a refresh token the grant dies with the access token.
		return nil, newAuthError(ErrUnrecoverableAuthFailure, "exchange",
			fmt.Errorf("provider did not return a refresh token"))
	}

	rec := NewTokenRecord(tok, scopes, nil, time.Now())
	rec.ClientID = p.client.ClientID
	return rec, nil
}

// Refresh obtains a new access token. The returned record keeps rec's
// refresh token when the provider does not rotate it.
func (p *OAuth2Provider) Refresh(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	if rec == nil || rec.RefreshToken == "" {
		return nil, newAuthError(ErrUnrecoverableAuthFailure, "refresh",
			&OAuthError{Code: codeInvalidGrant, Description: "no refresh token available"})
	}

	conf := p.client.OAuth2Config(rec.Scopes, "")

	// Force a refresh by handing the token source an expired token.
	ts := conf.TokenSource(p.withHTTPClient(ctx), &oauth2.Token{
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := ts.Token()
	if err != nil {
		return nil, ClassifyTokenError("refresh", err)
	}

	next := NewTokenRecord(tok, rec.Scopes, rec, time.Now())
	next.ClientID = p.client.ClientID
	return next, nil
}

// Revoke revokes a refresh or access token at the provider.
func (p *OAuth2Provider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := p.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return ClassifyTokenError("revoke", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return ClassifyTokenError("revoke", &OAuthError{Code: "revoke_failed", Status: resp.StatusCode})
	}
	return nil
}
