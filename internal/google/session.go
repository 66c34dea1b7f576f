package google

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Session is an authorized handle bound to a token snapshot that was valid
// and covering when Acquire returned it. It is never persisted. Sessions are
// short lived; acquire a new one before each operation.
type Session struct {
	account string
	token   *oauth2.Token
	scopes  ScopeSet
}

func newSession(account string, rec *TokenRecord) *Session {
	return &Session{
		account: account,
		token: &oauth2.Token{
			AccessToken: rec.AccessToken,
			TokenType:   rec.TokenType,
			Expiry:      rec.Expiry,
		},
		scopes: rec.Scopes.Strings(),
	}
}

// Account returns the account the session belongs to.
func (s *Session) Account() string {
	return s.account
}

// Scopes returns the scopes granted to the underlying token.
func (s *Session) Scopes() ScopeSet {
	return s.scopes.Strings()
}

// Expiry returns when the access token expires. Zero means unknown.
func (s *Session) Expiry() time.Time {
	return s.token.Expiry
}

// Token returns a copy of the access token. The refresh token is never
// exposed through a session.
func (s *Session) Token() *oauth2.Token {
	t := *s.token
	return &t
}

// TokenSource returns a static token source for the session's access token.
func (s *Session) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(s.Token())
}

// HTTPClient returns an HTTP client that authorizes requests with the
// session's access token.
// The client is configured to use HTTP/1.1 to avoid HTTP/2 protocol errors
func (s *Session) HTTPClient(ctx context.Context) *http.Client {
	client := oauth2.NewClient(ctx, s.TokenSource())

	if transport, ok := client.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			ForceAttemptHTTP2: false,
		}
	}

	return client
}
