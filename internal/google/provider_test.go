package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// tokenServer is a fake Google token and revocation endpoint.
type tokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	forms    []url.Values
	revoked  []string
	revokeOK bool
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{revokeOK: true}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "Malformed auth code."})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "ya29.exchanged",
				"refresh_token": "1//exchanged",
				"token_type":    "Bearer",
				"expires_in":    3599,
				"scope":         ScopeGmailReadonly + " " + ScopeCalendarEvents,
			})
		case "refresh_token":
			switch r.PostForm.Get("refresh_token") {
			case "revoked":
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "Token has been expired or revoked."})
			case "wrong-client":
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client", "error_description": "The OAuth client was not found."})
			case "flaky":
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "backend_error"})
			default:
				_ = json.NewEncoder(w).Encode(map[string]any{
					"access_token": "ya29.refreshed",
					"token_type":   "Bearer",
					"expires_in":   3599,
				})
			}
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
		}
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.revoked = append(ts.revoked, r.PostForm.Get("token"))
		if !ts.revokeOK {
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) lastForm() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.forms) == 0 {
		return nil
	}
	return ts.forms[len(ts.forms)-1]
}

func (ts *tokenServer) provider() *OAuth2Provider {
	client := &ClientConfig{
		ClientID:     "jarvis-test.apps.googleusercontent.com",
		ClientSecret: "secret",
		AuthURL:      ts.URL + "/auth",
		TokenURL:     ts.URL + "/token",
	}
	p := NewOAuth2Provider(client, ts.Client())
	p.SetRevokeURL(ts.URL + "/revoke")
	return p
}

func TestOAuth2Provider_AuthCodeURL(t *testing.T) {
	ts := newTokenServer(t)
	p := ts.provider()
	verifier := oauth2.GenerateVerifier()

	raw := p.AuthCodeURL("state-123", "http://127.0.0.1:5555/callback", verifier, NewScopeSet(ScopeGmailReadonly, ScopeCalendarEvents))
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "/auth", u.Path)
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "http://127.0.0.1:5555/callback", q.Get("redirect_uri"))
	assert.Equal(t, ScopeGmailReadonly+" "+ScopeCalendarEvents, q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
}

func TestOAuth2Provider_ExchangeCode(t *testing.T) {
	ts := newTokenServer(t)
	p := ts.provider()

	rec, err := p.ExchangeCode(context.Background(), "good-code", "http://127.0.0.1:5555/callback", "the-verifier", readonly)
	require.NoError(t, err)
	assert.Equal(t, "ya29.exchanged", rec.AccessToken)
	assert.Equal(t, "1//exchanged", rec.RefreshToken)
	assert.Equal(t, "jarvis-test.apps.googleusercontent.com", rec.ClientID)
	assert.False(t, rec.Expiry.IsZero())
	assert.ElementsMatch(t, []string{ScopeGmailReadonly, ScopeCalendarEvents}, rec.Scopes.Strings(),
		"granted scopes come from the token response")

	form := ts.lastForm()
	assert.Equal(t, "the-verifier", form.Get("code_verifier"))
	assert.Equal(t, "http://127.0.0.1:5555/callback", form.Get("redirect_uri"))
	assert.Equal(t, "jarvis-test.apps.googleusercontent.com", form.Get("client_id"))
}

func TestOAuth2Provider_ExchangeCode_Rejected(t *testing.T) {
	ts := newTokenServer(t)

	_, err := ts.provider().ExchangeCode(context.Background(), "bad-code", "http://127.0.0.1:5555/callback", "v", readonly)
	require.Error(t, err)
	assert.True(t, IsUnrecoverable(err))

	var oe *OAuthError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, codeInvalidGrant, oe.Code)
	assert.Equal(t, http.StatusBadRequest, oe.Status)
}

func TestOAuth2Provider_Refresh(t *testing.T) {
	ts := newTokenServer(t)
	prev := &TokenRecord{
		AccessToken:  "ya29.old",
		RefreshToken: "1//keep",
		TokenType:    "Bearer",
		Scopes:       readonly,
	}

	rec, err := ts.provider().Refresh(context.Background(), prev)
	require.NoError(t, err)
	assert.Equal(t, "ya29.refreshed", rec.AccessToken)
	assert.Equal(t, "1//keep", rec.RefreshToken, "refresh token is kept when the response omits it")
	assert.Equal(t, readonly, rec.Scopes)
	assert.Equal(t, "refresh_token", ts.lastForm().Get("grant_type"))
}

func TestOAuth2Provider_Refresh_Errors(t *testing.T) {
	tests := []struct {
		name          string
		refreshToken  string
		transient     bool
		clientFailure bool
	}{
		{name: "revoked grant", refreshToken: "revoked"},
		{name: "unknown client", refreshToken: "wrong-client", clientFailure: true},
		{name: "provider outage", refreshToken: "flaky", transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t)
			_, err := ts.provider().Refresh(context.Background(), &TokenRecord{RefreshToken: tt.refreshToken, Scopes: readonly})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsUnrecoverable(err))
			assert.Equal(t, tt.clientFailure, isClientFailure(err))
		})
	}
}

func TestOAuth2Provider_Refresh_NoRefreshToken(t *testing.T) {
	ts := newTokenServer(t)
	_, err := ts.provider().Refresh(context.Background(), &TokenRecord{AccessToken: "ya29.only"})
	require.Error(t, err)
	assert.True(t, IsUnrecoverable(err))
	assert.Nil(t, ts.lastForm(), "no request without a refresh token")
}

func TestOAuth2Provider_Refresh_NetworkError(t *testing.T) {
	ts := newTokenServer(t)
	p := ts.provider()
	ts.Close()

	_, err := p.Refresh(context.Background(), &TokenRecord{RefreshToken: "1//keep", Scopes: readonly})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestOAuth2Provider_Revoke(t *testing.T) {
	ts := newTokenServer(t)
	p := ts.provider()

	require.NoError(t, p.Revoke(context.Background(), "1//gone"))
	require.NoError(t, p.Revoke(context.Background(), ""), "empty token is a no-op")
	ts.mu.Lock()
	assert.Equal(t, []string{"1//gone"}, ts.revoked)
	ts.mu.Unlock()

	ts.mu.Lock()
	ts.revokeOK = false
	ts.mu.Unlock()
	err := p.Revoke(context.Background(), "1//unknown")
	require.Error(t, err)
	assert.True(t, IsUnrecoverable(err))
}
