package google

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/teemow/jarvis/internal/logging"
)

// Consenter runs an interactive authorization flow and returns the resulting
// token record. The context carries the consent deadline; cancellation,
// timeout or a user refusal is reported as ConsentDenied.
type Consenter interface {
	Consent(ctx context.Context, provider TokenProvider, scopes ScopeSet) (*TokenRecord, error)
}

// LoopbackConsent implements Consenter with the browser based
// authorization-code flow and a one-shot listener on the loopback interface.
type LoopbackConsent struct {
	// Addr is the listen address of the callback server (default 127.0.0.1:0).
	Addr string

	// OpenBrowser opens the authorization URL. Failures are logged and the
	// user can still open the printed URL by hand.
	OpenBrowser func(url string) error

	// Prompt receives the authorization URL for the user. May be nil.
	Prompt io.Writer

	Logger *slog.Logger
}

// NewLoopbackConsent returns a consent flow that opens the system browser
// and prints the URL to prompt.
func NewLoopbackConsent(addr string, prompt io.Writer, logger *slog.Logger) *LoopbackConsent {
	return &LoopbackConsent{
		Addr:        addr,
		OpenBrowser: OpenBrowser,
		Prompt:      prompt,
		Logger:      logger,
	}
}

// GenerateState generates a random state parameter for CSRF protection.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Consent implements Consenter.
func (c *LoopbackConsent) Consent(ctx context.Context, provider TokenProvider, scopes ScopeSet) (*TokenRecord, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state, err := GenerateState()
	if err != nil {
		return nil, newAuthError(ErrTransientAuthFailure, "consent", err)
	}
	verifier := oauth2.GenerateVerifier()

	srv := NewCallbackServer(c.Addr, state)
	if err := srv.Start(); err != nil {
		return nil, newAuthError(ErrTransientAuthFailure, "consent", err)
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			logger.Debug("callback server shutdown failed", logging.Err(err))
		}
	}()

	authURL := provider.AuthCodeURL(state, srv.RedirectURI(), verifier, scopes)

	if c.Prompt != nil {
		_, _ = fmt.Fprintf(c.Prompt, "Open the following URL in your browser to authorize Google access:\n\n%s\n\n", authURL)
	}
	if c.OpenBrowser != nil {
		if err := c.OpenBrowser(authURL); err != nil {
			logger.Warn("failed to open browser", logging.Err(err))
		}
	}

	logger.Info("waiting for Google authorization",
		logging.Scopes(scopes.ShortNames()),
		slog.String("redirect_uri", srv.RedirectURI()))

	code, err := srv.WaitForCode(ctx)
	if err != nil {
		return nil, classifyCallbackError(err)
	}

	rec, err := provider.ExchangeCode(ctx, code, srv.RedirectURI(), verifier, scopes)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// classifyCallbackError maps failures while waiting for the redirect. Every
// way the user can fail to complete the flow is ConsentDenied.
func classifyCallbackError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("timed out waiting for authorization: %w", err)
	case errors.Is(err, context.Canceled):
		err = fmt.Errorf("authorization cancelled: %w", err)
	}
	return newAuthError(ErrConsentDenied, "consent", err)
}
