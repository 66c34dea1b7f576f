package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Error kinds returned by the credential manager. Match them with errors.Is.
var (
	// ErrConsentDenied means the interactive consent flow was aborted by the
	// user, timed out, or was cancelled.
	ErrConsentDenied = errors.New("consent denied")

	// ErrTransientAuthFailure means a network or provider hiccup; the caller
	// may retry with backoff.
	ErrTransientAuthFailure = errors.New("transient auth failure")

	// ErrUnrecoverableAuthFailure means the client configuration is invalid or
	// the grant was permanently revoked. Retrying will not help.
	ErrUnrecoverableAuthFailure = errors.New("unrecoverable auth failure")

	// ErrScopeInsufficient means the stored token lacks a required scope.
	ErrScopeInsufficient = errors.New("scope insufficient")

	// ErrTokenNotFound is returned by token stores when nothing is persisted.
	ErrTokenNotFound = errors.New("token not found")

	// ErrCorruptToken is returned by token stores when the persisted record
	// cannot be parsed.
	ErrCorruptToken = errors.New("token record corrupt")

	// ErrEmptyScopes is returned when Acquire is called without scopes.
	ErrEmptyScopes = errors.New("at least one scope is required")
)

// AuthError is a classified credential failure.
type AuthError struct {
	Kind error  // one of the Err* kinds above
	Op   string // operation that failed (refresh, consent, exchange, ...)
	Err  error  // underlying cause, may be nil
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newAuthError(kind error, op string, err error) *AuthError {
	return &AuthError{Kind: kind, Op: op, Err: err}
}

// OAuthError represents an OAuth 2.0 error response from the provider
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_grant", "invalid_client")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Description, e.Status)
}

// OAuth error codes that drive classification.
const (
	codeInvalidGrant       = "invalid_grant"
	codeInvalidClient      = "invalid_client"
	codeUnauthorizedClient = "unauthorized_client"
	codeInvalidScope       = "invalid_scope"
	codeAccessDenied       = "access_denied"
	codeInvalidRequest     = "invalid_request"
)

// IsConsentDenied reports whether err is a ConsentDenied failure.
func IsConsentDenied(err error) bool {
	return errors.Is(err, ErrConsentDenied)
}

// IsTransient reports whether err is a retryable TransientAuthFailure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientAuthFailure)
}

// IsUnrecoverable reports whether err is an UnrecoverableAuthFailure.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverableAuthFailure)
}

// isClientFailure reports whether the provider rejected the client itself
// rather than the grant. Re-running consent cannot fix these.
func isClientFailure(err error) bool {
	var oe *OAuthError
	if !errors.As(err, &oe) {
		return false
	}
	return oe.Code == codeInvalidClient || oe.Code == codeUnauthorizedClient
}

// ClassifyTokenError maps an error from a token endpoint call (code exchange
// or refresh) to an *AuthError of the right kind.
//
//   - provider 5xx / 429, network errors, timeouts: TransientAuthFailure
//   - any other provider rejection (invalid_grant, invalid_client, ...): UnrecoverableAuthFailure
//   - unknown errors are treated as transient so stored state is kept
func ClassifyTokenError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		oe := &OAuthError{Code: re.ErrorCode, Description: re.ErrorDescription, Status: status}
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return newAuthError(ErrTransientAuthFailure, op, oe)
		}
		if oe.Code == "" {
			oe.Code = codeInvalidRequest
		}
		return newAuthError(ErrUnrecoverableAuthFailure, op, oe)
	}

	var oe *OAuthError
	if errors.As(err, &oe) {
		if oe.Status >= http.StatusInternalServerError || oe.Status == http.StatusTooManyRequests {
			return newAuthError(ErrTransientAuthFailure, op, err)
		}
		return newAuthError(ErrUnrecoverableAuthFailure, op, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newAuthError(ErrTransientAuthFailure, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return newAuthError(ErrTransientAuthFailure, op, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return newAuthError(ErrTransientAuthFailure, op, err)
	}

	return newAuthError(ErrTransientAuthFailure, op, err)
}

// IsAuthorizationError reports whether err from a Google API call means the
// presented credentials were rejected (HTTP 401). Callers should invalidate
// and re-acquire once.
func IsAuthorizationError(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusUnauthorized
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}

// IsRetryableAPIError reports whether err from a Google API call is worth
// retrying with backoff (rate limiting or server errors).
func IsRetryableAPIError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}
	return false
}

// GetAuthenticationErrorMessage returns a user-facing remediation message for
// a credential failure on the given account.
func GetAuthenticationErrorMessage(account string, err error) string {
	switch {
	case IsConsentDenied(err):
		return fmt.Sprintf("Google OAuth consent for account %q was not completed. Run 'jarvis auth login --account %s' and approve access in the browser.", account, account)
	case IsTransient(err):
		return fmt.Sprintf("Could not reach Google to authorize account %q. Check your network connection and try again.", account)
	case isClientFailure(err):
		return fmt.Sprintf("Google rejected the OAuth client configuration for account %q. Download a fresh credentials.json from the Google Cloud Console (Desktop application) and run 'jarvis auth login --account %s'.", account, account)
	default:
		return fmt.Sprintf("Google OAuth authorization for account %q is no longer valid. Run 'jarvis auth login --account %s' to authorize again.", account, account)
	}
}
