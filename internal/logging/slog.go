package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyAccount   = "account"
	KeyUserHash  = "user_hash"
	KeyDomain    = "user_domain"
	KeyStatus    = "status"
	KeyError     = "error"
	KeyScopes    = "scopes"
	KeyExpiry    = "expiry"
)

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// secretKeys are attribute keys whose values never reach the output,
// whatever the caller passes.
var secretKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"id_token":      true,
	"client_secret": true,
	"code":          true,
	"code_verifier": true,
	"authorization": true,
}

// New creates a logger writing to w in the given format ("text" or "json").
// String values under OAuth secret keys are replaced by SanitizeToken.
func New(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactSecrets}
	var handler slog.Handler
	if strings.EqualFold(format, FormatJSON) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if !secretKeys[strings.ToLower(a.Key)] {
		return a
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, SanitizeToken(a.Value.String()))
	}
	return slog.String(a.Key, "[redacted]")
}

// Level returns the log level for the debug flag.
func Level(debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Account returns a slog attribute for the local account name.
func Account(account string) slog.Attr {
	return slog.String(KeyAccount, account)
}

// Scopes returns a slog attribute listing OAuth scopes.
func Scopes(scopes []string) slog.Attr {
	return slog.String(KeyScopes, strings.Join(scopes, ","))
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Expiry returns a slog attribute for a token expiry. The zero time is
// logged as "never".
func Expiry(t time.Time) slog.Attr {
	if t.IsZero() {
		return slog.String(KeyExpiry, "never")
	}
	return slog.String(KeyExpiry, t.UTC().Format(time.RFC3339))
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email for logging purposes.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(strings.ToLower(email)))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// Domain returns the domain of an email as a slog attribute, "unknown"
// when there is none.
func Domain(email string) slog.Attr {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		domain = "unknown"
	}
	return slog.String(KeyDomain, strings.ToLower(domain))
}

// SanitizeToken returns a masked version of a token for logging.
// Only the length is kept; even a prefix can identify a grant.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// Token returns a sanitized token attribute under key.
func Token(key, token string) slog.Attr {
	return slog.String(key, SanitizeToken(token))
}
