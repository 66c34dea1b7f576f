// Package logging provides structured logging utilities for jarvis.
//
// Loggers are plain *slog.Logger values built with New. The helpers in this
// package keep attribute names consistent across the codebase.
//
// # Usage Patterns
//
// Build the process logger once and attach standard attributes:
//
//	logger := logging.New(logging.Level(debug), logging.FormatJSON, os.Stderr)
//	logger.Info("refreshed token",
//	    logging.Account("work"),
//	    logging.Expiry(rec.Expiry))
//
// # Security Considerations
//
//   - Access and refresh tokens are never logged; use Token or SanitizeToken
//     when a token must be referred to. Loggers from New also mask values
//     under well-known OAuth keys (access_token, code, client_secret, ...)
//   - User emails are hashed with UserHash to allow correlation without PII
package logging
