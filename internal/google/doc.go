// Package google manages OAuth2 credentials for Google APIs (Gmail and
// Calendar).
//
// The Manager is the single owner of the persisted token for an account. It
// hands out short lived Sessions that are guaranteed to be valid and to cover
// the requested scopes at the moment they are returned. Tokens are refreshed
// ahead of expiry; missing, foreign or insufficient tokens are replaced
// through an interactive browser consent flow (LoopbackConsent).
//
// Callers should acquire a session before every API operation. Call wraps
// that contract: it invalidates and retries once when Google rejects the
// credentials, and backs off on transient failures.
//
// Failures are classified into ErrConsentDenied, ErrTransientAuthFailure,
// ErrUnrecoverableAuthFailure and ErrScopeInsufficient; match them with
// errors.Is.
package google
