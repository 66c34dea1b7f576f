// Package cmd implements the command-line interface for jarvis.
//
// This package provides the following commands:
//   - auth: authorize an account and manage the stored token
//     (login, status, refresh, revoke, logout, import, test, keygen)
//   - mail: list, search, read and send Gmail messages
//   - calendar: list a day's events, create events, check availability
//   - serve: keep the stored token fresh and expose metrics and health
//   - version: display version information
//
// Every command resolves its settings from the config file, the
// environment and the global --config, --account, --debug and
// --no-browser flags.
package cmd
