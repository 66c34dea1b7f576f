package google

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/oauth2"
)

// DefaultAccount is the account name used when none is given.
const DefaultAccount = "default"

var accountNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateAccountName checks that an account name is safe to use as part of a
// file name or storage key.
func ValidateAccountName(account string) error {
	if account == "" {
		return fmt.Errorf("account name cannot be empty")
	}
	if !accountNamePattern.MatchString(account) {
		return fmt.Errorf("invalid account name %q: only letters, digits, '-' and '_' are allowed", account)
	}
	return nil
}

// TokenRecord is the persisted OAuth state for one client and account.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       ScopeSet  `json:"scopes"`
	ClientID     string    `json:"client_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewTokenRecord builds a record from a token endpoint response.
//
// Granted scopes are taken from the response's "scope" field when present,
// otherwise requested is assumed granted. A response without a refresh
// token keeps previous's refresh token (Google omits it on refresh).
func NewTokenRecord(tok *oauth2.Token, requested ScopeSet, previous *TokenRecord, now time.Time) *TokenRecord {
	rec := &TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry.UTC(),
		Scopes:       requested,
		UpdatedAt:    now.UTC(),
	}
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		rec.Scopes = ParseScopes(granted)
	}
	if previous != nil {
		if rec.RefreshToken == "" {
			rec.RefreshToken = previous.RefreshToken
		}
		if rec.Scopes.Empty() {
			rec.Scopes = previous.Scopes
		}
		rec.ClientID = previous.ClientID
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}
	return rec
}

// NeedsRefresh reports whether the access token is missing, expired, or
// will expire within margin of now. A zero expiry never expires.
func (r *TokenRecord) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if r.AccessToken == "" {
		return true
	}
	if r.Expiry.IsZero() {
		return false
	}
	return !now.Add(margin).Before(r.Expiry)
}

// Expired reports whether the access token expiry is at or before now.
func (r *TokenRecord) Expired(now time.Time) bool {
	return r.NeedsRefresh(now, 0)
}

// Covers reports whether the granted scopes include every required scope.
func (r *TokenRecord) Covers(required ScopeSet) bool {
	return r.Scopes.Covers(required)
}

// Token converts the record to an oauth2.Token.
func (r *TokenRecord) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Expiry:       r.Expiry,
	}
}

// Clone returns a deep copy.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Scopes = r.Scopes.Strings()
	return &c
}

// MarshalRecord encodes a record in the persisted JSON format.
func MarshalRecord(r *TokenRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("token record cannot be nil")
	}
	return json.MarshalIndent(r, "", "  ")
}

// UnmarshalRecord decodes a persisted record. Any decoding problem or a
// record without tokens is reported as ErrCorruptToken.
func UnmarshalRecord(data []byte) (*TokenRecord, error) {
	var r TokenRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptToken, err)
	}
	if r.AccessToken == "" && r.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no access or refresh token", ErrCorruptToken)
	}
	r.Scopes = NewScopeSet(r.Scopes...)
	return &r, nil
}
