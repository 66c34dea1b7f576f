package google

import "context"

// TokenStore persists token records, one per key (the account name).
//
// Load returns ErrTokenNotFound when nothing is stored and an error wrapping
// ErrCorruptToken when the stored data cannot be parsed. Delete is
// idempotent.
type TokenStore interface {
	Load(ctx context.Context, key string) (*TokenRecord, error)
	Save(ctx context.Context, key string, rec *TokenRecord) error
	Delete(ctx context.Context, key string) error
}
