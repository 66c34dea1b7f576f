package google

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxAttempts is how often Call tries an operation that fails with a
// retryable error.
const DefaultMaxAttempts = 3

// Acquirer is the part of Manager that API callers depend on.
type Acquirer interface {
	Acquire(ctx context.Context, required ScopeSet) (*Session, error)
	Invalidate(ctx context.Context) error
}

type callConfig struct {
	maxAttempts uint
	backOff     backoff.BackOff
	notify      backoff.Notify
}

// CallOption configures Call.
type CallOption func(*callConfig)

// WithMaxAttempts bounds the number of attempts for retryable failures.
func WithMaxAttempts(n uint) CallOption {
	return func(c *callConfig) { c.maxAttempts = n }
}

// WithBackOff sets the retry backoff policy.
func WithBackOff(b backoff.BackOff) CallOption {
	return func(c *callConfig) { c.backOff = b }
}

// WithRetryNotify registers a callback invoked before each retry.
func WithRetryNotify(n backoff.Notify) CallOption {
	return func(c *callConfig) { c.notify = n }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

// Call runs fn with a freshly acquired session for scopes.
//
// If fn fails because Google rejected the credentials, the stored token is
// invalidated and fn is run once more with a newly acquired session.
// Transient credential failures and rate limit or server errors from fn are
// retried with exponential backoff. Everything else is returned as is.
func Call[T any](ctx context.Context, a Acquirer, scopes ScopeSet, fn func(context.Context, *Session) (T, error), opts ...CallOption) (T, error) {
	cfg := callConfig{
		maxAttempts: DefaultMaxAttempts,
		backOff:     defaultBackOff(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxAttempts == 0 {
		cfg.maxAttempts = 1
	}

	reauthorized := false
	operation := func() (T, error) {
		res, err := callOnce(ctx, a, scopes, fn)
		if err != nil && !reauthorized && IsAuthorizationError(err) {
			reauthorized = true
			if ierr := a.Invalidate(ctx); ierr != nil {
				return res, backoff.Permanent(ierr)
			}
			res, err = callOnce(ctx, a, scopes, fn)
		}
		if err == nil {
			return res, nil
		}
		if IsTransient(err) || IsRetryableAPIError(err) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(cfg.backOff),
		backoff.WithMaxTries(cfg.maxAttempts),
	}
	if cfg.notify != nil {
		retryOpts = append(retryOpts, backoff.WithNotify(cfg.notify))
	}
	return backoff.Retry(ctx, operation, retryOpts...)
}

func callOnce[T any](ctx context.Context, a Acquirer, scopes ScopeSet, fn func(context.Context, *Session) (T, error)) (T, error) {
	sess, err := a.Acquire(ctx, scopes)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx, sess)
}
