package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/teemow/jarvis/internal/instrumentation"
)

// APIRunner executes calls against one Google API under the caller
// contract: acquire before every attempt, invalidate and retry once on 401,
// back off on transient failures. Calls are rate limited, traced and
// counted.
type APIRunner struct {
	service  string
	creds    Acquirer
	limiter  *rate.Limiter
	metrics  *instrumentation.Metrics
	callOpts []CallOption
}

// NewAPIRunner creates a runner for service (gmail, calendar). A nil
// limiter or metrics disables rate limiting or metrics respectively.
func NewAPIRunner(service string, creds Acquirer, limiter *rate.Limiter, metrics *instrumentation.Metrics, opts ...CallOption) *APIRunner {
	return &APIRunner{
		service:  service,
		creds:    creds,
		limiter:  limiter,
		metrics:  metrics,
		callOpts: opts,
	}
}

// RunAPI performs operation with an HTTP client authorized for scopes.
// fn may be invoked more than once.
func RunAPI[T any](ctx context.Context, r *APIRunner, operation string, scopes ScopeSet, fn func(context.Context, *http.Client) (T, error)) (T, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, r.service, operation)
	defer span.End()

	start := time.Now()
	res, err := Call(ctx, r.creds, scopes, func(ctx context.Context, sess *Session) (T, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, fmt.Errorf("rate limit wait: %w", err)
			}
		}
		return fn(ctx, sess.HTTPClient(ctx))
	}, r.callOpts...)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	r.metrics.RecordGoogleAPIOperation(ctx, r.service, operation, status, time.Since(start))
	return res, err
}
