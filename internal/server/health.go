package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"

	credentialsMissing    = "missing"
	credentialsForeign    = "issued to a different client"
	credentialsExpired    = "expired without refresh token"
	credentialsUnreadable = "unreadable"
)

// HealthChecker provides liveness and readiness endpoints.
type HealthChecker struct {
	ready         atomic.Bool
	serverContext *ServerContext
	startTime     time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// isServerShuttingDown returns false if serverContext is nil.
func (h *HealthChecker) isServerShuttingDown() bool {
	return h.serverContext != nil && h.serverContext.IsShutdown()
}

// checkCredentials returns "ok" when stored credentials can be used
// without user interaction, otherwise the reason they cannot.
func (h *HealthChecker) checkCredentials(ctx context.Context) (string, *CredentialsHealth) {
	if h.serverContext == nil || h.serverContext.Credentials() == nil {
		return healthStatusOK, nil
	}
	st, err := h.serverContext.Credentials().Status(ctx)
	if err != nil {
		return credentialsUnreadable, nil
	}
	detail := &CredentialsHealth{
		Account:      st.Account,
		Scopes:       st.Scopes.ShortNames(),
		NeedsRefresh: st.NeedsRefresh,
	}
	if !st.Expiry.IsZero() {
		detail.Expiry = st.Expiry.UTC().Format(time.RFC3339)
	}

	switch {
	case !st.Present:
		return credentialsMissing, detail
	case !st.ClientMatches:
		return credentialsForeign, detail
	case st.Expired && !st.HasRefreshToken:
		return credentialsExpired, detail
	}
	return healthStatusOK, detail
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// CredentialsHealth is the secret-free credential state reported by the
// detailed health endpoint.
type CredentialsHealth struct {
	Account      string   `json:"account"`
	Scopes       []string `json:"scopes,omitempty"`
	Expiry       string   `json:"expiry,omitempty"`
	NeedsRefresh bool     `json:"needs_refresh"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status      string             `json:"status"`
	Uptime      string             `json:"uptime"`
	Credentials *CredentialsHealth `json:"credentials,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// state runs every readiness check. ok is false when any check fails.
func (h *HealthChecker) state(ctx context.Context) (checks map[string]string, detail *CredentialsHealth, ok bool) {
	creds, detail := h.checkCredentials(ctx)
	checks = map[string]string{
		"ready":       healthStatusOK,
		"shutdown":    healthStatusOK,
		"credentials": creds,
	}
	if !h.ready.Load() {
		checks["ready"] = healthStatusNotReady
	}
	if h.isServerShuttingDown() {
		checks["shutdown"] = healthStatusShuttingDown
	}
	for _, v := range checks {
		if v != healthStatusOK {
			return checks, detail, false
		}
	}
	return checks, detail, true
}

// LivenessHandler serves /healthz. It only fails when the process cannot
// answer at all.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler serves /readyz: ready means not shutting down and
// holding credentials that refresh without the user.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks, _, ok := h.state(r.Context())
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: healthStatusNotReady, Checks: checks})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK, Checks: checks})
	})
}

// DetailedHealthHandler serves /healthz/detailed with the token state.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks, detail, ok := h.state(r.Context())
		resp := DetailedHealthResponse{
			Status:      healthStatusOK,
			Uptime:      time.Since(h.startTime).Truncate(time.Second).String(),
			Credentials: detail,
		}
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
			resp.Status = healthStatusNotReady
			if checks["shutdown"] != healthStatusOK {
				resp.Status = healthStatusShuttingDown
			}
		}
		writeJSON(w, code, resp)
	})
}

// RegisterHealthEndpoints mounts /healthz, /readyz and /healthz/detailed.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}
