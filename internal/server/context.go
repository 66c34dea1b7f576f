package server

import (
	"context"
	"sync"

	"github.com/teemow/jarvis/internal/google"
)

// CredentialStatus reports on the stored Google credentials without
// touching the network. *google.Manager implements it.
type CredentialStatus interface {
	Status(ctx context.Context) (*google.TokenStatus, error)
}

// ServerContext holds the state shared by the long running serve process.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	creds    CredentialStatus
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context derived from ctx.
func NewServerContext(ctx context.Context, creds CredentialStatus) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		creds:  creds,
	}
}

// Context returns the server context. It is cancelled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Credentials returns the credential status reporter, possibly nil.
func (sc *ServerContext) Credentials() CredentialStatus {
	return sc.creds
}

// IsShutdown returns true if the server is shutting down
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the server as shutting down and cancels its context.
// It is safe to call more than once.
func (sc *ServerContext) Shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.shutdown {
		return
	}
	sc.shutdown = true
	sc.cancel()
}
