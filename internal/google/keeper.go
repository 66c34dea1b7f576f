package google

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teemow/jarvis/internal/logging"
)

// DefaultKeeperInterval is how often the keeper inspects the stored token.
const DefaultKeeperInterval = time.Minute

// Keeper refreshes the stored token ahead of expiry for long running
// processes, so interactive callers rarely wait on a refresh.
type Keeper struct {
	manager  *Manager
	interval time.Duration
	window   time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewKeeper creates a keeper that refreshes tokens within twice the
// manager's refresh margin of expiry.
func NewKeeper(m *Manager, interval time.Duration, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = DefaultKeeperInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		manager:  m,
		interval: interval,
		window:   2 * m.RefreshMargin(),
		clock:    m.clock,
		logger:   logger.With(logging.Account(m.Account()), logging.Operation("keeper")),
	}
}

// Run checks the token immediately and then on every tick until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := k.clock.NewTicker(k.interval)
	defer ticker.Stop()

	k.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			k.Check(ctx)
		}
	}
}

// Check refreshes the token if it is present and close to expiry. It
// reports whether a refresh happened.
func (k *Keeper) Check(ctx context.Context) bool {
	st, err := k.manager.Status(ctx)
	if err != nil {
		k.logger.Warn("failed to read token status", logging.Err(err))
		return false
	}
	if !st.Present || !st.HasRefreshToken || st.Expiry.IsZero() {
		return false
	}
	if k.clock.Now().Add(k.window).Before(st.Expiry) {
		return false
	}

	if _, err := k.manager.ForceRefresh(ctx); err != nil {
		if IsTransient(err) {
			k.logger.Warn("background refresh failed, retrying next tick", logging.Err(err))
		} else {
			k.logger.Error("background refresh failed, consent required on next use", logging.Err(err))
		}
		return false
	}
	return true
}
