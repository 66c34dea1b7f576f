package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/jarvis/internal/instrumentation"
	"github.com/teemow/jarvis/internal/logging"
)

// Defaults for the manager's timing knobs.
const (
	// DefaultRefreshMargin is how long before expiry a token is refreshed.
	DefaultRefreshMargin = 5 * time.Minute

	// DefaultRefreshTimeout bounds a single refresh round trip.
	DefaultRefreshTimeout = 30 * time.Second

	// DefaultConsentTimeout bounds the interactive consent flow.
	DefaultConsentTimeout = 5 * time.Minute
)

// Acquire outcomes, used for metrics and audit events.
const (
	OutcomeCached    = "cached"
	OutcomeRefreshed = "refreshed"
	OutcomeConsented = "consented"
	OutcomeError     = "error"
)

// errInvalidated is returned internally when an Invalidate raced with a
// slow-path acquisition. The result is discarded and acquisition restarts.
var errInvalidated = errors.New("credentials invalidated during acquisition")

// maxInvalidationRetries bounds how often Acquire restarts after racing
// with Invalidate.
const maxInvalidationRetries = 3

// Manager owns the OAuth token lifecycle for one client and account: it
// loads, validates, refreshes and (interactively) re-acquires tokens, and
// is the only writer of the persisted record.
//
// Manager is safe for concurrent use. At most one refresh or consent flow
// runs at a time; concurrent callers asking for the same scopes share its
// result.
type Manager struct {
	account   string
	client    *ClientConfig
	provider  TokenProvider
	store     TokenStore
	consenter Consenter

	clock          clockwork.Clock
	margin         time.Duration
	refreshTimeout time.Duration
	consentTimeout time.Duration

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger

	// mu serializes slow-path acquisition, refresh and consent.
	mu    sync.Mutex
	group singleflight.Group

	// stateMu orders persisting a new record against Invalidate.
	stateMu    sync.Mutex
	generation atomic.Uint64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConsenter enables interactive consent. Without one the manager is
// headless and reports UnrecoverableAuthFailure whenever consent is needed.
func WithConsenter(c Consenter) ManagerOption {
	return func(m *Manager) { m.consenter = c }
}

// WithClock sets the clock used for expiry decisions.
func WithClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithRefreshMargin sets how long before expiry a token is refreshed.
func WithRefreshMargin(d time.Duration) ManagerOption {
	return func(m *Manager) { m.margin = d }
}

// WithRefreshTimeout bounds each refresh request.
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.refreshTimeout = d }
}

// WithConsentTimeout bounds the interactive consent flow.
func WithConsentTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.consentTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics enables credential metrics.
func WithMetrics(metrics *instrumentation.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithAuditLogger enables audit events for credential lifecycle changes.
func WithAuditLogger(a *instrumentation.AuditLogger) ManagerOption {
	return func(m *Manager) { m.audit = a }
}

// NewManager creates a credential manager for account.
func NewManager(account string, client *ClientConfig, provider TokenProvider, store TokenStore, opts ...ManagerOption) (*Manager, error) {
	if err := ValidateAccountName(account); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("client config is required")
	}
	if err := client.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}

	m := &Manager{
		account:        account,
		client:         client,
		provider:       provider,
		store:          store,
		clock:          clockwork.NewRealClock(),
		margin:         DefaultRefreshMargin,
		refreshTimeout: DefaultRefreshTimeout,
		consentTimeout: DefaultConsentTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(logging.Account(account))
	m.metrics = m.metrics.ForAccount(account)
	return m, nil
}

// Account returns the account this manager serves.
func (m *Manager) Account() string {
	return m.account
}

// Interactive reports whether the manager can run a consent flow.
func (m *Manager) Interactive() bool {
	return m.consenter != nil
}

// acquireResult is what the slow path hands to every waiting caller.
type acquireResult struct {
	rec        *TokenRecord
	outcome    string
	generation uint64
}

// Acquire returns a session whose token is valid and covers required.
//
// A stored token that covers required and is not about to expire is
// returned without any network call. Otherwise the token is refreshed, or
// the user is asked for consent to required plus any scopes already
// granted.
func (m *Manager) Acquire(ctx context.Context, required ScopeSet) (*Session, error) {
	required = NewScopeSet(required...)
	if required.Empty() {
		return nil, ErrEmptyScopes
	}

	start := m.clock.Now()
	ctx, span := instrumentation.StartSpan(ctx, "credentials.acquire",
		attribute.String(instrumentation.SpanAttrAccount, m.account),
		attribute.StringSlice(instrumentation.SpanAttrScopes, required.ShortNames()),
	)
	defer span.End()

	rec, outcome, err := m.acquire(ctx, required)
	m.metrics.RecordCredentialAcquire(ctx, outcome, m.clock.Since(start))
	span.SetAttributes(attribute.String(instrumentation.SpanAttrOutcome, outcome))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return newSession(m.account, rec), nil
}

func (m *Manager) acquire(ctx context.Context, required ScopeSet) (*TokenRecord, string, error) {
	if rec := m.cached(ctx, required); rec != nil {
		return rec, OutcomeCached, nil
	}

	// The shared work outlives any single waiter; refreshTimeout and
	// consentTimeout bound it.
	shared := context.WithoutCancel(ctx)
	for range maxInvalidationRetries {
		gen := m.generation.Load()
		ch := m.group.DoChan(required.String(), func() (any, error) {
			return m.acquireSlow(shared, required)
		})

		var r singleflight.Result
		select {
		case r = <-ch:
		case <-ctx.Done():
			return nil, OutcomeError, newAuthError(ErrTransientAuthFailure, "acquire", ctx.Err())
		}
		if errors.Is(r.Err, errInvalidated) {
			continue
		}
		if r.Err != nil {
			return nil, OutcomeError, r.Err
		}
		res := r.Val.(*acquireResult)
		// A result computed before an Invalidate this caller observed is stale.
		if res.generation < gen {
			continue
		}
		return res.rec.Clone(), res.outcome, nil
	}
	return nil, OutcomeError, newAuthError(ErrTransientAuthFailure, "acquire", errInvalidated)
}

// cached returns the stored record if it can be used as is.
func (m *Manager) cached(ctx context.Context, required ScopeSet) *TokenRecord {
	rec, err := m.store.Load(ctx, m.account)
	if err != nil {
		return nil
	}
	if !m.usable(rec, required) {
		return nil
	}
	return rec
}

func (m *Manager) usable(rec *TokenRecord, required ScopeSet) bool {
	return m.sameClient(rec) && rec.Covers(required) && !rec.NeedsRefresh(m.clock.Now(), m.margin)
}

// sameClient reports whether rec was minted by the current client. Records
// imported without a client id are accepted.
func (m *Manager) sameClient(rec *TokenRecord) bool {
	return rec.ClientID == "" || rec.ClientID == m.client.ClientID
}

func (m *Manager) acquireSlow(ctx context.Context, required ScopeSet) (*acquireResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.generation.Load()

	rec, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	consentScopes := required
	switch {
	case rec == nil:
		m.logger.Info("no stored Google token, consent required")

	case !m.sameClient(rec):
		m.logger.Info("stored token was issued to a different OAuth client, consent required")

	case !rec.Covers(required):
		missing := rec.Scopes.Missing(required)
		m.logger.Info("stored token lacks required scopes, consent required",
			logging.Scopes(missing.ShortNames()),
			slog.String("reason", ErrScopeInsufficient.Error()))
		consentScopes = required.Union(rec.Scopes)

	case !rec.NeedsRefresh(m.clock.Now(), m.margin):
		// Another caller refreshed while we waited for the lock.
		return &acquireResult{rec: rec, outcome: OutcomeCached, generation: gen}, nil

	default:
		next, err := m.refresh(ctx, rec)
		if err == nil {
			// A rotated refresh token must not be lost, even when the
			// grant shrank.
			if err := m.persist(ctx, gen, next); err != nil {
				return nil, err
			}
			if next.Covers(required) {
				return &acquireResult{rec: next, outcome: OutcomeRefreshed, generation: gen}, nil
			}
			m.logger.Warn("refreshed token lost required scopes, consent required",
				logging.Scopes(next.Scopes.Missing(required).ShortNames()))
			consentScopes = required.Union(rec.Scopes)
			break
		}
		if IsTransient(err) {
			return nil, err
		}
		m.discard(ctx)
		if isClientFailure(err) {
			return nil, err
		}
		m.logger.Warn("refresh token rejected, consent required", logging.Err(err))
		consentScopes = required.Union(rec.Scopes)
	}

	next, err := m.consent(ctx, consentScopes)
	if err != nil {
		return nil, err
	}
	// The consent screen lets the user untick scopes.
	if missing := next.Scopes.Missing(required); len(missing) > 0 {
		m.logger.Warn("consent did not grant all required scopes",
			logging.Scopes(missing.ShortNames()))
		return nil, newAuthError(ErrConsentDenied, "consent",
			fmt.Errorf("%w: %s", ErrScopeInsufficient, strings.Join(missing.ShortNames(), ", ")))
	}
	if err := m.persist(ctx, gen, next); err != nil {
		return nil, err
	}
	return &acquireResult{rec: next, outcome: OutcomeConsented, generation: gen}, nil
}

// load reads the stored record. Missing and unparseable records both yield
// nil; the latter is removed.
func (m *Manager) load(ctx context.Context) (*TokenRecord, error) {
	rec, err := m.store.Load(ctx, m.account)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrTokenNotFound):
		return nil, nil
	case errors.Is(err, ErrCorruptToken):
		m.logger.Warn("stored token is unreadable, discarding", logging.Err(err))
		if err := m.store.Delete(ctx, m.account); err != nil {
			m.logger.Warn("failed to delete unreadable token", logging.Err(err))
		}
		return nil, nil
	default:
		return nil, newAuthError(ErrTransientAuthFailure, "load token", err)
	}
}

// persist saves rec unless an Invalidate happened since gen was observed.
func (m *Manager) persist(ctx context.Context, gen uint64, rec *TokenRecord) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.generation.Load() != gen {
		return errInvalidated
	}
	if err := m.store.Save(ctx, m.account, rec); err != nil {
		return newAuthError(ErrTransientAuthFailure, "save token", err)
	}
	return nil
}

// refresh exchanges rec's refresh token for a new access token. The
// returned error is always classified.
func (m *Manager) refresh(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	ctx, span := instrumentation.StartSpan(ctx, "credentials.refresh",
		attribute.String(instrumentation.SpanAttrAccount, m.account))
	defer span.End()

	rctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	start := m.clock.Now()
	next, err := m.provider.Refresh(rctx, rec)
	if err != nil {
		err = ClassifyTokenError("refresh", err)
	}

	event := instrumentation.NewCredentialEvent(m.account, instrumentation.EventRefresh, start)
	switch {
	case err == nil:
		m.metrics.RecordTokenRefresh(ctx, instrumentation.ResultSuccess)
		instrumentation.SetSpanSuccess(span)
		m.audit.LogCredentialEvent(event.WithSpanContext(ctx).Complete(m.clock.Now(), nil))
		m.logger.Debug("refreshed Google access token",
			logging.Status("refreshed"),
			logging.Expiry(next.Expiry),
			logging.Token("access_token", next.AccessToken))
		return m.stamp(next), nil

	case IsTransient(err):
		m.metrics.RecordTokenRefresh(ctx, instrumentation.ResultTransient)
		instrumentation.SetSpanError(span, err)
		m.audit.LogCredentialEvent(event.WithSpanContext(ctx).Complete(m.clock.Now(), err))
		m.logger.Warn("token refresh failed, will retry later", logging.Err(err))
		return nil, err

	default:
		m.metrics.RecordTokenRefresh(ctx, instrumentation.ResultUnrecoverable)
		instrumentation.SetSpanError(span, err)
		m.audit.LogCredentialEvent(event.WithSpanContext(ctx).Complete(m.clock.Now(), err))
		return nil, err
	}
}

// consent runs the interactive flow for scopes.
func (m *Manager) consent(ctx context.Context, scopes ScopeSet) (*TokenRecord, error) {
	if m.consenter == nil {
		return nil, newAuthError(ErrUnrecoverableAuthFailure, "consent",
			fmt.Errorf("interactive consent required for account %q", m.account))
	}

	ctx, span := instrumentation.StartSpan(ctx, "credentials.consent",
		attribute.String(instrumentation.SpanAttrAccount, m.account),
		attribute.StringSlice(instrumentation.SpanAttrScopes, scopes.ShortNames()))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, m.consentTimeout)
	defer cancel()

	start := m.clock.Now()
	rec, err := m.consenter.Consent(cctx, m.provider, scopes)
	if err != nil && !errors.As(err, new(*AuthError)) {
		err = newAuthError(ErrConsentDenied, "consent", err)
	}

	event := instrumentation.NewCredentialEvent(m.account, instrumentation.EventConsent, start).
		WithScopes(scopes.ShortNames()).
		WithSpanContext(ctx)

	if err != nil {
		result := instrumentation.ResultUnrecoverable
		switch {
		case IsConsentDenied(err):
			result = instrumentation.ResultDenied
		case IsTransient(err):
			result = instrumentation.ResultTransient
		}
		m.metrics.RecordConsent(ctx, result)
		instrumentation.SetSpanError(span, err)
		m.audit.LogCredentialEvent(event.Complete(m.clock.Now(), err))
		return nil, err
	}

	m.metrics.RecordConsent(ctx, instrumentation.ResultSuccess)
	instrumentation.SetSpanSuccess(span)
	m.audit.LogCredentialEvent(event.Complete(m.clock.Now(), nil))
	m.logger.Info("Google authorization granted", logging.Scopes(rec.Scopes.ShortNames()))
	return m.stamp(rec), nil
}

func (m *Manager) stamp(rec *TokenRecord) *TokenRecord {
	rec.ClientID = m.client.ClientID
	rec.UpdatedAt = m.clock.Now().UTC()
	return rec
}

// discard deletes a record whose refresh token was rejected.
func (m *Manager) discard(ctx context.Context) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if err := m.store.Delete(ctx, m.account); err != nil {
		m.logger.Warn("failed to delete rejected token", logging.Err(err))
	}
}

// Invalidate deletes the stored record so the next Acquire obtains consent.
// It is idempotent. Results of acquisitions that were in flight when
// Invalidate was called are discarded.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.stateMu.Lock()
	m.generation.Add(1)
	err := m.store.Delete(ctx, m.account)
	m.stateMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to invalidate credentials for account %s: %w", m.account, err)
	}
	m.audit.LogCredentialEvent(instrumentation.NewCredentialEvent(m.account, instrumentation.EventInvalidate, m.clock.Now()).
		WithSpanContext(ctx).Complete(m.clock.Now(), nil))
	m.logger.Info("invalidated stored Google credentials")
	return nil
}

// Revoke revokes the grant at Google (best effort) and invalidates the
// stored record.
func (m *Manager) Revoke(ctx context.Context) error {
	rec, err := m.load(ctx)
	if err != nil {
		return err
	}

	if revoker, ok := m.provider.(Revoker); ok && rec != nil {
		token := rec.RefreshToken
		if token == "" {
			token = rec.AccessToken
		}
		start := m.clock.Now()
		rerr := revoker.Revoke(ctx, token)
		m.audit.LogCredentialEvent(instrumentation.NewCredentialEvent(m.account, instrumentation.EventRevoke, start).
			WithSpanContext(ctx).Complete(m.clock.Now(), rerr))
		if rerr != nil {
			m.logger.Warn("failed to revoke token at Google, deleting local copy anyway", logging.Err(rerr))
		}
	}

	return m.Invalidate(ctx)
}

// Import replaces the stored record with rec, for example a token.json
// written by another tool. A record without a client ID is stamped with
// the configured client. Acquisitions in flight are discarded.
func (m *Manager) Import(ctx context.Context, rec *TokenRecord) (*TokenStatus, error) {
	if rec == nil || (rec.AccessToken == "" && rec.RefreshToken == "") {
		return nil, fmt.Errorf("imported token has neither an access nor a refresh token")
	}
	if rec.Scopes.Empty() {
		return nil, fmt.Errorf("imported token lists no scopes")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec = rec.Clone()
	clientID := rec.ClientID
	m.stamp(rec)
	if clientID != "" && clientID != m.client.ClientID {
		// Keep the foreign ID so the next Acquire asks for consent.
		rec.ClientID = clientID
		m.logger.Warn("imported token was issued to a different OAuth client",
			slog.String("client_id", clientID))
	}

	start := m.clock.Now()
	m.stateMu.Lock()
	m.generation.Add(1)
	err := m.store.Save(ctx, m.account, rec)
	m.stateMu.Unlock()

	m.audit.LogCredentialEvent(instrumentation.NewCredentialEvent(m.account, instrumentation.EventImport, start).
		WithScopes(rec.Scopes.Strings()).WithSpanContext(ctx).Complete(m.clock.Now(), err))
	if err != nil {
		return nil, fmt.Errorf("failed to import credentials for account %s: %w", m.account, err)
	}
	m.logger.Info("imported Google credentials", slog.Int("scopes", len(rec.Scopes)))
	return m.status(rec), nil
}

// ForceRefresh refreshes the stored token regardless of its expiry. It
// never starts a consent flow.
func (m *Manager) ForceRefresh(ctx context.Context) (*TokenStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.generation.Load()
	rec, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, newAuthError(ErrUnrecoverableAuthFailure, "refresh", ErrTokenNotFound)
	}

	next, err := m.refresh(ctx, rec)
	if err != nil {
		if !IsTransient(err) {
			m.discard(ctx)
		}
		return nil, err
	}
	if err := m.persist(ctx, gen, next); err != nil {
		if errors.Is(err, errInvalidated) {
			return nil, newAuthError(ErrTransientAuthFailure, "refresh", err)
		}
		return nil, err
	}
	return m.status(next), nil
}

// TokenStatus is a secret-free view of the stored credentials.
type TokenStatus struct {
	Account         string
	Present         bool
	Scopes          ScopeSet
	Expiry          time.Time
	UpdatedAt       time.Time
	HasRefreshToken bool
	ClientMatches   bool
	Expired         bool
	NeedsRefresh    bool
}

// Status reports on the stored credentials without touching the network.
func (m *Manager) Status(ctx context.Context) (*TokenStatus, error) {
	rec, err := m.store.Load(ctx, m.account)
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return &TokenStatus{Account: m.account}, nil
	case err != nil:
		return nil, err
	}
	return m.status(rec), nil
}

func (m *Manager) status(rec *TokenRecord) *TokenStatus {
	now := m.clock.Now()
	return &TokenStatus{
		Account:         m.account,
		Present:         true,
		Scopes:          rec.Scopes.Strings(),
		Expiry:          rec.Expiry,
		UpdatedAt:       rec.UpdatedAt,
		HasRefreshToken: rec.RefreshToken != "",
		ClientMatches:   m.sameClient(rec),
		Expired:         rec.Expired(now),
		NeedsRefresh:    rec.NeedsRefresh(now, m.margin),
	}
}

// RefreshMargin returns the configured safety margin.
func (m *Manager) RefreshMargin() time.Duration {
	return m.margin
}

// TokenSource returns an oauth2.TokenSource that acquires tokens for scopes
// through the manager. Tokens are reused until they enter the refresh
// margin.
func (m *Manager) TokenSource(ctx context.Context, scopes ScopeSet) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, &managerTokenSource{ctx: ctx, m: m, scopes: scopes}, m.margin)
}

type managerTokenSource struct {
	ctx    context.Context
	m      *Manager
	scopes ScopeSet
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	sess, err := s.m.Acquire(s.ctx, s.scopes)
	if err != nil {
		return nil, err
	}
	return sess.Token(), nil
}
