package google

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var (
	testEpoch  = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	testClient = &ClientConfig{
		ClientID:     "jarvis-test.apps.googleusercontent.com",
		ClientSecret: "secret",
		AuthURL:      "https://accounts.example.com/o/oauth2/auth",
		TokenURL:     "https://oauth2.example.com/token",
	}
	readonly = NewScopeSet(ScopeGmailReadonly)
	events   = NewScopeSet(ScopeCalendarEvents)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is a TokenStore that counts operations and can inject errors.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]*TokenRecord
	corrupt bool
	loadErr error

	saves   atomic.Int32
	deletes atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*TokenRecord)}
}

func (s *memStore) Load(_ context.Context, key string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.corrupt {
		return nil, fmt.Errorf("%w: bad json", ErrCorruptToken)
	}
	rec, ok := s.recs[key]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return rec.Clone(), nil
}

func (s *memStore) Save(_ context.Context, key string, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves.Add(1)
	s.recs[key] = rec.Clone()
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes.Add(1)
	s.corrupt = false
	delete(s.recs, key)
	return nil
}

func (s *memStore) get(key string) *TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[key].Clone()
}

// fakeProvider hands out sequentially numbered tokens valid for an hour.
type fakeProvider struct {
	clock clockwork.Clock

	// refreshErr, when set, is returned by Refresh.
	refreshErr error
	// refreshGate, when set, blocks Refresh until closed.
	refreshGate chan struct{}
	// grant and refreshScopes, when set, replace the scopes Google reports
	// for a code exchange and a refresh.
	grant         ScopeSet
	refreshScopes ScopeSet

	refreshes atomic.Int32
	exchanges atomic.Int32
	revoked   []string
	mu        sync.Mutex
}

func (p *fakeProvider) AuthCodeURL(state, redirectURL, verifier string, scopes ScopeSet) string {
	q := url.Values{
		"state":        {state},
		"redirect_uri": {redirectURL},
		"scope":        {scopes.String()},
	}
	return "https://accounts.example.com/o/oauth2/auth?" + q.Encode()
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code, _, _ string, scopes ScopeSet) (*TokenRecord, error) {
	n := p.exchanges.Add(1)
	if len(p.grant) > 0 {
		scopes = p.grant
	}
	return &TokenRecord{
		AccessToken:  fmt.Sprintf("consented-%d-%s", n, code),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		TokenType:    "Bearer",
		Expiry:       p.clock.Now().Add(time.Hour),
		Scopes:       scopes,
	}, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	if p.refreshGate != nil {
		select {
		case <-p.refreshGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := p.refreshes.Add(1)
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	next := rec.Clone()
	next.AccessToken = fmt.Sprintf("refreshed-%d", n)
	next.Expiry = p.clock.Now().Add(time.Hour)
	if len(p.refreshScopes) > 0 {
		next.Scopes = p.refreshScopes
	}
	return next, nil
}

func (p *fakeProvider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, token)
	return nil
}

// fakeConsenter exchanges a fixed code through the provider.
type fakeConsenter struct {
	err error
	// started, when set, receives once per call before the gate is awaited.
	started chan struct{}
	gate    chan struct{}

	calls  atomic.Int32
	mu     sync.Mutex
	scopes []ScopeSet
}

func (c *fakeConsenter) Consent(ctx context.Context, provider TokenProvider, scopes ScopeSet) (*TokenRecord, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.scopes = append(c.scopes, scopes)
	c.mu.Unlock()

	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return provider.ExchangeCode(ctx, "code", "", "", scopes)
}

func (c *fakeConsenter) lastScopes() ScopeSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.scopes) == 0 {
		return nil
	}
	return c.scopes[len(c.scopes)-1]
}

type fixture struct {
	clock     *clockwork.FakeClock
	store     *memStore
	provider  *fakeProvider
	consenter *fakeConsenter
	manager   *Manager
}

// newFixture builds a manager over fakes. Pass headless to omit the consenter.
func newFixture(t *testing.T, headless bool, opts ...ManagerOption) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	f := &fixture{
		clock:     clock,
		store:     newMemStore(),
		provider:  &fakeProvider{clock: clock},
		consenter: &fakeConsenter{},
	}

	all := []ManagerOption{WithClock(clock), WithLogger(discardLogger())}
	if !headless {
		all = append(all, WithConsenter(f.consenter))
	}
	all = append(all, opts...)

	m, err := NewManager(DefaultAccount, testClient, f.provider, f.store, all...)
	require.NoError(t, err)
	f.manager = m
	return f
}

// seed stores a record with the given scopes expiring after ttl.
func (f *fixture) seed(scopes ScopeSet, ttl time.Duration) *TokenRecord {
	rec := &TokenRecord{
		AccessToken:  "stored",
		RefreshToken: "stored-refresh",
		TokenType:    "Bearer",
		Expiry:       f.clock.Now().Add(ttl),
		Scopes:       scopes,
		ClientID:     testClient.ClientID,
		UpdatedAt:    f.clock.Now(),
	}
	f.store.recs[DefaultAccount] = rec.Clone()
	return rec
}
