package google

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/jarvis/internal/instrumentation"
)

func TestNewManager_Validation(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{}

	_, err := NewManager("bad/name", testClient, provider, store)
	assert.Error(t, err)

	_, err = NewManager(DefaultAccount, nil, provider, store)
	assert.Error(t, err)

	_, err = NewManager(DefaultAccount, &ClientConfig{}, provider, store)
	assert.True(t, IsUnrecoverable(err))

	_, err = NewManager(DefaultAccount, testClient, nil, store)
	assert.Error(t, err)

	_, err = NewManager(DefaultAccount, testClient, provider, nil)
	assert.Error(t, err)

	m, err := NewManager("work", testClient, provider, store)
	require.NoError(t, err)
	assert.Equal(t, "work", m.Account())
	assert.False(t, m.Interactive())
	assert.Equal(t, DefaultRefreshMargin, m.RefreshMargin())
}

func TestManager_Acquire_EmptyScopes(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.manager.Acquire(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyScopes)
}

func TestManager_Acquire_ValidTokenNoNetwork(t *testing.T) {
	f := newFixture(t, false)
	f.seed(NewScopeSet(ScopeGmailReadonly, ScopeCalendarEvents), time.Hour)

	sess, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, "stored", sess.Token().AccessToken)
	assert.Empty(t, sess.Token().RefreshToken, "sessions never expose the refresh token")
	assert.Equal(t, DefaultAccount, sess.Account())

	assert.Zero(t, f.provider.refreshes.Load())
	assert.Zero(t, f.consenter.calls.Load())
	assert.Zero(t, f.store.saves.Load())
}

func TestManager_Acquire_RefreshMargin(t *testing.T) {
	tests := []struct {
		name        string
		ttl         time.Duration
		wantRefresh bool
	}{
		{name: "well before margin", ttl: 10 * time.Minute, wantRefresh: false},
		{name: "inside margin", ttl: 4 * time.Minute, wantRefresh: true},
		{name: "exactly at margin", ttl: DefaultRefreshMargin, wantRefresh: true},
		{name: "already expired", ttl: -time.Minute, wantRefresh: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.seed(readonly, tt.ttl)

			sess, err := f.manager.Acquire(context.Background(), readonly)
			require.NoError(t, err)

			if tt.wantRefresh {
				assert.Equal(t, int32(1), f.provider.refreshes.Load())
				assert.Equal(t, "refreshed-1", sess.Token().AccessToken)
				stored := f.store.get(DefaultAccount)
				assert.Equal(t, "refreshed-1", stored.AccessToken)
				assert.Equal(t, "stored-refresh", stored.RefreshToken)
				assert.Equal(t, testClient.ClientID, stored.ClientID)
			} else {
				assert.Zero(t, f.provider.refreshes.Load())
				assert.Equal(t, "stored", sess.Token().AccessToken)
			}
			assert.Zero(t, f.consenter.calls.Load())
		})
	}
}

func TestManager_Acquire_ZeroExpiryNeverRefreshes(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, 0)
	f.store.recs[DefaultAccount].Expiry = time.Time{}

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Zero(t, f.provider.refreshes.Load())
}

func TestManager_Acquire_ConcurrentSingleRefresh(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, -time.Minute)
	f.provider.refreshGate = make(chan struct{})

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := f.manager.Acquire(context.Background(), readonly)
			errs[i] = err
			if err == nil {
				tokens[i] = sess.Token().AccessToken
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(f.provider.refreshGate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed-1", tokens[i])
	}
	assert.Equal(t, int32(1), f.provider.refreshes.Load())
	assert.Equal(t, int32(1), f.store.saves.Load())
}

func TestManager_Acquire_NoRecordConsents(t *testing.T) {
	f := newFixture(t, false)

	sess, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, "consented-1-code", sess.Token().AccessToken)
	assert.Equal(t, int32(1), f.consenter.calls.Load())
	assert.Equal(t, readonly, f.consenter.lastScopes())

	stored := f.store.get(DefaultAccount)
	require.NotNil(t, stored)
	assert.Equal(t, testClient.ClientID, stored.ClientID)
	assert.Equal(t, testEpoch, stored.UpdatedAt)

	// A second call is served from the stored record.
	_, err = f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.consenter.calls.Load())
}

func TestManager_Acquire_ScopeUpgradeUnionsScopes(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, time.Hour)

	sess, err := f.manager.Acquire(context.Background(), events)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ScopeGmailReadonly, ScopeCalendarEvents}, f.consenter.lastScopes().Strings())
	assert.True(t, sess.Scopes().Covers(readonly.Union(events)))

	// Both scope sets are now served without consent.
	for _, scopes := range []ScopeSet{readonly, events} {
		_, err := f.manager.Acquire(context.Background(), scopes)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.consenter.calls.Load())
}

func TestManager_Acquire_InvalidGrantReconsents(t *testing.T) {
	f := newFixture(t, false)
	f.seed(NewScopeSet(ScopeGmailReadonly, ScopeGmailSend), -time.Minute)
	f.provider.refreshErr = &OAuthError{Code: codeInvalidGrant, Description: "Token has been expired or revoked.", Status: 400}

	sess, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, "consented-1-code", sess.Token().AccessToken)
	assert.Equal(t, int32(1), f.consenter.calls.Load())
	assert.ElementsMatch(t, []string{ScopeGmailReadonly, ScopeGmailSend}, f.consenter.lastScopes().Strings())
	assert.Equal(t, int32(1), f.store.deletes.Load(), "rejected record must be removed")
}

func TestManager_Acquire_InvalidGrantHeadless(t *testing.T) {
	f := newFixture(t, true)
	f.seed(readonly, -time.Minute)
	f.provider.refreshErr = &OAuthError{Code: codeInvalidGrant, Status: 400}

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.Error(t, err)
	assert.True(t, IsUnrecoverable(err))
	assert.Nil(t, f.store.get(DefaultAccount))
}

func TestManager_Acquire_ClientFailure(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, -time.Minute)
	f.provider.refreshErr = &OAuthError{Code: codeInvalidClient, Status: 401}

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.Error(t, err)
	assert.True(t, IsUnrecoverable(err))
	assert.True(t, isClientFailure(err))
	assert.Zero(t, f.consenter.calls.Load(), "consent cannot fix a rejected client")
	assert.Nil(t, f.store.get(DefaultAccount))
}

func TestManager_Acquire_TransientKeepsRecord(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, -time.Minute)
	f.provider.refreshErr = &OAuthError{Code: "backend_error", Status: 503}

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Zero(t, f.consenter.calls.Load())
	require.NotNil(t, f.store.get(DefaultAccount))
	assert.Equal(t, "stored-refresh", f.store.get(DefaultAccount).RefreshToken)
}

func TestManager_Acquire_Headless(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.Error(t, err)
	assert.True(t, IsUnrecoverable(err))
	assert.Contains(t, err.Error(), "interactive consent required")

	// Refresh still works without a consenter.
	f.seed(readonly, -time.Minute)
	sess, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", sess.Token().AccessToken)
}

func TestManager_Acquire_ConsentDenied(t *testing.T) {
	f := newFixture(t, false)
	f.consenter.err = errors.New("browser closed")

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.Error(t, err)
	assert.True(t, IsConsentDenied(err))
	assert.Zero(t, f.store.saves.Load())
}

func TestManager_Acquire_ConsentNarrowedGrant(t *testing.T) {
	f := newFixture(t, false)
	f.provider.grant = readonly

	sess, err := f.manager.Acquire(context.Background(), NewScopeSet(ScopeGmailReadonly, ScopeGmailSend))
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.True(t, IsConsentDenied(err))
	assert.ErrorIs(t, err, ErrScopeInsufficient)
	assert.Contains(t, err.Error(), "gmail.send")
	assert.Zero(t, f.store.saves.Load(), "a grant missing required scopes is not stored")
}

func TestManager_Acquire_RefreshNarrowedGrantReconsents(t *testing.T) {
	f := newFixture(t, false)
	both := NewScopeSet(ScopeGmailReadonly, ScopeGmailSend)
	f.seed(both, -time.Minute)
	f.provider.refreshScopes = readonly

	sess, err := f.manager.Acquire(context.Background(), both)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.provider.refreshes.Load())
	assert.Equal(t, int32(1), f.consenter.calls.Load())
	assert.ElementsMatch(t, both.Strings(), f.consenter.lastScopes().Strings())
	assert.Equal(t, "consented-1-code", sess.Token().AccessToken)
	assert.True(t, sess.Scopes().Covers(both))

	stored := f.store.get(DefaultAccount)
	require.NotNil(t, stored)
	assert.True(t, stored.Covers(both))
}

func TestManager_Acquire_WaiterCancelDoesNotFailOthers(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, -time.Minute)
	f.provider.refreshGate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.manager.Acquire(ctx, readonly)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		token string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		sess, err := f.manager.Acquire(context.Background(), readonly)
		if err != nil {
			second <- result{err: err}
			return
		}
		second <- result{token: sess.Token().AccessToken}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, IsTransient(err))
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(f.provider.refreshGate)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, "refreshed-1", r.token)
	case <-time.After(time.Second):
		t.Fatal("remaining caller did not return")
	}
	assert.Equal(t, int32(1), f.provider.refreshes.Load())
}

func TestManager_Acquire_DifferentClientReconsents(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, time.Hour)
	f.store.recs[DefaultAccount].ClientID = "someone-else.apps.googleusercontent.com"

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.consenter.calls.Load())
	assert.Zero(t, f.provider.refreshes.Load())
}

func TestManager_Acquire_CorruptRecordReconsents(t *testing.T) {
	f := newFixture(t, false)
	f.store.corrupt = true

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.consenter.calls.Load())
	assert.Equal(t, int32(1), f.store.deletes.Load())
}

func TestManager_Acquire_StoreUnavailable(t *testing.T) {
	f := newFixture(t, false)
	f.store.loadErr = errors.New("disk on fire")

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Zero(t, f.consenter.calls.Load())
}

func TestManager_InvalidateThenAcquireConsents(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, time.Hour)

	require.NoError(t, f.manager.Invalidate(context.Background()))
	require.NoError(t, f.manager.Invalidate(context.Background()), "invalidate is idempotent")
	assert.Nil(t, f.store.get(DefaultAccount))

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.consenter.calls.Load())
}

func TestManager_InvalidateDuringConsent(t *testing.T) {
	f := newFixture(t, false)
	f.consenter.started = make(chan struct{}, 2)
	f.consenter.gate = make(chan struct{})

	type result struct {
		sess *Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := f.manager.Acquire(context.Background(), readonly)
		done <- result{sess, err}
	}()

	<-f.consenter.started
	require.NoError(t, f.manager.Invalidate(context.Background()))
	close(f.consenter.gate)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, int32(2), f.consenter.calls.Load(), "the pre-invalidation grant must be discarded")
	assert.Equal(t, "consented-2-code", res.sess.Token().AccessToken)
	assert.Equal(t, "consented-2-code", f.store.get(DefaultAccount).AccessToken)
}

func TestManager_ForceRefresh(t *testing.T) {
	f := newFixture(t, true)
	f.seed(readonly, time.Hour)

	st, err := f.manager.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.provider.refreshes.Load())
	assert.True(t, st.Present)
	assert.Equal(t, testEpoch.Add(time.Hour), st.Expiry)
	assert.Equal(t, "refreshed-1", f.store.get(DefaultAccount).AccessToken)
}

func TestManager_ForceRefresh_NoRecord(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.manager.ForceRefresh(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnrecoverable(err))
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.Zero(t, f.consenter.calls.Load())
}

func TestManager_Status(t *testing.T) {
	f := newFixture(t, false)

	st, err := f.manager.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Present)
	assert.Equal(t, DefaultAccount, st.Account)

	f.seed(readonly, 3*time.Minute)
	st, err = f.manager.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Present)
	assert.True(t, st.HasRefreshToken)
	assert.True(t, st.ClientMatches)
	assert.False(t, st.Expired)
	assert.True(t, st.NeedsRefresh)
	assert.Equal(t, readonly, st.Scopes)

	f.clock.Advance(4 * time.Minute)
	st, err = f.manager.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Expired)
}

func TestManager_Revoke(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, time.Hour)

	require.NoError(t, f.manager.Revoke(context.Background()))
	assert.Equal(t, []string{"stored-refresh"}, f.provider.revoked)
	assert.Nil(t, f.store.get(DefaultAccount))

	// Nothing stored: nothing to revoke.
	require.NoError(t, f.manager.Revoke(context.Background()))
	assert.Len(t, f.provider.revoked, 1)
}

func TestManager_Import(t *testing.T) {
	f := newFixture(t, true)

	st, err := f.manager.Import(context.Background(), &TokenRecord{
		AccessToken:  "legacy",
		RefreshToken: "legacy-refresh",
		Expiry:       f.clock.Now().Add(time.Hour),
		Scopes:       readonly,
	})
	require.NoError(t, err)
	assert.True(t, st.Present)
	assert.True(t, st.ClientMatches)

	stored := f.store.get(DefaultAccount)
	require.NotNil(t, stored)
	assert.Equal(t, testClient.ClientID, stored.ClientID)
	assert.Equal(t, testEpoch.UTC(), stored.UpdatedAt)

	sess, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	assert.Equal(t, "legacy", sess.Token().AccessToken)
}

func TestManager_Import_ForeignClient(t *testing.T) {
	f := newFixture(t, true)

	st, err := f.manager.Import(context.Background(), &TokenRecord{
		RefreshToken: "legacy-refresh",
		Scopes:       readonly,
		ClientID:     "someone-else.apps.googleusercontent.com",
	})
	require.NoError(t, err)
	assert.False(t, st.ClientMatches)

	_, err = f.manager.Acquire(context.Background(), readonly)
	require.Error(t, err)
	assert.True(t, IsUnrecoverable(err))
}

func TestManager_Import_Invalid(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.manager.Import(context.Background(), nil)
	require.Error(t, err)
	_, err = f.manager.Import(context.Background(), &TokenRecord{Scopes: readonly})
	require.Error(t, err)
	_, err = f.manager.Import(context.Background(), &TokenRecord{AccessToken: "a"})
	require.Error(t, err)
	assert.Nil(t, f.store.get(DefaultAccount))
}

func TestManager_TokenSource(t *testing.T) {
	f := newFixture(t, false)
	f.seed(readonly, time.Hour)

	ts := f.manager.TokenSource(context.Background(), readonly)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "stored", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken)
}

func TestManager_AuditEvents(t *testing.T) {
	var buf bytes.Buffer
	audit := instrumentation.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	f := newFixture(t, false, WithAuditLogger(audit))
	f.seed(readonly, -time.Minute)

	_, err := f.manager.Acquire(context.Background(), readonly)
	require.NoError(t, err)
	require.NoError(t, f.manager.Invalidate(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"msg":"credential_refresh"`)
	assert.Contains(t, out, `"msg":"credential_invalidate"`)
	assert.NotContains(t, out, "stored-refresh", "audit log must not contain token material")
}
