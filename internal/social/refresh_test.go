package social

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphRefresherInstagram(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refresh_access_token", r.URL.Path)
		assert.Equal(t, "ig_refresh_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "old-token", r.URL.Query().Get("access_token"))
		fmt.Fprint(w, `{"access_token":"new-token","token_type":"bearer","expires_in":5184000}`)
	}))
	defer srv.Close()

	r := &GraphRefresher{HTTPClient: srv.Client(), InstagramBase: srv.URL}
	res, err := r.Refresh(context.Background(), ProviderInstagram, "old-token")

	require.NoError(t, err)
	assert.Equal(t, "new-token", res.AccessToken)
	assert.WithinDuration(t, time.Now().Add(5184000*time.Second), res.ExpiresAt, time.Minute)
}

func TestGraphRefresherErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"token invalid"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	r := &GraphRefresher{HTTPClient: srv.Client(), InstagramBase: srv.URL}
	_, err := r.Refresh(context.Background(), ProviderInstagram, "old-token")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "token invalid")
}

type scriptedRefresher struct {
	res   *RefreshResult
	err   error
	calls int
}

func (s *scriptedRefresher) Refresh(ctx context.Context, provider, token string) (*RefreshResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func seedAccount(t *testing.T, store *Store, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), &Account{
		Shop:        "test.myshopify.com",
		Provider:    ProviderInstagram,
		AccessToken: "current-token",
		ExpiresAt:   expiresAt,
	}))
}

func TestFreshAccountFarFromExpiryNoRefresh(t *testing.T) {
	store, _ := newTestStore(t)
	seedAccount(t, store, time.Now().UTC().Add(30*24*time.Hour))
	sr := &scriptedRefresher{}
	ts := &TokenSource{Store: store, Refresher: sr}

	acct, err := ts.FreshAccount(context.Background(), "test.myshopify.com", ProviderInstagram)

	require.NoError(t, err)
	assert.Equal(t, "current-token", acct.AccessToken)
	assert.Zero(t, sr.calls)
}

func TestFreshAccountNearExpiryRefreshesAndPersists(t *testing.T) {
	store, _ := newTestStore(t)
	seedAccount(t, store, time.Now().UTC().Add(2*time.Hour))
	newExpiry := time.Now().UTC().Add(60 * 24 * time.Hour).Truncate(time.Second)
	sr := &scriptedRefresher{res: &RefreshResult{AccessToken: "new-token", ExpiresAt: newExpiry}}
	ts := &TokenSource{Store: store, Refresher: sr}

	acct, err := ts.FreshAccount(context.Background(), "test.myshopify.com", ProviderInstagram)

	require.NoError(t, err)
	assert.Equal(t, "new-token", acct.AccessToken)
	assert.Equal(t, 1, sr.calls)

	stored, err := store.Get(context.Background(), "test.myshopify.com", ProviderInstagram)
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.AccessToken, "refreshed token persisted")
	assert.Equal(t, newExpiry, stored.ExpiresAt)
}

func TestFreshAccountRefreshFailureFallsBackToValidToken(t *testing.T) {
	store, _ := newTestStore(t)
	seedAccount(t, store, time.Now().UTC().Add(2*time.Hour))
	sr := &scriptedRefresher{err: fmt.Errorf("provider down")}
	ts := &TokenSource{Store: store, Refresher: sr}

	acct, err := ts.FreshAccount(context.Background(), "test.myshopify.com", ProviderInstagram)

	require.NoError(t, err, "still-valid token is usable even when refresh fails")
	assert.Equal(t, "current-token", acct.AccessToken)
}

func TestFreshAccountExpiredAndRefreshFailed(t *testing.T) {
	store, _ := newTestStore(t)
	seedAccount(t, store, time.Now().UTC().Add(-time.Hour))
	sr := &scriptedRefresher{err: fmt.Errorf("provider down")}
	ts := &TokenSource{Store: store, Refresher: sr}

	_, err := ts.FreshAccount(context.Background(), "test.myshopify.com", ProviderInstagram)

	assert.Error(t, err)
}
