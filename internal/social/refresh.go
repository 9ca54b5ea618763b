package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"instafeed/internal/secrets"

	log "github.com/sirupsen/logrus"
)

// RefreshResult holds the replacement credential issued by the provider.
type RefreshResult struct {
	AccessToken string
	ExpiresAt   time.Time
}

type TokenRefresher interface {
	Refresh(ctx context.Context, provider, currentToken string) (*RefreshResult, error)
}

// GraphRefresher exchanges long-lived tokens against the Instagram/Facebook
// Graph APIs. Both endpoints are plain GET request/response JSON.
type GraphRefresher struct {
	HTTPClient    *http.Client
	InstagramBase string // default https://graph.instagram.com
	FacebookBase  string // default https://graph.facebook.com/v23.0
}

func (r *GraphRefresher) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

func (r *GraphRefresher) Refresh(ctx context.Context, provider, currentToken string) (*RefreshResult, error) {
	switch provider {
	case ProviderInstagram:
		return r.refreshInstagram(ctx, currentToken)
	case ProviderFacebook:
		return r.refreshFacebook(ctx, currentToken)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (r *GraphRefresher) refreshInstagram(ctx context.Context, currentToken string) (*RefreshResult, error) {
	base := r.InstagramBase
	if base == "" {
		base = "https://graph.instagram.com"
	}

	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", currentToken)

	return r.doRefresh(ctx, base+"/refresh_access_token?"+q.Encode())
}

func (r *GraphRefresher) refreshFacebook(ctx context.Context, currentToken string) (*RefreshResult, error) {
	base := r.FacebookBase
	if base == "" {
		base = "https://graph.facebook.com/v23.0"
	}

	appID, err := secrets.Get(ctx, "FACEBOOK_APP_ID")
	if err != nil {
		return nil, err
	}
	appSecret, err := secrets.Get(ctx, "FACEBOOK_APP_SECRET")
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", appID)
	q.Set("client_secret", appSecret)
	q.Set("fb_exchange_token", currentToken)

	return r.doRefresh(ctx, base+"/oauth/access_token?"+q.Encode())
}

func (r *GraphRefresher) doRefresh(ctx context.Context, endpoint string) (*RefreshResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	res, err := r.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)

	var out refreshResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.AccessToken == "" {
		return nil, fmt.Errorf("token refresh failed: http %d: %s", res.StatusCode, string(raw))
	}

	result := &RefreshResult{AccessToken: out.AccessToken}
	if out.ExpiresIn > 0 {
		result.ExpiresAt = time.Now().UTC().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return result, nil
}

// TokenSource hands out accounts whose credential is guaranteed fresh for at
// least Window. When expiry is closer than that it refreshes inline and
// persists the new token, so callers never see a stale credential.
type TokenSource struct {
	Store     *Store
	Refresher TokenRefresher
	Window    time.Duration // default 24h
}

func (ts *TokenSource) window() time.Duration {
	if ts.Window > 0 {
		return ts.Window
	}
	return 24 * time.Hour
}

func (ts *TokenSource) FreshAccount(ctx context.Context, shop, provider string) (*Account, error) {
	acct, err := ts.Store.Get(ctx, shop, provider)
	if err != nil {
		return nil, err
	}

	if acct.ExpiresAt.IsZero() || time.Until(acct.ExpiresAt) > ts.window() {
		return acct, nil
	}

	res, err := ts.Refresher.Refresh(ctx, provider, acct.AccessToken)
	if err != nil {
		// A still-valid token is better than no token; log and carry on.
		if time.Now().Before(acct.ExpiresAt) {
			log.WithFields(log.Fields{"shop": shop, "provider": provider}).
				Warnf("token refresh failed, using current token: %v", err)
			return acct, nil
		}
		return nil, fmt.Errorf("token expired and refresh failed: %w", err)
	}

	acct.AccessToken = res.AccessToken
	acct.ExpiresAt = res.ExpiresAt
	if err := ts.Store.Upsert(ctx, acct); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	return acct, nil
}

func (ts *TokenSource) TouchLastSync(ctx context.Context, shop, provider string) error {
	return ts.Store.TouchLastSync(ctx, shop, provider, time.Now().UTC())
}
