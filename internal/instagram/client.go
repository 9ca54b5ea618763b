package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-querystring/query"
)

// mediaFields is the fixed field selection for /me/media. One call returns the
// whole feed including one level of carousel children; the API decides ordering
// (reverse-chronological) and we never re-sort.
const mediaFields = "id,media_type,media_url,thumbnail_url,permalink,caption,timestamp,username,like_count,comments_count,children{id,media_url,media_type,thumbnail_url}"

const profileFields = "id,username,name,profile_picture_url,media_count"

// Client talks to the Instagram Graph API. The access credential rides along
// as a query parameter on every call, per the vendor's auth model.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string // default https://graph.instagram.com
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://graph.instagram.com"
}

type graphParams struct {
	Fields      string `url:"fields"`
	AccessToken string `url:"access_token"`
}

func (c *Client) get(ctx context.Context, path string, params graphParams) ([]byte, error) {
	v, err := query.Values(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+path+"?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("instagram %s: http %d: %s", path, res.StatusCode, string(raw))
	}
	return raw, nil
}

// Media lists the account's feed in API response order.
func (c *Client) Media(ctx context.Context, accessToken string) (*Feed, error) {
	raw, err := c.get(ctx, "/me/media", graphParams{Fields: mediaFields, AccessToken: accessToken})
	if err != nil {
		return nil, err
	}

	var body struct {
		Data []Media `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("instagram /me/media: malformed response: %w", err)
	}

	return &Feed{Media: body.Data, Raw: raw}, nil
}

func (c *Client) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	raw, err := c.get(ctx, "/me", graphParams{Fields: profileFields, AccessToken: accessToken})
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("instagram /me: malformed response: %w", err)
	}
	return &p, nil
}

// Download fetches the raw media bytes from a vendor-issued (time-limited)
// URL. Video uploads need the full payload in memory for staging.
func (c *Client) Download(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("media download: http %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}
