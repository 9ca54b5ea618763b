package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedBody = `{"data":[
	{"id":"100","media_type":"IMAGE","media_url":"https://cdn.example/100.jpg","permalink":"https://instagram.com/p/100","caption":"first","timestamp":"2026-08-20T10:00:00+0000","username":"tester","like_count":12,"comments_count":3},
	{"id":"400","media_type":"CAROUSEL_ALBUM","media_url":"https://cdn.example/400.jpg","permalink":"https://instagram.com/p/400","timestamp":"2026-08-19T10:00:00+0000","username":"tester",
	 "children":{"data":[
		{"id":"401","media_type":"IMAGE","media_url":"https://cdn.example/401.jpg"},
		{"id":"402","media_type":"VIDEO","media_url":"https://cdn.example/402.mp4","thumbnail_url":"https://cdn.example/402.jpg"}
	 ]}}
]}`

func TestMediaRequestAndDecode(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/media", r.URL.Path)
		gotQuery = r.URL.Query()
		fmt.Fprint(w, feedBody)
	}))
	defer srv.Close()

	c := &Client{HTTPClient: srv.Client(), BaseURL: srv.URL}
	feed, err := c.Media(context.Background(), "tok-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, gotQuery["access_token"])
	assert.Equal(t, []string{mediaFields}, gotQuery["fields"])

	require.Len(t, feed.Media, 2)
	assert.Equal(t, "100", feed.Media[0].ID)
	assert.Equal(t, 12, feed.Media[0].LikeCount)
	assert.Equal(t, KindCarousel, feed.Media[1].MediaType)
	require.NotNil(t, feed.Media[1].Children)
	assert.Len(t, feed.Media[1].Children.Data, 2)
	assert.Equal(t, "402", feed.Media[1].Children.Data[1].ID)

	// Raw keeps the untouched vendor payload for the list metaobject.
	assert.JSONEq(t, feedBody, string(feed.Raw))
}

func TestMediaVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid OAuth access token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &Client{HTTPClient: srv.Client(), BaseURL: srv.URL}
	_, err := c.Media(context.Background(), "bad")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 401")
	assert.Contains(t, err.Error(), "Invalid OAuth access token")
}

func TestMediaMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>gateway error</html>`)
	}))
	defer srv.Close()

	c := &Client{HTTPClient: srv.Client(), BaseURL: srv.URL}
	_, err := c.Media(context.Background(), "tok")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed response")
}

func TestProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		fmt.Fprint(w, `{"id":"178414","username":"tester","media_count":42}`)
	}))
	defer srv.Close()

	c := &Client{HTTPClient: srv.Client(), BaseURL: srv.URL}
	p, err := c.Profile(context.Background(), "tok")

	require.NoError(t, err)
	assert.Equal(t, "tester", p.Username)
	assert.Equal(t, 42, p.MediaCount)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	c := &Client{HTTPClient: srv.Client()}
	data, err := c.Download(context.Background(), srv.URL+"/video.mp4")

	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), data)
}

func TestDownloadExpiredURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := &Client{HTTPClient: srv.Client()}
	_, err := c.Download(context.Background(), srv.URL+"/video.mp4")

	assert.Error(t, err)
}
