package instagram

import "encoding/json"

// Media kinds as reported by the Graph API. Only carousels have children and
// children are never themselves carousels.
const (
	KindImage    = "IMAGE"
	KindVideo    = "VIDEO"
	KindCarousel = "CAROUSEL_ALBUM"
)

type Child struct {
	ID           string `json:"id"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type Media struct {
	ID            string `json:"id"`
	MediaType     string `json:"media_type"`
	MediaURL      string `json:"media_url"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	Permalink     string `json:"permalink"`
	Caption       string `json:"caption,omitempty"`
	Timestamp     string `json:"timestamp"`
	Username      string `json:"username"`
	LikeCount     int    `json:"like_count"`
	CommentsCount int    `json:"comments_count"`
	Children      *struct {
		Data []Child `json:"data"`
	} `json:"children,omitempty"`
}

// Feed is one /me/media response. Raw keeps the unmodified vendor payload for
// the list metaobject's data field.
type Feed struct {
	Media []Media
	Raw   json.RawMessage
}

type Profile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name,omitempty"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
	MediaCount        int    `json:"media_count"`
}
