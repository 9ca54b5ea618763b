package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"instafeed/internal/instagram"
	"instafeed/internal/shopify"
	"instafeed/internal/social"
)

// AccountSource hands out accounts with a usable credential.
type AccountSource interface {
	FreshAccount(ctx context.Context, shop, provider string) (*social.Account, error)
	TouchLastSync(ctx context.Context, shop, provider string) error
}

// MediaSource is the vendor side: one feed fetch plus raw byte downloads for
// media that has to be staged.
type MediaSource interface {
	Media(ctx context.Context, accessToken string) (*instagram.Feed, error)
	Download(ctx context.Context, mediaURL string) ([]byte, error)
}

// FileStore is the Shopify file surface the uploader needs.
type FileStore interface {
	ExistingAltKeys(ctx context.Context) (map[string]bool, error)
	CreateFileFromURL(ctx context.Context, sourceURL, alt, contentType string) (string, error)
	UploadStagedVideo(ctx context.Context, data []byte, alt string) (string, error)
}

// MetaobjectStore is the Shopify metaobject surface the upserter needs.
type MetaobjectStore interface {
	UpsertPost(ctx context.Context, sourceID string, raw []byte, fileIDs []string, caption string, likes, comments int) (string, error)
	UpsertList(ctx context.Context, rawFeed []byte, postGIDs []string, username, accountName string) (string, error)
	ListPostRefs(ctx context.Context) ([]string, error)
}

type LockService interface {
	Acquire(ctx context.Context, shop, owner string) error
	Release(ctx context.Context, shop, owner string) error
}

type RunRecorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// Summary is the outcome of one sync run. NotConnected is a normal result,
// not an error: the shop simply has no Instagram account linked.
type Summary struct {
	Shop          string   `json:"shop"`
	NotConnected  bool     `json:"notConnected,omitempty"`
	PostsSeen     int      `json:"postsSeen"`
	PostsUploaded int      `json:"postsUploaded"`
	FilesUploaded int      `json:"filesUploaded"`
	PostsSkipped  int      `json:"postsSkipped"`
	PostsFailed   int      `json:"postsFailed"`
	Errors        []string `json:"errors,omitempty"`
	ListID        string   `json:"listId,omitempty"`
}

// Pipeline runs one full sync: resolve account, index existing files, fetch
// the feed, upload what is new, upsert post metaobjects, roll up the list.
type Pipeline struct {
	Accounts    AccountSource
	Instagram   MediaSource
	Files       FileStore
	Metaobjects MetaobjectStore
	Locks       LockService // optional
	Runs        RunRecorder // optional
}

// Run syncs one shop. A vendor fetch failure aborts the run; a single post
// failing does not stop its siblings.
func (p *Pipeline) Run(ctx context.Context, shop string) (*Summary, error) {
	started := time.Now()
	owner := fmt.Sprintf("run-%d", started.UnixNano())

	if p.Locks != nil {
		if err := p.Locks.Acquire(ctx, shop, owner); err != nil {
			return nil, err
		}
		defer func() {
			if err := p.Locks.Release(context.WithoutCancel(ctx), shop, owner); err != nil {
				log.WithField("shop", shop).Warnf("release sync lock: %v", err)
			}
		}()
	}

	sum, err := p.run(ctx, shop)
	p.record(ctx, shop, started, sum, err)
	return sum, err
}

func (p *Pipeline) run(ctx context.Context, shop string) (*Summary, error) {
	sum := &Summary{Shop: shop}

	acct, err := p.Accounts.FreshAccount(ctx, shop, social.ProviderInstagram)
	if err != nil {
		if err == social.ErrNotConnected {
			sum.NotConnected = true
			return sum, nil
		}
		return nil, err
	}

	existing, err := p.Files.ExistingAltKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("index existing files: %w", err)
	}

	feed, err := p.Instagram.Media(ctx, acct.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch instagram media: %w", err)
	}
	sum.PostsSeen = len(feed.Media)

	var postGIDs []string
	for _, m := range feed.Media {
		gid, uploaded, err := p.syncPost(ctx, m, existing, sum)
		if err != nil {
			sum.PostsFailed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("post %s: %v", m.ID, err))
			log.WithFields(log.Fields{"shop": shop, "post": m.ID}).Warnf("post sync failed: %v", err)
			continue
		}
		postGIDs = append(postGIDs, gid)
		if uploaded {
			sum.PostsUploaded++
		} else {
			sum.PostsSkipped++
		}
	}

	if len(postGIDs) == 0 {
		return sum, nil
	}

	merged := postGIDs
	if prev, err := p.Metaobjects.ListPostRefs(ctx); err != nil {
		log.WithField("shop", shop).Warnf("read previous list refs: %v", err)
	} else {
		merged = mergeRefs(prev, postGIDs)
	}

	listID, err := p.Metaobjects.UpsertList(ctx, feed.Raw, merged, acct.Username, acct.Username)
	if err != nil {
		return sum, fmt.Errorf("upsert list: %w", err)
	}
	sum.ListID = listID

	if err := p.Accounts.TouchLastSync(ctx, shop, social.ProviderInstagram); err != nil {
		log.WithField("shop", shop).Warnf("record last sync time: %v", err)
	}
	return sum, nil
}

// syncPost handles one feed item. When its files already exist the upload is
// skipped and the metaobject is upserted without a files value, leaving the
// references written by the original upload in place.
func (p *Pipeline) syncPost(ctx context.Context, m instagram.Media, existing map[string]bool, sum *Summary) (gid string, uploaded bool, err error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", false, err
	}

	var fileIDs []string
	if !existing[m.ID] {
		var childErrs []string
		fileIDs, childErrs, err = p.uploadPost(ctx, m)
		sum.Errors = append(sum.Errors, childErrs...)
		if err != nil {
			return "", false, err
		}
		sum.FilesUploaded += len(fileIDs)
		uploaded = true
	}

	gid, err = p.Metaobjects.UpsertPost(ctx, m.ID, raw, fileIDs, m.Caption, m.LikeCount, m.CommentsCount)
	if err != nil {
		return "", false, err
	}
	return gid, uploaded, nil
}

// uploadPost returns the created file GIDs in feed order. Carousel children
// upload in their listed order; a failed child is skipped with the order of
// the survivors preserved, and only an all-children failure fails the post.
func (p *Pipeline) uploadPost(ctx context.Context, m instagram.Media) ([]string, []string, error) {
	switch m.MediaType {
	case instagram.KindCarousel:
		if m.Children == nil || len(m.Children.Data) == 0 {
			return nil, nil, fmt.Errorf("carousel %s has no children", m.ID)
		}
		var ids, childErrs []string
		for _, c := range m.Children.Data {
			id, err := p.uploadOne(ctx, c.MediaType, c.MediaURL, shopify.ChildAltTag(m.ID, c.ID))
			if err != nil {
				childErrs = append(childErrs, fmt.Sprintf("post %s child %s: %v", m.ID, c.ID, err))
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, childErrs, fmt.Errorf("all %d children failed", len(m.Children.Data))
		}
		return ids, childErrs, nil
	default:
		id, err := p.uploadOne(ctx, m.MediaType, m.MediaURL, shopify.AltTag(m.ID))
		if err != nil {
			return nil, nil, err
		}
		return []string{id}, nil, nil
	}
}

func (p *Pipeline) uploadOne(ctx context.Context, mediaType, mediaURL, alt string) (string, error) {
	if mediaType == instagram.KindVideo {
		data, err := p.Instagram.Download(ctx, mediaURL)
		if err != nil {
			return "", fmt.Errorf("download video: %w", err)
		}
		return p.Files.UploadStagedVideo(ctx, data, alt)
	}
	return p.Files.CreateFileFromURL(ctx, mediaURL, alt, "IMAGE")
}

func (p *Pipeline) record(ctx context.Context, shop string, started time.Time, sum *Summary, runErr error) {
	if p.Runs == nil {
		return
	}
	rec := RunRecord{
		Shop:       shop,
		StartedAt:  started.UTC(),
		DurationMS: time.Since(started).Milliseconds(),
		Status:     "ok",
	}
	if sum != nil {
		rec.PostsSeen = sum.PostsSeen
		rec.PostsUploaded = sum.PostsUploaded
		rec.FilesUploaded = sum.FilesUploaded
		rec.PostsSkipped = sum.PostsSkipped
		rec.PostsFailed = sum.PostsFailed
		rec.Errors = sum.Errors
		if sum.NotConnected {
			rec.Status = "not_connected"
		} else if sum.PostsFailed > 0 {
			rec.Status = "partial"
		}
	}
	if runErr != nil {
		rec.Status = "failed"
		rec.Errors = append(rec.Errors, runErr.Error())
	}
	if err := p.Runs.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.WithField("shop", shop).Warnf("record sync run: %v", err)
	}
}

// mergeRefs unions the previous list's references with this run's, previous
// order first, without duplicates.
func mergeRefs(prev, next []string) []string {
	seen := make(map[string]bool, len(prev)+len(next))
	out := make([]string, 0, len(prev)+len(next))
	for _, lists := range [][]string{prev, next} {
		for _, id := range lists {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
