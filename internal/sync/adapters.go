package sync

import (
	"context"

	"instafeed/internal/shopify"
)

// AdminFiles adapts a shop's Admin client to the FileStore surface.
type AdminFiles struct {
	Admin *shopify.Admin
}

func (a AdminFiles) ExistingAltKeys(ctx context.Context) (map[string]bool, error) {
	return shopify.ExistingAltKeys(ctx, a.Admin)
}

func (a AdminFiles) CreateFileFromURL(ctx context.Context, sourceURL, alt, contentType string) (string, error) {
	return shopify.CreateFileFromURL(ctx, a.Admin, sourceURL, alt, contentType)
}

func (a AdminFiles) UploadStagedVideo(ctx context.Context, data []byte, alt string) (string, error) {
	return shopify.UploadStagedVideo(ctx, a.Admin, data, alt)
}

// AdminMetaobjects adapts a shop's Admin client to the MetaobjectStore surface.
type AdminMetaobjects struct {
	Admin *shopify.Admin
}

func (a AdminMetaobjects) UpsertPost(ctx context.Context, sourceID string, raw []byte, fileIDs []string, caption string, likes, comments int) (string, error) {
	return shopify.UpsertPost(ctx, a.Admin, shopify.PostRecord{
		SourceID: sourceID,
		RawJSON:  raw,
		FileIDs:  fileIDs,
		Caption:  caption,
		Likes:    likes,
		Comments: comments,
	})
}

func (a AdminMetaobjects) UpsertList(ctx context.Context, rawFeed []byte, postGIDs []string, username, accountName string) (string, error) {
	return shopify.UpsertList(ctx, a.Admin, rawFeed, postGIDs, username, accountName)
}

func (a AdminMetaobjects) ListPostRefs(ctx context.Context) ([]string, error) {
	return shopify.ListPostRefs(ctx, a.Admin)
}
