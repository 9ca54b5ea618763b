package shopify

import (
	"context"
	"encoding/json"
	"strconv"
)

// Metaobject types are app-reserved, definitions created once per install.
const (
	PostMetaobjectType = "$app:instagram_post"
	ListMetaobjectType = "$app:instagram_list"

	postHandlePrefix = "instagram-post-"
	// ListHandle is fixed: one roll-up list per shop.
	ListHandle = "instagram-list"
)

// PostHandle derives the deterministic metaobject handle for a source post.
// Upserting at this handle is what makes re-syncs converge instead of
// duplicating records.
func PostHandle(sourceID string) string {
	return postHandlePrefix + sourceID
}

const metaobjectUpsertMutation = `mutation metaobjectUpsert($handle: MetaobjectHandleInput!, $metaobject: MetaobjectUpsertInput!) {
  metaobjectUpsert(handle: $handle, metaobject: $metaobject) {
    metaobject {
      id
      handle
    }
    userErrors {
      field
      message
    }
  }
}`

type metaobjectUpsertPayload struct {
	MetaobjectUpsert struct {
		Metaobject struct {
			ID     string `json:"id"`
			Handle string `json:"handle"`
		} `json:"metaobject"`
		UserErrors []UserError `json:"userErrors"`
	} `json:"metaobjectUpsert"`
}

func upsertMetaobject(ctx context.Context, a *Admin, typ, handle string, fields []map[string]string) (string, error) {
	resp, err := Post[metaobjectUpsertPayload](ctx, a, metaobjectUpsertMutation, map[string]any{
		"handle": map[string]string{
			"type":   typ,
			"handle": handle,
		},
		"metaobject": map[string]any{
			"fields": fields,
			"capabilities": map[string]any{
				"publishable": map[string]string{"status": "ACTIVE"},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if err := userErrorsToErr("metaobjectUpsert", resp.Data.MetaobjectUpsert.UserErrors); err != nil {
		return "", err
	}
	return resp.Data.MetaobjectUpsert.Metaobject.ID, nil
}

// PostRecord carries the fields written to one post metaobject.
type PostRecord struct {
	SourceID string
	RawJSON  []byte
	FileIDs  []string // ordered; nil means "leave existing references alone"
	Caption  string
	Likes    int
	Comments int
}

// UpsertPost creates or refreshes the post metaobject at the deterministic
// handle. When FileIDs is nil the files field is omitted entirely, so a
// metadata-refresh run reuses the references written by the first upload.
func UpsertPost(ctx context.Context, a *Admin, rec PostRecord) (string, error) {
	caption := rec.Caption
	if caption == "" {
		caption = "No caption"
	}

	fields := []map[string]string{
		{"key": "data", "value": string(rec.RawJSON)},
		{"key": "caption", "value": caption},
		{"key": "likes", "value": strconv.Itoa(maxInt(rec.Likes, 0))},
		{"key": "comments", "value": strconv.Itoa(maxInt(rec.Comments, 0))},
	}
	if rec.FileIDs != nil {
		refs, _ := json.Marshal(rec.FileIDs)
		fields = append(fields, map[string]string{"key": "files", "value": string(refs)})
	}

	return upsertMetaobject(ctx, a, PostMetaobjectType, PostHandle(rec.SourceID), fields)
}

// UpsertList rewrites the roll-up record at the fixed handle with the full
// reference set the caller assembled (the caller merges, this just writes).
func UpsertList(ctx context.Context, a *Admin, rawFeed []byte, postGIDs []string, username, accountName string) (string, error) {
	refs, _ := json.Marshal(postGIDs)

	fields := []map[string]string{
		{"key": "data", "value": string(rawFeed)},
		{"key": "posts", "value": string(refs)},
		{"key": "username", "value": username},
		{"key": "account_name", "value": accountName},
	}
	return upsertMetaobject(ctx, a, ListMetaobjectType, ListHandle, fields)
}

const metaobjectByHandleQuery = `query metaobjectByHandle($handle: MetaobjectHandleInput!) {
  metaobjectByHandle(handle: $handle) {
    id
    updatedAt
    fields {
      key
      value
    }
  }
}`

type metaobjectByHandlePayload struct {
	MetaobjectByHandle *struct {
		ID        string `json:"id"`
		UpdatedAt string `json:"updatedAt"`
		Fields    []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"metaobjectByHandle"`
}

// ListPostRefs reads the current list's reference set. A missing list (first
// sync ever) is an empty set, not an error.
func ListPostRefs(ctx context.Context, a *Admin) ([]string, error) {
	resp, err := Post[metaobjectByHandlePayload](ctx, a, metaobjectByHandleQuery, map[string]any{
		"handle": map[string]string{
			"type":   ListMetaobjectType,
			"handle": ListHandle,
		},
	})
	if err != nil {
		return nil, err
	}
	if resp.Data.MetaobjectByHandle == nil {
		return nil, nil
	}

	for _, f := range resp.Data.MetaobjectByHandle.Fields {
		if f.Key != "posts" || f.Value == "" {
			continue
		}
		var refs []string
		if err := json.Unmarshal([]byte(f.Value), &refs); err != nil {
			return nil, err
		}
		return refs, nil
	}
	return nil, nil
}

const metaobjectsByTypeQuery = `query metaobjectsByType($type: String!) {
  metaobjects(type: $type, first: 250) {
    nodes {
      id
      updatedAt
    }
  }
}`

type metaobjectsPayload struct {
	Metaobjects struct {
		Nodes []struct {
			ID        string `json:"id"`
			UpdatedAt string `json:"updatedAt"`
		} `json:"nodes"`
	} `json:"metaobjects"`
}

func MetaobjectIDsByType(ctx context.Context, a *Admin, typ string) ([]string, error) {
	resp, err := Post[metaobjectsPayload](ctx, a, metaobjectsByTypeQuery, map[string]any{"type": typ})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Data.Metaobjects.Nodes))
	for _, n := range resp.Data.Metaobjects.Nodes {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

// ListUpdatedAt returns the roll-up record's last write time ("" when no list
// exists yet). The status endpoint reports it as the last sync time.
func ListUpdatedAt(ctx context.Context, a *Admin) (string, error) {
	resp, err := Post[metaobjectByHandlePayload](ctx, a, metaobjectByHandleQuery, map[string]any{
		"handle": map[string]string{
			"type":   ListMetaobjectType,
			"handle": ListHandle,
		},
	})
	if err != nil {
		return "", err
	}
	if resp.Data.MetaobjectByHandle == nil {
		return "", nil
	}
	return resp.Data.MetaobjectByHandle.UpdatedAt, nil
}

const metaobjectDeleteMutation = `mutation metaobjectDelete($id: ID!) {
  metaobjectDelete(id: $id) {
    deletedId
    userErrors {
      field
      message
    }
  }
}`

type metaobjectDeletePayload struct {
	MetaobjectDelete struct {
		DeletedID  string      `json:"deletedId"`
		UserErrors []UserError `json:"userErrors"`
	} `json:"metaobjectDelete"`
}

func DeleteMetaobject(ctx context.Context, a *Admin, id string) error {
	resp, err := Post[metaobjectDeletePayload](ctx, a, metaobjectDeleteMutation, map[string]any{"id": id})
	if err != nil {
		return err
	}
	return userErrorsToErr("metaobjectDelete", resp.Data.MetaobjectDelete.UserErrors)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
