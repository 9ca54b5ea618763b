package shopify

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
)

// AltPrefix is the alt-text tag prefix that marks files owned by this app.
// It doubles as the deduplication key: a re-run detects prior uploads by
// scanning existing alt tags for this prefix. Changing it orphans everything
// uploaded before, so it never changes.
const AltPrefix = "instagram-post_"

// AltTag derives the deterministic alt tag for a post's media file.
func AltTag(postID string) string {
	return AltPrefix + postID
}

// ChildAltTag derives the compound tag for one carousel child.
func ChildAltTag(postID, childID string) string {
	return AltPrefix + postID + "_" + childID
}

const fileCreateMutation = `mutation fileCreate($files: [FileCreateInput!]!) {
  fileCreate(files: $files) {
    files {
      id
      fileStatus
      alt
    }
    userErrors {
      field
      message
    }
  }
}`

type fileCreatePayload struct {
	FileCreate struct {
		Files []struct {
			ID         string `json:"id"`
			FileStatus string `json:"fileStatus"`
			Alt        string `json:"alt"`
		} `json:"files"`
		UserErrors []UserError `json:"userErrors"`
	} `json:"fileCreate"`
}

// CreateFileFromURL registers a remote-sourced file; Shopify fetches the bytes
// server-side, so images are a single round trip. contentType is IMAGE or
// VIDEO (VIDEO only for already-staged resource URLs).
func CreateFileFromURL(ctx context.Context, a *Admin, sourceURL, alt, contentType string) (string, error) {
	ext := ".jpg"
	if contentType == "VIDEO" {
		ext = ".mp4"
	}

	resp, err := Post[fileCreatePayload](ctx, a, fileCreateMutation, map[string]any{
		"files": []map[string]any{
			{
				"alt":            alt,
				"contentType":    contentType,
				"originalSource": sourceURL,
				"filename":       alt + ext,
			},
		},
	})
	if err != nil {
		return "", err
	}
	if err := userErrorsToErr("fileCreate", resp.Data.FileCreate.UserErrors); err != nil {
		return "", err
	}
	if len(resp.Data.FileCreate.Files) == 0 {
		return "", fmt.Errorf("fileCreate: no file returned for %s", alt)
	}
	return resp.Data.FileCreate.Files[0].ID, nil
}

const stagedUploadsMutation = `mutation stagedUploadsCreate($input: [StagedUploadInput!]!) {
  stagedUploadsCreate(input: $input) {
    stagedTargets {
      url
      resourceUrl
      parameters {
        name
        value
      }
    }
    userErrors {
      field
      message
    }
  }
}`

type stagedUploadsPayload struct {
	StagedUploadsCreate struct {
		StagedTargets []struct {
			URL         string `json:"url"`
			ResourceURL string `json:"resourceUrl"`
			Parameters  []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"parameters"`
		} `json:"stagedTargets"`
		UserErrors []UserError `json:"userErrors"`
	} `json:"stagedUploadsCreate"`
}

// UploadStagedVideo runs the 4-step video path: the caller has already
// downloaded the payload (step 1); this requests a staging target sized to it,
// multipart-POSTs the bytes, then registers the staged resource as a file.
// Instagram's temporary media URLs cannot be referenced directly for video.
func UploadStagedVideo(ctx context.Context, a *Admin, data []byte, alt string) (string, error) {
	resp, err := Post[stagedUploadsPayload](ctx, a, stagedUploadsMutation, map[string]any{
		"input": []map[string]any{
			{
				"resource":   "VIDEO",
				"filename":   alt + ".mp4",
				"mimeType":   "video/mp4",
				"fileSize":   fmt.Sprintf("%d", len(data)),
				"httpMethod": "POST",
			},
		},
	})
	if err != nil {
		return "", err
	}
	if err := userErrorsToErr("stagedUploadsCreate", resp.Data.StagedUploadsCreate.UserErrors); err != nil {
		return "", err
	}
	if len(resp.Data.StagedUploadsCreate.StagedTargets) == 0 {
		return "", fmt.Errorf("stagedUploadsCreate: no staged target for %s", alt)
	}
	target := resp.Data.StagedUploadsCreate.StagedTargets[0]

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	// Required parameters must precede the file part.
	for _, p := range target.Parameters {
		if err := mw.WriteField(p.Name, p.Value); err != nil {
			return "", err
		}
	}
	fw, err := mw.CreateFormFile("file", alt+".mp4")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := a.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("staged upload post: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("staged upload post: http %d", res.StatusCode)
	}

	return CreateFileFromURL(ctx, a, target.ResourceURL, alt, "VIDEO")
}

const filesByAltQuery = `query filesByAlt($q: String!) {
  files(first: 250, query: $q) {
    edges {
      node {
        id
        ... on MediaImage { alt }
        ... on Video { alt }
      }
    }
  }
}`

type filesPayload struct {
	Files struct {
		Edges []struct {
			Node struct {
				ID  string `json:"id"`
				Alt string `json:"alt"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"files"`
}

// ExistingAltKeys builds the duplicate index: every alt tag carrying AltPrefix,
// with the prefix stripped. Membership in the returned set means "already
// uploaded". The files search matches substrings, so the prefix check on each
// node is still required.
func ExistingAltKeys(ctx context.Context, a *Admin) (map[string]bool, error) {
	resp, err := Post[filesPayload](ctx, a, filesByAltQuery, map[string]any{
		"q": "alt:" + AltPrefix,
	})
	if err != nil {
		return nil, err
	}

	keys := make(map[string]bool, len(resp.Data.Files.Edges))
	for _, e := range resp.Data.Files.Edges {
		if !strings.HasPrefix(e.Node.Alt, AltPrefix) {
			continue
		}
		key := strings.TrimPrefix(e.Node.Alt, AltPrefix)
		keys[key] = true
		// Carousel children carry compound postID_childID tags. Media IDs are
		// numeric, so the first underscore always splits parent from child;
		// registering the parent lets the whole carousel dedupe as one post.
		if parent, _, ok := strings.Cut(key, "_"); ok {
			keys[parent] = true
		}
	}
	return keys, nil
}

const fileDeleteMutation = `mutation fileDelete($fileIds: [ID!]!) {
  fileDelete(fileIds: $fileIds) {
    deletedFileIds
    userErrors {
      field
      message
    }
  }
}`

type fileDeletePayload struct {
	FileDelete struct {
		DeletedFileIDs []string    `json:"deletedFileIds"`
		UserErrors     []UserError `json:"userErrors"`
	} `json:"fileDelete"`
}

// DeleteOwnedFiles removes every file tagged with AltPrefix. Only the explicit
// delete-data path calls this; the sync pipeline never deletes files.
func DeleteOwnedFiles(ctx context.Context, a *Admin) (int, error) {
	resp, err := Post[filesPayload](ctx, a, filesByAltQuery, map[string]any{
		"q": "alt:" + AltPrefix,
	})
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, e := range resp.Data.Files.Edges {
		if strings.HasPrefix(e.Node.Alt, AltPrefix) {
			ids = append(ids, e.Node.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	del, err := Post[fileDeletePayload](ctx, a, fileDeleteMutation, map[string]any{
		"fileIds": ids,
	})
	if err != nil {
		return 0, err
	}
	if err := userErrorsToErr("fileDelete", del.Data.FileDelete.UserErrors); err != nil {
		return 0, err
	}
	return len(del.Data.FileDelete.DeletedFileIDs), nil
}
