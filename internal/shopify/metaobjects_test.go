package shopify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldValues(t *testing.T, call graphQLCall) map[string]string {
	t.Helper()
	mo := call.Variables["metaobject"].(map[string]any)
	out := map[string]string{}
	for _, f := range mo["fields"].([]any) {
		fm := f.(map[string]any)
		out[fm["key"].(string)] = fm["value"].(string)
	}
	return out
}

func upsertOK(handle string) string {
	return `{"data":{"metaobjectUpsert":{"metaobject":{"id":"gid://shopify/Metaobject/1","handle":"` + handle + `"},"userErrors":[]}}}`
}

func TestUpsertPostWritesDeterministicHandle(t *testing.T) {
	a, calls := fakeAdmin(t, upsertOK("instagram-post-42"))

	id, err := UpsertPost(context.Background(), a, PostRecord{
		SourceID: "42",
		RawJSON:  []byte(`{"id":"42"}`),
		FileIDs:  []string{"gid://shopify/MediaImage/1", "gid://shopify/MediaImage/2"},
		Caption:  "hello",
		Likes:    5,
		Comments: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Metaobject/1", id)

	require.Len(t, *calls, 1)
	handle := (*calls)[0].Variables["handle"].(map[string]any)
	assert.Equal(t, "$app:instagram_post", handle["type"])
	assert.Equal(t, "instagram-post-42", handle["handle"])

	fields := fieldValues(t, (*calls)[0])
	assert.Equal(t, `{"id":"42"}`, fields["data"])
	assert.Equal(t, "hello", fields["caption"])
	assert.Equal(t, "5", fields["likes"])
	assert.Equal(t, "2", fields["comments"])
	assert.JSONEq(t, `["gid://shopify/MediaImage/1","gid://shopify/MediaImage/2"]`, fields["files"])
}

func TestUpsertPostDefaultsAndOmittedFiles(t *testing.T) {
	a, calls := fakeAdmin(t, upsertOK("instagram-post-42"))

	_, err := UpsertPost(context.Background(), a, PostRecord{
		SourceID: "42",
		RawJSON:  []byte(`{"id":"42"}`),
		FileIDs:  nil, // metadata refresh
	})

	require.NoError(t, err)
	fields := fieldValues(t, (*calls)[0])
	assert.Equal(t, "No caption", fields["caption"])
	assert.Equal(t, "0", fields["likes"])
	assert.Equal(t, "0", fields["comments"])
	_, hasFiles := fields["files"]
	assert.False(t, hasFiles, "files field stays untouched on refresh")
}

func TestUpsertPostUserErrors(t *testing.T) {
	a, _ := fakeAdmin(t, `{"data":{"metaobjectUpsert":{"metaobject":{"id":"","handle":""},"userErrors":[{"field":["fields"],"message":"value too long"}]}}}`)

	_, err := UpsertPost(context.Background(), a, PostRecord{SourceID: "42", RawJSON: []byte(`{}`)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "value too long")
}

func TestUpsertListUsesFixedHandle(t *testing.T) {
	a, calls := fakeAdmin(t, upsertOK("instagram-list"))

	_, err := UpsertList(context.Background(), a, []byte(`{"data":[]}`), []string{"gid://shopify/Metaobject/2"}, "tester", "tester")

	require.NoError(t, err)
	handle := (*calls)[0].Variables["handle"].(map[string]any)
	assert.Equal(t, "$app:instagram_list", handle["type"])
	assert.Equal(t, "instagram-list", handle["handle"])

	fields := fieldValues(t, (*calls)[0])
	assert.JSONEq(t, `["gid://shopify/Metaobject/2"]`, fields["posts"])
	assert.Equal(t, "tester", fields["username"])
}

func TestListPostRefs(t *testing.T) {
	a, _ := fakeAdmin(t, `{"data":{"metaobjectByHandle":{"id":"gid://shopify/Metaobject/9","updatedAt":"2026-08-27T00:00:00Z","fields":[
		{"key":"username","value":"tester"},
		{"key":"posts","value":"[\"gid://shopify/Metaobject/2\",\"gid://shopify/Metaobject/3\"]"}
	]}}}`)

	refs, err := ListPostRefs(context.Background(), a)

	require.NoError(t, err)
	assert.Equal(t, []string{"gid://shopify/Metaobject/2", "gid://shopify/Metaobject/3"}, refs)
}

func TestListPostRefsMissingList(t *testing.T) {
	a, _ := fakeAdmin(t, `{"data":{"metaobjectByHandle":null}}`)

	refs, err := ListPostRefs(context.Background(), a)

	require.NoError(t, err)
	assert.Nil(t, refs, "a shop that never synced has no list")
}

func TestMetaobjectIDsByType(t *testing.T) {
	a, calls := fakeAdmin(t, `{"data":{"metaobjects":{"nodes":[
		{"id":"gid://shopify/Metaobject/1","updatedAt":"2026-08-27T00:00:00Z"},
		{"id":"gid://shopify/Metaobject/2","updatedAt":"2026-08-27T00:00:00Z"}
	]}}}`)

	ids, err := MetaobjectIDsByType(context.Background(), a, PostMetaobjectType)

	require.NoError(t, err)
	assert.Equal(t, []string{"gid://shopify/Metaobject/1", "gid://shopify/Metaobject/2"}, ids)
	assert.Equal(t, PostMetaobjectType, (*calls)[0].Variables["type"])
}
