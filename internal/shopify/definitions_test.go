package shopify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDefinitions(t *testing.T) {
	a, calls := fakeAdmin(t,
		`{"data":{"metaobjectDefinitionCreate":{"metaobjectDefinition":{"id":"gid://shopify/MetaobjectDefinition/1","type":"$app:instagram_post"},"userErrors":[]}}}`,
		`{"data":{"metaobjectDefinitionCreate":{"metaobjectDefinition":{"id":"gid://shopify/MetaobjectDefinition/2","type":"$app:instagram_list"},"userErrors":[]}}}`,
	)

	require.NoError(t, EnsureDefinitions(context.Background(), a))

	require.Len(t, *calls, 2)
	post := (*calls)[0].Variables["definition"].(map[string]any)
	list := (*calls)[1].Variables["definition"].(map[string]any)
	assert.Equal(t, PostMetaobjectType, post["type"])
	assert.Equal(t, ListMetaobjectType, list["type"])
}

func TestEnsureDefinitionsAlreadyExists(t *testing.T) {
	taken := `{"data":{"metaobjectDefinitionCreate":{"metaobjectDefinition":null,"userErrors":[{"field":["definition","type"],"message":"Type has already been taken"}]}}}`
	a, calls := fakeAdmin(t, taken, taken)

	require.NoError(t, EnsureDefinitions(context.Background(), a))
	require.Len(t, *calls, 2)
}

func TestEnsureDefinitionsMixedUserErrors(t *testing.T) {
	// A taken-class message next to a real one must not mask the real one.
	mixed := `{"data":{"metaobjectDefinitionCreate":{"metaobjectDefinition":null,"userErrors":[
		{"field":["definition","type"],"message":"Type has already been taken"},
		{"field":["definition","fieldDefinitions","1"],"message":"Field type list.file_reference is invalid"}
	]}}}`
	a, calls := fakeAdmin(t, mixed)

	err := EnsureDefinitions(context.Background(), a)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list.file_reference is invalid")
	require.Len(t, *calls, 1)
}
