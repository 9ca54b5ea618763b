package social

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instafeed/internal/security"
)

// memDDB implements DDBClient over an in-memory map keyed by PK|SK.
type memDDB struct {
	items map[string]map[string]types.AttributeValue
}

func newMemDDB() *memDDB {
	return &memDDB{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(item map[string]types.AttributeValue) string {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (m *memDDB) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, ok := m.items[itemKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (m *memDDB) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memDDB) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(m.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *memDDB) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	item, ok := m.items[itemKey(in.Key)]
	if !ok {
		item = map[string]types.AttributeValue{}
		for k, v := range in.Key {
			item[k] = v
		}
		m.items[itemKey(in.Key)] = item
	}
	// Only the LastSyncAt update expression is used by the store.
	if v, ok := in.ExpressionAttributeValues[":t"]; ok {
		item["LastSyncAt"] = v
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *memDDB) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	out := &dynamodb.ScanOutput{}
	for _, item := range m.items {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func newTestStore(t *testing.T) (*Store, *memDDB) {
	t.Helper()
	t.Setenv("SOCIAL_ACCOUNTS_TABLE", "social-accounts-test")

	cipher, err := security.NewTokenCipher(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)

	mem := newMemDDB()
	store, err := NewStore(mem, cipher)
	require.NoError(t, err)
	return store, mem
}

func TestGetMissingAccountIsNotConnected(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "test.myshopify.com", ProviderInstagram)

	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUpsertGetRoundtrip(t *testing.T) {
	store, mem := newTestStore(t)
	expires := time.Now().UTC().Add(60 * 24 * time.Hour).Truncate(time.Second)

	err := store.Upsert(context.Background(), &Account{
		Shop:           "test.myshopify.com",
		Provider:       ProviderInstagram,
		AccessToken:    "IGQVJXsecret",
		ProviderUserID: "178414",
		Username:       "tester",
		ExpiresAt:      expires,
	})
	require.NoError(t, err)

	// Token must be encrypted at rest.
	item := mem.items["SHOP#test.myshopify.com|PROVIDER#instagram"]
	require.NotNil(t, item)
	enc := item["AccessTokenEnc"].(*types.AttributeValueMemberS).Value
	assert.NotContains(t, enc, "IGQVJXsecret")

	acct, err := store.Get(context.Background(), "test.myshopify.com", ProviderInstagram)
	require.NoError(t, err)
	assert.Equal(t, "IGQVJXsecret", acct.AccessToken)
	assert.Equal(t, "tester", acct.Username)
	assert.Equal(t, expires, acct.ExpiresAt)
	assert.False(t, acct.CreatedAt.IsZero())
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &Account{
		Shop: "test.myshopify.com", Provider: ProviderInstagram, AccessToken: "t1",
	}))
	first, err := store.Get(ctx, "test.myshopify.com", ProviderInstagram)
	require.NoError(t, err)

	first.AccessToken = "t2"
	require.NoError(t, store.Upsert(ctx, first))

	second, err := store.Get(ctx, "test.myshopify.com", ProviderInstagram)
	require.NoError(t, err)
	assert.Equal(t, "t2", second.AccessToken)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &Account{
		Shop: "test.myshopify.com", Provider: ProviderInstagram, AccessToken: "t1",
	}))
	require.NoError(t, store.Delete(ctx, "test.myshopify.com", ProviderInstagram))

	_, err := store.Get(ctx, "test.myshopify.com", ProviderInstagram)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTouchLastSync(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &Account{
		Shop: "test.myshopify.com", Provider: ProviderInstagram, AccessToken: "t1",
	}))

	at := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.TouchLastSync(ctx, "test.myshopify.com", ProviderInstagram, at))

	acct, err := store.Get(ctx, "test.myshopify.com", ProviderInstagram)
	require.NoError(t, err)
	assert.Equal(t, at, acct.LastSyncAt)
}
