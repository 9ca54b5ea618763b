package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"instafeed/internal/db"
	"instafeed/internal/security"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	ProviderInstagram = "instagram"
	ProviderFacebook  = "facebook"
	// ProviderShopify rows hold the shop's offline Admin API token, written
	// at install time. They never carry an expiry and are never refreshed.
	ProviderShopify = "shopify"
)

// ErrNotConnected is a normal terminal outcome, not a failure: the shop simply
// has no stored credential for the provider.
var ErrNotConnected = errors.New("social account not connected")

// Account is the decrypted view of one (shop, provider) credential row.
type Account struct {
	Shop           string
	Provider       string
	AccessToken    string
	ProviderUserID string
	Username       string
	ExpiresAt      time.Time // zero when the provider issued no expiry
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastSyncAt     time.Time
}

// accountItem mirrors the DynamoDB structure. The access token is stored
// AES-GCM encrypted, never in the clear.
type accountItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	Shop           string `dynamodbav:"Shop"`
	Provider       string `dynamodbav:"Provider"`
	AccessTokenEnc string `dynamodbav:"AccessTokenEnc"`
	ProviderUserID string `dynamodbav:"ProviderUserID,omitempty"`
	Username       string `dynamodbav:"Username,omitempty"`
	ExpiresAt      string `dynamodbav:"ExpiresAt,omitempty"`
	CreatedAt      string `dynamodbav:"CreatedAt"`
	UpdatedAt      string `dynamodbav:"UpdatedAt"`
	LastSyncAt     string `dynamodbav:"LastSyncAt,omitempty"`
}

type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store reads and writes SocialAccount rows. At most one row exists per
// (shop, provider) pair; Upsert keeps that invariant via the composite key.
type Store struct {
	ddb    DDBClient
	cipher *security.TokenCipher
	table  string
}

func NewStore(ddb DDBClient, cipher *security.TokenCipher) (*Store, error) {
	table := strings.TrimSpace(db.SocialAccountsTableName())
	if table == "" {
		return nil, errors.New("SOCIAL_ACCOUNTS_TABLE not configured")
	}
	return &Store{ddb: ddb, cipher: cipher, table: table}, nil
}

func accountPK(shop string) string     { return fmt.Sprintf("SHOP#%s", shop) }
func accountSK(provider string) string { return fmt.Sprintf("PROVIDER#%s", provider) }

func (s *Store) Get(ctx context.Context, shop, provider string) (*Account, error) {
	if strings.TrimSpace(shop) == "" {
		return nil, errors.New("missing shop domain")
	}

	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: accountPK(shop)},
			"SK": &types.AttributeValueMemberS{Value: accountSK(provider)},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotConnected
	}

	var item accountItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return s.decode(item)
}

func (s *Store) decode(item accountItem) (*Account, error) {
	enc := strings.TrimSpace(item.AccessTokenEnc)
	if enc == "" {
		return nil, errors.New("no AccessTokenEnc on record")
	}
	token, err := s.cipher.Open(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	return &Account{
		Shop:           item.Shop,
		Provider:       item.Provider,
		AccessToken:    token,
		ProviderUserID: item.ProviderUserID,
		Username:       item.Username,
		ExpiresAt:      parseTime(item.ExpiresAt),
		CreatedAt:      parseTime(item.CreatedAt),
		UpdatedAt:      parseTime(item.UpdatedAt),
		LastSyncAt:     parseTime(item.LastSyncAt),
	}, nil
}

// Upsert replaces the (shop, provider) row wholesale. CreatedAt is preserved
// when the caller carried it over from a prior Get.
func (s *Store) Upsert(ctx context.Context, acct *Account) error {
	if acct.Shop == "" || acct.Provider == "" {
		return errors.New("missing shop/provider")
	}

	enc, err := s.cipher.Seal(acct.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	now := time.Now().UTC()
	created := acct.CreatedAt
	if created.IsZero() {
		created = now
	}

	item := accountItem{
		PK:             accountPK(acct.Shop),
		SK:             accountSK(acct.Provider),
		Shop:           acct.Shop,
		Provider:       acct.Provider,
		AccessTokenEnc: enc,
		ProviderUserID: acct.ProviderUserID,
		Username:       acct.Username,
		CreatedAt:      created.Format(time.RFC3339),
		UpdatedAt:      now.Format(time.RFC3339),
	}
	if !acct.ExpiresAt.IsZero() {
		item.ExpiresAt = acct.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if !acct.LastSyncAt.IsZero() {
		item.LastSyncAt = acct.LastSyncAt.UTC().Format(time.RFC3339)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	return err
}

func (s *Store) Delete(ctx context.Context, shop, provider string) error {
	_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: accountPK(shop)},
			"SK": &types.AttributeValueMemberS{Value: accountSK(provider)},
		},
	})
	return err
}

// TouchLastSync stamps the row after a completed pipeline run (non-fatal for
// the run itself when it fails).
func (s *Store) TouchLastSync(ctx context.Context, shop, provider string, at time.Time) error {
	_, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: accountPK(shop)},
			"SK": &types.AttributeValueMemberS{Value: accountSK(provider)},
		},
		UpdateExpression: aws.String("SET LastSyncAt = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
		},
	})
	return err
}

// ListExpiring scans for accounts whose token expires before the cutoff.
// Accounts without an expiry are skipped (nothing to refresh).
func (s *Store) ListExpiring(ctx context.Context, cutoff time.Time) ([]*Account, error) {
	var (
		accounts []*Account
		startKey map[string]types.AttributeValue
	)

	for {
		out, err := s.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
			FilterExpression:  aws.String("attribute_exists(ExpiresAt) AND ExpiresAt <= :c"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c": &types.AttributeValueMemberS{Value: cutoff.UTC().Format(time.RFC3339)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}

		for _, raw := range out.Items {
			var item accountItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				continue
			}
			acct, err := s.decode(item)
			if err != nil {
				continue
			}
			accounts = append(accounts, acct)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return accounts, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
