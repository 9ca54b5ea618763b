package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"instafeed/internal/db"
)

// ErrLocked means another run holds the shop's lock.
var ErrLocked = errors.New("sync already running for shop")

// Locker serializes sync runs per shop via a conditional put. The item
// carries a TTL so a crashed worker cannot wedge the shop forever.
type Locker struct {
	ddb   *dynamodb.Client
	table string
	ttl   time.Duration
}

func NewLocker(ddb *dynamodb.Client) *Locker {
	return &Locker{ddb: ddb, table: db.SyncLocksTableName(), ttl: 15 * time.Minute}
}

func lockPK(shop string) string { return "LOCK#" + shop }

// Acquire claims the shop lock. Returns ErrLocked when a live claim exists.
func (l *Locker) Acquire(ctx context.Context, shop, owner string) error {
	now := time.Now()
	_, err := l.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"pk":        &types.AttributeValueMemberS{Value: lockPK(shop)},
			"owner":     &types.AttributeValueMemberS{Value: owner},
			"claimedAt": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
			"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(l.ttl).Unix())},
		},
		ConditionExpression: aws.String("attribute_not_exists(pk) OR #t < :now"),
		ExpressionAttributeNames: map[string]string{
			"#t": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrLocked
		}
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	return nil
}

// Release deletes the claim only if this owner still holds it, so a slow run
// cannot free a lock that already expired and was re-claimed.
func (l *Locker) Release(ctx context.Context, shop, owner string) error {
	_, err := l.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: lockPK(shop)},
		},
		ConditionExpression: aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("release sync lock: %w", err)
	}
	return nil
}
