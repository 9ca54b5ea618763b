package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"

	"instafeed/internal/db"
)

const maxRecordedErrors = 20

// RunRecord is one finished sync run, keyed per shop by start time so the
// metrics exporter can sweep a day's runs with a key-prefix query.
type RunRecord struct {
	Shop          string    `dynamodbav:"shop"`
	StartedAt     time.Time `dynamodbav:"startedAt"`
	DurationMS    int64     `dynamodbav:"durationMs"`
	PostsSeen     int       `dynamodbav:"postsSeen"`
	PostsUploaded int       `dynamodbav:"postsUploaded"`
	FilesUploaded int       `dynamodbav:"filesUploaded"`
	PostsSkipped  int       `dynamodbav:"postsSkipped"`
	PostsFailed   int       `dynamodbav:"postsFailed"`
	Errors        []string  `dynamodbav:"errors,omitempty"`
	Status        string    `dynamodbav:"status"`
}

type RunStore struct {
	ddb   *dynamodb.Client
	table string
}

func NewRunStore(ddb *dynamodb.Client) *RunStore {
	return &RunStore{ddb: ddb, table: db.SyncRunsTableName()}
}

func (s *RunStore) Record(ctx context.Context, rec RunRecord) error {
	if len(rec.Errors) > maxRecordedErrors {
		rec.Errors = rec.Errors[:maxRecordedErrors]
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	item["pk"] = &types.AttributeValueMemberS{Value: "SHOP#" + rec.Shop}
	item["sk"] = &types.AttributeValueMemberS{Value: "RUN#" + rec.StartedAt.UTC().Format(time.RFC3339Nano)}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put run record: %w", err)
	}
	return nil
}

// RunsForDay pages through a shop's runs whose start time falls on the given
// UTC date. Used by the metrics exporter.
func (s *RunStore) RunsForDay(ctx context.Context, shop string, day time.Time) ([]RunRecord, error) {
	prefix := "RUN#" + day.UTC().Format("2006-01-02")

	var out []RunRecord
	var startKey map[string]types.AttributeValue
	for {
		resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :sk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: "SHOP#" + shop},
				":sk": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query runs: %w", err)
		}
		for _, item := range resp.Items {
			var rec RunRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				log.WithError(err).Warn("skipping unreadable run record")
				continue
			}
			out = append(out, rec)
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return out, nil
}

// ShopsWithRuns scans for the distinct shops present in the runs table.
func (s *RunStore) ShopsWithRuns(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var shops []string
	var startKey map[string]types.AttributeValue
	for {
		resp, err := s.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			ProjectionExpression: aws.String("shop"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan runs table: %w", err)
		}
		for _, item := range resp.Items {
			if v, ok := item["shop"].(*types.AttributeValueMemberS); ok && !seen[v.Value] {
				seen[v.Value] = true
				shops = append(shops, v.Value)
			}
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return shops, nil
}
