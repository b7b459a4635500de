package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pixyard/pixyard/internal/config"
)

const dynamoTimeFormat = "2006-01-02T15:04:05.000Z"

// DynamoDBStore implements the Store interface on a DynamoDB table with a
// single string partition key named "image" holding the full object key
// ({owner}/{imageID}), the layout the label pipeline has always used.
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoDBStore creates a DynamoDB-backed store from the given config.
// Credentials are resolved via the standard AWS credential chain.
func NewDynamoDBStore(cfg *config.DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dynamodb config is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return &DynamoDBStore{
		client:    dynamodb.NewFromConfig(awsCfg),
		tableName: cfg.Table,
	}, nil
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return err
}

func (s *DynamoDBStore) Close() error { return nil }

// PutLabels upserts the item for an image, replacing the whole label set.
// created_at is written only on first insert so redelivery converges.
func (s *DynamoDBStore) PutLabels(ctx context.Context, owner, imageID string, labels []Label) error {
	if labels == nil {
		labels = []Label{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"image": &types.AttributeValueMemberS{Value: ObjectKey(owner, imageID)},
		},
		UpdateExpression: aws.String("SET #owner = :owner, labels = :labels, created_at = if_not_exists(created_at, :now)"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":  &types.AttributeValueMemberS{Value: owner},
			":labels": &types.AttributeValueMemberS{Value: string(data)},
			":now":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(dynamoTimeFormat)},
		},
	})
	if err != nil {
		return fmt.Errorf("putting labels for %s/%s: %w", owner, imageID, err)
	}
	return nil
}

func (s *DynamoDBStore) Get(ctx context.Context, owner, imageID string) (*ImageRecord, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"image": &types.AttributeValueMemberS{Value: ObjectKey(owner, imageID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting image %s/%s: %w", owner, imageID, err)
	}
	if len(resp.Item) == 0 {
		return nil, nil
	}
	return itemToRecord(resp.Item)
}

func (s *DynamoDBStore) Delete(ctx context.Context, owner, imageID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"image": &types.AttributeValueMemberS{Value: ObjectKey(owner, imageID)},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting image %s/%s: %w", owner, imageID, err)
	}
	return nil
}

// ListByOwner scans for items whose key begins with the owner prefix. The
// cursor is the last evaluated partition key of the previous page.
func (s *DynamoDBStore) ListByOwner(ctx context.Context, owner string, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("begins_with(image, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: owner + "/"},
		},
		Limit: aws.Int32(int32(limit)),
	}
	if opts.Cursor != "" {
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"image": &types.AttributeValueMemberS{Value: opts.Cursor},
		}
	}

	resp, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("listing images for %s: %w", owner, err)
	}

	result := &ListResult{}
	for _, item := range resp.Items {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, err
		}
		result.Records = append(result.Records, *rec)
	}
	if resp.LastEvaluatedKey != nil {
		if key, ok := resp.LastEvaluatedKey["image"].(*types.AttributeValueMemberS); ok {
			result.NextCursor = key.Value
		}
	}
	return result, nil
}

func itemToRecord(item map[string]types.AttributeValue) (*ImageRecord, error) {
	key := stringAttr(item, "image")
	owner, imageID, err := ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("malformed item key: %w", err)
	}

	rec := &ImageRecord{
		ImageID:        imageID,
		OwnerNamespace: owner,
		Labels:         []Label{},
	}
	if labelsJSON := stringAttr(item, "labels"); labelsJSON != "" {
		if err := json.Unmarshal([]byte(labelsJSON), &rec.Labels); err != nil {
			return nil, fmt.Errorf("decoding labels for %s: %w", key, err)
		}
	}
	if createdAt := stringAttr(item, "created_at"); createdAt != "" {
		if t, err := time.Parse(dynamoTimeFormat, createdAt); err == nil {
			rec.CreatedAt = t
		}
	}
	return rec, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
