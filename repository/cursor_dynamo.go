package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoAPI is the subset of the DynamoDB client used by the cursor store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoCursorRepository keeps the payment cursor in a DynamoDB table keyed
// by "cursor_key".
type DynamoCursorRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoCursorRepository(client DynamoAPI, table string) *DynamoCursorRepository {
	return &DynamoCursorRepository{client: client, table: table}
}

type ddbCursor struct {
	Key       string `dynamodbav:"cursor_key"`
	Value     string `dynamodbav:"value"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

func (r *DynamoCursorRepository) Load(ctx context.Context, key string) (string, error) {
	k, err := attributevalue.MarshalMap(map[string]string{"cursor_key": key})
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.table,
		Key:            k,
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return "", nil
	}

	var c ddbCursor
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	return c.Value, nil
}

func (r *DynamoCursorRepository) Save(ctx context.Context, key, value string) error {
	item, err := attributevalue.MarshalMap(ddbCursor{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &r.table,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
