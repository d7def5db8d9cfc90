package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoPKPrefix = "SESSION#"
	dynamoSKMeta   = "META"
)

// DynamoAPI is the subset of the DynamoDB client used by the store.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore persists session records in a DynamoDB table with keys
// PK=SESSION#<hash>, SK=META. Physical expiry is delegated to the table's
// TTL attribute, set one day past logical expiry.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoStore creates a store over the given table.
func NewDynamoStore(client DynamoAPI, tableName string) (*DynamoStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}
	return &DynamoStore{client: client, tableName: tableName}, nil
}

// Name identifies the backend for health and metrics labels.
func (s *DynamoStore) Name() string {
	return "dynamo"
}

type dynamoItem struct {
	PK  string `dynamodbav:"PK"`
	SK  string `dynamodbav:"SK"`
	TTL int64  `dynamodbav:"ttl"`
	Record
}

// Put upserts a record. The TTL attribute retains the item briefly past
// logical expiry for audit visibility before DynamoDB removes it.
func (s *DynamoStore) Put(ctx context.Context, rec *Record) error {
	item, err := attributevalue.MarshalMap(dynamoItem{
		PK:     dynamoPKPrefix + rec.SessionHash,
		SK:     dynamoSKMeta,
		TTL:    rec.ExpiresAt.Add(retentionPastExpiry).Unix(),
		Record: *rec,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put failed: %w", err)
	}
	return nil
}

// Get returns the record for a session hash, or ErrNotFound. Expired items
// pending TTL removal can still be returned; logical expiry is the caller's
// check.
func (s *DynamoStore) Get(ctx context.Context, sessionHash string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]dynamotypes.AttributeValue{
			"PK": &dynamotypes.AttributeValueMemberS{Value: dynamoPKPrefix + sessionHash},
			"SK": &dynamotypes.AttributeValueMemberS{Value: dynamoSKMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}

	rec := item.Record
	rec.SessionHash = sessionHash
	return &rec, nil
}

// Delete removes a record. Absent records are not an error.
func (s *DynamoStore) Delete(ctx context.Context, sessionHash string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]dynamotypes.AttributeValue{
			"PK": &dynamotypes.AttributeValueMemberS{Value: dynamoPKPrefix + sessionHash},
			"SK": &dynamotypes.AttributeValueMemberS{Value: dynamoSKMeta},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete failed: %w", err)
	}
	return nil
}

// Ping verifies the table is reachable and active.
func (s *DynamoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return fmt.Errorf("dynamodb describe table failed: %w", err)
	}
	if out.Table == nil || out.Table.TableStatus != dynamotypes.TableStatusActive {
		return errors.New("dynamodb table is not active")
	}
	return nil
}
