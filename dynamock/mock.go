package dynamock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type DynamoDBAPICall[T, U any] = func(context.Context, *T, ...func(*dynamodb.Options)) (*U, error)

// DynamoDBAPI defines the DynamoDB operations required by dynaplan.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// MockClient is a simple expectation-based mock for DynamoDB operations.
// Users can set expectations for specific operations without needing integration.
type MockClient struct {
	GetFunc            DynamoDBAPICall[dynamodb.GetItemInput, dynamodb.GetItemOutput]
	PutFunc            DynamoDBAPICall[dynamodb.PutItemInput, dynamodb.PutItemOutput]
	DeleteFunc         DynamoDBAPICall[dynamodb.DeleteItemInput, dynamodb.DeleteItemOutput]
	QueryFunc          DynamoDBAPICall[dynamodb.QueryInput, dynamodb.QueryOutput]
	ScanFunc           DynamoDBAPICall[dynamodb.ScanInput, dynamodb.ScanOutput]
	BatchGetItemFunc   DynamoDBAPICall[dynamodb.BatchGetItemInput, dynamodb.BatchGetItemOutput]
	BatchWriteItemFunc DynamoDBAPICall[dynamodb.BatchWriteItemInput, dynamodb.BatchWriteItemOutput]
}

// Ensure MockClient implements DynamoDBAPI
var _ DynamoDBAPI = (*MockClient)(nil)

// NewMockClient creates a new mock DynamoDB client with default configuration.
// Every operation fails the test unless an expectation is set.
func NewMockClient(t *testing.T) *MockClient {
	return &MockClient{
		GetFunc:            defaultFunc[dynamodb.GetItemInput, dynamodb.GetItemOutput](t),
		PutFunc:            defaultFunc[dynamodb.PutItemInput, dynamodb.PutItemOutput](t),
		DeleteFunc:         defaultFunc[dynamodb.DeleteItemInput, dynamodb.DeleteItemOutput](t),
		QueryFunc:          defaultFunc[dynamodb.QueryInput, dynamodb.QueryOutput](t),
		ScanFunc:           defaultFunc[dynamodb.ScanInput, dynamodb.ScanOutput](t),
		BatchGetItemFunc:   defaultFunc[dynamodb.BatchGetItemInput, dynamodb.BatchGetItemOutput](t),
		BatchWriteItemFunc: defaultFunc[dynamodb.BatchWriteItemInput, dynamodb.BatchWriteItemOutput](t),
	}
}

func defaultFunc[T, U any](t *testing.T) DynamoDBAPICall[T, U] {
	return func(ctx context.Context, params *T, optFns ...func(*dynamodb.Options)) (*U, error) {
		t.Fatal("unexpected call")
		return nil, nil
	}
}

// GetItem retrieves an item from the mock table.
func (m *MockClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return m.GetFunc(ctx, params, optFns...)
}

// PutItem stores an item in the mock table.
func (m *MockClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return m.PutFunc(ctx, params, optFns...)
}

// DeleteItem removes an item from the mock table.
func (m *MockClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return m.DeleteFunc(ctx, params, optFns...)
}

// Query performs a query operation.
func (m *MockClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return m.QueryFunc(ctx, params, optFns...)
}

// Scan performs a scan operation.
func (m *MockClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return m.ScanFunc(ctx, params, optFns...)
}

// BatchGetItem processes batch read operations.
func (m *MockClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return m.BatchGetItemFunc(ctx, params, optFns...)
}

// BatchWriteItem processes batch write operations.
func (m *MockClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return m.BatchWriteItemFunc(ctx, params, optFns...)
}
