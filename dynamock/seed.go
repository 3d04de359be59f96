package dynamock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Seeder loads fixture records into a table for testing.
type Seeder struct {
	client    DynamoDBAPI
	tableName string
}

// NewSeeder creates a seeder for the given table.
func NewSeeder(client DynamoDBAPI, tableName string) *Seeder {
	return &Seeder{
		client:    client,
		tableName: tableName,
	}
}

// SeedRecord persists a single record. The value can be any struct or
// map accepted by attributevalue.
func (s *Seeder) SeedRecord(ctx context.Context, record any) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	return nil
}

// SeedRecords persists multiple records.
func (s *Seeder) SeedRecords(ctx context.Context, records ...any) error {
	for _, record := range records {
		if err := s.SeedRecord(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// SeedFromJSON reads a JSON array of objects from r and persists each as
// a record. Returns the number of records saved and any error generated.
func (s *Seeder) SeedFromJSON(ctx context.Context, r io.Reader) (int, error) {
	var records []map[string]any
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&records); err != nil {
		return 0, fmt.Errorf("failed to parse JSON document: %w", err)
	}

	count := 0
	for i, record := range records {
		if err := s.SeedRecord(ctx, record); err != nil {
			return count, fmt.Errorf("failed to seed record at index %d: %w", i, err)
		}
		count++
	}

	return count, nil
}
