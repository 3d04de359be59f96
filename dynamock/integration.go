package dynamock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tkallady/dynaplan"
)

// WithIsolatedTable runs a test function against a freshly created table
// that is deleted afterwards. The table name is generated to be unique
// for the test.
func WithIsolatedTable(t *testing.T, local *LocalDynamoDB, schema *dynaplan.Schema, fn func(tableName string)) {
	ctx := context.Background()
	tableName := NewTestTable(fmt.Sprintf("test-%s", t.Name()))

	if err := local.CreateTable(ctx, tableName, schema); err != nil {
		t.Fatalf("Failed to create test table %s: %v", tableName, err)
	}

	defer func() {
		if err := local.DeleteTable(ctx, tableName); err != nil {
			t.Errorf("Failed to cleanup table %s: %v", tableName, err)
		}
	}()

	fn(tableName)
}

// WithLocalDynamoDB runs a test function with a local DynamoDB instance.
// It checks if DynamoDB Local is available and skips the test if not.
func WithLocalDynamoDB(t *testing.T, port int, fn func(local *LocalDynamoDB)) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	local := NewLocalDynamoDB(port)
	ctx := context.Background()

	if !local.IsAvailable(ctx) {
		t.Skipf("DynamoDB Local not available on port %d", port)
	}

	fn(local)
}

// WithDefaultLocalDynamoDB runs a test function with the default local DynamoDB instance (port 8000).
func WithDefaultLocalDynamoDB(t *testing.T, fn func(local *LocalDynamoDB)) {
	WithLocalDynamoDB(t, DefaultLocalPort, fn)
}

// NewTestTable generates a unique table name for testing.
func NewTestTable(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
