// Package dynamock provides test doubles and integration helpers for
// dynaplan.
//
// # Unit testing with MockClient
//
// MockClient is an expectation-based mock: every DynamoDB operation
// fails the test unless a function field is set.
//
//	client := dynamock.NewMockClient(t)
//	client.QueryFunc = func(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
//	    return &dynamodb.QueryOutput{Items: items}, nil
//	}
//	table := dynaplan.NewTable[Product]("products", client)
//
// # Integration testing with DynamoDB Local
//
// LocalDynamoDB connects to a DynamoDB Local instance and can create
// and tear down tables from a dynaplan key schema:
//
//	dynamock.WithDefaultLocalDynamoDB(t, func(local *dynamock.LocalDynamoDB) {
//	    dynamock.WithIsolatedTable(t, local, schema, func(tableName string) {
//	        // exercise the table
//	    })
//	})
//
// Seeder loads fixture records, either directly or from a JSON array.
package dynamock
