package dynaplan_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkallady/dynaplan"
	"github.com/tkallady/dynaplan/dynamock"
)

type product struct {
	dynaplan.ModelState
	Category string `dynamodbav:"category" dynaplan:"hash"`
	SKU      string `dynamodbav:"sku" dynaplan:"range"`
	Name     string `dynamodbav:"name"`
	Price    int    `dynamodbav:"price"`
}

func productItem(category, sku string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"category": &types.AttributeValueMemberS{Value: category},
		"sku":      &types.AttributeValueMemberS{Value: sku},
	}
}

func collect(t *testing.T, seq func(func(*product, error) bool)) []*product {
	t.Helper()
	var out []*product
	for p, err := range seq {
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestMultiGetChunking(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("cat-%d|sku-%d", i, i)
	}

	var chunkSizes []int
	client.BatchGetItemFunc = func(ctx context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
		chunkSizes = append(chunkSizes, len(params.RequestItems["products"].Keys))
		return &dynamodb.BatchGetItemOutput{}, nil
	}

	seq, err := table.Get(ctx, dynaplan.Filter{"id": ids})
	require.NoError(t, err)

	// Lazy: nothing is issued until the sequence is consumed.
	assert.Empty(t, chunkSizes)

	collect(t, seq)
	assert.Equal(t, []int{100, 100, 50}, chunkSizes)
}

func TestMultiGetDeduplicatesKeys(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	var keyCount int
	client.BatchGetItemFunc = func(ctx context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
		keyCount = len(params.RequestItems["products"].Keys)
		return &dynamodb.BatchGetItemOutput{}, nil
	}

	seq, err := table.Get(ctx, dynaplan.Filter{
		"id": []string{"books|S-1", "books|S-1", "books|S-2"},
	})
	require.NoError(t, err)

	collect(t, seq)
	assert.Equal(t, 2, keyCount)
}

func TestMultiGetRetriesUnprocessedKeys(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	leftover := productItem("books", "S-2")
	calls := 0
	client.BatchGetItemFunc = func(ctx context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
		calls++
		if calls == 1 {
			require.Len(t, params.RequestItems["products"].Keys, 2)
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]map[string]types.AttributeValue{
					"products": {productItem("books", "S-1")},
				},
				UnprocessedKeys: map[string]types.KeysAndAttributes{
					"products": {Keys: []map[string]types.AttributeValue{leftover}},
				},
			}, nil
		}
		// Only the genuinely unprocessed subset is repeated.
		require.Len(t, params.RequestItems["products"].Keys, 1)
		return &dynamodb.BatchGetItemOutput{
			Responses: map[string][]map[string]types.AttributeValue{
				"products": {leftover},
			},
		}, nil
	}

	seq, err := table.Get(ctx, dynaplan.Filter{"id": []string{"books|S-1", "books|S-2"}})
	require.NoError(t, err)

	results := collect(t, seq)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, calls)
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	continuation := productItem("books", "S-1")
	calls := 0
	client.QueryFunc = func(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
		calls++
		if calls == 1 {
			assert.Nil(t, params.ExclusiveStartKey)
			return &dynamodb.QueryOutput{
				Items:            []map[string]types.AttributeValue{productItem("books", "S-1")},
				LastEvaluatedKey: continuation,
			}, nil
		}
		assert.Equal(t, continuation, params.ExclusiveStartKey)
		return &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{productItem("books", "S-2")},
		}, nil
	}

	seq, err := table.Get(ctx, dynaplan.Filter{"category": "books"})
	require.NoError(t, err)

	results := collect(t, seq)
	require.Len(t, results, 2)
	assert.Equal(t, "S-1", results[0].SKU)
	assert.Equal(t, "S-2", results[1].SKU)
	assert.Equal(t, 2, calls)
}

func TestQueryPerDerivedKey(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.QueryFunc = func(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
		calls++
		return &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{productItem(fmt.Sprintf("cat-%d", calls), "S-1")},
		}, nil
	}

	seq, err := table.Get(ctx, dynaplan.Filter{"category": []string{"books", "music"}})
	require.NoError(t, err)

	results := collect(t, seq)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, calls)
}

func TestAbandoningIterationStopsRequests(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.QueryFunc = func(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
		calls++
		return &dynamodb.QueryOutput{
			Items:            []map[string]types.AttributeValue{productItem("books", "S-1")},
			LastEvaluatedKey: productItem("books", "S-1"),
		}, nil
	}

	seq, err := table.Get(ctx, dynaplan.Filter{"category": "books"})
	require.NoError(t, err)

	for range seq {
		break
	}
	assert.Equal(t, 1, calls)
}

func TestScanPagination(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.ScanFunc = func(ctx context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
		calls++
		if calls == 1 {
			return &dynamodb.ScanOutput{
				Items:            []map[string]types.AttributeValue{productItem("books", "S-1")},
				LastEvaluatedKey: productItem("books", "S-1"),
			}, nil
		}
		return &dynamodb.ScanOutput{
			Items: []map[string]types.AttributeValue{productItem("music", "S-2")},
		}, nil
	}

	seq, err := table.Get(ctx, dynaplan.Filter{})
	require.NoError(t, err)

	results := collect(t, seq)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, calls)
}

func TestGetByID(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	t.Run("consistent point read", func(t *testing.T) {
		client.GetFunc = func(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			assert.True(t, *params.ConsistentRead)
			assert.Equal(t, &types.AttributeValueMemberS{Value: "books"}, params.Key["category"])
			assert.Equal(t, &types.AttributeValueMemberS{Value: "S-1"}, params.Key["sku"])
			return &dynamodb.GetItemOutput{Item: productItem("books", "S-1")}, nil
		}

		p, err := table.GetByID(ctx, "books|S-1")

		require.NoError(t, err)
		assert.Equal(t, "books", p.Category)
	})

	t.Run("missing item", func(t *testing.T) {
		client.GetFunc = func(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		}

		_, err := table.GetByID(ctx, "books|missing")

		require.ErrorIs(t, err, dynaplan.ErrItemNotFound)
	})
}
