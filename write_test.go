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

func TestPutRequiresKeyFields(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	err := table.Put(ctx, &product{Category: "books"})

	var keyErr *dynaplan.KeyError
	require.ErrorAs(t, err, &keyErr)
}

func TestPutStripsEmptyStringAttributes(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	client.PutFunc = func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
		assert.Equal(t, "products", *params.TableName)
		assert.Contains(t, params.Item, "category")
		assert.Contains(t, params.Item, "sku")
		assert.Contains(t, params.Item, "price")
		assert.NotContains(t, params.Item, "name")
		return &dynamodb.PutItemOutput{}, nil
	}

	err := table.Put(ctx, &product{Category: "books", SKU: "S-1", Price: 10})

	require.NoError(t, err)
}

func TestUnchangedPutSkipped(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.PutFunc = func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
		calls++
		return &dynamodb.PutItemOutput{}, nil
	}

	p := &product{Category: "books", SKU: "S-1", Price: 10}
	require.NoError(t, table.Put(ctx, p))
	require.NoError(t, table.Put(ctx, p))
	assert.Equal(t, 1, calls)

	p.Price = 12
	require.NoError(t, table.Put(ctx, p))
	assert.Equal(t, 2, calls)
}

func TestConditionalPutSoftFailure(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	client.PutFunc = func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
		require.NotNil(t, params.ConditionExpression)
		return nil, &types.ConditionalCheckFailedException{}
	}

	p := &product{Category: "books", SKU: "S-1", Price: 10}
	err := table.Put(ctx, p, dynaplan.WithCondition("price", dynaplan.OpLt, 10))

	require.NoError(t, err)
	state := p.ResponseState()
	assert.True(t, state.HadError)
	assert.Contains(t, state.FieldErrors["price"], "condition check failed")
	assert.NotEmpty(t, state.Errors)
}

func TestConditionalWriteBypassesBatch(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.PutFunc = func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
		calls++
		return &dynamodb.PutItemOutput{}, nil
	}

	ctx, batch := dynaplan.OpenBatch(ctx)
	p := &product{Category: "books", SKU: "S-1"}
	require.NoError(t, table.Put(ctx, p, dynaplan.WithCondition("price", dynaplan.OpExists, false)))

	assert.Equal(t, 1, calls)
	assert.Zero(t, batch.Pending())
	require.NoError(t, batch.Close(ctx))
}

func TestPutManySingleRecordBypassesBatch(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.PutFunc = func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
		calls++
		return &dynamodb.PutItemOutput{}, nil
	}

	err := table.PutMany(ctx, []*product{{Category: "books", SKU: "S-1"}})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPutManyBatchesRequests(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	var requestCount int
	client.BatchWriteItemFunc = func(ctx context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
		requestCount = len(params.RequestItems["products"])
		return &dynamodb.BatchWriteItemOutput{}, nil
	}

	err := table.PutMany(ctx, []*product{
		{Category: "books", SKU: "S-1"},
		{Category: "books", SKU: "S-2"},
		{Category: "music", SKU: "S-3"},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, requestCount)
}

func TestPutManyLastWriteWins(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	var requests []types.WriteRequest
	client.BatchWriteItemFunc = func(ctx context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
		requests = params.RequestItems["products"]
		return &dynamodb.BatchWriteItemOutput{}, nil
	}

	err := table.PutMany(ctx, []*product{
		{Category: "books", SKU: "S-1", Price: 1},
		{Category: "books", SKU: "S-1", Price: 2},
	})

	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "2"}, requests[0].PutRequest.Item["price"])
}

func TestBatchFlushChunking(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	var chunkSizes []int
	client.BatchWriteItemFunc = func(ctx context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
		chunkSizes = append(chunkSizes, len(params.RequestItems["products"]))
		return &dynamodb.BatchWriteItemOutput{}, nil
	}

	objs := make([]*product, 30)
	for i := range objs {
		objs[i] = &product{Category: "books", SKU: fmt.Sprintf("S-%d", i)}
	}

	require.NoError(t, table.PutMany(ctx, objs))
	assert.Equal(t, []int{25, 5}, chunkSizes)
}

func TestBatchFlushRetriesUnprocessedItems(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.BatchWriteItemFunc = func(ctx context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
		calls++
		requests := params.RequestItems["products"]
		if calls == 1 {
			require.Len(t, requests, 2)
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]types.WriteRequest{
					"products": requests[1:],
				},
			}, nil
		}
		require.Len(t, requests, 1)
		return &dynamodb.BatchWriteItemOutput{}, nil
	}

	err := table.PutMany(ctx, []*product{
		{Category: "books", SKU: "S-1"},
		{Category: "books", SKU: "S-2"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestBatchReentrancy(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.BatchWriteItemFunc = func(ctx context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
		calls++
		return &dynamodb.BatchWriteItemOutput{}, nil
	}

	ctx, outer := dynaplan.OpenBatch(ctx)
	ctx, inner := dynaplan.OpenBatch(ctx)
	assert.Same(t, outer, inner)

	require.NoError(t, table.Put(ctx, &product{Category: "books", SKU: "S-1"}))
	require.NoError(t, table.Put(ctx, &product{Category: "books", SKU: "S-2"}))
	assert.Equal(t, 2, outer.Pending())

	require.NoError(t, inner.Close(ctx))
	assert.Zero(t, calls)

	require.NoError(t, outer.Close(ctx))
	assert.Equal(t, 1, calls)

	require.ErrorIs(t, outer.Close(ctx), dynaplan.ErrUnbalancedBatch)
}

func TestPutManyWithConditionSendsIndividually(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	calls := 0
	client.PutFunc = func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
		calls++
		require.NotNil(t, params.ConditionExpression)
		return &dynamodb.PutItemOutput{}, nil
	}

	err := table.PutMany(ctx, []*product{
		{Category: "books", SKU: "S-1"},
		{Category: "books", SKU: "S-2"},
	}, dynaplan.WithCondition("sku", dynaplan.OpExists, false))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDeleteKey(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	client.DeleteFunc = func(ctx context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
		assert.Equal(t, &types.AttributeValueMemberS{Value: "books"}, params.Key["category"])
		assert.Equal(t, &types.AttributeValueMemberS{Value: "S-1"}, params.Key["sku"])
		return &dynamodb.DeleteItemOutput{}, nil
	}

	schema, err := table.Schema()
	require.NoError(t, err)
	key, err := schema.KeyFromID("books|S-1")
	require.NoError(t, err)

	require.NoError(t, table.DeleteKey(ctx, key))
}

func TestDeleteManyBatchesRequests(t *testing.T) {
	ctx := context.Background()
	client := dynamock.NewMockClient(t)
	table := dynaplan.NewTable[product]("products", client)

	var requests []types.WriteRequest
	client.BatchWriteItemFunc = func(ctx context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
		requests = params.RequestItems["products"]
		return &dynamodb.BatchWriteItemOutput{}, nil
	}

	schema, err := table.Schema()
	require.NoError(t, err)
	k1, err := schema.KeyFromID("books|S-1")
	require.NoError(t, err)
	k2, err := schema.KeyFromID("books|S-2")
	require.NoError(t, err)

	require.NoError(t, table.DeleteMany(ctx, []dynaplan.Key{k1, k2}))

	require.Len(t, requests, 2)
	for _, request := range requests {
		assert.NotNil(t, request.DeleteRequest)
	}
}
