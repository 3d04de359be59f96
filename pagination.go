package dynaplan

import (
	"context"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

const (
	// MaxBatchGetSize is the maximum number of keys allowed in a single
	// BatchGetItem request.
	MaxBatchGetSize = 100

	// MaxBatchWriteSize is the maximum number of requests allowed in a
	// single BatchWriteItem request.
	MaxBatchWriteSize = 25
)

// queryPages drives a query to exhaustion, yielding raw items one at a
// time and following continuation tokens. No request is issued until the
// consumer pulls the first element.
func queryPages(ctx context.Context, client DynamoDBClient, input *dynamodb.QueryInput, log zerolog.Logger) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		request := *input
		for {
			out, err := client.Query(ctx, &request)
			if err != nil {
				yield(nil, err)
				return
			}
			log.Debug().
				Str("table", aws.ToString(request.TableName)).
				Int("items", len(out.Items)).
				Msg("query page")
			for _, item := range out.Items {
				if !yield(item, nil) {
					return
				}
			}
			if len(out.LastEvaluatedKey) == 0 {
				return
			}
			request.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}
}

// scanPages drives a scan to exhaustion, following continuation tokens.
func scanPages(ctx context.Context, client DynamoDBClient, input *dynamodb.ScanInput, log zerolog.Logger) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		request := *input
		for {
			out, err := client.Scan(ctx, &request)
			if err != nil {
				yield(nil, err)
				return
			}
			log.Debug().
				Str("table", aws.ToString(request.TableName)).
				Int("items", len(out.Items)).
				Msg("scan page")
			for _, item := range out.Items {
				if !yield(item, nil) {
					return
				}
			}
			if len(out.LastEvaluatedKey) == 0 {
				return
			}
			request.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}
}

// batchGetPages fetches a set of full keys through chunked BatchGetItem
// calls. Keys are deduplicated, chunked at MaxBatchGetSize, and the
// per-chunk sequences are concatenated. Unprocessed keys are folded back
// into the next request immediately; there is no backoff, only the
// genuinely unprocessed subset is repeated.
func batchGetPages(ctx context.Context, client DynamoDBClient, tableName string, keys []Key, consistent bool, log zerolog.Logger) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		unique := dedupKeys(keys)

		for start := 0; start < len(unique); start += MaxBatchGetSize {
			end := min(start+MaxBatchGetSize, len(unique))

			wireKeys := make([]Item, 0, end-start)
			for _, key := range unique[start:end] {
				wire, err := key.WireKey()
				if err != nil {
					yield(nil, err)
					return
				}
				wireKeys = append(wireKeys, wire)
			}

			request := map[string]types.KeysAndAttributes{
				tableName: {
					Keys:           wireKeys,
					ConsistentRead: aws.Bool(consistent),
				},
			}

			for len(request) > 0 {
				out, err := client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
				if err != nil {
					yield(nil, err)
					return
				}
				for _, item := range out.Responses[tableName] {
					if !yield(item, nil) {
						return
					}
				}
				if len(out.UnprocessedKeys) == 0 {
					break
				}
				log.Debug().
					Str("table", tableName).
					Int("keys", len(out.UnprocessedKeys[tableName].Keys)).
					Msg("retrying unprocessed keys")
				request = out.UnprocessedKeys
			}
		}
	}
}
