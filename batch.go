package dynaplan

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

type batchContextKey struct{}

// Batch buffers put and delete requests per table while a batch scope is
// active. Later writes for the same key replace earlier buffered ones,
// so each key reaches the wire at most once per flush.
//
// The scope is reentrant within one logical call stack: opening it again
// increments a counter and reuses the same buffers, and only the
// outermost Close flushes. It is not safe for concurrent use from
// independent goroutines.
type Batch struct {
	depth   int
	log     zerolog.Logger
	buffers map[string]*batchBuffer
	order   []string
}

type batchBuffer struct {
	client   DynamoDBClient
	order    []string
	requests map[string]types.WriteRequest
}

// OpenBatch opens a batch scope on the context, or reenters the active
// one. Every OpenBatch must be matched by exactly one Close on the
// returned batch.
func OpenBatch(ctx context.Context) (context.Context, *Batch) {
	if b := batchFrom(ctx); b != nil {
		b.depth++
		return ctx, b
	}
	b := &Batch{
		depth:   1,
		log:     zerolog.Nop(),
		buffers: make(map[string]*batchBuffer),
	}
	return context.WithValue(ctx, batchContextKey{}, b), b
}

func batchFrom(ctx context.Context) *Batch {
	b, _ := ctx.Value(batchContextKey{}).(*Batch)
	return b
}

// Pending returns the number of buffered requests across all tables.
func (b *Batch) Pending() int {
	n := 0
	for _, buf := range b.buffers {
		n += len(buf.requests)
	}
	return n
}

// add buffers one write request for a table, replacing any earlier
// request for the same key.
func (b *Batch) add(client DynamoDBClient, tableName, keyID string, request types.WriteRequest, log zerolog.Logger) {
	b.log = log
	buf := b.buffers[tableName]
	if buf == nil {
		buf = &batchBuffer{
			client:   client,
			requests: make(map[string]types.WriteRequest),
		}
		b.buffers[tableName] = buf
		b.order = append(b.order, tableName)
	}
	if _, exists := buf.requests[keyID]; !exists {
		buf.order = append(buf.order, keyID)
	}
	buf.requests[keyID] = request
}

// Close exits the batch scope. Only the outermost Close flushes the
// buffered requests. Closing more times than the scope was opened
// returns ErrUnbalancedBatch.
func (b *Batch) Close(ctx context.Context) error {
	if b.depth <= 0 {
		return ErrUnbalancedBatch
	}
	b.depth--
	if b.depth > 0 {
		return nil
	}
	return b.flush(ctx)
}

// flush sends every buffered request, chunked at MaxBatchWriteSize per
// call. Unprocessed items are folded back into the next request with no
// backoff.
func (b *Batch) flush(ctx context.Context) error {
	for _, tableName := range b.order {
		buf := b.buffers[tableName]

		for start := 0; start < len(buf.order); start += MaxBatchWriteSize {
			end := min(start+MaxBatchWriteSize, len(buf.order))

			requests := make([]types.WriteRequest, 0, end-start)
			for _, keyID := range buf.order[start:end] {
				requests = append(requests, buf.requests[keyID])
			}

			pending := map[string][]types.WriteRequest{tableName: requests}
			for len(pending) > 0 {
				out, err := buf.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
				if err != nil {
					return fmt.Errorf("failed to flush batch for table %s: %w", tableName, err)
				}
				if len(out.UnprocessedItems) == 0 {
					break
				}
				b.log.Debug().
					Str("table", tableName).
					Int("items", len(out.UnprocessedItems[tableName])).
					Msg("retrying unprocessed items")
				pending = out.UnprocessedItems
			}
		}

		b.log.Debug().
			Str("table", tableName).
			Int("items", len(buf.order)).
			Msg("flushed batch")
	}

	b.buffers = make(map[string]*batchBuffer)
	b.order = nil
	return nil
}
