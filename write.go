package dynaplan

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition is a server-evaluated precondition on the existing record.
// A rejected condition is a soft failure: the write returns normally and
// the outcome is recorded on the object's ResponseState.
type Condition struct {
	Attribute string
	Operator  Operator
	Value     any
}

func (c Condition) build() (expression.ConditionBuilder, error) {
	value := c.Value
	if c.Operator == OpBetween {
		value = expandValues(c.Value)
	}
	return attributeCondition(c.Attribute, c.Operator, value)
}

type writeOptions struct {
	condition *Condition
}

// WriteOption configures a put or delete.
type WriteOption func(*writeOptions)

// WithCondition attaches a precondition to the write. Conditional writes
// always bypass any active batch scope.
func WithCondition(attribute string, op Operator, value any) WriteOption {
	return func(o *writeOptions) {
		o.condition = &Condition{Attribute: attribute, Operator: op, Value: value}
	}
}

// Put writes a full-record replace. Requires the record's key fields to
// be set. When the record is unchanged since it was last read or
// written, the call is a no-op. Without a condition, an active batch
// scope on the context buffers the write; otherwise it is sent
// immediately.
func (t *Table[T]) Put(ctx context.Context, obj *T, opts ...WriteOption) error {
	var options writeOptions
	for _, opt := range opts {
		opt(&options)
	}

	key, err := t.KeyOf(obj)
	if err != nil {
		return err
	}
	item, err := t.marshal(obj)
	if err != nil {
		return err
	}

	if holder, ok := any(obj).(snapshotHolder); ok {
		if stored := holder.storedItem(); stored != nil && reflect.DeepEqual(stored, item) {
			t.log.Debug().Str("key", key.ID()).Msg("skipping unchanged put")
			return nil
		}
	}

	if options.condition != nil {
		return t.conditionalPut(ctx, obj, item, key, *options.condition)
	}

	if batch := batchFrom(ctx); batch != nil {
		batch.add(t.client, t.name, key.ID(), types.WriteRequest{
			PutRequest: &types.PutRequest{Item: item},
		}, t.log)
		t.rememberItem(obj, item)
		return nil
	}

	if _, err := t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.name),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	t.rememberItem(obj, item)
	return nil
}

func (t *Table[T]) conditionalPut(ctx context.Context, obj *T, item Item, key Key, condition Condition) error {
	expr, err := buildConditionExpression(condition)
	if err != nil {
		return err
	}

	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(t.name),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if absorbed := t.absorbConditionFailure(any(obj), key, condition, err); absorbed {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	t.rememberItem(obj, item)
	return nil
}

// Delete removes the record addressed by the object's key fields,
// following the same batching and condition rules as Put.
func (t *Table[T]) Delete(ctx context.Context, obj *T, opts ...WriteOption) error {
	key, err := t.KeyOf(obj)
	if err != nil {
		return err
	}
	return t.deleteKey(ctx, any(obj), key, opts)
}

// DeleteKey removes the record addressed by a key.
func (t *Table[T]) DeleteKey(ctx context.Context, key Key, opts ...WriteOption) error {
	return t.deleteKey(ctx, nil, key, opts)
}

func (t *Table[T]) deleteKey(ctx context.Context, obj any, key Key, opts []WriteOption) error {
	var options writeOptions
	for _, opt := range opts {
		opt(&options)
	}

	wire, err := key.WireKey()
	if err != nil {
		return err
	}

	if options.condition != nil {
		condition := *options.condition
		expr, err := buildConditionExpression(condition)
		if err != nil {
			return err
		}
		_, err = t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(t.name),
			Key:                       wire,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		if absorbed := t.absorbConditionFailure(obj, key, condition, err); absorbed {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		return nil
	}

	if batch := batchFrom(ctx); batch != nil {
		batch.add(t.client, t.name, key.ID(), types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: wire},
		}, t.log)
		return nil
	}

	if _, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.name),
		Key:       wire,
	}); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// PutMany writes a set of records. A single record takes the direct Put
// path with no batch machinery. Conditional writes are sent one at a
// time, since conditions are incompatible with batched writes. Otherwise
// the whole call shares one batch scope, opened here or reused from the
// context.
func (t *Table[T]) PutMany(ctx context.Context, objs []*T, opts ...WriteOption) error {
	return writeMany(ctx, objs, opts, t.Put)
}

// DeleteMany removes a set of records by key, with the same batching and
// condition rules as PutMany.
func (t *Table[T]) DeleteMany(ctx context.Context, keys []Key, opts ...WriteOption) error {
	return writeMany(ctx, keys, opts, t.DeleteKey)
}

func writeMany[E any](ctx context.Context, items []E, opts []WriteOption, write func(context.Context, E, ...WriteOption) error) error {
	switch len(items) {
	case 0:
		return nil
	case 1:
		return write(ctx, items[0], opts...)
	}

	var options writeOptions
	for _, opt := range opts {
		opt(&options)
	}

	if options.condition != nil {
		for _, item := range items {
			if err := write(ctx, item, opts...); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, batch := OpenBatch(ctx)
	var firstErr error
	for _, item := range items {
		if err := write(ctx, item); err != nil {
			firstErr = err
			break
		}
	}
	if err := batch.Close(ctx); firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// absorbConditionFailure turns a conditional check rejection into soft
// state on the object. Returns true when the error was absorbed.
func (t *Table[T]) absorbConditionFailure(obj any, key Key, condition Condition, err error) bool {
	var failed *types.ConditionalCheckFailedException
	if !errors.As(err, &failed) {
		return false
	}

	t.log.Debug().
		Str("key", key.ID()).
		Str("attribute", condition.Attribute).
		Msg("conditional write rejected")

	if holder, ok := obj.(stateHolder); ok {
		state := holder.ResponseState()
		state.Reset()
		state.addError("condition check failed")
		state.addFieldError(condition.Attribute, "condition check failed")
	}
	return true
}

func buildConditionExpression(condition Condition) (expression.Expression, error) {
	builder, err := condition.build()
	if err != nil {
		return expression.Expression{}, err
	}
	expr, err := expression.NewBuilder().WithCondition(builder).Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("failed to build condition expression: %w", err)
	}
	return expr, nil
}

func (t *Table[T]) rememberItem(obj *T, item Item) {
	if holder, ok := any(obj).(snapshotHolder); ok {
		holder.setStoredItem(item)
	}
}
