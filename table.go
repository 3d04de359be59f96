package dynaplan

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// TableOptions contains configuration options for a table handle.
type TableOptions struct {
	Namespace   Namespace      // qualifies the table name as service-environment-name
	Delimiter   string         // identity string delimiter. Default is '|'.
	IDAttribute string         // virtual identity attribute name. Default is "id".
	Logger      zerolog.Logger // structured logger; discards by default
}

// WithNamespace qualifies the table name with a service and environment.
func WithNamespace(ns Namespace) func(*TableOptions) {
	return func(o *TableOptions) { o.Namespace = ns }
}

// WithDelimiter overrides the identity string delimiter.
func WithDelimiter(delimiter string) func(*TableOptions) {
	return func(o *TableOptions) { o.Delimiter = delimiter }
}

// WithLogger attaches a structured logger to the table handle.
func WithLogger(log zerolog.Logger) func(*TableOptions) {
	return func(o *TableOptions) { o.Logger = log }
}

// Table is a typed handle over one DynamoDB table. The record type's key
// schema is inferred from its struct tags on first use.
type Table[T any] struct {
	name   string
	client DynamoDBClient
	log    zerolog.Logger
	schema func() (*Schema, error)
}

// NewTable creates a table handle with default configuration. Schema
// validation happens lazily, on the first operation that needs it.
func NewTable[T any](name string, client DynamoDBClient, opts ...func(*TableOptions)) *Table[T] {
	options := TableOptions{
		Delimiter:   DefaultDelimiter,
		IDAttribute: DefaultIDAttribute,
		Logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	tableName := options.Namespace.TableName(name)
	table := &Table[T]{
		name:   tableName,
		client: client,
		log:    options.Logger.With().Str("table", tableName).Logger(),
	}
	table.schema = sync.OnceValues(func() (*Schema, error) {
		schema, err := InferSchema(reflect.TypeFor[T]())
		if err != nil {
			return nil, err
		}
		schema.Delimiter = options.Delimiter
		schema.IDAttribute = options.IDAttribute
		return schema, nil
	})
	return table
}

// Name returns the fully qualified table name.
func (t *Table[T]) Name() string { return t.name }

// Schema returns the inferred key schema for the record type.
func (t *Table[T]) Schema() (*Schema, error) { return t.schema() }

// Get plans and executes a read for the filter. Planning and shape
// errors are returned synchronously, before any network call; the
// returned sequence is lazy and issues requests only as it is consumed.
// Ordering across derived keys or multi-get chunks is not guaranteed.
func (t *Table[T]) Get(ctx context.Context, filter any, opts ...ReadOption) (iter.Seq2[*T, error], error) {
	schema, err := t.Schema()
	if err != nil {
		return nil, err
	}

	var options readOptions
	for _, opt := range opts {
		opt(&options)
	}

	plan, err := schema.PlanRead(filter, options.allowScan)
	if err != nil {
		return nil, err
	}

	t.log.Debug().
		Stringer("plan", plan.Kind).
		Int("keys", len(plan.Keys)).
		Msg("planned read")

	switch plan.Kind {
	case PlanMultiGet:
		return t.decodePages(batchGetPages(ctx, t.client, t.name, plan.Keys, options.consistent, t.log)), nil
	case PlanQuery:
		return t.queryKeys(ctx, plan, options), nil
	default:
		input, err := plan.Filter.scanInput(t.name, options)
		if err != nil {
			return nil, err
		}
		return t.decodePages(scanPages(ctx, t.client, input, t.log)), nil
	}
}

// queryKeys concatenates one range query per derived key. Each key's
// query is exhausted before the next key's begins.
func (t *Table[T]) queryKeys(ctx context.Context, plan *Plan, options readOptions) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		for _, key := range plan.Keys {
			input, err := plan.Filter.queryInput(t.name, key, options)
			if err != nil {
				yield(nil, err)
				return
			}
			for item, err := range queryPages(ctx, t.client, input, t.log) {
				if err != nil {
					yield(nil, err)
					return
				}
				value, err := t.decode(item)
				if !yield(value, err) || err != nil {
					return
				}
			}
		}
	}
}

// GetByID retrieves a single record by its identity string, with a
// strongly consistent read. Returns ErrItemNotFound when no record
// exists.
func (t *Table[T]) GetByID(ctx context.Context, id string) (*T, error) {
	schema, err := t.Schema()
	if err != nil {
		return nil, err
	}
	key, err := schema.KeyFromID(id)
	if err != nil {
		return nil, err
	}
	wire, err := key.WireKey()
	if err != nil {
		return nil, err
	}

	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.name),
		Key:            wire,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if out.Item == nil {
		return nil, ErrItemNotFound
	}
	return t.decode(out.Item)
}

// KeyOf builds the primary key of a record from its key field values.
// Fails with a KeyError when a required component is unset.
func (t *Table[T]) KeyOf(obj *T) (Key, error) {
	schema, err := t.Schema()
	if err != nil {
		return Key{}, err
	}

	rv := reflect.ValueOf(obj).Elem()
	hash := rv.FieldByIndex(schema.HashKey.index)
	if hash.IsZero() {
		return Key{}, &KeyError{Attribute: schema.HashKey.Name, Reason: "partition value is not set"}
	}

	if schema.RangeKey == nil {
		return schema.KeyFromParts(hash.Interface(), nil)
	}

	rng := rv.FieldByIndex(schema.RangeKey.index)
	if rng.IsZero() {
		return Key{}, &KeyError{Attribute: schema.RangeKey.Name, Reason: "sort value is not set"}
	}
	return schema.KeyFromParts(hash.Interface(), rng.Interface())
}

// ObjectID derives the identity string of a record from its key fields.
// The identity is computed, never stored, so it cannot drift from the
// underlying values.
func (t *Table[T]) ObjectID(obj *T) (string, error) {
	key, err := t.KeyOf(obj)
	if err != nil {
		return "", err
	}
	return key.ID(), nil
}

// SetObjectID parses an identity string and distributes its components
// onto the record's key fields.
func (t *Table[T]) SetObjectID(obj *T, id string) error {
	schema, err := t.Schema()
	if err != nil {
		return err
	}
	key, err := schema.KeyFromID(id)
	if err != nil {
		return err
	}

	rv := reflect.ValueOf(obj).Elem()
	if err := assignKeyField(rv, schema.HashKey, key.HashValue); err != nil {
		return err
	}
	if schema.RangeKey != nil {
		if err := assignKeyField(rv, *schema.RangeKey, key.RangeValue); err != nil {
			return err
		}
	}
	return nil
}

func assignKeyField(rv reflect.Value, attr KeyAttribute, value any) error {
	field := rv.FieldByIndex(attr.index)
	vv := reflect.ValueOf(value)
	if !vv.Type().ConvertibleTo(field.Type()) {
		return &KeyError{Attribute: attr.Name, Reason: fmt.Sprintf(
			"cannot assign %T to field %s", value, attr.Field,
		)}
	}
	field.Set(vv.Convert(field.Type()))
	return nil
}

// decode unmarshals a raw item into a new record. When the record type
// embeds ModelState, the raw item is retained so an unchanged Put can be
// skipped later.
func (t *Table[T]) decode(item Item) (*T, error) {
	value := new(T)
	if err := attributevalue.UnmarshalMap(item, value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	if holder, ok := any(value).(snapshotHolder); ok {
		holder.setStoredItem(item)
	}
	return value, nil
}

func (t *Table[T]) decodePages(items iter.Seq2[Item, error]) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		for item, err := range items {
			if err != nil {
				yield(nil, err)
				return
			}
			value, err := t.decode(item)
			if !yield(value, err) || err != nil {
				return
			}
		}
	}
}

// marshal converts a record to its wire item, dropping empty string
// attributes, which the store treats as absent.
func (t *Table[T]) marshal(obj *T) (Item, error) {
	item, err := attributevalue.MarshalMap(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	for name, value := range item {
		if s, ok := value.(*types.AttributeValueMemberS); ok && s.Value == "" {
			delete(item, name)
		}
	}
	return item, nil
}
