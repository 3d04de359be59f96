package dynaplan

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// PlanKind identifies the read strategy selected for a filter.
type PlanKind int

const (
	// PlanMultiGet fetches every derived key through batched point reads.
	PlanMultiGet PlanKind = iota
	// PlanQuery issues one range query per derived key, concatenated
	// lazily. Ordering across keys is not guaranteed.
	PlanQuery
	// PlanScan reads the whole table, filtering server side.
	PlanScan
)

func (k PlanKind) String() string {
	switch k {
	case PlanMultiGet:
		return "multi-get"
	case PlanQuery:
		return "query"
	case PlanScan:
		return "scan"
	default:
		return fmt.Sprintf("plan(%d)", int(k))
	}
}

// Plan is the read strategy chosen for one compiled filter. A plan is
// selected once per call and never mutated.
type Plan struct {
	Kind   PlanKind
	Keys   []Key // derived keys, for multi-get and query plans
	Filter *CompiledFilter
}

// PlanRead selects the cheapest correct strategy for the filter:
//
//   - an empty filter always scans; reading everything is taken as
//     intentional and is not gated by allowScan
//   - a filter naming only key attributes, where every derived key
//     addresses a single record, becomes a multi-get
//   - any other filter with derived keys becomes one query per key
//   - a filter with no partition key scans only when allowScan is set,
//     and fails with a PlanError otherwise
func (s *Schema) PlanRead(filter any, allowScan bool) (*Plan, error) {
	compiled, err := s.Compile(filter)
	if err != nil {
		return nil, err
	}

	if compiled.Empty() {
		return &Plan{Kind: PlanScan, Filter: compiled}, nil
	}

	keys, err := compiled.Keys()
	if err != nil {
		return nil, err
	}

	if compiled.ContainsOnlyKeyAttributes() && len(keys) > 0 && allBatchGettable(keys) {
		return &Plan{Kind: PlanMultiGet, Keys: keys, Filter: compiled}, nil
	}

	if len(keys) > 0 {
		return &Plan{Kind: PlanQuery, Keys: keys, Filter: compiled}, nil
	}

	if allowScan {
		return &Plan{Kind: PlanScan, Filter: compiled}, nil
	}

	return nil, &PlanError{Reason: fmt.Sprintf(
		"filter has no %q partition key attribute; queries require a partition key and scans must be explicitly allowed",
		s.HashKey.Name,
	)}
}

func allBatchGettable(keys []Key) bool {
	for _, key := range keys {
		if !key.BatchGettable() {
			return false
		}
	}
	return true
}

// readOptions shape the execution of a planned read.
type readOptions struct {
	allowScan  bool
	consistent bool
	descending bool
	limit      int32
}

// ReadOption configures a planned read.
type ReadOption func(*readOptions)

// WithScan allows the planner to fall back to a full table scan when the
// filter carries no partition key.
func WithScan() ReadOption {
	return func(o *readOptions) { o.allowScan = true }
}

// WithConsistentRead requests strongly consistent reads.
func WithConsistentRead() ReadOption {
	return func(o *readOptions) { o.consistent = true }
}

// WithDescending reverses the native sort order within each partition.
func WithDescending() ReadOption {
	return func(o *readOptions) { o.descending = true }
}

// WithLimit caps the number of records evaluated per request page.
func WithLimit(limit int32) ReadOption {
	return func(o *readOptions) { o.limit = limit }
}

// queryInput builds the range query request for one derived key:
// partition and sort conditions become the key condition, everything
// else becomes the filter expression.
func (f *CompiledFilter) queryInput(tableName string, key Key, opts readOptions) (*dynamodb.QueryInput, error) {
	keyCondition, err := f.keyCondition(key)
	if err != nil {
		return nil, err
	}

	builder := expression.NewBuilder().WithKeyCondition(keyCondition)

	filter, hasFilter, err := f.filterConditions(true)
	if err != nil {
		return nil, err
	}
	if hasFilter {
		builder = builder.WithFilter(filter)
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!opts.descending),
		ConsistentRead:            aws.Bool(opts.consistent),
	}

	if hasFilter {
		input.FilterExpression = expr.Filter()
	}

	if opts.limit > 0 {
		input.Limit = aws.Int32(opts.limit)
	}

	return input, nil
}

// scanInput builds the scan request. An empty filter scans without any
// expression at all.
func (f *CompiledFilter) scanInput(tableName string, opts readOptions) (*dynamodb.ScanInput, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(tableName),
		ConsistentRead: aws.Bool(opts.consistent),
	}

	if opts.limit > 0 {
		input.Limit = aws.Int32(opts.limit)
	}

	filter, hasFilter, err := f.filterConditions(false)
	if err != nil {
		return nil, err
	}
	if !hasFilter {
		return input, nil
	}

	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input.FilterExpression = expr.Filter()
	input.ExpressionAttributeNames = expr.Names()
	input.ExpressionAttributeValues = expr.Values()

	return input, nil
}
