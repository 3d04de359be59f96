package dynaplan

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
)

// Filter is a raw attribute filter. Each map key names an attribute with
// an optional operator suffix separated by a double underscore:
//
//	Filter{"category": "books", "price__lte": 20}
//
// A missing operator defaults to eq, or to is_in when the value is a
// slice. The aliases "in" and "exact" map to is_in and eq.
type Filter map[string]any

type filterCondition struct {
	op    Operator
	value any
}

// CompiledFilter is the canonical form of a Filter: attribute name to an
// ordered list of (operator, value) conditions, bound to the schema it
// was compiled against. Derived keys are computed lazily and memoized.
type CompiledFilter struct {
	schema *Schema
	attrs  map[string][]filterCondition
	names  []string // attribute names, sorted for deterministic builds

	keysOnce sync.Once
	keys     []Key
	keysErr  error
}

// Compile normalizes a raw filter against the schema. Accepts a Filter,
// a plain map, nil, or an already compiled filter; compiling a
// *CompiledFilter returns it unchanged.
func (s *Schema) Compile(filter any) (*CompiledFilter, error) {
	switch f := filter.(type) {
	case *CompiledFilter:
		return f, nil
	case nil:
		return &CompiledFilter{schema: s, attrs: map[string][]filterCondition{}}, nil
	case Filter:
		return s.compileMap(f)
	case map[string]any:
		return s.compileMap(f)
	default:
		return nil, &PlanError{Reason: fmt.Sprintf("unsupported filter type %T", filter)}
	}
}

func (s *Schema) compileMap(raw map[string]any) (*CompiledFilter, error) {
	compiled := &CompiledFilter{
		schema: s,
		attrs:  make(map[string][]filterCondition, len(raw)),
	}

	for rawName, value := range raw {
		name, suffix, hasOp := strings.Cut(rawName, "__")
		if name == "" {
			return nil, &PlanError{Reason: fmt.Sprintf("filter key %q has no attribute name", rawName)}
		}

		var op Operator
		switch {
		case hasOp:
			op = normalizeOperator(suffix)
		case isSliceValue(value):
			op = OpIsIn
		default:
			op = OpEq
		}

		conds, err := normalizeConditions(op, value)
		if err != nil {
			return nil, err
		}
		compiled.attrs[name] = append(compiled.attrs[name], conds...)
	}

	compiled.names = make([]string, 0, len(compiled.attrs))
	for name := range compiled.attrs {
		compiled.names = append(compiled.names, name)
	}
	sort.Strings(compiled.names)

	return compiled, nil
}

// normalizeConditions shapes a raw value for its operator. between keeps
// exactly two bounds as one condition; is_in keeps its value list as one
// condition; every other operator expands slice values into one
// condition per element.
func normalizeConditions(op Operator, value any) ([]filterCondition, error) {
	switch op {
	case OpBetween:
		bounds := expandValues(value)
		if len(bounds) != 2 {
			return nil, &PlanError{Reason: fmt.Sprintf(
				"between operator requires exactly two values, got %d", len(bounds),
			)}
		}
		return []filterCondition{{op: op, value: bounds}}, nil
	case OpIsIn:
		return []filterCondition{{op: op, value: value}}, nil
	default:
		values := expandValues(value)
		conds := make([]filterCondition, len(values))
		for i, v := range values {
			conds[i] = filterCondition{op: op, value: v}
		}
		return conds, nil
	}
}

// Empty reports whether the filter has no conditions at all.
func (f *CompiledFilter) Empty() bool { return len(f.attrs) == 0 }

// ContainsOnlyKeyAttributes reports whether every filtered attribute is
// the partition key, the sort key, or the identity attribute, and at
// least one of them is present.
func (f *CompiledFilter) ContainsOnlyKeyAttributes() bool {
	if len(f.attrs) == 0 {
		return false
	}
	keyNames := f.schema.keyAttributeNames()
	for name := range f.attrs {
		if !keyNames[name] {
			return false
		}
	}
	return true
}

// Keys derives the set of concrete keys implied by the filter. The
// result is memoized; keys are deduplicated by identity string.
func (f *CompiledFilter) Keys() ([]Key, error) {
	f.keysOnce.Do(func() {
		f.keys, f.keysErr = f.deriveKeys()
	})
	return f.keys, f.keysErr
}

func (f *CompiledFilter) deriveKeys() ([]Key, error) {
	var (
		schema = f.schema
		keys   []Key
	)

	hashValues, err := f.hashValues()
	if err != nil {
		return nil, err
	}

	var rangeName string
	if schema.RangeKey != nil {
		rangeName = schema.RangeKey.Name
	}
	rangeConds := f.attrs[rangeName]

	switch {
	case len(hashValues) > 0 && len(rangeConds) > 0:
		// Cross product of partition and sort values.
		entries, err := rangeEntries(rangeName, rangeConds)
		if err != nil {
			return nil, err
		}
		for _, hv := range hashValues {
			for _, entry := range entries {
				key := Key{
					HashValue:     hv,
					RangeValue:    entry.value,
					RangeOperator: entry.op,
					schema:        schema,
				}
				id, err := key.buildID()
				if err != nil {
					return nil, err
				}
				key.id = id
				keys = append(keys, key)
			}
		}
	case len(hashValues) > 0:
		// Partition-only page keys: one per value, covering every sort
		// value under the partition.
		for _, hv := range hashValues {
			key, err := schema.PageKey(hv)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
	}

	// An explicit identity attribute contributes full keys of its own.
	if schema.IDAttribute != "" && schema.IDAttribute != schema.HashKey.Name && schema.IDAttribute != rangeName {
		for _, cond := range f.attrs[schema.IDAttribute] {
			if !operatorIn(cond.op, hashOperators) {
				return nil, &OperatorError{
					Attribute: schema.IDAttribute,
					Operator:  cond.op,
					Valid:     hashOperators,
				}
			}
			for _, v := range expandValues(cond.value) {
				key, err := schema.KeyFromID(fmt.Sprint(v))
				if err != nil {
					return nil, err
				}
				keys = append(keys, key)
			}
		}
	}

	return dedupKeys(keys), nil
}

// hashValues collects the partition key values named by the filter.
// Only equality style operators make sense on the partition key.
func (f *CompiledFilter) hashValues() ([]any, error) {
	name := f.schema.HashKey.Name
	conds := f.attrs[name]
	var values []any
	for _, cond := range conds {
		if !operatorIn(cond.op, hashOperators) {
			return nil, &OperatorError{Attribute: name, Operator: cond.op, Valid: hashOperators}
		}
		values = append(values, expandValues(cond.value)...)
	}
	return values, nil
}

type rangeEntry struct {
	op    Operator
	value any
}

// rangeEntries flattens sort key conditions into per-key entries.
// is_in collapses to one equality entry per value, since each derived
// key represents a single comparison.
func rangeEntries(name string, conds []filterCondition) ([]rangeEntry, error) {
	var entries []rangeEntry
	for _, cond := range conds {
		switch {
		case cond.op == OpBetween:
			entries = append(entries, rangeEntry{op: OpBetween, value: cond.value})
		case cond.op == OpIsIn:
			for _, v := range expandValues(cond.value) {
				entries = append(entries, rangeEntry{op: OpEq, value: v})
			}
		case operatorIn(cond.op, sortOperators):
			entries = append(entries, rangeEntry{op: cond.op, value: cond.value})
		default:
			return nil, &OperatorError{Attribute: name, Operator: cond.op, Valid: sortOperators}
		}
	}
	return entries, nil
}

// filterConditions builds the filter expression from the compiled
// conditions. Queries exclude key attributes, which belong in the key
// condition; scans keep them. The virtual identity attribute never
// appears in an expression. Returns false when nothing applies.
func (f *CompiledFilter) filterConditions(excludeKeys bool) (expression.ConditionBuilder, bool, error) {
	var (
		schema   = f.schema
		keyNames = schema.keyAttributeNames()
		cond     expression.ConditionBuilder
		have     bool
	)

	virtualID := schema.IDAttribute
	if virtualID == schema.HashKey.Name || (schema.RangeKey != nil && virtualID == schema.RangeKey.Name) {
		virtualID = ""
	}

	for _, name := range f.names {
		if name == virtualID {
			continue
		}
		if excludeKeys && keyNames[name] {
			continue
		}
		for _, c := range f.attrs[name] {
			built, err := attributeCondition(name, c.op, c.value)
			if err != nil {
				return expression.ConditionBuilder{}, false, err
			}
			if !have {
				cond, have = built, true
			} else {
				cond = cond.And(built)
			}
		}
	}
	return cond, have, nil
}

// keyCondition builds the key condition expression for one derived key.
func (f *CompiledFilter) keyCondition(key Key) (expression.KeyConditionBuilder, error) {
	schema := f.schema
	condition := expression.Key(schema.HashKey.Name).Equal(expression.Value(key.HashValue))
	if key.PageOnly || schema.RangeKey == nil {
		return condition, nil
	}
	sortCondition, err := sortKeyCondition(schema.RangeKey.Name, key.RangeOperator, key.RangeValue)
	if err != nil {
		return expression.KeyConditionBuilder{}, err
	}
	return condition.And(sortCondition), nil
}

// isSliceValue reports whether the value is a list for the purposes of
// operator defaulting. Byte slices count as scalars.
func isSliceValue(value any) bool {
	if value == nil {
		return false
	}
	if _, ok := value.([]byte); ok {
		return false
	}
	kind := reflect.ValueOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
