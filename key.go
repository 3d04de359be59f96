package dynaplan

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key identifies a record by its primary key components. A Key is
// immutable once constructed; equality is defined solely by the identity
// string returned from ID.
type Key struct {
	HashValue  any
	RangeValue any

	// RangeOperator is the comparison applied to RangeValue when the key
	// drives a range query. Zero value means equality. For OpBetween,
	// RangeValue holds a two-element []any.
	RangeOperator Operator

	// PageOnly marks a partition-only key that stands for every record
	// under its partition, even when the schema declares a sort key.
	PageOnly bool

	schema *Schema
	id     string
}

// KeyFromParts constructs a full key from partition and sort values. If
// the schema declares a sort key, rangeValue is required; use PageKey for
// a partition-only key.
func (s *Schema) KeyFromParts(hashValue, rangeValue any) (Key, error) {
	if hashValue == nil {
		return Key{}, &KeyError{Attribute: s.HashKey.Name, Reason: "partition value is required"}
	}
	if s.RangeKey != nil && rangeValue == nil {
		return Key{}, &KeyError{Attribute: s.RangeKey.Name, Reason: "sort value is required"}
	}
	if s.RangeKey == nil && rangeValue != nil {
		return Key{}, &KeyError{Reason: "schema has no sort key but a sort value was supplied"}
	}

	key := Key{
		HashValue:     hashValue,
		RangeValue:    rangeValue,
		RangeOperator: OpEq,
		schema:        s,
	}
	id, err := key.buildID()
	if err != nil {
		return Key{}, err
	}
	key.id = id
	return key, nil
}

// PageKey constructs a partition-only key representing every record under
// the given partition value.
func (s *Schema) PageKey(hashValue any) (Key, error) {
	if hashValue == nil {
		return Key{}, &KeyError{Attribute: s.HashKey.Name, Reason: "partition value is required"}
	}
	key := Key{
		HashValue: hashValue,
		PageOnly:  true,
		schema:    s,
	}
	id, err := key.buildID()
	if err != nil {
		return Key{}, err
	}
	key.id = id
	return key, nil
}

// KeyFromID parses a delimited identity string back into a full key. If
// the schema declares a sort key the string must contain the delimiter
// exactly once; otherwise the whole string is the partition value.
func (s *Schema) KeyFromID(id string) (Key, error) {
	if id == "" {
		return Key{}, &KeyError{Reason: "identity string is empty"}
	}

	if s.RangeKey == nil {
		hash, err := s.HashKey.coerceKeyValue(id)
		if err != nil {
			return Key{}, err
		}
		return s.KeyFromParts(hash, nil)
	}

	if strings.Count(id, s.Delimiter) != 1 {
		return Key{}, &KeyError{Reason: fmt.Sprintf(
			"identity string %q must contain delimiter %q exactly once", id, s.Delimiter,
		)}
	}

	hashPart, rangePart, _ := strings.Cut(id, s.Delimiter)
	hash, err := s.HashKey.coerceKeyValue(hashPart)
	if err != nil {
		return Key{}, err
	}
	rng, err := s.RangeKey.coerceKeyValue(rangePart)
	if err != nil {
		return Key{}, err
	}
	return s.KeyFromParts(hash, rng)
}

// ID returns the canonical identity string for this key: the partition
// value, joined with the sort value by the schema delimiter when present.
func (k Key) ID() string { return k.id }

// Equal reports whether two keys address the same record.
func (k Key) Equal(other Key) bool { return k.id == other.id }

// BatchGettable reports whether the key can participate in a multi-get:
// it must address exactly one record, with an equality sort value when
// the schema declares a sort key.
func (k Key) BatchGettable() bool {
	if k.schema == nil || k.schema.RangeKey == nil {
		return true
	}
	return !k.PageOnly && k.RangeOperator == OpEq
}

// WireKey produces the wire-level key record for a point read, write or
// delete. Partition-only and non-equality keys cannot be addressed as a
// single record.
func (k Key) WireKey() (Item, error) {
	if k.schema == nil {
		return nil, &KeyError{Reason: "key was not constructed from a schema"}
	}
	if k.PageOnly && k.schema.RangeKey != nil {
		return nil, &KeyError{Attribute: k.schema.RangeKey.Name, Reason: "partition-only key cannot address a single record"}
	}
	if k.RangeOperator != OpEq && k.RangeOperator != "" {
		return nil, &KeyError{Reason: fmt.Sprintf("key with %q sort operator cannot address a single record", k.RangeOperator)}
	}

	item := Item{}
	hash, err := attributevalue.Marshal(k.HashValue)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal partition value: %w", err)
	}
	item[k.schema.HashKey.Name] = hash

	if k.schema.RangeKey != nil {
		rng, err := attributevalue.Marshal(k.RangeValue)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sort value: %w", err)
		}
		item[k.schema.RangeKey.Name] = rng
	}

	return item, nil
}

func (k Key) buildID() (string, error) {
	hash, err := keyValueString(k.HashValue)
	if err != nil {
		return "", err
	}
	if k.schema.RangeKey == nil || k.PageOnly {
		return hash, nil
	}

	// Range queries carry operators and possibly value pairs; the derived
	// identity only needs to be stable for dedup.
	if k.RangeOperator != OpEq && k.RangeOperator != "" {
		return hash + k.schema.Delimiter + string(k.RangeOperator) + ":" + fmt.Sprint(k.RangeValue), nil
	}

	rng, err := keyValueString(k.RangeValue)
	if err != nil {
		return "", err
	}
	return hash + k.schema.Delimiter + rng, nil
}

// keyValueString renders a key component the way it appears on the wire,
// so identity strings round-trip through attribute value conversion.
func keyValueString(v any) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal key value: %w", err)
	}
	switch member := av.(type) {
	case *types.AttributeValueMemberS:
		return member.Value, nil
	case *types.AttributeValueMemberN:
		return member.Value, nil
	case *types.AttributeValueMemberB:
		return base64.StdEncoding.EncodeToString(member.Value), nil
	default:
		return "", &KeyError{Reason: fmt.Sprintf("unsupported key value type %T", v)}
	}
}

// dedupKeys removes duplicate keys by identity, preserving first-seen
// order.
func dedupKeys(keys []Key) []Key {
	seen := make(map[string]bool, len(keys))
	result := keys[:0:0]
	for _, key := range keys {
		if seen[key.id] {
			continue
		}
		seen[key.id] = true
		result = append(result, key)
	}
	return result
}
