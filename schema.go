package dynaplan

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// DefaultDelimiter separates the partition and sort components of an
	// identity string.
	DefaultDelimiter = "|"

	// DefaultIDAttribute is the virtual attribute name under which a full
	// identity string may appear in filters.
	DefaultIDAttribute = "id"

	// KeyTag is the struct tag declaring a field's primary key role.
	// Valid values are "hash" and "range". The wire attribute name is
	// taken from the dynamodbav tag, or the field name if absent.
	KeyTag = "dynaplan"
)

// Namespace qualifies table names for one deployed environment.
type Namespace struct {
	Service     string
	Environment string
}

// TableName composes the fully qualified table name as
// service-environment-name. Empty segments are dropped.
func (n Namespace) TableName(name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.Service, n.Environment, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

// KeyAttribute describes one declared primary key component.
type KeyAttribute struct {
	Name   string // wire attribute name
	Field  string // struct field name
	goType reflect.Type
	index  []int // reflect field index path
}

// Schema describes the primary key layout of a record type.
type Schema struct {
	HashKey     KeyAttribute
	RangeKey    *KeyAttribute // nil when the table has no sort key
	IDAttribute string        // virtual identity attribute, default "id"
	Delimiter   string        // identity string delimiter, default "|"
}

// HasRangeKey reports whether the schema declares a sort key.
func (s *Schema) HasRangeKey() bool { return s.RangeKey != nil }

// keyAttributeNames returns the set of attribute names that address the
// primary key: the hash key, the range key if declared, and the virtual
// identity attribute.
func (s *Schema) keyAttributeNames() map[string]bool {
	names := map[string]bool{
		s.HashKey.Name: true,
		s.IDAttribute:  true,
	}
	if s.RangeKey != nil {
		names[s.RangeKey.Name] = true
	}
	return names
}

// InferSchema builds a Schema from the key tags declared on t. The type
// must declare exactly one hash key field; a range key field is optional
// but at most one may be declared. Embedded structs are searched.
func InferSchema(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &SchemaError{Type: t.String(), Reason: "record type must be a struct"}
	}

	schema := &Schema{
		IDAttribute: DefaultIDAttribute,
		Delimiter:   DefaultDelimiter,
	}

	var haveHash, haveRange bool
	if err := scanKeyFields(t, nil, schema, &haveHash, &haveRange); err != nil {
		return nil, err
	}

	if !haveHash {
		return nil, &SchemaError{Type: t.String(), Reason: "no hash key field declared"}
	}

	return schema, nil
}

func scanKeyFields(t reflect.Type, prefix []int, schema *Schema, haveHash, haveRange *bool) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int{}, prefix...), i)

		if field.Anonymous {
			embedded := field.Type
			for embedded.Kind() == reflect.Pointer {
				embedded = embedded.Elem()
			}
			if embedded.Kind() == reflect.Struct {
				if err := scanKeyFields(embedded, index, schema, haveHash, haveRange); err != nil {
					return err
				}
			}
			continue
		}

		role, ok := field.Tag.Lookup(KeyTag)
		if !ok || role == "" {
			continue
		}

		attr := KeyAttribute{
			Name:   attributeName(field),
			Field:  field.Name,
			goType: field.Type,
			index:  index,
		}

		switch role {
		case "hash":
			if *haveHash {
				return &SchemaError{Type: t.String(), Reason: "multiple hash key fields declared"}
			}
			*haveHash = true
			schema.HashKey = attr
		case "range":
			if *haveRange {
				return &SchemaError{Type: t.String(), Reason: "multiple range key fields declared"}
			}
			*haveRange = true
			schema.RangeKey = &attr
		default:
			return &SchemaError{
				Type:   t.String(),
				Reason: fmt.Sprintf("unknown key role %q on field %s", role, field.Name),
			}
		}
	}
	return nil
}

// attributeName resolves the wire attribute name of a struct field from
// its dynamodbav tag, falling back to the field name.
func attributeName(field reflect.StructField) string {
	tag, ok := field.Tag.Lookup("dynamodbav")
	if !ok {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return field.Name
	}
	return name
}

// AttributeType returns the DynamoDB scalar type of the key component,
// derived from the declared field type.
func (a KeyAttribute) AttributeType() types.ScalarAttributeType {
	if a.goType == nil {
		return types.ScalarAttributeTypeS
	}
	switch a.goType.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return types.ScalarAttributeTypeN
	case reflect.Slice:
		if a.goType.Elem().Kind() == reflect.Uint8 {
			return types.ScalarAttributeTypeB
		}
		return types.ScalarAttributeTypeS
	default:
		return types.ScalarAttributeTypeS
	}
}

// coerceKeyValue converts a string form of a key component back into the
// declared field type. Used when parsing identity strings.
func (a KeyAttribute) coerceKeyValue(s string) (any, error) {
	if a.goType == nil {
		return s, nil
	}
	switch a.goType.Kind() {
	case reflect.String:
		return reflect.ValueOf(s).Convert(a.goType).Interface(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, &KeyError{Attribute: a.Name, Reason: fmt.Sprintf("value %q is not an integer", s)}
		}
		return reflect.ValueOf(n).Convert(a.goType).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, &KeyError{Attribute: a.Name, Reason: fmt.Sprintf("value %q is not an unsigned integer", s)}
		}
		return reflect.ValueOf(n).Convert(a.goType).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &KeyError{Attribute: a.Name, Reason: fmt.Sprintf("value %q is not a number", s)}
		}
		return reflect.ValueOf(f).Convert(a.goType).Interface(), nil
	default:
		return s, nil
	}
}
