package dynaplan

import (
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
)

// Operator is a normalized filter comparison operator.
type Operator string

const (
	OpEq            Operator = "eq"
	OpLt            Operator = "lt"
	OpLte           Operator = "lte"
	OpGt            Operator = "gt"
	OpGte           Operator = "gte"
	OpBeginsWith    Operator = "begins_with"
	OpBetween       Operator = "between"
	OpIsIn          Operator = "is_in"
	OpExists        Operator = "exists"
	OpNotExists     Operator = "not_exists"
	OpContains      Operator = "contains"
	OpSize          Operator = "size"
	OpAttributeType Operator = "attribute_type"
)

// operatorAliases maps accepted operator spellings to canonical names.
var operatorAliases = map[string]Operator{
	"in":    OpIsIn,
	"exact": OpEq,
	"":      OpEq,
}

// hashOperators are the operators accepted on the partition key.
var hashOperators = []Operator{OpEq, OpIsIn}

// sortOperators are the operators accepted on the sort key in a key
// condition. is_in is accepted in filters but collapses to one equality
// per derived key.
var sortOperators = []Operator{OpEq, OpLt, OpLte, OpGt, OpGte, OpBeginsWith, OpBetween}

// attributeOperators is the full operator set accepted on non-key
// attributes.
var attributeOperators = []Operator{
	OpEq, OpLt, OpLte, OpGt, OpGte, OpBeginsWith, OpBetween,
	OpIsIn, OpExists, OpNotExists, OpContains, OpSize, OpAttributeType,
}

// normalizeOperator resolves aliases to a canonical operator name. The
// raw spelling is preserved when unknown; validity is checked per
// attribute role when conditions are built.
func normalizeOperator(raw string) Operator {
	if alias, ok := operatorAliases[raw]; ok {
		return alias
	}
	return Operator(raw)
}

func operatorIn(op Operator, valid []Operator) bool {
	for _, v := range valid {
		if op == v {
			return true
		}
	}
	return false
}

// sortKeyCondition builds a key condition for the sort key of a derived
// key. Only the reduced key operator set is accepted.
func sortKeyCondition(name string, op Operator, value any) (expression.KeyConditionBuilder, error) {
	key := expression.Key(name)
	switch op {
	case OpEq, "":
		return key.Equal(expression.Value(value)), nil
	case OpLt:
		return key.LessThan(expression.Value(value)), nil
	case OpLte:
		return key.LessThanEqual(expression.Value(value)), nil
	case OpGt:
		return key.GreaterThan(expression.Value(value)), nil
	case OpGte:
		return key.GreaterThanEqual(expression.Value(value)), nil
	case OpBeginsWith:
		return key.BeginsWith(fmt.Sprint(value)), nil
	case OpBetween:
		lower, upper, err := betweenBounds(value)
		if err != nil {
			return expression.KeyConditionBuilder{}, err
		}
		return key.Between(expression.Value(lower), expression.Value(upper)), nil
	default:
		return expression.KeyConditionBuilder{}, &OperatorError{
			Attribute: name,
			Operator:  op,
			Valid:     sortOperators,
		}
	}
}

// attributeCondition builds a filter condition for a non-key attribute.
// exists and not_exists invert when the supplied value is falsy.
func attributeCondition(name string, op Operator, value any) (expression.ConditionBuilder, error) {
	attr := expression.Name(name)
	switch op {
	case OpEq:
		return attr.Equal(expression.Value(value)), nil
	case OpLt:
		return attr.LessThan(expression.Value(value)), nil
	case OpLte:
		return attr.LessThanEqual(expression.Value(value)), nil
	case OpGt:
		return attr.GreaterThan(expression.Value(value)), nil
	case OpGte:
		return attr.GreaterThanEqual(expression.Value(value)), nil
	case OpBeginsWith:
		return attr.BeginsWith(fmt.Sprint(value)), nil
	case OpBetween:
		lower, upper, err := betweenBounds(value)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return attr.Between(expression.Value(lower), expression.Value(upper)), nil
	case OpIsIn:
		operands, err := inOperands(name, value)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return attr.In(operands[0], operands[1:]...), nil
	case OpExists:
		if truthy(value) {
			return attr.AttributeExists(), nil
		}
		return attr.AttributeNotExists(), nil
	case OpNotExists:
		if truthy(value) {
			return attr.AttributeNotExists(), nil
		}
		return attr.AttributeExists(), nil
	case OpContains:
		return attr.Contains(fmt.Sprint(value)), nil
	case OpSize:
		return expression.Equal(attr.Size(), expression.Value(value)), nil
	case OpAttributeType:
		return attr.AttributeType(expression.DynamoDBAttributeType(fmt.Sprint(value))), nil
	default:
		return expression.ConditionBuilder{}, &OperatorError{
			Attribute: name,
			Operator:  op,
			Valid:     attributeOperators,
		}
	}
}

// betweenBounds extracts the two bounds of a between comparison from a
// two-element slice value.
func betweenBounds(value any) (lower, upper any, err error) {
	bounds, ok := value.([]any)
	if !ok || len(bounds) != 2 {
		return nil, nil, &PlanError{Reason: "between operator requires exactly two values"}
	}
	return bounds[0], bounds[1], nil
}

// inOperands expands a slice value into expression operands for an In
// condition.
func inOperands(name string, value any) ([]expression.OperandBuilder, error) {
	values := expandValues(value)
	if len(values) == 0 {
		return nil, &OperatorError{Attribute: name, Operator: OpIsIn, Valid: attributeOperators}
	}
	operands := make([]expression.OperandBuilder, len(values))
	for i, v := range values {
		operands[i] = expression.Value(v)
	}
	return operands, nil
}

// expandValues flattens a slice value into its elements; scalar values
// become a single-element slice. Byte slices and strings stay scalar.
func expandValues(value any) []any {
	if value == nil {
		return []any{nil}
	}
	if b, ok := value.([]byte); ok {
		return []any{b}
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{value}
	}
	values := make([]any, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return values
}

// truthy reports whether a value counts as set for the purposes of the
// exists and not_exists operators.
func truthy(value any) bool {
	if value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() != 0
	}
	return true
}
