package dynaplan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrItemNotFound is returned when a point lookup matches no item.
var ErrItemNotFound = errors.New("item not found")

// ErrUnbalancedBatch is returned when a batch scope is closed more times
// than it was opened.
var ErrUnbalancedBatch = errors.New("batch scope closed without matching open")

// SchemaError reports an invalid primary key declaration on a record type.
// It is raised lazily, on first use of the affected table's schema.
type SchemaError struct {
	Type   string // record type name
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid schema for %s: %s", e.Type, e.Reason)
}

// KeyError reports a missing or malformed primary key component.
type KeyError struct {
	Attribute string
	Reason    string
}

func (e *KeyError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("invalid key: %s", e.Reason)
	}
	return fmt.Sprintf("invalid key attribute %q: %s", e.Attribute, e.Reason)
}

// PlanError reports a filter that cannot be turned into an executable
// read plan.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("cannot plan query: %s", e.Reason)
}

// OperatorError reports an operator that is not valid for the role of the
// attribute it was applied to. Valid lists the operators accepted for
// that role.
type OperatorError struct {
	Attribute string
	Operator  Operator
	Valid     []Operator
}

func (e *OperatorError) Error() string {
	names := make([]string, len(e.Valid))
	for i, op := range e.Valid {
		names[i] = string(op)
	}
	return fmt.Sprintf(
		"operator %q is not supported for attribute %q; valid operators are: %s",
		e.Operator, e.Attribute, strings.Join(names, ", "),
	)
}
