// Package filters implements typed filter predicates bound to columns.
//
// Filters hold only column IDs. The Catalog resolves them against the column
// registry when needed.
package filters

import (
	"github.com/leapstack-labs/datamanager/internal/columns"
)

// ValueType is the shape an operator expects its value in.
type ValueType string

// Value shapes.
const (
	ValueSingle ValueType = "single"
	ValueRange  ValueType = "range"
	ValueList   ValueType = "list"
)

// Family groups column types that share an operator set.
type Family string

// Operator families.
const (
	FamilyString  Family = "String"
	FamilyNumber  Family = "Number"
	FamilyBoolean Family = "Boolean"
	FamilyDate    Family = "Datetime"
	FamilyList    Family = "List"
)

// FamilyOf maps a column type to its operator family.
func FamilyOf(t columns.Type) Family {
	switch t {
	case columns.TypeNumber:
		return FamilyNumber
	case columns.TypeBoolean:
		return FamilyBoolean
	case columns.TypeDatetime:
		return FamilyDate
	case columns.TypeList:
		return FamilyList
	default:
		return FamilyString
	}
}

// Operator is one predicate a filter can apply.
type Operator struct {
	Key       string
	Label     string
	ValueType ValueType
}

// DefaultValue is the blank value a freshly selected operator starts with.
func (o Operator) DefaultValue() Value {
	switch o.ValueType {
	case ValueRange:
		return Value{Type: ValueRange}
	case ValueList:
		return Value{Type: ValueList, List: []any{}}
	default:
		return Value{Type: ValueSingle}
	}
}

// Operator keys.
const (
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpRegex          = "regex"
	OpSimilarTo      = "similar_to"
	OpEqual          = "equal"
	OpNotEqual       = "not_equal"
	OpLess           = "less"
	OpGreater        = "greater"
	OpLessOrEqual    = "less_or_equal"
	OpGreaterOrEqual = "greater_or_equal"
	OpIn             = "in"
	OpNotIn          = "not_in"
	OpEmpty          = "empty"
)

// emptyOperator is shared by every family.
var emptyOperator = Operator{Key: OpEmpty, Label: "is empty", ValueType: ValueSingle}

var operatorSets = map[Family][]Operator{
	FamilyString: {
		{Key: OpContains, Label: "contains", ValueType: ValueSingle},
		{Key: OpNotContains, Label: "not contains", ValueType: ValueSingle},
		{Key: OpRegex, Label: "regex", ValueType: ValueSingle},
		{Key: OpEqual, Label: "equal", ValueType: ValueSingle},
		{Key: OpNotEqual, Label: "not equal", ValueType: ValueSingle},
		{Key: OpSimilarTo, Label: "similar to", ValueType: ValueSingle},
	},
	FamilyNumber: {
		{Key: OpEqual, Label: "=", ValueType: ValueSingle},
		{Key: OpNotEqual, Label: "≠", ValueType: ValueSingle},
		{Key: OpLess, Label: "<", ValueType: ValueSingle},
		{Key: OpGreater, Label: ">", ValueType: ValueSingle},
		{Key: OpLessOrEqual, Label: "≤", ValueType: ValueSingle},
		{Key: OpGreaterOrEqual, Label: "≥", ValueType: ValueSingle},
		{Key: OpIn, Label: "is between", ValueType: ValueRange},
		{Key: OpNotIn, Label: "not between", ValueType: ValueRange},
	},
	FamilyBoolean: {
		{Key: OpEqual, Label: "is", ValueType: ValueSingle},
	},
	FamilyDate: {
		{Key: OpLess, Label: "is before", ValueType: ValueSingle},
		{Key: OpGreater, Label: "is after", ValueType: ValueSingle},
		{Key: OpIn, Label: "is between", ValueType: ValueRange},
		{Key: OpNotIn, Label: "not between", ValueType: ValueRange},
	},
	FamilyList: {
		{Key: OpContains, Label: "contains", ValueType: ValueList},
		{Key: OpNotContains, Label: "not contains", ValueType: ValueList},
	},
}

// Exclusions hides operators per deployment context: context → operator keys.
type Exclusions map[string][]string

// hidden reports whether op is excluded in ctx.
func (e Exclusions) hidden(ctx, op string) bool {
	for _, k := range e[ctx] {
		if k == op {
			return true
		}
	}
	return false
}

// OperatorsFor returns the operators of a family visible in ctx, with the
// shared "is empty" operator last.
func OperatorsFor(f Family, excl Exclusions, ctx string) []Operator {
	set := operatorSets[f]
	out := make([]Operator, 0, len(set)+1)
	for _, op := range set {
		if !excl.hidden(ctx, op.Key) {
			out = append(out, op)
		}
	}
	if !excl.hidden(ctx, OpEmpty) {
		out = append(out, emptyOperator)
	}
	return out
}
