package rules

import "regexp"

type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

type Operator string

const (
	Equals             Operator = "equals"
	NotEquals          Operator = "not_equals"
	Contains           Operator = "contains"
	NotContains        Operator = "not_contains"
	StartsWith         Operator = "starts_with"
	EndsWith           Operator = "ends_with"
	GreaterThan        Operator = "greater_than"
	LessThan           Operator = "less_than"
	GreaterThanOrEqual Operator = "greater_than_or_equal"
	LessThanOrEqual    Operator = "less_than_or_equal"
	IsEmpty            Operator = "is_empty"
	IsNotEmpty         Operator = "is_not_empty"
	Regex              Operator = "regex"
	In                 Operator = "in"
	NotIn              Operator = "not_in"
)

type ActionType string

const (
	ActionSkip     ActionType = "skip"
	ActionSetField ActionType = "set_field"
)

// Condition is a validated `{field, operator, value}` triple. Operand forms
// needed by the operator are precomputed at ingestion.
type Condition struct {
	Field    string
	Operator Operator
	Value    any

	str   string
	num   float64
	isNum bool
	set   map[string]struct{}
	re    *regexp.Regexp
}

// Action is either a skip or a set_field.
type Action struct {
	Type  ActionType
	Field string // set_field only
	Value any    // set_field only
}

// Definition is a validated rule.
type Definition struct {
	ID         string
	Name       string
	Enabled    bool
	Priority   int
	Logic      Logic
	Conditions []Condition
	Actions    []Action
}
