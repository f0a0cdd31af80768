package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

// rawRule is the loosely-typed JSON shape stored alongside campaign sets.
// Conditions may sit at the top level or inside conditionGroup.
type rawRule struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Enabled        *bool          `json:"enabled"`
	Priority       int            `json:"priority"`
	Logic          string         `json:"logic"`
	Conditions     []rawCondition `json:"conditions"`
	ConditionGroup *struct {
		Logic      string         `json:"logic"`
		Conditions []rawCondition `json:"conditions"`
	} `json:"conditionGroup"`
	Actions []rawAction `json:"actions"`
}

type rawCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type rawAction struct {
	Type  string `json:"type"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Parse validates one JSON rule definition.
func Parse(data []byte) (Definition, error) { return ParseWithID(data, "") }

// ParseWithID is Parse for stores that key rules externally: id is used when
// the document carries none.
func ParseWithID(data []byte, id string) (Definition, error) {
	var raw rawRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return Definition{}, fmt.Errorf("decode rule: %w", err)
	}
	if raw.ID == "" {
		raw.ID = id
	}
	return raw.validate()
}

func (r rawRule) validate() (Definition, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Definition{}, fmt.Errorf("rule id is required")
	}
	d := Definition{
		ID:       r.ID,
		Name:     r.Name,
		Enabled:  r.Enabled == nil || *r.Enabled,
		Priority: r.Priority,
	}

	logic, conds := r.Logic, r.Conditions
	if r.ConditionGroup != nil {
		logic, conds = r.ConditionGroup.Logic, r.ConditionGroup.Conditions
	}
	switch Logic(strings.ToUpper(strings.TrimSpace(logic))) {
	case "", And:
		d.Logic = And
	case Or:
		d.Logic = Or
	default:
		return Definition{}, fmt.Errorf("rule %s: unknown logic %q", r.ID, logic)
	}

	for i, rc := range conds {
		c, err := rc.validate()
		if err != nil {
			return Definition{}, fmt.Errorf("rule %s: condition %d: %w", r.ID, i, err)
		}
		d.Conditions = append(d.Conditions, c)
	}

	if len(r.Actions) == 0 {
		return Definition{}, fmt.Errorf("rule %s: at least one action is required", r.ID)
	}
	for i, ra := range r.Actions {
		a, err := ra.validate()
		if err != nil {
			return Definition{}, fmt.Errorf("rule %s: action %d: %w", r.ID, i, err)
		}
		d.Actions = append(d.Actions, a)
	}
	return d, nil
}

func (rc rawCondition) validate() (Condition, error) {
	if rc.Field == "" {
		return Condition{}, fmt.Errorf("field is required")
	}
	c := Condition{
		Field:    rc.Field,
		Operator: Operator(strings.ToLower(strings.TrimSpace(rc.Operator))),
		Value:    rc.Value,
		str:      variables.Stringify(rc.Value),
	}
	c.num, c.isNum = toFloat(c.str)

	switch c.Operator {
	case Equals, NotEquals, Contains, NotContains, StartsWith, EndsWith, IsEmpty, IsNotEmpty:
	case GreaterThan, LessThan, GreaterThanOrEqual, LessThanOrEqual:
		if !c.isNum {
			return Condition{}, fmt.Errorf("operator %s needs a numeric value, got %q", c.Operator, c.str)
		}
	case Regex:
		re, err := regexp.Compile(c.str)
		if err != nil {
			return Condition{}, fmt.Errorf("invalid regex %q: %w", c.str, err)
		}
		c.re = re
	case In, NotIn:
		c.set = toSet(rc.Value)
	default:
		return Condition{}, fmt.Errorf("unknown operator %q", rc.Operator)
	}
	return c, nil
}

func (ra rawAction) validate() (Action, error) {
	switch ActionType(strings.ToLower(strings.TrimSpace(ra.Type))) {
	case ActionSkip:
		return Action{Type: ActionSkip}, nil
	case ActionSetField:
		if ra.Field == "" {
			return Action{}, fmt.Errorf("set_field requires a field")
		}
		return Action{Type: ActionSetField, Field: ra.Field, Value: ra.Value}, nil
	default:
		return Action{}, fmt.Errorf("unknown action type %q", ra.Type)
	}
}

// toSet accepts a JSON list or a comma separated string.
func toSet(v any) map[string]struct{} {
	set := map[string]struct{}{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			set[variables.Stringify(item)] = struct{}{}
		}
	case []string:
		for _, item := range t {
			set[item] = struct{}{}
		}
	default:
		for _, item := range strings.Split(variables.Stringify(v), ",") {
			set[strings.TrimSpace(item)] = struct{}{}
		}
	}
	return set
}

func toFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
