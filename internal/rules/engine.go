package rules

import (
	"sort"
	"strings"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

// Engine evaluates an ordered list of enabled rules. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	rules []Definition
}

// NewEngine drops disabled rules and orders the rest by priority ascending,
// keeping the given order for ties.
func NewEngine(defs []Definition) *Engine {
	enabled := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })
	return &Engine{rules: enabled}
}

// Rules returns the enabled rules in evaluation order.
func (e *Engine) Rules() []Definition { return e.rules }

// Outcome is the result of running a row through the engine.
type Outcome struct {
	Row       variables.Row // derived row; same map as the input when nothing was set
	Skipped   bool
	SkippedBy string
	Matched   []string // ids of rules whose conditions matched, in evaluation order
}

// Evaluate runs row through every enabled rule. set_field actions write into
// a copy so the caller's row is never mutated, and later rules see earlier
// writes. The first matching skip ends evaluation.
func (e *Engine) Evaluate(row variables.Row) Outcome {
	out := Outcome{Row: row}
	copied := false
	for _, r := range e.rules {
		if !r.matches(out.Row) {
			continue
		}
		out.Matched = append(out.Matched, r.ID)
		for _, a := range r.Actions {
			switch a.Type {
			case ActionSkip:
				out.Skipped, out.SkippedBy = true, r.ID
				return out
			case ActionSetField:
				if !copied {
					out.Row = out.Row.With(a.Field, a.Value)
					copied = true
					continue
				}
				out.Row[a.Field] = a.Value
			}
		}
	}
	return out
}

func (d Definition) matches(row variables.Row) bool {
	if len(d.Conditions) == 0 {
		return false
	}
	if d.Logic == Or {
		for _, c := range d.Conditions {
			if c.Matches(row) {
				return true
			}
		}
		return false
	}
	for _, c := range d.Conditions {
		if !c.Matches(row) {
			return false
		}
	}
	return true
}

// Matches evaluates the condition. A field absent from the row is undefined:
// every operator is false against it except is_empty.
func (c Condition) Matches(row variables.Row) bool {
	v, ok := row.Lookup(c.Field)
	if !ok {
		return c.Operator == IsEmpty
	}
	switch c.Operator {
	case Equals:
		return v == c.str
	case NotEquals:
		return v != c.str
	case Contains:
		return strings.Contains(v, c.str)
	case NotContains:
		return !strings.Contains(v, c.str)
	case StartsWith:
		return strings.HasPrefix(v, c.str)
	case EndsWith:
		return strings.HasSuffix(v, c.str)
	case IsEmpty:
		return strings.TrimSpace(v) == ""
	case IsNotEmpty:
		return strings.TrimSpace(v) != ""
	case Regex:
		return c.re.MatchString(v)
	case In:
		_, found := c.set[v]
		return found
	case NotIn:
		_, found := c.set[v]
		return !found
	case GreaterThan, LessThan, GreaterThanOrEqual, LessThanOrEqual:
		n, isNum := toFloat(v)
		if !isNum {
			return false
		}
		switch c.Operator {
		case GreaterThan:
			return n > c.num
		case LessThan:
			return n < c.num
		case GreaterThanOrEqual:
			return n >= c.num
		default:
			return n <= c.num
		}
	}
	return false
}
