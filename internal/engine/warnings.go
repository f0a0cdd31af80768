package engine

import "github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"

const (
	WarningMissingVariable = variables.WarningMissingVariable
	WarningEmptyValue      = variables.WarningEmptyValue
	WarningRuleNotFound    = "rule_not_found"
	WarningNoData          = "no_data"
)

// Warning is a non-fatal diagnostic. Identical warnings are merged: Count
// says how many times it occurred and RowIndex points at the first row.
type Warning struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Variable string `json:"variable,omitempty"`
	RuleID   string `json:"ruleId,omitempty"`
	RowIndex *int   `json:"rowIndex,omitempty"`
	Count    int    `json:"count"`
}

// warningSet aggregates warnings in first-seen order.
type warningSet struct {
	order []*Warning
	index map[string]*Warning
}

func newWarningSet() *warningSet { return &warningSet{index: map[string]*Warning{}} }

func (s *warningSet) add(w Warning) {
	key := w.Type + "\x00" + w.Field + "\x00" + w.Message
	if prev, ok := s.index[key]; ok {
		prev.Count++
		return
	}
	w.Count = 1
	s.order = append(s.order, &w)
	s.index[key] = &w
}

func (s *warningSet) list() []Warning {
	out := make([]Warning, 0, len(s.order))
	for _, w := range s.order {
		out = append(out, *w)
	}
	return out
}
