// Package limits holds the per-platform character limits for ad fields and
// the fallback strategies applied when a generated value overflows them.
package limits

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Strategy decides what happens to a value longer than its limit.
type Strategy string

const (
	Truncate     Strategy = "truncate"
	TruncateWord Strategy = "truncate_word"
	Error        Strategy = "error"
)

// ParseStrategy validates a configured strategy. Empty means Truncate and
// "skip" is accepted as an alias for Error.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Truncate:
		return Truncate, nil
	case TruncateWord:
		return TruncateWord, nil
	case Error, "skip":
		return Error, nil
	default:
		return "", fmt.Errorf("unknown fallback strategy %q", s)
	}
}

// Table maps platform -> field -> max length. Platforms may alias a generic
// field name onto their own (reddit calls the headline "title").
type Table struct {
	limits  map[string]map[string]int
	aliases map[string]map[string]string
}

var defaultLimits = map[string]map[string]int{
	"google":   {"headline": 30, "description": 90},
	"facebook": {"headline": 40, "description": 125},
	"reddit":   {"title": 300, "description": 500},
	"linkedin": {"headline": 70, "description": 150},
	"tiktok":   {"description": 100},
}

var defaultAliases = map[string]map[string]string{
	"reddit": {"headline": "title"},
}

// Default returns a copy of the built-in table.
func Default() *Table {
	t := &Table{limits: map[string]map[string]int{}, aliases: map[string]map[string]string{}}
	t.merge(defaultLimits, defaultAliases)
	return t
}

func (t *Table) merge(lim map[string]map[string]int, al map[string]map[string]string) {
	for p, fields := range lim {
		p = normalize(p)
		if t.limits[p] == nil {
			t.limits[p] = map[string]int{}
		}
		for f, n := range fields {
			t.limits[p][f] = n
		}
	}
	for p, fields := range al {
		p = normalize(p)
		if t.aliases[p] == nil {
			t.aliases[p] = map[string]string{}
		}
		for from, to := range fields {
			t.aliases[p][from] = to
		}
	}
}

func (t *Table) clone() *Table {
	c := &Table{limits: map[string]map[string]int{}, aliases: map[string]map[string]string{}}
	c.merge(t.limits, t.aliases)
	return c
}

func normalize(platform string) string { return strings.ToLower(strings.TrimSpace(platform)) }

// Limit returns the max length for field on platform. ok=false means the
// field is unbounded there, which is not an error.
func (t *Table) Limit(platform, field string) (max int, ok bool) {
	p := normalize(platform)
	if alias, found := t.aliases[p][field]; found {
		field = alias
	}
	max, ok = t.limits[p][field]
	return max, ok
}

// Platforms lists the platforms with at least one limit.
func (t *Table) Platforms() []string {
	out := make([]string, 0, len(t.limits))
	for p := range t.limits {
		out = append(out, p)
	}
	return out
}

// Length counts code points, which is how platforms count characters.
func Length(s string) int { return utf8.RuneCountInString(s) }

// Outcome describes one field checked against its limit.
type Outcome struct {
	Value     string // value to use (possibly truncated)
	Original  string
	Length    int // length of Original
	Limit     int // 0 when unbounded
	Overflow  int // Length - Limit when over, else 0
	Truncated bool
	Rejected  bool // strategy Error and over the limit
}

// Resolve checks value against the platform limit for field and applies s.
func (t *Table) Resolve(platform, field, value string, s Strategy) Outcome {
	out := Outcome{Value: value, Original: value, Length: Length(value)}
	max, ok := t.Limit(platform, field)
	if !ok {
		return out
	}
	out.Limit = max
	if out.Length <= max {
		return out
	}
	out.Overflow = out.Length - max
	switch s {
	case Error:
		out.Rejected = true
	case TruncateWord:
		out.Value, out.Truncated = TruncateAtWord(value, max), true
	default:
		out.Value, out.Truncated = TruncateHard(value, max), true
	}
	return out
}

// TruncateHard cuts s to at most max code points.
func TruncateHard(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// TruncateAtWord cuts s at the last whitespace boundary that keeps it within
// max code points. Without any boundary it falls back to a hard cut.
func TruncateAtWord(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	if unicode.IsSpace(r[max]) {
		return strings.TrimRightFunc(string(r[:max]), unicode.IsSpace)
	}
	cut := -1
	for i := max - 1; i > 0; i-- {
		if unicode.IsSpace(r[i]) {
			cut = i
			break
		}
	}
	if cut <= 0 {
		return string(r[:max])
	}
	out := strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace)
	if out == "" {
		return string(r[:max])
	}
	return out
}
