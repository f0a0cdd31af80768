package variables

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	WarningMissingVariable = "missing_variable"
	WarningEmptyValue      = "empty_value"
)

// Warning is a non-fatal problem found while substituting one template.
type Warning struct {
	Type     string
	Variable string
	Message  string
}

// Result is the outcome of substituting a template against a row.
type Result struct {
	Text     string
	Warnings []Warning
}

// VariableRef is a parsed `{a|b|filter:arg}` token. Names is the fallback
// chain (at least one entry), Filters apply left to right to the value the
// chain resolves to.
type VariableRef struct {
	Names   []string
	Filters []FilterCall
}

// FilterCall is one `name` or `name:arg` segment.
type FilterCall struct {
	Name   string
	Arg    string
	HasArg bool
}

// Node is either a literal run of text or a variable reference.
type Node struct {
	Literal string
	Ref     *VariableRef
}

// Template is a parsed template string. Parsing never fails: malformed
// tokens are kept as literal text.
type Template struct {
	raw   string
	nodes []Node
}

// Parse builds the template AST.
func Parse(src string) *Template {
	t := &Template{raw: src}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.nodes = append(t.nodes, Node{Literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); {
		c := src[i]
		if c != '{' {
			lit.WriteByte(c)
			i++
			continue
		}
		// {{ ... }} spans are not ours; copy through the closing braces.
		if i+1 < len(src) && src[i+1] == '{' {
			end := strings.Index(src[i+2:], "}}")
			if end < 0 {
				lit.WriteString(src[i:])
				break
			}
			stop := i + 2 + end + 2
			lit.WriteString(src[i:stop])
			i = stop
			continue
		}
		end := strings.IndexByte(src[i+1:], '}')
		if end < 0 {
			lit.WriteString(src[i:])
			break
		}
		ref, ok := parseRef(src[i+1 : i+1+end])
		if !ok {
			lit.WriteByte('{')
			i++
			continue
		}
		flush()
		t.nodes = append(t.nodes, Node{Ref: ref})
		i += end + 2
	}
	flush()
	return t
}

// parseRef parses the body of a token. Leading identifiers form the fallback
// chain; once a registered filter name is seen every remaining segment must
// be a filter. The first segment is always a variable name.
func parseRef(body string) (*VariableRef, bool) {
	ref := &VariableRef{}
	for _, seg := range strings.Split(body, "|") {
		name, arg, hasArg := strings.Cut(seg, ":")
		if _, isFilter := filters[name]; isFilter && len(ref.Names) > 0 {
			ref.Filters = append(ref.Filters, FilterCall{Name: name, Arg: arg, HasArg: hasArg})
			continue
		}
		if hasArg || len(ref.Filters) > 0 || !isIdentifier(seg) {
			return nil, false
		}
		ref.Names = append(ref.Names, seg)
	}
	return ref, len(ref.Names) > 0
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Raw returns the source string.
func (t *Template) Raw() string { return t.raw }

// Nodes exposes the parsed AST.
func (t *Template) Nodes() []Node { return t.nodes }

// IsStatic reports whether the template contains no variable references.
func (t *Template) IsStatic() bool {
	for _, n := range t.nodes {
		if n.Ref != nil {
			return false
		}
	}
	return true
}

// Variables returns the referenced variable names, unique, in first-seen order.
func (t *Template) Variables() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, n := range t.nodes {
		if n.Ref == nil {
			continue
		}
		for _, name := range n.Ref.Names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Execute substitutes the template against row.
func (t *Template) Execute(row Row) Result {
	var (
		b   strings.Builder
		res Result
	)
	for _, n := range t.nodes {
		if n.Ref == nil {
			b.WriteString(n.Literal)
			continue
		}
		b.WriteString(resolve(n.Ref, row, &res.Warnings))
	}
	res.Text = b.String()
	return res
}

func resolve(ref *VariableRef, row Row, warnings *[]Warning) string {
	value, found, sawEmpty := "", false, false
	for _, name := range ref.Names {
		v, ok := row.Lookup(name)
		if !ok {
			continue
		}
		if v == "" {
			sawEmpty = true
			*warnings = append(*warnings, Warning{
				Type:     WarningEmptyValue,
				Variable: name,
				Message:  fmt.Sprintf("variable %q is empty", name),
			})
			continue
		}
		value, found = v, true
		break
	}
	if !found && !sawEmpty {
		*warnings = append(*warnings, Warning{
			Type:     WarningMissingVariable,
			Variable: ref.Names[0],
			Message:  fmt.Sprintf("variable %q not found in data row", ref.Names[0]),
		})
	}
	for _, f := range ref.Filters {
		value = applyFilter(f, value)
	}
	return value
}

// Substitute parses and executes template against row in one step.
func Substitute(template string, row Row) Result {
	return Parse(template).Execute(row)
}

// ExtractVariables returns the unique variable names referenced across templates.
func ExtractVariables(templates ...string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, tpl := range templates {
		for _, name := range Parse(tpl).Variables() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Estimate returns the post-substitution length (in code points) of each
// field template without building an ad.
func Estimate(fields map[string]string, row Row) map[string]int {
	out := make(map[string]int, len(fields))
	for field, tpl := range fields {
		out[field] = utf8.RuneCountInString(Substitute(tpl, row).Text)
	}
	return out
}
