package variables

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type filterFunc func(in string, f FilterCall) (string, error)

var errNotNumeric = errors.New("not numeric")

// filters is the registry consulted by the parser. Casers and transformers
// are stateful, so each call builds its own.
var filters = map[string]filterFunc{
	"uppercase": func(in string, _ FilterCall) (string, error) { return strings.ToUpper(in), nil },
	"lowercase": func(in string, _ FilterCall) (string, error) { return strings.ToLower(in), nil },
	"trim":      func(in string, _ FilterCall) (string, error) { return strings.TrimSpace(in), nil },
	"capitalize": func(in string, _ FilterCall) (string, error) {
		r, size := utf8.DecodeRuneInString(in)
		if size == 0 {
			return in, nil
		}
		return string(unicode.ToUpper(r)) + in[size:], nil
	},
	"titlecase": func(in string, _ FilterCall) (string, error) {
		return cases.Title(language.English).String(in), nil
	},
	"slug":     slugFilter,
	"truncate": truncateFilter,
	"currency": currencyFilter,
	"number":   numberFilter,
}

// FilterNames lists the registered filters in sorted order.
func FilterNames() []string {
	out := make([]string, 0, len(filters))
	for name := range filters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// applyFilter runs one filter; a failing filter yields its input unchanged.
func applyFilter(call FilterCall, in string) string {
	fn, ok := filters[call.Name]
	if !ok {
		return in
	}
	out, err := fn(in, call)
	if err != nil {
		return in
	}
	return out
}

func slugFilter(in string, _ FilterCall) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, in)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-"), nil
}

func truncateFilter(in string, f FilterCall) (string, error) {
	if !f.HasArg {
		return "", errors.New("truncate requires a length")
	}
	n, err := strconv.Atoi(strings.TrimSpace(f.Arg))
	if err != nil || n < 0 {
		return "", fmt.Errorf("invalid truncate length %q", f.Arg)
	}
	if utf8.RuneCountInString(in) <= n {
		return in, nil
	}
	return string([]rune(in)[:n]), nil
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"INR": "₹",
	"CAD": "CA$",
	"AUD": "A$",
}

func currencyFilter(in string, f FilterCall) (string, error) {
	amount, err := parseNumber(in)
	if err != nil {
		return "", err
	}
	code := "USD"
	if f.HasArg && strings.TrimSpace(f.Arg) != "" {
		code = strings.ToUpper(strings.TrimSpace(f.Arg))
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", err
	}
	scale, _ := currency.Standard.Rounding(unit)
	symbol, ok := currencySymbols[unit.String()]
	if !ok {
		symbol = unit.String() + " "
	}
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return sign + symbol + formatDecimal(amount, scale), nil
}

func numberFilter(in string, f FilterCall) (string, error) {
	v, err := parseNumber(in)
	if err != nil {
		return "", err
	}
	scale := 0
	if f.HasArg {
		if scale, err = strconv.Atoi(strings.TrimSpace(f.Arg)); err != nil || scale < 0 {
			return "", fmt.Errorf("invalid decimals %q", f.Arg)
		}
	}
	return formatDecimal(v, scale), nil
}

func formatDecimal(v float64, scale int) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%v", number.Decimal(v, number.Scale(scale)))
}

func parseNumber(in string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(in), ",", "")
	if s == "" {
		return 0, errNotNumeric
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errNotNumeric
	}
	return v, nil
}
