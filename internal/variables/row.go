package variables

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Row is one input record: column name -> scalar (string, number, bool or nil).
type Row map[string]any

// Lookup returns the string form of a column and whether the column exists.
func (r Row) Lookup(name string) (string, bool) {
	v, ok := r[name]
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// With returns a copy of the row with field set to value. The receiver is untouched.
func (r Row) With(field string, value any) Row {
	out := make(Row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[field] = value
	return out
}

// Stringify renders a scalar the way it is substituted into templates.
// Numbers use the shortest representation, nil renders empty.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
