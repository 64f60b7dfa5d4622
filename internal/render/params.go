package render

import (
	"fmt"
	"strconv"
	"strings"
)

// Param is one entry of a render recipe.
type Param struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Params keeps recipe entries in declaration order. Some tilers are order
// sensitive for expression style parameters, so keys are never sorted.
type Params []Param

// P is shorthand for building a Param in the collection table.
func P(key string, value any) Param {
	return Param{Key: key, Value: value}
}

func (ps Params) Get(key string) (any, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Encode serializes the params as k=v pairs joined by '&'.
func (ps Params) Encode() string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, p.Key+"="+FormatValue(p.Value))
	}
	return strings.Join(parts, "&")
}

// FormatValue renders scalars verbatim and lists comma-joined.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case []string:
		return strings.Join(t, ",")
	case []int:
		return joinList(t)
	case []float64:
		return joinList(t)
	case []any:
		return joinList(t)
	default:
		return fmt.Sprint(t)
	}
}

func joinList[T any](xs []T) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = FormatValue(x)
	}
	return strings.Join(parts, ",")
}
