package agents

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// Outputs survive a JSON round trip through the execution store, so numbers
// may come back as float64, json.Number or strings.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case decimal.Decimal:
		f, _ := n.Float64()
		return f, true
	default:
		return 0, false
	}
}

func numberOr(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		if f, ok := number(v); ok {
			return f
		}
	}
	return def
}

func stringOr(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

// findInput returns the first predecessor output, by node id order, holding key.
func findInput(inputs map[string]map[string]any, key string) (map[string]any, bool) {
	ids := make([]string, 0, len(inputs))
	for id := range inputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := inputs[id][key]; ok {
			return inputs[id], true
		}
	}
	return nil, false
}
