package transform

import (
	"math"
	"sort"
	"strings"
)

func extractString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

func extractMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key]; ok {
		if mapVal, ok := v.(map[string]any); ok {
			return mapVal
		}
	}
	return map[string]any{}
}

// extractArray reports ok=false when key is absent or not an array.
func extractArray(m map[string]any, key string) ([]any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// asInt accepts JSON numbers with no fractional part that fit in an int.
func asInt(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || val < math.MinInt || val >= -math.MinInt {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	case int64:
		return int(val), true
	default:
		return 0, false
	}
}

// nameAt reads m[key]["name"], the shape PokéAPI uses for named references.
func nameAt(m map[string]any, key string) string {
	return strings.TrimSpace(extractString(extractMap(m, key), "name"))
}

type slotted struct {
	slot int
	name string
}

// slottedNames collects m[i][ref].name ordered by m[i].slot. Entries without
// a usable name are dropped and counted.
func slottedNames(entries []any, ref string) (names []string, dropped int) {
	items := make([]slotted, 0, len(entries))
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			dropped++
			continue
		}
		name := nameAt(entry, ref)
		if name == "" {
			dropped++
			continue
		}
		slot, ok := asInt(entry["slot"])
		if !ok {
			slot = i + 1
		}
		items = append(items, slotted{slot: slot, name: name})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].slot < items[j].slot })

	names = make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.name)
	}
	return names, dropped
}
