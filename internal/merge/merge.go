// Package merge applies extracted field values onto an entity's existing
// attributes under an explicit overwrite policy.
package merge

import (
	"fmt"
	"reflect"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/schema"
)

// Strategy controls how incoming values interact with existing ones.
type Strategy string

const (
	// FillIfEmpty writes a field only when the entity has no value for it.
	// This is the default: enrichment supplements analyst-entered data,
	// it never silently replaces it.
	FillIfEmpty Strategy = "fill-if-empty"
	// Force overwrites existing values with incoming ones.
	Force Strategy = "force"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == FillIfEmpty || s == Force
}

// Result describes what a merge would change. Updates holds only the fields
// that actually change; ChangedFields lists them in schema order.
type Result struct {
	Updates       map[string]any
	ChangedFields []string
}

// Apply merges incoming extracted values onto the entity's fields per the
// strategy, restricted to the descriptor's schema. The entity itself is not
// modified; callers persist Updates.
func Apply(entity *model.Entity, desc *schema.TypeDescriptor, incoming map[string]any, strategy Strategy) Result {
	res := Result{Updates: make(map[string]any)}

	for _, f := range desc.Fields {
		value, ok := incoming[f.Name]
		if !ok || isEmpty(value) {
			continue
		}

		current := entity.Fields[f.Name]
		if strategy == FillIfEmpty && !isEmpty(current) {
			continue
		}
		if equalValue(current, value) {
			continue
		}

		res.Updates[f.Name] = value
		res.ChangedFields = append(res.ChangedFields, f.Name)
	}

	return res
}

// isEmpty reports whether a field value counts as absent: nil, blank string,
// or a zero-length slice or map.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// equalValue compares a current and incoming value. JSON round-tripping
// leaves everything as strings, []any, and map[string]any, so a deep
// comparison on normalized forms is sufficient.
func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
