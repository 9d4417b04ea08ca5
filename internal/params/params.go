// Package params implements the parameter rules shared by the flow pipeline
// and the webhook client: key normalization, blank filtering, the whitelisted
// merge used to persist connection parameters, and the deep merge used to
// build outgoing webhook bodies.
package params

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/knadh/koanf/maps"
)

// IsBlank reports whether v carries no value: nil, false, an empty or
// whitespace-only string, or an empty slice, array or map. Numbers are never
// blank, zero included.
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case bool:
		return !t
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(t) == 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return IsBlank(rv.Elem().Interface())
	}
	return false
}

// Normalize converts a parameter bag with arbitrary key types into a map
// keyed by strings. Nested maps are normalized as well. A nil or unsupported
// input yields an empty map.
func Normalize(in any) map[string]any {
	out := make(map[string]any)
	switch m := in.(type) {
	case nil:
	case map[string]any:
		for k, v := range m {
			out[k] = normalizeValue(v)
		}
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[any]any:
		for k, v := range m {
			out[keyString(k)] = normalizeValue(v)
		}
	default:
		rv := reflect.ValueOf(in)
		if rv.Kind() != reflect.Map {
			return out
		}
		iter := rv.MapRange()
		for iter.Next() {
			out[keyString(iter.Key().Interface())] = normalizeValue(iter.Value().Interface())
		}
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any, map[any]any, map[string]string:
		return Normalize(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}

func keyString(k any) string {
	switch t := k.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(k)
}

// Compact returns the string-keyed form of in without blank values.
func Compact(in any) map[string]any {
	out := Normalize(in)
	for k, v := range out {
		if IsBlank(v) {
			delete(out, k)
		}
	}
	return out
}

// Merge computes the parameter set to persist for a connection. Requested
// values override persisted ones, but only for keys already present in
// persisted: unknown keys are dropped. The second result reports whether the
// merged set differs from persisted; when it is false the caller must not
// write anything.
func Merge(persisted map[string]any, requested any) (map[string]any, bool) {
	req := Compact(requested)
	if len(req) == 0 || len(persisted) == 0 {
		return persisted, false
	}

	merged := make(map[string]any, len(persisted))
	for k, v := range persisted {
		merged[k] = v
	}

	changed := false
	for k, v := range req {
		current, ok := persisted[k]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(current, v) {
			changed = true
		}
		merged[k] = v
	}

	if !changed {
		return persisted, false
	}
	return merged, true
}

// DeepMerge returns a new map holding base overlaid with override. When both
// sides hold a map under the same key the maps are merged recursively;
// otherwise the override value wins. Neither input is modified.
func DeepMerge(base, override map[string]any) map[string]any {
	out := maps.Copy(base)
	if out == nil {
		out = make(map[string]any)
	}
	maps.Merge(maps.Copy(override), out)
	return out
}
