package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Fields is a decoded entity record: a JSON object keyed by field name.
//
// Values are the types produced by encoding/json with UseNumber enabled:
// string, json.Number, bool, nil, []any and map[string]any. Values built
// in Go code (tests, scenarios) may also use int, int64 and float64; every
// getter accepts those forms.
type Fields map[string]any

// ID returns the record's "id" field, or "" if absent.
func (f Fields) ID() string {
	s, _ := f.String("id")
	return s
}

// Lookup resolves a dotted path ("firstParent.id") through nested objects.
func (f Fields) Lookup(path string) (any, bool) {
	var cur any = map[string]any(f)
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Has reports whether path resolves to a non-null value.
func (f Fields) Has(path string) bool {
	_, ok := f.Lookup(path)
	return ok
}

// String returns the string at path.
func (f Fields) String(path string) (string, bool) {
	v, ok := f.Lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the integer at path. Integral floats are accepted.
func (f Fields) Int(path string) (int64, bool) {
	v, ok := f.Lookup(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if fl, err := n.Float64(); err == nil && fl == math.Trunc(fl) {
			return int64(fl), true
		}
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Float returns the number at path as a float64.
func (f Fields) Float(path string) (float64, bool) {
	v, ok := f.Lookup(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		fl, err := n.Float64()
		return fl, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Bool returns the boolean at path.
func (f Fields) Bool(path string) (bool, bool) {
	v, ok := f.Lookup(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Strings returns the list at path with every string element kept.
// Objects in the list contribute their "id" or, failing that, "name" field,
// matching the childTasks{id} and ancestors{name} selections.
func (f Fields) Strings(path string) []string {
	v, ok := f.Lookup(path)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, elem := range list {
		switch e := elem.(type) {
		case string:
			out = append(out, e)
		default:
			m, ok := asMap(e)
			if !ok {
				continue
			}
			if id, ok := m["id"].(string); ok {
				out = append(out, id)
			} else if name, ok := m["name"].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}

// Object returns the nested object at path.
func (f Fields) Object(path string) (Fields, bool) {
	v, ok := f.Lookup(path)
	if !ok {
		return nil, false
	}
	m, ok := asMap(v)
	return Fields(m), ok
}

// Objects returns the objects of the list at path. Other elements are
// skipped.
func (f Fields) Objects(path string) []Fields {
	v, ok := f.Lookup(path)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Fields, 0, len(list))
	for _, elem := range list {
		if m, ok := asMap(elem); ok {
			out = append(out, Fields(m))
		}
	}
	return out
}

// Merge folds a partial record into f in place.
//
// Nested objects merge recursively, arrays and scalars replace, and null
// values are skipped so omitted or stripped fields keep their prior value.
func (f Fields) Merge(partial Fields) {
	for k, v := range partial {
		if v == nil {
			continue
		}
		if src, ok := asMap(v); ok {
			if dst, ok := asMap(f[k]); ok {
				Fields(dst).Merge(Fields(src))
				f[k] = dst
				continue
			}
		}
		f[k] = cloneValue(v)
	}
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Fields:
		return map[string]any(val.Clone())
	case map[string]any:
		return map[string]any(Fields(val).Clone())
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = elem
		}
		return out
	default:
		return val
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Fields:
		return map[string]any(m), true
	}
	return nil, false
}
