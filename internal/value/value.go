// Package value is the JSON tree the override engine mutates.
//
// A Value is a plain Go any holding one of:
//
//	nil, bool, json.Number, int64, float64, string, []any, *Object
//
// Numbers decoded from JSON text stay json.Number so large seeds survive a
// decode/encode cycle without float rounding. Objects keep insertion order,
// which the engine depends on when it scans a graph "in stored order".
package value

import (
	"encoding/json"
	"math"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is a JSON object that remembers key insertion order.
type Object = orderedmap.OrderedMap[string, any]

// NewObject returns an empty Object.
func NewObject() *Object {
	return orderedmap.New[string, any]()
}

// AsObject reports whether v is an Object.
func AsObject(v any) (*Object, bool) {
	o, ok := v.(*Object)
	return o, ok && o != nil
}

// AsString reports whether v is a string.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Keys returns the keys of o in stored order.
func Keys(o *Object) []string {
	keys := make([]string, 0, o.Len())
	for p := o.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case *Object:
		if t == nil {
			return t
		}
		out := NewObject()
		for p := t.Oldest(); p != nil; p = p.Next() {
			out.Set(p.Key, Clone(p.Value))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Clone(t[i])
		}
		return out
	default:
		return v
	}
}

// IsNumber reports whether v holds one of the numeric representations.
func IsNumber(v any) bool {
	switch v.(type) {
	case json.Number, int64, float64, int:
		return true
	}
	return false
}

// NumberString renders a numeric value the way it would appear as an id.
// Integral floats drop their fraction so 6.0 and 6 name the same node.
func NumberString(v any) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return n.String(), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case int:
		return strconv.Itoa(n), true
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return "", false
		}
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return strconv.FormatInt(int64(n), 10), true
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	return "", false
}

// AsLink interprets v as a node link [source, slot]. The source may be a
// string id or a number, which is stringified. A link has exactly two
// elements and a numeric slot; anything else is not a link.
func AsLink(v any) (source string, slot any, ok bool) {
	arr, isArr := v.([]any)
	if !isArr || len(arr) != 2 {
		return "", nil, false
	}
	if !IsNumber(arr[1]) {
		return "", nil, false
	}
	switch src := arr[0].(type) {
	case string:
		return src, arr[1], true
	default:
		if s, isNum := NumberString(src); isNum {
			return s, arr[1], true
		}
	}
	return "", nil, false
}
