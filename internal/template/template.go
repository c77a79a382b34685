// Package template builds prompts from JSON templates holding
// "{{ key }}" placeholders.
package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/derivata/internal/value"
)

// ErrMissingInput is returned when a placeholder has no matching input.
var ErrMissingInput = errors.New("missing input for placeholder")

// Construct returns a deep copy of tmpl in which every string leaf of the
// exact form "{{key}}" (surrounding spaces inside the braces allowed) is
// replaced by a copy of inputs[key]. Placeholders embedded in longer
// strings are left alone. tmpl is never modified.
func Construct(tmpl any, inputs *value.Object) (any, error) {
	return substitute(value.Clone(tmpl), inputs)
}

// Placeholders lists the keys a template refers to, in document order,
// each once.
func Placeholders(tmpl any) []string {
	seen := map[string]bool{}
	var keys []string
	walk(tmpl, func(key string) {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	})
	return keys
}

func placeholder(s string) (string, bool) {
	if len(s) < 4 || !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	return strings.TrimSpace(s[2 : len(s)-2]), true
}

func substitute(v any, inputs *value.Object) (any, error) {
	switch t := v.(type) {
	case *value.Object:
		for p := t.Oldest(); p != nil; p = p.Next() {
			nv, err := substitute(p.Value, inputs)
			if err != nil {
				return nil, err
			}
			p.Value = nv
		}
		return t, nil
	case []any:
		for i, e := range t {
			nv, err := substitute(e, inputs)
			if err != nil {
				return nil, err
			}
			t[i] = nv
		}
		return t, nil
	case string:
		key, ok := placeholder(t)
		if !ok {
			return t, nil
		}
		var repl any
		found := false
		if inputs != nil {
			repl, found = inputs.Get(key)
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, key)
		}
		return value.Clone(repl), nil
	}
	return v, nil
}

func walk(v any, fn func(string)) {
	switch t := v.(type) {
	case *value.Object:
		for p := t.Oldest(); p != nil; p = p.Next() {
			walk(p.Value, fn)
		}
	case []any:
		for _, e := range t {
			walk(e, fn)
		}
	case string:
		if key, ok := placeholder(t); ok {
			fn(key)
		}
	}
}
