// Package history pulls prompt ids, output filenames and model names out of
// the loosely shaped JSON that ComfyUI's /history and /models endpoints
// return.
package history

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// minPromptIDLen filters out short bookkeeping keys next to real prompt ids.
const minPromptIDLen = 8

var filenamePath = jp.MustParseString("$..filename")

var (
	indented = oj.Options{Indent: 2, Sort: true}
	compact  = oj.Options{Sort: true}
)

// Parse decodes a history or models response.
func Parse(data []byte) (any, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return v, nil
}

// Query runs a JSONPath selector against doc.
func Query(doc any, selector string) ([]any, error) {
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	return x.Get(doc), nil
}

// Filenames returns every output filename recorded for promptID, wherever
// the entry sits in the document, sorted and de-duplicated.
func Filenames(doc any, promptID string) []string {
	seen := map[string]bool{}
	var out []string
	for _, entry := range jp.R().D().C(promptID).Get(doc) {
		for _, f := range filenamePath.Get(entry) {
			s, ok := f.(string)
			if !ok || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// PromptIDs returns the keys that look like prompt ids: object-valued keys
// at least eight characters long, at the top level or under a "history"
// key, sorted and de-duplicated.
func PromptIDs(doc any) []string {
	seen := map[string]bool{}
	var out []string
	collectIDs(doc, func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	})
	sort.Strings(out)
	return out
}

func collectIDs(v any, add func(string)) {
	switch t := v.(type) {
	case map[string]any:
		for k, vv := range t {
			if _, isObj := vv.(map[string]any); isObj && len(k) >= minPromptIDLen {
				add(k)
			}
			if k == "history" {
				collectIDs(vv, add)
			}
		}
	case []any:
		for _, vv := range t {
			collectIDs(vv, add)
		}
	}
}

// ModelNames flattens a models listing into one line per entry: strings as
// they are, objects by their "name", anything else as JSON. A document that
// is not an array becomes a single indented JSON entry.
func ModelNames(doc any) []string {
	arr, ok := doc.([]any)
	if !ok {
		return []string{oj.JSON(doc, &indented)}
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			if name, ok := t["name"].(string); ok {
				out = append(out, name)
				continue
			}
			out = append(out, oj.JSON(t, &indented))
		default:
			out = append(out, oj.JSON(t, &compact))
		}
	}
	return out
}

// Lines joins entries one per line with a trailing newline. No entries
// yields an empty string.
func Lines(entries []string) string {
	if len(entries) == 0 {
		return ""
	}
	return strings.Join(entries, "\n") + "\n"
}
