// Package nodeclass maps ComfyUI class_type names to the capabilities the
// override engine cares about. The engine asks "is this a sampler?" rather
// than comparing class names, so new node types only need a table entry.
package nodeclass

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a bit set of node roles.
type Capability uint8

const (
	// Sampler nodes carry positive/negative links to text encoders.
	Sampler Capability = 1 << iota
	// TextEncoder nodes hold a `text` input fed by the caller's prompt.
	TextEncoder
	// ProducesFile nodes write output files named by `filename_prefix`.
	ProducesFile
)

var capabilityNames = map[string]Capability{
	"sampler":       Sampler,
	"text_encoder":  TextEncoder,
	"produces_file": ProducesFile,
}

// Has reports whether c includes every bit of want.
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for name, bit := range capabilityNames {
		if c&bit != 0 {
			parts = append(parts, name)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// ParseCapability converts a config name such as "text_encoder" into a Capability.
func ParseCapability(name string) (Capability, error) {
	c, ok := capabilityNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown node capability %q", name)
	}
	return c, nil
}

// Table maps class_type to capabilities. The zero value is an empty table.
type Table struct {
	classes map[string]Capability
}

// Default returns the stock ComfyUI classes the engine understands.
func Default() *Table {
	t := &Table{}
	t.Register("KSampler", Sampler)
	t.Register("CLIPTextEncode", TextEncoder)
	t.Register("SaveImage", ProducesFile)
	return t
}

// Register adds caps to classType. Capabilities accumulate across calls.
func (t *Table) Register(classType string, caps Capability) {
	if t.classes == nil {
		t.classes = make(map[string]Capability)
	}
	t.classes[classType] |= caps
}

// Of returns the capabilities of classType, zero when unknown.
func (t *Table) Of(classType string) Capability {
	if t == nil {
		return 0
	}
	return t.classes[classType]
}

// Classes returns the registered class names holding want, sorted.
func (t *Table) Classes(want Capability) []string {
	if t == nil {
		return nil
	}
	var out []string
	for name, caps := range t.classes {
		if caps.Has(want) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy so callers can extend it per request.
func (t *Table) Clone() *Table {
	if t == nil {
		return &Table{}
	}
	out := &Table{classes: make(map[string]Capability, len(t.classes))}
	for k, v := range t.classes {
		out.classes[k] = v
	}
	return out
}
