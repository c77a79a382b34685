package override

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/derivata/internal/graph"
	"github.com/agentic-research/derivata/internal/value"
	"github.com/spf13/cast"
)

// Keys routed to text encoders instead of being broadcast.
const (
	KeyTextPositive = "text_positive"
	KeyTextNegative = "text_negative"
)

// Hint converts a string parameter into the type its node input expects.
type Hint int

const (
	HintAny Hint = iota
	HintInt
	HintFloat
	HintString
	HintBool
)

var hintNames = map[string]Hint{
	"any":    HintAny,
	"int":    HintInt,
	"float":  HintFloat,
	"string": HintString,
	"bool":   HintBool,
}

// ParseHint maps a config name ("int", "float", ...) to a Hint.
func ParseHint(name string) (Hint, error) {
	h, ok := hintNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return HintAny, fmt.Errorf("unknown parameter hint %q", name)
	}
	return h, nil
}

func (h Hint) String() string {
	for name, v := range hintNames {
		if v == h {
			return name
		}
	}
	return "any"
}

// apply converts v per the hint. Only strings are parsed into numbers or
// bools, and only scalars are rendered as strings. Ints are read as
// decimal, so leading zeros never switch the base. A value that does not
// convert is returned unchanged.
func (h Hint) apply(v any) any {
	switch h {
	case HintInt:
		if s, ok := v.(string); ok {
			if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return i
			}
		}
	case HintFloat:
		if s, ok := v.(string); ok {
			if f, err := cast.ToFloat64E(strings.TrimSpace(s)); err == nil {
				return f
			}
		}
	case HintBool:
		if s, ok := v.(string); ok {
			if b, err := cast.ToBoolE(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	case HintString:
		switch v.(type) {
		case string, nil, []any, *value.Object:
		default:
			if s, err := cast.ToStringE(v); err == nil {
				return s
			}
		}
	}
	return v
}

// ParamSpec is one broadcast parameter.
type ParamSpec struct {
	Key  string
	Hint Hint
}

// ParamTable lists the parameters the router broadcasts, in order.
type ParamTable struct {
	specs []ParamSpec
	index map[string]int
}

// DefaultParams returns the stock ComfyUI sampler/loader parameters.
func DefaultParams() *ParamTable {
	t := &ParamTable{}
	t.Add("seed", HintInt)
	t.Add("steps", HintInt)
	t.Add("cfg", HintFloat)
	t.Add("sampler_name", HintString)
	t.Add("scheduler", HintString)
	t.Add("denoise", HintFloat)
	t.Add("width", HintInt)
	t.Add("height", HintInt)
	t.Add("batch_size", HintInt)
	t.Add("ckpt_name", HintString)
	t.Add("text", HintString)
	return t
}

// Add registers key, replacing the hint of an existing entry in place.
func (t *ParamTable) Add(key string, hint Hint) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	if i, ok := t.index[key]; ok {
		t.specs[i].Hint = hint
		return
	}
	t.index[key] = len(t.specs)
	t.specs = append(t.specs, ParamSpec{Key: key, Hint: hint})
}

// Lookup returns the spec registered for key.
func (t *ParamTable) Lookup(key string) (ParamSpec, bool) {
	if t == nil {
		return ParamSpec{}, false
	}
	i, ok := t.index[key]
	if !ok {
		return ParamSpec{}, false
	}
	return t.specs[i], true
}

// Keys returns the registered keys in registration order.
func (t *ParamTable) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.specs))
	for i, s := range t.specs {
		out[i] = s.Key
	}
	return out
}

// Clone returns an independent copy.
func (t *ParamTable) Clone() *ParamTable {
	out := &ParamTable{}
	if t != nil {
		for _, s := range t.specs {
			out.Add(s.Key, s.Hint)
		}
	}
	return out
}

// RouteResult summarizes one Router.Apply call.
type RouteResult struct {
	Positive TextWrite
	Negative TextWrite
	// Broadcast counts the nodes updated per parameter key.
	Broadcast map[string]int
}

// Router applies known parameters to a graph: text routing first, then a
// broadcast of every table parameter to the nodes that already have it.
type Router struct {
	Params *ParamTable
	Text   TextResolver
}

// Apply mutates g in place. Broadcast only overwrites inputs a node already
// has; it never adds one. Keys outside the table are ignored.
func (r Router) Apply(g *graph.Graph, params *value.Object) RouteResult {
	res := RouteResult{Broadcast: map[string]int{}}
	if params == nil {
		return res
	}

	pos, hasPos := params.Get(KeyTextPositive)
	neg, hasNeg := params.Get(KeyTextNegative)
	if hasPos || hasNeg {
		var pp, np *any
		if hasPos {
			pp = &pos
		}
		if hasNeg {
			np = &neg
		}
		res.Positive, res.Negative = r.Text.Apply(g, pp, np)
	}

	table := r.Params
	if table == nil {
		table = DefaultParams()
	}
	for _, spec := range table.specs {
		v, ok := params.Get(spec.Key)
		if !ok {
			continue
		}
		v = spec.Hint.apply(v)
		g.Each(func(_ string, node *value.Object) {
			in, ok := node.Get("inputs")
			if !ok {
				return
			}
			inputs, ok := value.AsObject(in)
			if !ok {
				return
			}
			if _, has := inputs.Get(spec.Key); has {
				inputs.Set(spec.Key, value.Clone(v))
				res.Broadcast[spec.Key]++
			}
		})
	}
	return res
}
