package override

import (
	"sort"
	"strconv"

	"github.com/agentic-research/derivata/internal/graph"
	"github.com/agentic-research/derivata/internal/nodeclass"
	"github.com/agentic-research/derivata/internal/value"
)

// SortOrder orders text-encoder ids for the positional fallback.
type SortOrder int

const (
	// SortLexical compares ids as strings, so "10" sorts before "2".
	SortLexical SortOrder = iota
	// SortNumeric compares integer ids by value and puts them before
	// any non-integer ids, which keep string order among themselves.
	SortNumeric
)

func (s SortOrder) String() string {
	if s == SortNumeric {
		return "numeric"
	}
	return "lexical"
}

// Route records how a text target was found.
type Route int

const (
	RouteNone Route = iota
	RouteLink
	RouteFallback
)

func (r Route) String() string {
	switch r {
	case RouteLink:
		return "link"
	case RouteFallback:
		return "fallback"
	}
	return "none"
}

// TextTargets holds the encoder ids a sampler's positive and negative
// inputs point to, plus the positional fallback candidates. Empty means
// unresolved.
type TextTargets struct {
	Sampler          string
	Positive         string
	Negative         string
	FallbackPositive string
	FallbackNegative string
}

// TextWrite reports where one side's text ended up.
type TextWrite struct {
	Target string
	Route  Route
}

// Written reports whether the text landed in a node.
func (w TextWrite) Written() bool { return w.Route != RouteNone }

// TextResolver finds the text-encoder nodes a prompt's text belongs in.
type TextResolver struct {
	Classes *nodeclass.Table
	Sort    SortOrder
}

// Resolve follows the positive/negative links of the first sampler in
// stored order. Only the first sampler is consulted even when the graph
// holds several. The fallback candidates are the first two text encoders
// in Sort order.
func (r TextResolver) Resolve(g *graph.Graph) TextTargets {
	ix := g.Index(r.classes())

	var t TextTargets
	if id, ok := ix.First(nodeclass.Sampler); ok {
		t.Sampler = id
		if in, ok := g.Inputs(id); ok {
			t.Positive = linkSource(in, "positive")
			t.Negative = linkSource(in, "negative")
		}
	}

	encoders := ix.IDs(nodeclass.TextEncoder)
	sortIDs(encoders, r.Sort)
	if len(encoders) > 0 {
		t.FallbackPositive = encoders[0]
	}
	if len(encoders) > 1 {
		t.FallbackNegative = encoders[1]
	}
	return t
}

// Apply writes positive and negative text into their resolved encoders.
// A nil pointer means the side was not requested. A linked target without
// an inputs object falls back to the positional candidate for that side;
// when that fails too the text is dropped and the side reports RouteNone.
func (r TextResolver) Apply(g *graph.Graph, positive, negative *any) (TextWrite, TextWrite) {
	if positive == nil && negative == nil {
		return TextWrite{}, TextWrite{}
	}
	t := r.Resolve(g)
	var pos, neg TextWrite
	if positive != nil {
		pos = writeText(g, t.Positive, t.FallbackPositive, *positive)
	}
	if negative != nil {
		neg = writeText(g, t.Negative, t.FallbackNegative, *negative)
	}
	return pos, neg
}

func (r TextResolver) classes() *nodeclass.Table {
	return tableOr(r.Classes)
}

func tableOr(t *nodeclass.Table) *nodeclass.Table {
	if t == nil {
		return nodeclass.Default()
	}
	return t
}

func writeText(g *graph.Graph, linked, fallback string, text any) TextWrite {
	if linked != "" && setText(g, linked, text) {
		return TextWrite{Target: linked, Route: RouteLink}
	}
	if fallback != "" && setText(g, fallback, text) {
		return TextWrite{Target: fallback, Route: RouteFallback}
	}
	return TextWrite{}
}

func setText(g *graph.Graph, id string, text any) bool {
	in, ok := g.Inputs(id)
	if !ok {
		return false
	}
	in.Set("text", value.Clone(text))
	return true
}

func linkSource(in *value.Object, name string) string {
	v, ok := in.Get(name)
	if !ok {
		return ""
	}
	src, _, ok := value.AsLink(v)
	if !ok {
		return ""
	}
	return src
}

func sortIDs(ids []string, order SortOrder) {
	if order != SortNumeric {
		sort.Strings(ids)
		return
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, aErr := strconv.ParseUint(ids[i], 10, 64)
		b, bErr := strconv.ParseUint(ids[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			if a != b {
				return a < b
			}
			return ids[i] < ids[j]
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return ids[i] < ids[j]
	})
}
