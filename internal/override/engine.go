// Package override applies user overrides to a ComfyUI prompt graph.
//
// One Engine.Apply call runs a fixed pipeline over a single, caller-owned
// graph: text routing, known-parameter broadcast, explicit KEY=VALUE path
// sets, then the filename_prefix default. Nothing is shared between calls,
// so concurrent requests need no locking as long as each brings its own
// graph.
package override

import (
	"context"
	"strings"

	"github.com/agentic-research/derivata/internal/ctxlog"
	"github.com/agentic-research/derivata/internal/graph"
	"github.com/agentic-research/derivata/internal/nodeclass"
	"github.com/agentic-research/derivata/internal/value"
)

// PathSet is one parsed KEY=VALUE override.
type PathSet struct {
	Raw   string
	Path  []string
	Value any
}

// ParsePathSet splits item at its first "=" and the key at every ".".
// The value goes through Coerce.
func ParsePathSet(item string) (PathSet, error) {
	key, raw, ok := strings.Cut(item, "=")
	if !ok {
		return PathSet{}, malformed(item)
	}
	return PathSet{
		Raw:   item,
		Path:  strings.Split(key, "."),
		Value: Coerce(raw),
	}, nil
}

// ParsePathSets parses every item or none: the first malformed item fails
// the whole batch.
func ParsePathSets(items []string) ([]PathSet, error) {
	out := make([]PathSet, 0, len(items))
	for _, item := range items {
		s, err := ParsePathSet(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Bundle is everything one request wants changed.
type Bundle struct {
	// Sets are raw KEY=VALUE strings, applied in order after broadcast.
	Sets []string
	// Params holds known parameters plus text_positive/text_negative.
	Params *value.Object
	// FilenamePrefix overrides the engine's default prefix when set.
	FilenamePrefix string
}

// Target says where a path set landed.
type Target int

const (
	TargetNone Target = iota
	TargetGraph
	TargetEnvelope
)

func (t Target) String() string {
	switch t {
	case TargetGraph:
		return "graph"
	case TargetEnvelope:
		return "envelope"
	}
	return "none"
}

// AppliedSet records the outcome of one path set.
type AppliedSet struct {
	Raw    string
	Target Target
}

// Report describes what an Apply call changed.
type Report struct {
	Positive  TextWrite
	Negative  TextWrite
	Broadcast map[string]int
	Sets      []AppliedSet
	Prefixed  []string
	// Warnings hold *Error values of kind ErrPathNotApplicable or
	// ErrUnresolvedTextTarget. They never abort the pipeline.
	Warnings []error
}

// Engine runs the override pipeline. The zero value uses the default
// parameter table, the default node classes, lexical fallback ordering,
// CreateIntermediates and the "Derivata" prefix.
type Engine struct {
	Params        *ParamTable
	Classes       *nodeclass.Table
	TextSort      SortOrder
	PathPolicy    PathPolicy
	DefaultPrefix string
}

// New returns an Engine with the stock tables.
func New() *Engine {
	return &Engine{
		Params:        DefaultParams(),
		Classes:       nodeclass.Default(),
		DefaultPrefix: DefaultFilenamePrefix,
	}
}

// Router returns the parameter router the engine uses.
func (e *Engine) Router() Router {
	return Router{
		Params: e.Params,
		Text:   TextResolver{Classes: e.Classes, Sort: e.TextSort},
	}
}

// Apply mutates root, which is either a bare graph or an envelope
// {"prompt": graph, ...}. Path sets are parsed before anything changes;
// a malformed one is returned as an error with root untouched. Path sets
// whose first segment names a graph entry go to the graph only; the rest
// go to the envelope.
func (e *Engine) Apply(ctx context.Context, root any, b Bundle) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	sets, err := ParsePathSets(b.Sets)
	if err != nil {
		return nil, err
	}
	nodes, envelope, err := graph.Unwrap(root)
	if err != nil {
		return nil, err
	}
	g := graph.New(nodes)

	routed := e.Router().Apply(g, b.Params)
	rep := &Report{
		Positive:  routed.Positive,
		Negative:  routed.Negative,
		Broadcast: routed.Broadcast,
	}
	e.noteText(ctx, rep, b.Params)
	for key, n := range routed.Broadcast {
		logger.Debug("Broadcast parameter.", "key", key, "nodes", n)
	}

	for _, s := range sets {
		target := e.applySet(nodes, envelope, s)
		rep.Sets = append(rep.Sets, AppliedSet{Raw: s.Raw, Target: target})
		if target == TargetNone {
			w := notApplicable(s.Raw, "no object at %s", strings.Join(s.Path, "."))
			rep.Warnings = append(rep.Warnings, w)
			logger.Warn("Override could not be applied.", "set", s.Raw, "policy", e.PathPolicy.String())
			continue
		}
		logger.Debug("Override applied.", "set", s.Raw, "target", target.String())
	}

	prefix := b.FilenamePrefix
	if prefix == "" {
		prefix = e.DefaultPrefix
	}
	if prefix == "" {
		prefix = DefaultFilenamePrefix
	}
	rep.Prefixed = EnsureFilenamePrefix(g, e.Classes, prefix)
	if len(rep.Prefixed) > 0 {
		logger.Debug("Filled default filename prefix.", "prefix", prefix, "nodes", rep.Prefixed)
	}
	return rep, nil
}

func (e *Engine) applySet(nodes, envelope *value.Object, s PathSet) Target {
	_, inGraph := nodes.Get(s.Path[0])
	if inGraph || envelope == nil {
		if SetPath(nodes, s.Path, s.Value, e.PathPolicy) {
			return TargetGraph
		}
		return TargetNone
	}
	if SetPath(envelope, s.Path, s.Value, e.PathPolicy) {
		return TargetEnvelope
	}
	return TargetNone
}

func (e *Engine) noteText(ctx context.Context, rep *Report, params *value.Object) {
	if params == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)
	sides := []struct {
		key string
		w   TextWrite
	}{
		{KeyTextPositive, rep.Positive},
		{KeyTextNegative, rep.Negative},
	}
	for _, side := range sides {
		if _, asked := params.Get(side.key); !asked {
			continue
		}
		if side.w.Written() {
			logger.Debug("Routed text.", "side", side.key, "node", side.w.Target, "route", side.w.Route.String())
			continue
		}
		rep.Warnings = append(rep.Warnings, &Error{Kind: ErrUnresolvedTextTarget, Item: side.key, Msg: "no text encoder found"})
		logger.Debug("Dropped text with no encoder to receive it.", "side", side.key)
	}
}
