// Package graph is a read/write view over a ComfyUI prompt graph: an object
// of nodes keyed by id, each with a class_type and an inputs object.
//
// The view never copies the underlying tree. Mutations made through the
// *value.Object values it hands out land in the caller's graph.
package graph

import (
	"errors"

	"github.com/agentic-research/derivata/internal/value"
)

// EnvelopeKey is the key under which a graph travels in a /prompt body.
const EnvelopeKey = "prompt"

// ErrNotObject is returned when a document that must hold a graph does not.
var ErrNotObject = errors.New("graph document is not a JSON object")

// Graph wraps the node object of a prompt.
type Graph struct {
	nodes *value.Object
}

// New wraps nodes. A nil object yields an empty graph.
func New(nodes *value.Object) *Graph {
	if nodes == nil {
		nodes = value.NewObject()
	}
	return &Graph{nodes: nodes}
}

// Object returns the underlying node object.
func (g *Graph) Object() *value.Object {
	return g.nodes
}

// Len returns the number of entries, nodes or not.
func (g *Graph) Len() int {
	return g.nodes.Len()
}

// IDs returns every entry key in stored order.
func (g *Graph) IDs() []string {
	return value.Keys(g.nodes)
}

// Node returns the node object stored under id.
func (g *Graph) Node(id string) (*value.Object, bool) {
	v, ok := g.nodes.Get(id)
	if !ok {
		return nil, false
	}
	return value.AsObject(v)
}

// ClassType returns the class_type of node id when it is a string.
func (g *Graph) ClassType(id string) (string, bool) {
	n, ok := g.Node(id)
	if !ok {
		return "", false
	}
	return classType(n)
}

// Inputs returns the inputs object of node id.
func (g *Graph) Inputs(id string) (*value.Object, bool) {
	n, ok := g.Node(id)
	if !ok {
		return nil, false
	}
	return inputs(n)
}

// Each calls fn for every object-valued entry in stored order.
func (g *Graph) Each(fn func(id string, node *value.Object)) {
	for p := g.nodes.Oldest(); p != nil; p = p.Next() {
		if n, ok := value.AsObject(p.Value); ok {
			fn(p.Key, n)
		}
	}
}

func classType(n *value.Object) (string, bool) {
	v, ok := n.Get("class_type")
	if !ok {
		return "", false
	}
	return value.AsString(v)
}

func inputs(n *value.Object) (*value.Object, bool) {
	v, ok := n.Get("inputs")
	if !ok {
		return nil, false
	}
	return value.AsObject(v)
}

// LooksLikeGraph reports whether any entry of o is a node with a string class_type.
func LooksLikeGraph(o *value.Object) bool {
	if o == nil {
		return false
	}
	for p := o.Oldest(); p != nil; p = p.Next() {
		if n, ok := value.AsObject(p.Value); ok {
			if _, ok := classType(n); ok {
				return true
			}
		}
	}
	return false
}

// Unwrap splits a document into its graph and, when the document is an
// envelope ({"prompt": {...}}), the envelope itself. A document without an
// object-valued "prompt" key is treated as a bare graph.
func Unwrap(root any) (nodes, envelope *value.Object, err error) {
	obj, ok := value.AsObject(root)
	if !ok {
		return nil, nil, ErrNotObject
	}
	if inner, ok := obj.Get(EnvelopeKey); ok {
		if g, ok := value.AsObject(inner); ok {
			return g, obj, nil
		}
	}
	return obj, nil, nil
}

// Envelope returns root as an envelope, wrapping a bare graph as
// {"prompt": graph}. A document that already carries "prompt" is returned
// unchanged.
func Envelope(root any) (*value.Object, error) {
	obj, ok := value.AsObject(root)
	if !ok {
		return nil, ErrNotObject
	}
	if _, ok := obj.Get(EnvelopeKey); ok {
		return obj, nil
	}
	env := value.NewObject()
	env.Set(EnvelopeKey, obj)
	return env, nil
}
