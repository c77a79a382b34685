package graph

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/derivata/internal/nodeclass"
	"github.com/agentic-research/derivata/internal/value"
)

var indexedCapabilities = []nodeclass.Capability{
	nodeclass.Sampler,
	nodeclass.TextEncoder,
	nodeclass.ProducesFile,
}

// ClassIndex records which nodes carry each capability. Nodes are numbered
// by their position in the graph, so iterating a bitmap walks the nodes in
// stored order.
type ClassIndex struct {
	ids   []string
	byCap map[nodeclass.Capability]*roaring.Bitmap
}

// Index builds a ClassIndex of g against tbl. The index is a snapshot: it
// does not follow later additions to the graph.
func (g *Graph) Index(tbl *nodeclass.Table) *ClassIndex {
	ix := &ClassIndex{
		ids:   make([]string, 0, g.nodes.Len()),
		byCap: make(map[nodeclass.Capability]*roaring.Bitmap, len(indexedCapabilities)),
	}
	var ord uint32
	for p := g.nodes.Oldest(); p != nil; p = p.Next() {
		ix.ids = append(ix.ids, p.Key)
		if n, ok := value.AsObject(p.Value); ok {
			if ct, ok := classType(n); ok {
				caps := tbl.Of(ct)
				for _, c := range indexedCapabilities {
					if caps.Has(c) {
						bm, exists := ix.byCap[c]
						if !exists {
							bm = roaring.New()
							ix.byCap[c] = bm
						}
						bm.Add(ord)
					}
				}
			}
		}
		ord++
	}
	return ix
}

// IDs returns the ids of nodes holding c, in stored order.
func (ix *ClassIndex) IDs(c nodeclass.Capability) []string {
	bm, ok := ix.byCap[c]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, ix.ids[it.Next()])
	}
	return out
}

// First returns the earliest stored node holding c.
func (ix *ClassIndex) First(c nodeclass.Capability) (string, bool) {
	bm, ok := ix.byCap[c]
	if !ok || bm.IsEmpty() {
		return "", false
	}
	return ix.ids[bm.Minimum()], true
}

// Count returns how many nodes hold c.
func (ix *ClassIndex) Count(c nodeclass.Capability) int {
	bm, ok := ix.byCap[c]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}
