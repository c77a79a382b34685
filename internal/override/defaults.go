package override

import (
	"github.com/agentic-research/derivata/internal/graph"
	"github.com/agentic-research/derivata/internal/nodeclass"
)

// DefaultFilenamePrefix names output files when the caller gives no prefix.
const DefaultFilenamePrefix = "Derivata"

const filenamePrefixKey = "filename_prefix"

// EnsureFilenamePrefix sets filename_prefix on every file-producing node
// whose inputs object lacks one, and returns the ids it touched. Existing
// prefixes are kept, so a second call is a no-op.
func EnsureFilenamePrefix(g *graph.Graph, classes *nodeclass.Table, prefix string) []string {
	var touched []string
	for _, id := range g.Index(tableOr(classes)).IDs(nodeclass.ProducesFile) {
		in, ok := g.Inputs(id)
		if !ok {
			continue
		}
		if _, exists := in.Get(filenamePrefixKey); exists {
			continue
		}
		in.Set(filenamePrefixKey, prefix)
		touched = append(touched, id)
	}
	return touched
}
