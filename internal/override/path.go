package override

import "github.com/agentic-research/derivata/internal/value"

// PathPolicy decides what SetPath does with a missing intermediate key.
type PathPolicy int

const (
	// CreateIntermediates inserts an empty object for every missing
	// intermediate key. Objects created before a later failure stay behind.
	CreateIntermediates PathPolicy = iota
	// RequireIntermediates fails when an intermediate key is missing.
	RequireIntermediates
)

func (p PathPolicy) String() string {
	if p == RequireIntermediates {
		return "require"
	}
	return "create"
}

// SetPath walks root by path and sets the last segment to v. It returns
// false, without touching the final object, when the walk reaches a value
// that is not an object or, under RequireIntermediates, a missing key.
// Arrays are never indexed: "0" is always an object key.
func SetPath(root any, path []string, v any, policy PathPolicy) bool {
	if len(path) == 0 {
		return false
	}
	cur, ok := value.AsObject(root)
	if !ok {
		return false
	}
	for _, key := range path[:len(path)-1] {
		next, exists := cur.Get(key)
		if !exists {
			if policy == RequireIntermediates {
				return false
			}
			created := value.NewObject()
			cur.Set(key, created)
			cur = created
			continue
		}
		if cur, ok = value.AsObject(next); !ok {
			return false
		}
	}
	cur.Set(path[len(path)-1], v)
	return true
}

// GetPath reads the value at path. An empty path returns root.
func GetPath(root any, path []string) (any, bool) {
	cur := root
	for _, key := range path {
		obj, ok := value.AsObject(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = obj.Get(key); !ok {
			return nil, false
		}
	}
	return cur, true
}
