// Package workflow finds the prompt graph a request refers to, either
// inline or by name from a directory of saved workflow JSON files.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/derivata/internal/graph"
	"github.com/agentic-research/derivata/internal/value"
)

var (
	ErrNotFound    = errors.New("workflow not found")
	ErrInvalidName = errors.New("invalid workflow name")
	ErrNoSource    = errors.New("either 'prompt' or 'workflow' must be provided")
	// ErrBadPayload marks a request or workflow document of the wrong shape.
	ErrBadPayload = errors.New("invalid payload")
)

const ext = ".json"

var validName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateName rejects names that are empty, contain path separators or
// would escape the workflow directory.
func ValidateName(name string) error {
	if !validName.MatchString(name) || name == "." || name == ".." || strings.HasPrefix(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Loader returns raw workflow JSON by name.
type Loader interface {
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// DirLoader reads <name>.json files from a filesystem.
type DirLoader struct {
	fs billy.Filesystem
}

// NewDirLoader wraps fs.
func NewDirLoader(fs billy.Filesystem) *DirLoader {
	return &DirLoader{fs: fs}
}

// OpenDir returns a DirLoader rooted at dir on the host filesystem.
func OpenDir(dir string) *DirLoader {
	return NewDirLoader(osfs.New(dir))
}

// Load implements Loader.
func (d *DirLoader) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := util.ReadFile(d.fs, name+ext)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read workflow %s: %w", name, err)
	}
	return data, nil
}

// List implements Loader. A missing directory lists as empty.
func (d *DirLoader) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := d.fs.ReadDir(".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	var names []string
	for _, fi := range infos {
		if fi.IsDir() || path.Ext(fi.Name()) != ext {
			continue
		}
		names = append(names, strings.TrimSuffix(fi.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// Saver stores workflow JSON under a name.
type Saver interface {
	SaveWorkflow(ctx context.Context, name string, body []byte) error
}

// SaveWorkflow writes body as <name>.json. It implements Saver.
func (d *DirLoader) SaveWorkflow(ctx context.Context, name string, body []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return util.WriteFile(d.fs, name+ext, body, 0o644)
}

// Chain tries each loader in turn. ErrNotFound moves on to the next one;
// any other error stops the search.
type Chain []Loader

// Load implements Loader.
func (c Chain) Load(ctx context.Context, name string) ([]byte, error) {
	for _, l := range c {
		data, err := l.Load(ctx, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// List implements Loader, merging and de-duplicating names.
func (c Chain) List(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, l := range c {
		names, err := l.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Root decodes a workflow document and returns it as an envelope. A
// document that already carries "prompt" is kept whole; a bare graph is
// wrapped as {"prompt": graph}.
func Root(data []byte) (*value.Object, error) {
	obj, err := value.ParseObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse workflow: %w", ErrBadPayload, err)
	}
	return graph.Envelope(obj)
}

// FileRoot reads a workflow from an explicit path.
func FileRoot(p string) (*value.Object, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Root(data)
}

// ResolveRoot picks the envelope a request payload describes. An inline
// "prompt" object wins and is deep-copied into a fresh envelope; otherwise
// "workflow" names a document for loader. Other payload keys are not
// carried into the envelope.
func ResolveRoot(ctx context.Context, payload *value.Object, loader Loader) (*value.Object, error) {
	if payload != nil {
		if p, ok := payload.Get(graph.EnvelopeKey); ok {
			nodes, ok := value.AsObject(p)
			if !ok {
				return nil, fmt.Errorf("%w: 'prompt' must be an object", ErrBadPayload)
			}
			env := value.NewObject()
			env.Set(graph.EnvelopeKey, value.Clone(nodes))
			return env, nil
		}
		if w, ok := payload.Get("workflow"); ok {
			name, ok := value.AsString(w)
			if !ok {
				return nil, fmt.Errorf("%w: 'workflow' must be a string", ErrBadPayload)
			}
			if loader == nil {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			data, err := loader.Load(ctx, name)
			if err != nil {
				return nil, err
			}
			return Root(data)
		}
	}
	return nil, ErrNoSource
}
