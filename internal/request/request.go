// Package request turns an HTTP or MCP payload into a rendered prompt.
//
// A payload names its graph with "prompt" (inline) or "workflow" (saved),
// and may carry overrides:
//
//	{
//	  "workflow": "sdxl",
//	  "params": {"steps": 30},
//	  "seed": 42,
//	  "text_positive": "a heron at dawn",
//	  "sets": ["3.inputs.cfg=6.5"],
//	  "filename_prefix": "herons",
//	  "verbose": true
//	}
//
// Known parameter keys may appear at the top level or inside "params";
// the top-level value wins.
package request

import (
	"context"
	"fmt"

	"github.com/agentic-research/derivata/internal/ctxlog"
	"github.com/agentic-research/derivata/internal/override"
	"github.com/agentic-research/derivata/internal/value"
	"github.com/agentic-research/derivata/internal/workflow"
)

// Options are the payload fields that steer rendering rather than the graph.
type Options struct {
	Workflow string
	Verbose  bool
}

// ParseBundle extracts the override bundle from payload. Top-level keys
// are taken from table (the default table when nil) plus text_positive and
// text_negative. Non-string entries of "sets" are ignored.
func ParseBundle(payload *value.Object, table *override.ParamTable) (override.Bundle, Options, error) {
	var (
		b    override.Bundle
		opts Options
	)
	if payload == nil {
		return b, opts, nil
	}

	params := value.NewObject()
	if v, ok := payload.Get("params"); ok {
		obj, isObj := value.AsObject(v)
		if !isObj && v != nil {
			return b, opts, fmt.Errorf("%w: 'params' must be an object", workflow.ErrBadPayload)
		}
		if isObj {
			for p := obj.Oldest(); p != nil; p = p.Next() {
				params.Set(p.Key, p.Value)
			}
		}
	}
	if table == nil {
		table = override.DefaultParams()
	}
	keys := append(table.Keys(), override.KeyTextPositive, override.KeyTextNegative)
	for _, k := range keys {
		if v, ok := payload.Get(k); ok {
			params.Set(k, v)
		}
	}
	if params.Len() > 0 {
		b.Params = params
	}

	if v, ok := payload.Get("sets"); ok {
		arr, isArr := v.([]any)
		if !isArr && v != nil {
			return b, opts, fmt.Errorf("%w: 'sets' must be an array of strings", workflow.ErrBadPayload)
		}
		for _, item := range arr {
			if s, ok := value.AsString(item); ok {
				b.Sets = append(b.Sets, s)
			}
		}
	}

	if v, ok := payload.Get("filename_prefix"); ok {
		if s, ok := value.AsString(v); ok {
			b.FilenamePrefix = s
		}
	}
	if v, ok := payload.Get("verbose"); ok {
		opts.Verbose, _ = v.(bool)
	}
	if v, ok := payload.Get("workflow"); ok {
		opts.Workflow, _ = value.AsString(v)
	}
	return b, opts, nil
}

// Result is a rendered prompt.
type Result struct {
	// Root is the envelope ready for POST /prompt.
	Root    *value.Object
	Report  *override.Report
	Options Options
}

// Renderer resolves payloads against saved workflows and applies their
// overrides.
type Renderer struct {
	Engine *override.Engine
	Loader workflow.Loader
}

// Render resolves the payload's graph and applies its overrides.
func (r *Renderer) Render(ctx context.Context, payload *value.Object) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	engine := r.Engine
	if engine == nil {
		engine = override.New()
	}
	b, opts, err := ParseBundle(payload, engine.Params)
	if err != nil {
		return nil, err
	}
	root, err := workflow.ResolveRoot(ctx, payload, r.Loader)
	if err != nil {
		return nil, err
	}
	rep, err := engine.Apply(ctx, root, b)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		if body, err := value.Marshal(root); err == nil {
			logger.Info("Constructed request body.", "body", string(body))
		}
	}
	return &Result{Root: root, Report: rep, Options: opts}, nil
}
