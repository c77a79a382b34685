package request

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/derivata/internal/override"
	"github.com/agentic-research/derivata/internal/value"
	"github.com/agentic-research/derivata/internal/workflow"
)

const sdxl = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": 1, "steps": 20, "positive": ["6", 0], "negative": ["7", 0]}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
  "9": {"class_type": "SaveImage", "inputs": {}}
}`

func obj(t *testing.T, doc string) *value.Object {
	t.Helper()
	o, err := value.ParseObject([]byte(doc))
	require.NoError(t, err)
	return o
}

func TestParseBundle(t *testing.T) {
	b, opts, err := ParseBundle(obj(t, `{
		"workflow": "sdxl",
		"params": {"steps": 10, "seed": 1, "custom": true},
		"seed": 42,
		"text_negative": "blurry",
		"sets": ["3.inputs.cfg=6", 7, "9.inputs.x=y"],
		"filename_prefix": "herons",
		"verbose": true
	}`), nil)
	require.NoError(t, err)

	require.NotNil(t, b.Params)
	assert.Equal(t, []string{"steps", "seed", "custom", "text_negative"}, value.Keys(b.Params))
	seed, _ := b.Params.Get("seed")
	assert.Equal(t, json.Number("42"), seed)
	assert.Equal(t, []string{"3.inputs.cfg=6", "9.inputs.x=y"}, b.Sets)
	assert.Equal(t, "herons", b.FilenamePrefix)
	assert.Equal(t, Options{Workflow: "sdxl", Verbose: true}, opts)
}

func TestParseBundle_TableExtendsTopLevelKeys(t *testing.T) {
	tbl := override.DefaultParams()
	tbl.Add("lora_strength", override.HintFloat)

	b, _, err := ParseBundle(obj(t, `{"lora_strength": 0.8, "not_a_param": 1}`), tbl)
	require.NoError(t, err)
	assert.Equal(t, []string{"lora_strength"}, value.Keys(b.Params))
}

func TestParseBundle_Empty(t *testing.T) {
	b, opts, err := ParseBundle(obj(t, `{"workflow": "x"}`), nil)
	require.NoError(t, err)
	assert.Nil(t, b.Params)
	assert.Empty(t, b.Sets)
	assert.Equal(t, "x", opts.Workflow)

	b, _, err = ParseBundle(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, b.Params)
}

func TestParseBundle_BadShapes(t *testing.T) {
	_, _, err := ParseBundle(obj(t, `{"params": [1]}`), nil)
	assert.ErrorIs(t, err, workflow.ErrBadPayload)
	_, _, err = ParseBundle(obj(t, `{"sets": "3.inputs.seed=1"}`), nil)
	assert.ErrorIs(t, err, workflow.ErrBadPayload)
	_, _, err = ParseBundle(obj(t, `{"params": null, "sets": null}`), nil)
	assert.NoError(t, err)
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "sdxl.json", []byte(sdxl), 0o644))
	return &Renderer{Engine: override.New(), Loader: workflow.NewDirLoader(fs)}
}

func TestRender_Workflow(t *testing.T) {
	r := newRenderer(t)
	res, err := r.Render(context.Background(), obj(t, `{
		"workflow": "sdxl",
		"seed": 7,
		"text_positive": "a heron",
		"sets": ["3.inputs.steps=30"],
		"filename_prefix": "birds"
	}`))
	require.NoError(t, err)

	get := func(path ...string) any {
		v, ok := override.GetPath(res.Root, path)
		require.True(t, ok, "missing %v", path)
		return v
	}
	assert.Equal(t, json.Number("7"), get("prompt", "3", "inputs", "seed"))
	assert.Equal(t, json.Number("30"), get("prompt", "3", "inputs", "steps"))
	assert.Equal(t, "a heron", get("prompt", "6", "inputs", "text"))
	assert.Equal(t, "birds", get("prompt", "9", "inputs", "filename_prefix"))
	assert.Equal(t, "6", res.Report.Positive.Target)
	assert.Equal(t, "sdxl", res.Options.Workflow)
}

func TestRender_InlinePromptAndMalformedSet(t *testing.T) {
	r := newRenderer(t)
	_, err := r.Render(context.Background(), obj(t, `{"prompt": `+sdxl+`, "sets": ["nope"]}`))
	assert.ErrorIs(t, err, override.ErrMalformedOverride)

	res, err := r.Render(context.Background(), obj(t, `{"prompt": `+sdxl+`, "verbose": true}`))
	require.NoError(t, err)
	v, _ := override.GetPath(res.Root, []string{"prompt", "9", "inputs", "filename_prefix"})
	assert.Equal(t, override.DefaultFilenamePrefix, v)
}

func TestRender_UnknownWorkflow(t *testing.T) {
	_, err := newRenderer(t).Render(context.Background(), obj(t, `{"workflow": "flux"}`))
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}
