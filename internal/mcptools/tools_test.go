package mcptools

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/derivata/internal/comfyui"
	"github.com/agentic-research/derivata/internal/override"
	"github.com/agentic-research/derivata/internal/request"
	"github.com/agentic-research/derivata/internal/workflow"
)

const sdxl = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": 1, "positive": ["6", 0], "negative": ["7", 0]}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
  "9": {"class_type": "SaveImage", "inputs": {}}
}`

func newTools(t *testing.T) *Tools {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"prompt_id":"pid-3","number":2,"node_errors":{}}`)
	})
	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"5a1c9f0e-aaaa":{"outputs":{"9":{"images":[{"filename":"heron_00001_.png"}]}}}}`)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "sdxl.json", []byte(sdxl), 0o644))
	loader := workflow.NewDirLoader(fs)
	return &Tools{
		Submitter: &request.Submitter{
			Renderer: &request.Renderer{Engine: override.New(), Loader: loader},
			Comfy:    comfyui.New(upstream.URL, comfyui.WithClientID("cid")),
		},
		Workflows: loader,
	}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func TestNew_RegistersTools(t *testing.T) {
	s := New(newTools(t))
	var names []string
	for name := range s.ListTools() {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"list_workflows", "prompt_history", "queue_workflow", "render_workflow"}, names)
}

func TestBundleTools_PromptOrderCaveat(t *testing.T) {
	s := New(newTools(t))
	for _, name := range []string{"render_workflow", "queue_workflow"} {
		tool := s.GetTool(name)
		require.NotNil(t, tool, name)
		prop, ok := tool.Tool.InputSchema.Properties["prompt"].(map[string]any)
		require.True(t, ok, name)
		assert.Contains(t, prop["description"], "Node order is not preserved", name)
	}
}

func TestRender(t *testing.T) {
	tools := newTools(t)
	res, err := tools.handleRender(context.Background(), call(map[string]any{
		"workflow":      "sdxl",
		"text_positive": "a heron",
		"params":        map[string]any{"seed": 42},
		"sets":          []any{"3.inputs.steps=12"},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	body := text(t, res)
	assert.Contains(t, body, `"seed": 42`)
	assert.Contains(t, body, `"steps": 12`)
	assert.Contains(t, body, `"text": "a heron"`)
}

func TestRender_ErrorIsToolResult(t *testing.T) {
	res, err := newTools(t).handleRender(context.Background(), call(map[string]any{"workflow": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "workflow not found")
}

func TestQueue(t *testing.T) {
	res, err := newTools(t).handleQueue(context.Background(), call(map[string]any{"workflow": "sdxl"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"prompt_id":"pid-3"`)
}

func TestListAndHistory(t *testing.T) {
	tools := newTools(t)
	res, err := tools.handleList(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "sdxl\n", text(t, res))

	res, err = tools.handleHistory(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "5a1c9f0e-aaaa\n", text(t, res))

	res, err = tools.handleHistory(context.Background(), call(map[string]any{"prompt_id": "5a1c9f0e-aaaa"}))
	require.NoError(t, err)
	assert.Equal(t, "heron_00001_.png\n", text(t, res))
}
