package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/derivata/api"
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

const historyDoc = `{
  "0c4f2a9e-1111": {"outputs": {"9": {"images": [{"filename": "b.png"}, {"filename": "a.png"}]}}},
  "7d0e6c1b-2222": {"outputs": {}}
}`

type fixture struct {
	srv    *httptest.Server
	queued []byte
	fs     *workflow.DirLoader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	comfy := http.NewServeMux()
	comfy.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		f.queued, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"prompt_id":"pid-9","number":4,"node_errors":{}}`)
	})
	comfy.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, historyDoc)
	})
	comfy.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filename") != "a.png" {
			http.Error(w, "no such image", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "PNGDATA")
	})
	comfy.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `["checkpoints","loras"]`)
	})
	comfy.HandleFunc("GET /models/{category}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `["sd_xl_base_1.0.safetensors",{"name":"flux1-dev.safetensors"}]`)
	})
	upstream := httptest.NewServer(comfy)
	t.Cleanup(upstream.Close)

	mfs := memfs.New()
	require.NoError(t, util.WriteFile(mfs, "sdxl.json", []byte(sdxl), 0o644))
	f.fs = workflow.NewDirLoader(mfs)

	s := &Server{
		Submitter: &request.Submitter{
			Renderer: &request.Renderer{Engine: override.New(), Loader: f.fs},
			Comfy:    comfyui.New(upstream.URL, comfyui.WithClientID("cid")),
		},
		Workflows: f.fs,
		Saver:     f.fs,
	}
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(out)
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "derivata")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	_, body = f.get(t, "/health")
	assert.Equal(t, "OK\n", body)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/queue_prompt", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestQueuePrompt(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, "/queue_prompt", `{
		"workflow": "sdxl",
		"seed": 42,
		"text_positive": "a heron at dawn",
		"sets": ["3.inputs.cfg=6.5"]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var out api.QueueResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, "pid-9", out.PromptID)
	assert.Equal(t, 4, out.Number)
	assert.Equal(t, "cid", out.ClientID)
	require.NotNil(t, out.Report)
	require.NotNil(t, out.Report.Positive)
	assert.Equal(t, "6", out.Report.Positive.Node)
	assert.Equal(t, map[string]int{"seed": 1}, out.Report.Broadcast)

	q := string(f.queued)
	assert.Contains(t, q, `"seed":42`)
	assert.Contains(t, q, `"cfg":6.5`)
	assert.Contains(t, q, `"text":"a heron at dawn"`)
	assert.Contains(t, q, `"filename_prefix":"Derivata"`)
}

func TestQueuePrompt_Errors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		body   string
		status int
	}{
		{`not json`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`{"workflow": "missing"}`, http.StatusNotFound},
		{`{"workflow": "../etc"}`, http.StatusBadRequest},
		{`{"workflow": "sdxl", "sets": ["no-equals"]}`, http.StatusBadRequest},
		{`{"workflow": "sdxl", "params": [1]}`, http.StatusBadRequest},
		{`{"workflow": "sdxl", "sets": "3.inputs.seed=1"}`, http.StatusBadRequest},
		{`{"prompt": 5}`, http.StatusBadRequest},
		{`{"workflow": 5}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, body := f.post(t, "/queue_prompt", tc.body)
		assert.Equal(t, tc.status, resp.StatusCode, "%s -> %s", tc.body, body)
		assert.Contains(t, body, `"error"`)
	}
	assert.Nil(t, f.queued)
}

func TestRender(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, "/render", `{"prompt": `+sdxl+`, "filename_prefix": "herons"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var out api.RenderResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Contains(t, string(out.Body), `"filename_prefix":"herons"`)
	assert.Equal(t, []string{"9"}, out.Report.Prefixed)
	assert.Nil(t, f.queued)
}

func TestGetImage(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/get_image?filename=a.png&type=output")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "PNGDATA", body)

	resp, _ = f.get(t, "/get_image?filename=zzz.png")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = f.get(t, "/get_image")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	_, raw := f.get(t, "/get_history")
	assert.JSONEq(t, historyDoc, raw)

	_, body := f.get(t, "/history")
	assert.Equal(t, "0c4f2a9e-1111\n7d0e6c1b-2222\n", body)

	_, body = f.get(t, "/history?prompt_id=0c4f2a9e-1111")
	assert.Equal(t, "a.png\nb.png\n", body)

	resp, body := f.get(t, "/history?json=true")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, historyDoc, body)
}

func TestAddAndListWorkflows(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, "/add_workflow", `{"name": "flux", "workflow": {"1": {"class_type": "SaveImage", "inputs": {}}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `{"status":"success"}`, body)

	_, body = f.get(t, "/workflows")
	assert.JSONEq(t, `["flux","sdxl"]`, body)

	resp, _ = f.post(t, "/add_workflow", `{"name": "flux"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.post(t, "/add_workflow", `{"name": "../x", "workflow": {}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.post(t, "/add_workflow", `{"name": "x", "workflow": [1]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConstructPrompt(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, "/construct_prompt", `{
		"template": {"3": {"inputs": {"seed": "{{ seed }}", "text": "keep {{ seed }}"}}},
		"inputs": {"seed": 42}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `{"3": {"inputs": {"seed": 42, "text": "keep {{ seed }}"}}}`, body)

	resp, _ = f.post(t, "/construct_prompt", `{"template": {"a": "{{ b }}"}, "inputs": {"c": 1}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.post(t, "/construct_prompt", `{"template": {"a": 1}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModels(t *testing.T) {
	f := newFixture(t)
	_, body := f.get(t, "/models")
	assert.Equal(t, "checkpoints\nloras\n", body)

	_, body = f.get(t, "/models/checkpoints")
	assert.Equal(t, "sd_xl_base_1.0.safetensors\nflux1-dev.safetensors\n", body)

	_, body = f.get(t, "/models/loras?json=true")
	assert.JSONEq(t, `["sd_xl_base_1.0.safetensors",{"name":"flux1-dev.safetensors"}]`, body)

	resp, _ := f.get(t, "/models/bad.category")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusOf(&comfyui.StatusError{Op: "x", Status: 500}))
	assert.Equal(t, http.StatusInternalServerError, statusOf(io.ErrUnexpectedEOF))
	assert.Equal(t, http.StatusBadRequest, statusOf(fmt.Errorf("render: %w", workflow.ErrBadPayload)))
}
