// Package comfyui is a small client for the ComfyUI HTTP and websocket API.
package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-research/derivata/internal/ctxlog"
	"github.com/agentic-research/derivata/internal/value"
)

// ErrInvalidCategory is returned for model categories that are not plain
// identifiers.
var ErrInvalidCategory = errors.New("invalid model category")

var validCategory = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 4 << 10

// StatusError reports a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("comfyui %s: status %d", e.Op, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to one ComfyUI server.
type Client struct {
	baseURL  string
	http     *http.Client
	clientID string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClientID fixes the client id sent with queued prompts.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// New returns a client for the server at baseURL. Without WithClientID a
// random UUID identifies this client on the websocket.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 60 * time.Second},
		clientID: uuid.NewString(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server address without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the id used when a prompt carries none.
func (c *Client) ClientID() string { return c.clientID }

// QueueResult is ComfyUI's answer to POST /prompt.
type QueueResult struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
	// ClientID is the id the prompt was queued under.
	ClientID string `json:"-"`
	// Raw is the undecoded response body.
	Raw json.RawMessage `json:"-"`
}

// QueuePrompt posts an envelope ({"prompt": graph, ...}) to /prompt. A
// missing client_id is filled in with the client's id; env is modified.
func (c *Client) QueuePrompt(ctx context.Context, env *value.Object) (*QueueResult, error) {
	clientID := c.clientID
	if v, ok := env.Get("client_id"); ok {
		if s, ok := value.AsString(v); ok && s != "" {
			clientID = s
		}
	} else {
		env.Set("client_id", clientID)
	}

	body, err := value.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Sending prompt to ComfyUI.", "url", c.baseURL+"/prompt", "client_id", clientID)
	ctxlog.FromContext(ctx).Debug("Prompt payload.", "body", string(body))

	raw, err := c.do(ctx, "queue prompt", http.MethodPost, "/prompt", nil, body)
	if err != nil {
		return nil, err
	}
	res := &QueueResult{ClientID: clientID, Raw: raw}
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, fmt.Errorf("decode queue response: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Queued prompt.", "prompt_id", res.PromptID, "number", res.Number)
	return res, nil
}

// ImageRef names an output file as history entries report it.
type ImageRef struct {
	Filename  string
	Subfolder string
	Type      string
}

// Image fetches an output file through /view.
func (c *Client) Image(ctx context.Context, ref ImageRef) ([]byte, string, error) {
	if ref.Filename == "" {
		return nil, "", errors.New("filename is required")
	}
	q := url.Values{"filename": {ref.Filename}}
	if ref.Subfolder != "" {
		q.Set("subfolder", ref.Subfolder)
	}
	if ref.Type != "" {
		q.Set("type", ref.Type)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/view", q, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("get image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus("get image", resp); err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// History returns the raw /history document.
func (c *Client) History(ctx context.Context) ([]byte, error) {
	return c.do(ctx, "get history", http.MethodGet, "/history", nil, nil)
}

// PromptHistory returns the raw /history/{prompt_id} document.
func (c *Client) PromptHistory(ctx context.Context, promptID string) ([]byte, error) {
	return c.do(ctx, "get history", http.MethodGet, "/history/"+url.PathEscape(promptID), nil, nil)
}

// ModelCategories returns the raw /models listing.
func (c *Client) ModelCategories(ctx context.Context) ([]byte, error) {
	return c.do(ctx, "list model categories", http.MethodGet, "/models", nil, nil)
}

// Models returns the raw /models/{category} listing.
func (c *Client) Models(ctx context.Context, category string) ([]byte, error) {
	if !validCategory.MatchString(category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return c.do(ctx, fmt.Sprintf("list models in '%s'", category), http.MethodGet, "/models/"+category, nil, nil)
}

// Checkpoints lists the values ckpt_name accepts.
func (c *Client) Checkpoints(ctx context.Context) ([]byte, error) {
	return c.Models(ctx, "checkpoints")
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(op, resp); err != nil {
		ctxlog.FromContext(ctx).Error("ComfyUI request failed.", "op", op, "error", err)
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	return data, nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
