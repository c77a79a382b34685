package comfyui

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/gorilla/websocket"

	"github.com/agentic-research/derivata/internal/ctxlog"
)

// ErrExecution is returned by Watch when ComfyUI reports an execution error
// for the watched prompt.
var ErrExecution = errors.New("prompt execution failed")

// Event is one progress message from the ComfyUI websocket.
type Event struct {
	Type     string
	PromptID string
	// Node is the executing node id; empty on the final "executing" message.
	Node  string
	Value int64
	Max   int64
	// Message carries exception_message for execution_error events.
	Message string
	Raw     []byte
}

// Done reports whether e marks the end of prompt execution.
func (e Event) Done() bool {
	return (e.Type == "executing" && e.Node == "") || e.Type == "execution_success"
}

// ParseEvent decodes a text frame. Fields the message does not carry stay
// empty.
func ParseEvent(msg []byte) (Event, error) {
	typ, err := jsonparser.GetString(msg, "type")
	if err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	e := Event{Type: typ, Raw: msg}
	e.PromptID, _ = jsonparser.GetString(msg, "data", "prompt_id")
	if v, dt, _, err := jsonparser.Get(msg, "data", "node"); err == nil {
		switch dt {
		case jsonparser.String:
			e.Node = string(v)
		case jsonparser.Number:
			e.Node = string(v)
		}
	}
	e.Value, _ = jsonparser.GetInt(msg, "data", "value")
	e.Max, _ = jsonparser.GetInt(msg, "data", "max")
	e.Message, _ = jsonparser.GetString(msg, "data", "exception_message")
	return e, nil
}

// WebsocketURL returns the /ws address for clientID.
func (c *Client) WebsocketURL(clientID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {clientID}}.Encode()
	return u.String(), nil
}

// Watch follows execution of promptID over the websocket of clientID,
// calling fn for every event that concerns it (events without a prompt id,
// like queue status, are passed through too). It returns nil when the
// prompt finishes, an ErrExecution-wrapped error when it fails, fn's error
// if fn returns one, or ctx's error when ctx ends first.
//
// Dial before queueing, or the final message may already have been sent.
func (c *Client) Watch(ctx context.Context, clientID, promptID string, fn func(Event) error) error {
	conn, err := c.Dial(ctx, clientID)
	if err != nil {
		return err
	}
	return WatchConn(ctx, conn, promptID, fn)
}

// Dial opens the websocket for clientID.
func (c *Client) Dial(ctx context.Context, clientID string) (*websocket.Conn, error) {
	wsURL, err := c.WebsocketURL(clientID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return conn, nil
}

// WatchConn is Watch over an already open connection, which it closes.
func WatchConn(ctx context.Context, conn *websocket.Conn, promptID string, fn func(Event) error) error {
	logger := ctxlog.FromContext(ctx)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer func() { _ = conn.Close() }()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read websocket: %w", err)
		}
		if kind != websocket.TextMessage {
			// Binary frames carry preview images.
			continue
		}
		ev, err := ParseEvent(msg)
		if err != nil {
			logger.Debug("Skipping undecodable websocket message.", "error", err)
			continue
		}
		if ev.PromptID != "" && ev.PromptID != promptID {
			continue
		}
		if fn != nil {
			if err := fn(ev); err != nil {
				return err
			}
		}
		if ev.PromptID == "" {
			continue
		}
		if ev.Type == "execution_error" {
			return fmt.Errorf("%w: %s", ErrExecution, ev.Message)
		}
		if ev.Done() {
			logger.Debug("Prompt finished.", "prompt_id", promptID)
			return nil
		}
	}
}
