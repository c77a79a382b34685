// Package mcptools exposes workflow rendering and queueing as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/derivata/internal/ctxlog"
	"github.com/agentic-research/derivata/internal/history"
	"github.com/agentic-research/derivata/internal/request"
	"github.com/agentic-research/derivata/internal/value"
	"github.com/agentic-research/derivata/internal/workflow"
)

// Version is reported to MCP clients.
var Version = "dev"

const instructions = `derivata edits ComfyUI prompt graphs before queueing them.
Use list_workflows to see saved workflows, render_workflow to preview the
graph an override bundle produces, and queue_workflow to submit it.`

// Tools holds the collaborators the tool handlers use.
type Tools struct {
	Submitter *request.Submitter
	Workflows workflow.Loader
	Logger    *slog.Logger
}

// New builds an MCP server with every tool registered.
func New(t *Tools) *server.MCPServer {
	s := server.NewMCPServer(
		"derivata",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.AddTool(renderTool(), t.handleRender)
	s.AddTool(queueTool(), t.handleQueue)
	s.AddTool(listTool(), t.handleList)
	s.AddTool(historyTool(), t.handleHistory)
	return s
}

// Serve runs the server over stdin/stdout until ctx ends.
func Serve(ctx context.Context, t *Tools, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(New(t))
	stdio.SetErrorLogger(slog.NewLogLogger(t.logger().Handler(), slog.LevelError))
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return ctxlog.WithLogger(ctx, t.logger())
	})
	return stdio.Listen(ctx, in, out)
}

func (t *Tools) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func bundleOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("workflow", mcp.Description("Name of a saved workflow. Ignored when prompt is given.")),
		mcp.WithObject("prompt", mcp.Description("Inline ComfyUI prompt graph keyed by node id. Node order is not preserved over this transport, so text falls back to encoders in node-id order; name a saved workflow when stored order matters.")),
		mcp.WithArray("sets", mcp.Description(`Path overrides such as "3.inputs.seed=42".`), mcp.WithStringItems()),
		mcp.WithObject("params", mcp.Description("Known parameters (seed, steps, cfg, sampler_name, ...) broadcast to every node that has them.")),
		mcp.WithString("text_positive", mcp.Description("Positive prompt text.")),
		mcp.WithString("text_negative", mcp.Description("Negative prompt text.")),
		mcp.WithString("filename_prefix", mcp.Description("filename_prefix for file-producing nodes that lack one.")),
	}
}

func renderTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Apply an override bundle to a workflow and return the resulting prompt body without queueing it."),
	}, bundleOptions()...)
	return mcp.NewTool("render_workflow", opts...)
}

func queueTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Apply an override bundle to a workflow and queue it on ComfyUI."),
		mcp.WithBoolean("watch", mcp.Description("Wait for the prompt to finish and report its output files.")),
	}, bundleOptions()...)
	return mcp.NewTool("queue_workflow", opts...)
}

func listTool() mcp.Tool {
	return mcp.NewTool("list_workflows",
		mcp.WithDescription("List saved workflow names."),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("prompt_history",
		mcp.WithDescription("List prompt ids in ComfyUI's history, or the output files of one prompt."),
		mcp.WithString("prompt_id", mcp.Description("Prompt whose output files to list.")),
	)
}

// payload turns tool arguments into a request payload. mcp-go has already
// decoded them into a map, so an inline prompt arrives in key order.
func payload(req mcp.CallToolRequest) (*value.Object, error) {
	args := req.GetArguments()
	if args == nil {
		return value.NewObject(), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	return value.ParseObject(data)
}

func (t *Tools) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := payload(req)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	res, err := t.Submitter.Renderer.Render(ctx, p)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("render failed", err), nil
	}
	body, err := value.MarshalIndent(res.Root)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (t *Tools) handleQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := payload(req)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	sub, err := t.Submitter.Submit(ctx, p, req.GetBool("watch", false), nil)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("queue failed", err), nil
	}
	return mcp.NewToolResultJSON(map[string]any{
		"prompt_id": sub.Queue.PromptID,
		"number":    sub.Queue.Number,
		"client_id": sub.Queue.ClientID,
		"files":     sub.Files,
		"report":    request.Summary(sub.Result.Report),
	})
}

func (t *Tools) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.Workflows == nil {
		return mcp.NewToolResultText(""), nil
	}
	names, err := t.Workflows.List(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("list failed", err), nil
	}
	return mcp.NewToolResultText(history.Lines(names)), nil
}

func (t *Tools) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := t.Submitter.Comfy.History(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("fetch history", err), nil
	}
	doc, err := history.Parse(raw)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("parse history", err), nil
	}
	if id := req.GetString("prompt_id", ""); id != "" {
		return mcp.NewToolResultText(history.Lines(history.Filenames(doc, id))), nil
	}
	return mcp.NewToolResultText(history.Lines(history.PromptIDs(doc))), nil
}
