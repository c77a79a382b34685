package request

import (
	"context"
	"fmt"

	"github.com/agentic-research/derivata/api"
	"github.com/agentic-research/derivata/internal/comfyui"
	"github.com/agentic-research/derivata/internal/ctxlog"
	"github.com/agentic-research/derivata/internal/history"
	"github.com/agentic-research/derivata/internal/override"
	"github.com/agentic-research/derivata/internal/store"
	"github.com/agentic-research/derivata/internal/value"
)

// Submitter renders payloads and queues them on ComfyUI.
type Submitter struct {
	Renderer *Renderer
	Comfy    *comfyui.Client
	// Store records submissions when set.
	Store *store.Store
}

// Submission is the outcome of one queued prompt.
type Submission struct {
	Result *Result
	Queue  *comfyui.QueueResult
	// Files lists output filenames; only filled when watching.
	Files []string
}

// Submit renders payload and posts it to /prompt. With watch set it stays
// on the websocket until the prompt finishes and then looks up its output
// files; onEvent, when non-nil, sees every progress event.
func (s *Submitter) Submit(ctx context.Context, payload *value.Object, watch bool, onEvent func(comfyui.Event) error) (*Submission, error) {
	res, err := s.Renderer.Render(ctx, payload)
	if err != nil {
		return nil, err
	}
	return s.SubmitResult(ctx, res, watch, onEvent)
}

// SubmitResult queues an already rendered result.
func (s *Submitter) SubmitResult(ctx context.Context, res *Result, watch bool, onEvent func(comfyui.Event) error) (*Submission, error) {
	logger := ctxlog.FromContext(ctx).With("workflow", res.Options.Workflow)

	clientID := s.Comfy.ClientID()
	if v, ok := res.Root.Get("client_id"); ok {
		if id, ok := value.AsString(v); ok && id != "" {
			clientID = id
		}
	}

	// The socket must be open before queueing or a fast prompt finishes unseen.
	var waitFor func(promptID string) error
	if watch {
		conn, err := s.Comfy.Dial(ctx, clientID)
		if err != nil {
			return nil, err
		}
		waitFor = func(promptID string) error {
			return comfyui.WatchConn(ctx, conn, promptID, onEvent)
		}
		defer func() { _ = conn.Close() }()
	}

	if _, ok := res.Root.Get("client_id"); !ok {
		res.Root.Set("client_id", clientID)
	}
	q, err := s.Comfy.QueuePrompt(ctx, res.Root)
	if err != nil {
		return nil, err
	}
	sub := &Submission{Result: res, Queue: q}

	if s.Store != nil {
		body, _ := value.Marshal(res.Root)
		if err := s.Store.RecordSubmission(ctx, store.Submission{
			PromptID: q.PromptID,
			ClientID: q.ClientID,
			Workflow: res.Options.Workflow,
			Body:     body,
		}); err != nil {
			logger.Warn("Failed to record submission.", "prompt_id", q.PromptID, "error", err)
		}
	}

	if waitFor == nil {
		return sub, nil
	}
	if err := waitFor(q.PromptID); err != nil {
		return sub, err
	}
	raw, err := s.Comfy.PromptHistory(ctx, q.PromptID)
	if err != nil {
		return sub, fmt.Errorf("fetch outputs: %w", err)
	}
	doc, err := history.Parse(raw)
	if err != nil {
		return sub, err
	}
	sub.Files = history.Filenames(doc, q.PromptID)
	logger.Info("Prompt finished.", "prompt_id", q.PromptID, "files", len(sub.Files))
	return sub, nil
}

// Summary converts an engine report into its wire form.
func Summary(rep *override.Report) *api.Report {
	if rep == nil {
		return nil
	}
	out := &api.Report{Prefixed: rep.Prefixed}
	if len(rep.Broadcast) > 0 {
		out.Broadcast = rep.Broadcast
	}
	if rep.Positive.Written() {
		out.Positive = &api.TextRoute{Node: rep.Positive.Target, Route: rep.Positive.Route.String()}
	}
	if rep.Negative.Written() {
		out.Negative = &api.TextRoute{Node: rep.Negative.Target, Route: rep.Negative.Route.String()}
	}
	for _, s := range rep.Sets {
		out.Sets = append(out.Sets, api.SetResult{Set: s.Raw, Target: s.Target.String()})
	}
	for _, w := range rep.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	return out
}
