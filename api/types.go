// Package api holds the JSON bodies exchanged with derivata's HTTP API.
package api

import "encoding/json"

// QueueRequest is the body of POST /queue_prompt and POST /render. Either
// Prompt or Workflow must be set. Known parameters (seed, steps, cfg,
// sampler_name, ...) may also appear at the top level.
type QueueRequest struct {
	// Prompt is an inline graph.
	Prompt json.RawMessage `json:"prompt,omitempty"`
	// Workflow names a saved workflow.
	Workflow string `json:"workflow,omitempty"`
	// Params holds known parameters and text_positive/text_negative.
	Params map[string]any `json:"params,omitempty"`
	// Sets are KEY=VALUE path overrides such as "3.inputs.seed=42".
	Sets           []string `json:"sets,omitempty"`
	FilenamePrefix string   `json:"filename_prefix,omitempty"`
	Verbose        bool     `json:"verbose,omitempty"`
	// Watch blocks until ComfyUI finishes the prompt and then reports its
	// output files.
	Watch bool `json:"watch,omitempty"`
}

// QueueResponse is returned by POST /queue_prompt.
type QueueResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	ClientID   string          `json:"client_id"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
	Files      []string        `json:"files,omitempty"`
	Report     *Report         `json:"report,omitempty"`
}

// RenderResponse is returned by POST /render.
type RenderResponse struct {
	Body   json.RawMessage `json:"body"`
	Report *Report         `json:"report"`
}

// Report summarizes what the override engine changed.
type Report struct {
	Positive  *TextRoute     `json:"positive,omitempty"`
	Negative  *TextRoute     `json:"negative,omitempty"`
	Broadcast map[string]int `json:"broadcast,omitempty"`
	Sets      []SetResult    `json:"sets,omitempty"`
	Prefixed  []string       `json:"prefixed,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// TextRoute says which node received a prompt text and how it was found.
type TextRoute struct {
	Node  string `json:"node"`
	Route string `json:"route"`
}

// SetResult is the outcome of one path override.
type SetResult struct {
	Set    string `json:"set"`
	Target string `json:"target"`
}

// AddWorkflowRequest is the body of POST /add_workflow.
type AddWorkflowRequest struct {
	Name     string          `json:"name"`
	Workflow json.RawMessage `json:"workflow"`
}

// ConstructRequest is the body of POST /construct_prompt.
type ConstructRequest struct {
	Template json.RawMessage `json:"template"`
	Inputs   json.RawMessage `json:"inputs"`
}

// StatusResponse is a plain acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}
