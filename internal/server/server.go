// Package server exposes rendering and queueing over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/agentic-research/derivata/api"
	"github.com/agentic-research/derivata/internal/comfyui"
	"github.com/agentic-research/derivata/internal/ctxlog"
	"github.com/agentic-research/derivata/internal/history"
	"github.com/agentic-research/derivata/internal/override"
	"github.com/agentic-research/derivata/internal/request"
	"github.com/agentic-research/derivata/internal/template"
	"github.com/agentic-research/derivata/internal/value"
	"github.com/agentic-research/derivata/internal/workflow"
)

// maxBody bounds request bodies; workflow graphs are a few hundred KB at most.
const maxBody = 8 << 20

// Server holds the collaborators the handlers need.
type Server struct {
	Submitter *request.Submitter
	Workflows workflow.Loader
	Saver     workflow.Saver
	Logger    *slog.Logger
}

// Handler returns the routed, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /queue_prompt", s.handleQueue)
	mux.HandleFunc("POST /render", s.handleRender)
	mux.HandleFunc("GET /get_image", s.handleImage)
	mux.HandleFunc("GET /get_history", s.handleRawHistory)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("POST /add_workflow", s.handleAddWorkflow)
	mux.HandleFunc("GET /workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /construct_prompt", s.handleConstruct)
	mux.HandleFunc("GET /models", s.handleModelCategories)
	mux.HandleFunc("GET /models/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("GET /models/{category}", s.handleModels)
	return s.withLogging(cors(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger().Info("API server listening.", "address", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		logger := s.logger().With("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(rec, r.WithContext(ctxlog.WithLogger(r.Context(), logger)))
		logger.Debug("Handled request.", "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeText(w, "derivata: ComfyUI workflow proxy\n")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, "OK\n")
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	payload, err := readObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	watch := false
	if v, ok := payload.Get("watch"); ok {
		watch, _ = v.(bool)
	}
	sub, err := s.Submitter.Submit(r.Context(), payload, watch, nil)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, api.QueueResponse{
		PromptID:   sub.Queue.PromptID,
		Number:     sub.Queue.Number,
		ClientID:   sub.Queue.ClientID,
		NodeErrors: sub.Queue.NodeErrors,
		Files:      sub.Files,
		Report:     request.Summary(sub.Result.Report),
	})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	payload, err := readObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.Submitter.Renderer.Render(r.Context(), payload)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	body, err := value.Marshal(res.Root)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RenderResponse{Body: body, Report: request.Summary(res.Report)})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := comfyui.ImageRef{Filename: q.Get("filename"), Subfolder: q.Get("subfolder"), Type: q.Get("type")}
	if ref.Filename == "" {
		writeError(w, http.StatusBadRequest, errors.New("filename is required"))
		return
	}
	data, contentType, err := s.Submitter.Comfy.Image(r.Context(), ref)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	_, _ = w.Write(data)
}

func (s *Server) handleRawHistory(w http.ResponseWriter, r *http.Request) {
	raw, err := s.Submitter.Comfy.History(r.Context())
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeRawJSON(w, raw)
}

// handleHistory lists prompt ids, or the files of ?prompt_id=, one per
// line. ?json=true returns ComfyUI's document instead.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	raw, err := s.Submitter.Comfy.History(r.Context())
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if jsonFlag(r) {
		writeRawJSON(w, raw)
		return
	}
	doc, err := history.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if pid := r.URL.Query().Get("prompt_id"); pid != "" {
		writeText(w, history.Lines(history.Filenames(doc, pid)))
		return
	}
	writeText(w, history.Lines(history.PromptIDs(doc)))
}

func (s *Server) handleAddWorkflow(w http.ResponseWriter, r *http.Request) {
	var req api.AddWorkflowRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Name == "" || len(req.Workflow) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("both 'name' and 'workflow' must be provided"))
		return
	}
	if _, err := value.ParseObject(req.Workflow); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("'workflow' must be a JSON object: %w", err))
		return
	}
	if s.Saver == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no workflow storage configured"))
		return
	}
	if err := s.Saver.SaveWorkflow(r.Context(), req.Name, req.Workflow); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{Status: "success"})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if s.Workflows != nil {
		got, err := s.Workflows.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		names = append(names, got...)
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleConstruct(w http.ResponseWriter, r *http.Request) {
	var req api.ConstructRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if len(req.Template) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("template is required"))
		return
	}
	if len(req.Inputs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("inputs are required"))
		return
	}
	tmpl, err := value.Parse(req.Template)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	inputs, err := value.ParseObject(req.Inputs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := template.Construct(tmpl, inputs)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	body, err := value.Marshal(out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeRawJSON(w, body)
}

func (s *Server) handleModelCategories(w http.ResponseWriter, r *http.Request) {
	s.writeListing(w, r, s.Submitter.Comfy.ModelCategories)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	s.writeListing(w, r, s.Submitter.Comfy.Checkpoints)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	s.writeListing(w, r, func(ctx context.Context) ([]byte, error) {
		return s.Submitter.Comfy.Models(ctx, category)
	})
}

func (s *Server) writeListing(w http.ResponseWriter, r *http.Request, fetch func(context.Context) ([]byte, error)) {
	raw, err := fetch(r.Context())
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if jsonFlag(r) {
		writeRawJSON(w, raw)
		return
	}
	doc, err := history.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeText(w, history.Lines(history.ModelNames(doc)))
}

func readObject(r *http.Request) (*value.Object, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	obj, err := value.ParseObject(data)
	if err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	return obj, nil
}

func jsonFlag(r *http.Request) bool {
	v := r.URL.Query().Get("json")
	return v == "true" || v == "1"
}

func statusOf(err error) int {
	var se *comfyui.StatusError
	switch {
	case errors.As(err, &se):
		return http.StatusBadGateway
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, override.ErrMalformedOverride),
		errors.Is(err, workflow.ErrNoSource),
		errors.Is(err, workflow.ErrInvalidName),
		errors.Is(err, workflow.ErrBadPayload),
		errors.Is(err, template.ErrMissingInput),
		errors.Is(err, comfyui.ErrInvalidCategory):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}
