package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JulianRyder01/resonance/internal/bridge"
	"github.com/JulianRyder01/resonance/internal/doctor"
	"github.com/JulianRyder01/resonance/internal/tools"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// httpSurface is the local HTTP API: a /chat endpoint driving the agentic
// runtime, plus the /healthz and /metrics operational endpoints every
// managed component in this codebase exposes the same way.
type httpSurface struct {
	server   *Server
	listener net.Listener
	httpSrv  *http.Server
}

func newHTTPSurface(s *Server) *httpSurface {
	return &httpSurface{server: s}
}

func (h *httpSurface) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", h.server.config.Server.Host, h.server.config.Server.HTTPPort)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/v1/chat", h.handleChat)

	h.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.server.logger.Error("http server exited", "error", err)
		}
	}()

	h.server.logger.Info("http surface listening", "addr", addr)
	return nil
}

func (h *httpSurface) Stop(ctx context.Context) error {
	if h.httpSrv == nil {
		return nil
	}
	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.httpSrv.Shutdown(shutdownCtx)
}

// handleHealthz reports overall health by probing the three built-in
// surfaces, matching the shape doctor.ProbeChannelHealth produces for the
// CLI's `resonance doctor --probe` flag.
func (h *httpSurface) handleHealthz(w http.ResponseWriter, r *http.Request) {
	results := doctor.ProbeChannelHealth(r.Context(), h.server.Channels())

	status := "ok"
	for _, res := range results {
		if !res.Status.Healthy {
			status = "degraded"
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"surfaces": results,
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// handleChat accepts one user message and returns the runtime's full
// response, buffering the streamed chunks rather than exposing
// server-sent events — Resonance's HTTP API is meant for local tool/script
// callers, not a browser chat UI, so there is no streaming client to serve.
func (h *httpSurface) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		h.server.Metrics().RecordHTTPRequest(r.Method, "/v1/chat", strconv.Itoa(status), time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		http.Error(w, "method not allowed", status)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), status)
		return
	}
	if req.SessionID == "" {
		req.SessionID = models.MainSessionID
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		Channel:   models.ChannelAPI,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}

	sink := newSyncSink()
	h.server.Bridge().Registry().Register(req.SessionID, sink)
	defer h.server.Bridge().Registry().Unregister(req.SessionID, sink)

	if err := h.server.Bridge().SubmitTurn(r.Context(), req.SessionID, msg); err != nil {
		status = http.StatusInternalServerError
		if errors.Is(err, bridge.ErrSessionBusy) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	content, toolCalls, turnErr := sink.wait(r.Context())
	if turnErr != nil {
		status = http.StatusInternalServerError
		http.Error(w, turnErr.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"content": content, "tool_calls": toolCalls})
}

// syncSink is a bridge.ClientHandle that buffers one turn's text and
// blocks the HTTP handler until the Bridge broadcasts the turn's Done
// event, giving /v1/chat request/response semantics over the Bridge's
// otherwise asynchronous broadcast model. Tool lifecycle chunks are
// rendered through internal/tools' display config so a script-driven
// caller gets the same "📖 Reading: foo.go"-style summary the CLI would
// show a human, instead of a raw ToolEvent struct.
type syncSink struct {
	done      chan struct{}
	text      strings.Builder
	toolCalls []string
	err       error
}

func newSyncSink() *syncSink {
	return &syncSink{done: make(chan struct{})}
}

func (s *syncSink) Send(event bridge.Event) error {
	if event.Chunk != nil {
		if event.Chunk.Error != nil {
			s.err = event.Chunk.Error
		} else {
			s.text.WriteString(event.Chunk.Text)
		}
		if te := event.Chunk.ToolEvent; te != nil {
			s.toolCalls = append(s.toolCalls, formatToolEvent(te))
		}
	}
	if event.Done {
		close(s.done)
	}
	return nil
}

func (s *syncSink) wait(ctx context.Context) (string, []string, error) {
	select {
	case <-s.done:
		return s.text.String(), s.toolCalls, s.err
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// formatToolEvent renders one tool lifecycle event as a human-readable
// summary line, following only the stages worth surfacing to a caller:
// a request's arguments once it starts, and the outcome once it finishes.
func formatToolEvent(te *models.ToolEvent) string {
	var args any
	if len(te.Input) > 0 {
		_ = json.Unmarshal(te.Input, &args)
	}
	display := tools.ResolveToolDisplay(te.ToolName, args, "")
	summary := tools.FormatToolSummary(display)

	switch te.Stage {
	case models.ToolEventFailed, models.ToolEventDenied:
		if te.Error != "" {
			return fmt.Sprintf("%s (failed: %s)", summary, te.Error)
		}
		return fmt.Sprintf("%s (failed)", summary)
	case models.ToolEventSucceeded:
		return fmt.Sprintf("%s (done)", summary)
	default:
		return summary
	}
}
