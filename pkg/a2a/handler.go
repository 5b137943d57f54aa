package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/igorsilveira/switchboard/pkg/stream"
)

// Runner does the agent's work for one task turn. Updates passed to emit are
// recorded on the task and, for streaming calls, forwarded to the caller.
// The returned status becomes the task's status.
type Runner interface {
	Run(ctx context.Context, task Task, msg Message, emit func(TaskUpdateEvent) error) (TaskStatus, error)
}

type RunnerFunc func(ctx context.Context, task Task, msg Message, emit func(TaskUpdateEvent) error) (TaskStatus, error)

func (f RunnerFunc) Run(ctx context.Context, task Task, msg Message, emit func(TaskUpdateEvent) error) (TaskStatus, error) {
	return f(ctx, task, msg, emit)
}

// Resumer is implemented by runners that can continue streaming a task on
// tasks/resubscribe. Without it, resubscribe replays the current status.
type Resumer interface {
	Resume(ctx context.Context, task Task, emit func(TaskUpdateEvent) error) (TaskStatus, error)
}

// Notifier delivers push notifications for tasks that asked for them.
type Notifier interface {
	Notify(ctx context.Context, cfg PushNotificationConfig, task Task) error
}

type Handler struct {
	router    chi.Router
	card      *AgentCard
	store     *TaskStore
	runner    Runner
	notifier  Notifier
	jwks      http.Handler
	logger    *slog.Logger
	authToken string
}

type HandlerConfig struct {
	Card      *AgentCard
	Runner    Runner
	Store     *TaskStore
	Notifier  Notifier
	JWKS      http.Handler
	Logger    *slog.Logger
	AuthToken string
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = NewTaskStore()
	}
	if cfg.Card == nil {
		cfg.Card = &AgentCard{Name: "agent"}
	}
	if cfg.Notifier != nil {
		cfg.Card.Capabilities.PushNotifications = true
	}
	h := &Handler{
		card:      cfg.Card,
		store:     cfg.Store,
		runner:    cfg.Runner,
		notifier:  cfg.Notifier,
		jwks:      cfg.JWKS,
		logger:    cfg.Logger,
		authToken: cfg.AuthToken,
	}
	h.buildRouter()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) Store() *TaskStore {
	return h.store
}

func (h *Handler) buildRouter() {
	r := chi.NewRouter()
	r.Get(AgentCardPath, h.handleAgentCard)
	if h.jwks != nil {
		r.Method(http.MethodGet, JWKSPath, h.jwks)
	}

	r.Group(func(r chi.Router) {
		if h.authToken != "" {
			r.Use(h.authMiddleware)
		}
		r.Post("/", h.handleJSONRPC)
	})
	h.router = r
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != h.authToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.card)
}

func (h *Handler) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(nil, ErrCodeParse, "parse error"))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidReq, "invalid jsonrpc version"))
		return
	}

	switch req.Method {
	case MethodSend:
		h.rpcSend(w, r, req)
	case MethodSendSubscribe:
		h.rpcSendSubscribe(w, r, req)
	case MethodGet:
		h.rpcGetTask(w, req)
	case MethodCancel:
		h.rpcCancelTask(w, req)
	case MethodResubscribe:
		h.rpcResubscribe(w, r, req)
	default:
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeNotFound, fmt.Sprintf("method %q not found", req.Method)))
	}
}

func (h *Handler) decodeSendParams(w http.ResponseWriter, req JSONRPCRequest) (TaskSendParams, bool) {
	var params TaskSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
		return params, false
	}
	if params.ID == "" || len(params.Message.Parts) == 0 {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "task id and message parts are required"))
		return params, false
	}
	if params.PushNotification != nil && h.notifier == nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodePushNotSupport, "push notifications not supported"))
		return params, false
	}
	return params, true
}

func (h *Handler) rpcSend(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	params, ok := h.decodeSendParams(w, req)
	if !ok {
		return
	}

	task, _ := h.store.Upsert(params.ID, params.SessionID, params.Message, params.PushNotification)
	_ = h.store.SetStatus(task.ID, TaskStatus{State: TaskStateWorking})

	status, err := h.runner.Run(r.Context(), task, params.Message, func(ev TaskUpdateEvent) error {
		h.record(task.ID, ev)
		return nil
	})
	h.finish(r.Context(), task.ID, status, err)

	final, _ := h.store.GetWithHistory(task.ID, params.HistoryLength)
	writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, final))
}

func (h *Handler) rpcSendSubscribe(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	params, ok := h.decodeSendParams(w, req)
	if !ok {
		return
	}

	task, _ := h.store.Upsert(params.ID, params.SessionID, params.Message, params.PushNotification)
	working := TaskStatus{State: TaskStateWorking}
	_ = h.store.SetStatus(task.ID, working)

	sw := stream.NewWriter(w)
	emit := h.emitter(sw, req.ID, task.ID)
	_ = emit(TaskUpdateEvent{ID: task.ID, Status: &working})

	status, err := h.runner.Run(r.Context(), task, params.Message, emit)
	status = h.finish(r.Context(), task.ID, status, err)
	_ = sw.WriteJSON(StreamResponse{JSONRPC: "2.0", ID: req.ID, Result: TaskUpdateEvent{ID: task.ID, Status: &status, Final: true}})
}

func (h *Handler) rpcResubscribe(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
		return
	}
	task, err := h.store.Get(params.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeTaskNotFound, err.Error()))
		return
	}

	sw := stream.NewWriter(w)
	status := task.Status
	if resumer, ok := h.runner.(Resumer); ok && !task.Status.State.Terminal() {
		var runErr error
		status, runErr = resumer.Resume(r.Context(), task, h.emitter(sw, req.ID, task.ID))
		status = h.finish(r.Context(), task.ID, status, runErr)
	}
	_ = sw.WriteJSON(StreamResponse{JSONRPC: "2.0", ID: req.ID, Result: TaskUpdateEvent{ID: task.ID, Status: &status, Final: true}})
}

func (h *Handler) emitter(sw *stream.Writer, reqID any, taskID string) func(TaskUpdateEvent) error {
	return func(ev TaskUpdateEvent) error {
		ev.ID = taskID
		h.record(taskID, ev)
		return sw.WriteJSON(StreamResponse{JSONRPC: "2.0", ID: reqID, Result: ev})
	}
}

func (h *Handler) record(taskID string, ev TaskUpdateEvent) {
	if ev.Artifact != nil {
		_ = h.store.AddArtifact(taskID, *ev.Artifact)
	}
	if ev.Status != nil && ev.Status.Message != nil {
		_ = h.store.SetStatus(taskID, *ev.Status)
	}
}

// finish stores the final status and sends a push notification when the task
// asked for one.
func (h *Handler) finish(ctx context.Context, taskID string, status TaskStatus, err error) TaskStatus {
	if err != nil {
		h.logger.Error("task run failed", slog.String("task_id", taskID), slog.String("err", err.Error()))
		status = TaskStatus{
			State:   TaskStateFailed,
			Message: &Message{Role: RoleAgent, Parts: []Part{TextPart(err.Error())}},
		}
	}
	if status.State == "" {
		status.State = TaskStateCompleted
	}
	_ = h.store.SetStatus(taskID, status)

	if h.notifier == nil {
		return status
	}
	cfg := h.store.PushConfig(taskID)
	if cfg == nil {
		return status
	}
	task, _ := h.store.Get(taskID)
	if err := h.notifier.Notify(context.WithoutCancel(ctx), *cfg, task); err != nil {
		h.logger.Warn("push notification failed",
			slog.String("task_id", taskID),
			slog.String("url", cfg.URL),
			slog.String("err", err.Error()),
		)
	}
	return status
}

func (h *Handler) rpcGetTask(w http.ResponseWriter, req JSONRPCRequest) {
	var params TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
		return
	}

	task, err := h.store.GetWithHistory(params.ID, params.HistoryLength)
	if err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeTaskNotFound, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, task))
}

func (h *Handler) rpcCancelTask(w http.ResponseWriter, req JSONRPCRequest) {
	var params TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
		return
	}

	task, err := h.store.Get(params.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeTaskNotFound, err.Error()))
		return
	}
	if task.Status.State.Terminal() {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeNotCancelable, "task is not cancelable"))
		return
	}
	_ = h.store.SetStatus(params.ID, TaskStatus{State: TaskStateCanceled})
	task, _ = h.store.Get(params.ID)
	writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, task))
}

// TextOf joins the text parts of a message.
func TextOf(msg Message) string {
	var parts []string
	for _, p := range msg.Parts {
		if p.Type == PartTypeText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
