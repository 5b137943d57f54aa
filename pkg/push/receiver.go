package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/audit"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

const maxNotificationBody = 1 << 20

// Recorder receives audit events. *audit.Logger satisfies it.
type Recorder interface {
	Log(ctx context.Context, eventType, sessionID, agentID, actor string, detail any) error
}

// Receiver serves /notify. GET echoes the validation token; POST verifies the
// notification and hands the task to OnTask.
type Receiver struct {
	router   chi.Router
	verifier *Verifier
	audit    Recorder
	onTask   func(a2a.Task)
	logger   *slog.Logger
}

type ReceiverConfig struct {
	Verifier *Verifier
	Audit    Recorder
	OnTask   func(a2a.Task)
	Logger   *slog.Logger
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rc := &Receiver{
		verifier: cfg.Verifier,
		audit:    cfg.Audit,
		onTask:   cfg.OnTask,
		logger:   cfg.Logger,
	}
	r := chi.NewRouter()
	r.Get("/notify", rc.handleValidation)
	r.Post("/notify", rc.handleNotification)
	rc.router = r
	return rc
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc.router.ServeHTTP(w, r)
}

func (rc *Receiver) handleValidation(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("validationToken")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rc.logger.Info("push notification url validated")
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, token)
}

func (rc *Receiver) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBody))
	if err != nil {
		rc.reject(r.Context(), w, err)
		return
	}

	if err := rc.verifier.Verify(r.Context(), r.Header.Get("Authorization"), body); err != nil {
		rc.reject(r.Context(), w, err)
		return
	}

	var task a2a.Task
	if err := json.Unmarshal(body, &task); err != nil {
		rc.reject(r.Context(), w, err)
		return
	}

	telemetry.Metrics.PushNotifications.WithLabelValues("accepted").Inc()
	rc.logger.Info("push notification received",
		slog.String("task_id", task.ID),
		slog.String("state", string(task.Status.State)),
	)
	rc.record(r.Context(), audit.EventPushReceived, task.SessionID, map[string]string{
		"task_id": task.ID,
		"state":   string(task.Status.State),
	})
	if rc.onTask != nil {
		rc.onTask(task)
	}
	w.WriteHeader(http.StatusOK)
}

func (rc *Receiver) reject(ctx context.Context, w http.ResponseWriter, err error) {
	telemetry.Metrics.PushNotifications.WithLabelValues("rejected").Inc()
	rc.logger.Warn("push notification verification failed", slog.String("err", err.Error()))
	rc.record(ctx, audit.EventPushRejected, "", err.Error())
	w.WriteHeader(http.StatusBadRequest)
}

func (rc *Receiver) record(ctx context.Context, event, sessionID string, detail any) {
	if rc.audit == nil {
		return
	}
	if err := rc.audit.Log(ctx, event, sessionID, "", "push", detail); err != nil {
		rc.logger.Warn("writing audit entry", slog.String("event", event), slog.String("err", err.Error()))
	}
}
