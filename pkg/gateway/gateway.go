// Package gateway serves the dispatcher over HTTP: SSE chat turns that can be
// resumed, a websocket chat, the agent listing and the push receiver.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/fragment"
	"github.com/igorsilveira/switchboard/pkg/stream"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

const maxChatBody = 4 << 20

// ChatRequest is the body of POST /chat. A request naming a TurnID the
// gateway still holds resumes that turn instead of starting a new one.
type ChatRequest struct {
	TurnID  string          `json:"turnId,omitempty"`
	History []fragment.Turn `json:"history,omitempty"`
}

type Gateway struct {
	server    *http.Server
	router    *chi.Mux
	turner    Turner
	turns     *TurnRouter
	registry  *agents.Registry
	push      http.Handler
	logger    *slog.Logger
	authToken string
}

type Config struct {
	Bind     string
	Port     int
	Turner   Turner
	Registry *agents.Registry
	// Push receives agent push notifications at /notify. It is mounted
	// outside the bearer-token group since agents authenticate with JWTs.
	Push      http.Handler
	Logger    *slog.Logger
	AuthToken string
	TurnTTL   time.Duration
}

// New builds the gateway. ctx bounds the turns it dispatches.
func New(ctx context.Context, cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	g := &Gateway{
		router:    r,
		turner:    cfg.Turner,
		turns:     NewTurnRouter(ctx, cfg.Turner, cfg.TurnTTL, cfg.Logger),
		registry:  cfg.Registry,
		push:      cfg.Push,
		logger:    cfg.Logger,
		authToken: cfg.AuthToken,
	}

	g.registerRoutes()

	addr := resolveAddr(cfg.Bind, cfg.Port)
	g.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return g
}

func (g *Gateway) registerRoutes() {
	g.router.Get("/healthz", g.handleHealthz)
	g.router.Get("/readyz", g.handleReadyz)
	g.router.Handle("/metrics", promhttp.Handler())

	if g.push != nil {
		g.router.Handle("/notify", g.push)
	}

	g.router.Group(func(r chi.Router) {
		if g.authToken != "" {
			r.Use(g.authMiddleware)
		}
		r.Get("/", g.handleWebChatPage)
		r.Get("/ws", g.handleWebSocket)
		r.Post("/chat", g.handleChat)
		r.Get("/agents", g.handleAgents)
	})
}

func (g *Gateway) Handler() http.Handler { return g.router }

// Turns exposes the turn logs so callers can schedule sweeps.
func (g *Gateway) Turns() *TurnRouter { return g.turns }

func (g *Gateway) Addr() string { return g.server.Addr }

func (g *Gateway) Start(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)
	logger.Info("gateway listening", slog.String("addr", g.server.Addr))

	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return g.shutdown()
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) shutdown() error {
	g.logger.Info("gateway shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

// handleChat streams one turn as SSE. Each record's id is its position in the
// turn; a request carrying Last-Event-ID gets only the records after it.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat request")
		return
	}

	from := 0
	if h := r.Header.Get("Last-Event-ID"); h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid Last-Event-ID")
			return
		}
		from = n
	}

	if req.TurnID == "" {
		req.TurnID = uuid.NewString()
	}
	log, ok := g.turns.get(req.TurnID)
	if !ok {
		if from > 0 {
			writeError(w, http.StatusNotFound, "unknown turn")
			return
		}
		if len(req.History) == 0 {
			writeError(w, http.StatusBadRequest, "history is required")
			return
		}
		var err error
		log, err = g.turns.start(req.TurnID, req.History)
		if errors.Is(err, ErrTurnExists) {
			log, _ = g.turns.get(req.TurnID)
		}
	} else {
		g.logger.Info("resuming turn", slog.String("turn_id", req.TurnID), slog.Int("after", from))
	}

	telemetry.Metrics.ActiveConnections.Inc()
	defer telemetry.Metrics.ActiveConnections.Dec()

	w.Header().Set("X-Turn-Id", req.TurnID)
	sw := stream.NewWriter(w)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		recs, done, err := log.wait(r.Context(), from)
		if err != nil {
			return
		}
		for _, rec := range recs {
			from++
			if err := sw.WriteRaw(strconv.Itoa(from), rec); err != nil {
				return
			}
		}
		if done && len(recs) == 0 {
			return
		}
	}
}

func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	descs := []agents.Descriptor{}
	if g.registry != nil {
		descs = g.registry.Descriptors()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(descs)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if g.turner == nil {
		writeError(w, http.StatusServiceUnavailable, "no dispatcher")
		return
	}
	n := 0
	if g.registry != nil {
		n = g.registry.Len()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","agents":%d}`, n)
}

func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != g.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func resolveAddr(bind string, port int) string {
	var host string
	switch bind {
	case "lan", "all":
		host = "0.0.0.0"
	case "loopback", "":
		host = "127.0.0.1"
	default:
		host = bind
	}
	return fmt.Sprintf("%s:%d", host, port)
}
