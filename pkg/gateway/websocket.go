package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/igorsilveira/switchboard/pkg/conversation"
	"github.com/igorsilveira/switchboard/pkg/fragment"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

type wsIncoming struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type wsOutgoing struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id,omitempty"`
	Entries   []conversation.Entry `json:"entries,omitempty"`
	Busy      bool                 `json:"busy,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// handleWebSocket gives each connection its own conversation. Every message
// from the client runs one turn; the transcript is pushed after each change.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Error("websocket accept failed", slog.String("err", err.Error()))
		return
	}
	defer conn.CloseNow()

	telemetry.Metrics.ActiveConnections.Inc()
	defer telemetry.Metrics.ActiveConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionID := uuid.NewString()
	logger := g.logger.With(slog.String("session_id", sessionID))
	conv := conversation.New(ctx, g.turner, conversation.WithLogger(logger))
	defer conv.Close()

	logger.Info("webchat client connected")
	_ = wsjson.Write(ctx, conn, wsOutgoing{Type: "session", SessionID: sessionID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				logger.Info("webchat client disconnected")
			} else {
				logger.Error("websocket read error", slog.String("err", err.Error()))
			}
			return
		}

		var incoming wsIncoming
		if err := json.Unmarshal(data, &incoming); err != nil {
			_ = wsjson.Write(ctx, conn, wsOutgoing{Type: "error", Error: "invalid message format"})
			continue
		}
		if incoming.Type != "message" || incoming.Content == "" {
			continue
		}

		p := conv.Submit(fragment.UserText(incoming.Content))
		var last conversation.Snapshot
		for snap := range p.Updates() {
			last = snap
			if err := wsjson.Write(ctx, conn, wsOutgoing{Type: "transcript", Entries: snap.Entries, Busy: snap.Busy}); err != nil {
				logger.Warn("websocket write failed", slog.String("err", err.Error()))
				return
			}
		}
		out := wsOutgoing{Type: "done"}
		if last.Err != nil {
			out.Error = last.Err.Error()
		}
		_ = wsjson.Write(ctx, conn, out)
	}
}
