package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"playground-engine/internal/engine"
	"playground-engine/internal/session"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// wsMessage is every frame sent to the client.
type wsMessage struct {
	Type    string              `json:"type"`
	RunID   string              `json:"runId,omitempty"`
	State   engine.State        `json:"state,omitempty"`
	Event   *engine.OutputEvent `json:"event,omitempty"`
	Summary *engine.Summary     `json:"summary,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// wsCommand is every frame read from the client.
type wsCommand struct {
	Type string `json:"type"`
	executeRequest
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(msg wsMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(msg)
}

// StreamSession pushes the session's output as it is produced. The client
// may send {"type":"execute"|"stop"|"clear"} frames. Every run on the
// session is streamed, whether it was started over this socket, over HTTP or
// by another client: one "started" frame, its "event" frames, then one
// "summary" frame.
func (h *Handler) StreamSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.AttachWS()
	defer s.DetachWS()
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	log := h.logger.With(zap.String("session_id", s.ID))
	log.Debug("websocket attached", zap.Int("active", s.ActiveWSCount()))

	ws := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		h.readCommands(s, ws)
	}()

	var streamed *engine.Run
	for {
		// Taken before Current so a run started in between is not missed.
		changed := s.Engine.Changed()
		if run := s.Engine.Current(); run != nil && run != streamed {
			streamed = run
			if err := h.pump(ctx, ws, run); err != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			log.Debug("websocket detached")
			return
		case <-s.Done():
			_ = ws.send(wsMessage{Type: "closed"})
			return
		case <-changed:
		}
	}
}

// pump streams one run to the client.
func (h *Handler) pump(ctx context.Context, ws *wsConn, run *engine.Run) error {
	if err := ws.send(wsMessage{Type: "started", RunID: run.ID, State: run.State()}); err != nil {
		return err
	}
	err := run.Stream(ctx, func(event engine.OutputEvent) error {
		return ws.send(wsMessage{Type: "event", RunID: run.ID, Event: &event})
	})
	if err != nil {
		return err
	}
	summary := run.Summary()
	return ws.send(wsMessage{Type: "summary", RunID: run.ID, State: summary.Status, Summary: summary})
}

// readCommands applies client frames to the session engine. Runs it starts
// are picked up by the stream loop through Engine.Changed.
func (h *Handler) readCommands(s *session.Session, ws *wsConn) {
	for {
		var cmd wsCommand
		if err := ws.conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.Touch()

		switch cmd.Type {
		case "execute":
			if _, err := s.Engine.Execute(context.Background(), cmd.toEngine()); err != nil {
				_ = ws.send(wsMessage{Type: "error", Error: err.Error()})
			}
		case "stop":
			go s.Engine.Stop()
		case "clear":
			if err := s.Engine.Clear(); err != nil {
				_ = ws.send(wsMessage{Type: "error", Error: err.Error()})
				continue
			}
			_ = ws.send(wsMessage{Type: "cleared", State: s.Engine.State()})
		default:
			_ = ws.send(wsMessage{Type: "error", Error: "unknown message type: " + cmd.Type})
		}
	}
}
