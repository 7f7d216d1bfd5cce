package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/checkpoint/internal/lesson"
	"github.com/felixgeelhaar/checkpoint/internal/runtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamAction is a client → server request on the view stream
type StreamAction string

const (
	ActionExpand StreamAction = "expand"
	ActionAnswer StreamAction = "answer"
	ActionSubmit StreamAction = "submit"
	ActionRetry  StreamAction = "retry"
	ActionClose  StreamAction = "close"
	ActionPing   StreamAction = "ping"
)

// StreamEvent is the kind of a server → client message
type StreamEvent string

const (
	EventSnapshot  StreamEvent = "snapshot"
	EventError     StreamEvent = "error"
	EventPong      StreamEvent = "pong"
	EventUnmounted StreamEvent = "unmounted"
)

// StreamRequest is sent by the client to drive an exercise instance
type StreamRequest struct {
	Action   StreamAction `json:"action"`
	Instance string       `json:"instance,omitempty"`
	Answer   string       `json:"answer,omitempty"`
}

// StreamMessage is sent by the server
type StreamMessage struct {
	Event StreamEvent      `json:"event"`
	View  *lesson.Snapshot `json:"view,omitempty"`
	Error string           `json:"error,omitempty"`
}

// buildUpgrader creates a websocket upgrader. An empty origin list allows all origins.
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// streamConn serializes writes to one websocket connection
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *streamConn) send(msg StreamMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *streamConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleStream pushes a view snapshot on every instance change and accepts
// exercise actions from the client
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	view, ok := s.view(w, r)
	if !ok {
		return
	}
	changes, cancel, err := s.lessons.Watch(view.ID)
	if err != nil {
		s.domainError(w, err)
		return
	}
	defer cancel()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "view", view.ID.String(), "error", err)
		return
	}
	defer ws.Close()

	conn := &streamConn{conn: ws}
	log := s.logger.With("view", view.ID.String(), "correlation_id", GetCorrelationID(r.Context()))
	log.Info("stream connected")

	snap := view.Snapshot()
	if err := conn.send(StreamMessage{Event: EventSnapshot, View: &snap}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readStream(ws, conn, view, log)
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Debug("stream closed by client")
			return
		case _, open := <-changes:
			if !open {
				_ = conn.send(StreamMessage{Event: EventUnmounted})
				return
			}
			snap := view.Snapshot()
			if err := conn.send(StreamMessage{Event: EventSnapshot, View: &snap}); err != nil {
				log.Debug("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) readStream(ws *websocket.Conn, conn *streamConn, view *lesson.View, log *slog.Logger) {
	ws.SetReadLimit(maxBodyBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req StreamRequest
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("unexpected stream close", "error", err)
			}
			return
		}

		if req.Action == ActionPing {
			_ = conn.send(StreamMessage{Event: EventPong})
			continue
		}
		if err := s.applyAction(view, conn, req); err != nil {
			_ = conn.send(StreamMessage{Event: EventError, Error: err.Error()})
		}
	}
}

var errUnknownAction = errors.New("unknown action")

// applyAction drives an instance. Resulting state changes reach the client
// through the watch channel.
func (s *Server) applyAction(view *lesson.View, conn *streamConn, req StreamRequest) error {
	rt, err := view.Instance(req.Instance)
	if err != nil {
		return err
	}

	switch req.Action {
	case ActionExpand:
		rt.Expand()
	case ActionAnswer:
		_, err = rt.SetAnswer(req.Answer)
	case ActionSubmit:
		go s.submitAsync(rt, conn)
	case ActionRetry:
		_, err = rt.Retry()
	case ActionClose:
		_, err = rt.Close()
	default:
		err = errUnknownAction
	}
	return err
}

// submitAsync grades off the read loop so pings and other instances stay responsive.
// Rejections are reported on the stream; grading outcomes arrive as snapshots.
func (s *Server) submitAsync(rt *runtime.Runtime, conn *streamConn) {
	if _, err := rt.Submit(context.Background()); err != nil {
		s.logger.Debug("stream submit rejected", "instance", rt.ID(), "error", err)
		_ = conn.send(StreamMessage{Event: EventError, Error: err.Error()})
	}
}
