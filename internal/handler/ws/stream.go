package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	xlogger "AgentFlow/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	sendBuffer   = 64
)

type subscriber struct {
	conn        *websocket.Conn
	pipelineID  string
	executionID string
	send        chan []byte
}

func (s *subscriber) wants(ev *models.ExecutionEvent) bool {
	if s.pipelineID != "" && s.pipelineID != ev.PipelineID {
		return false
	}
	if s.executionID != "" && s.executionID != ev.ExecutionID {
		return false
	}
	return true
}

// ExecutionStream pushes execution events to WebSocket clients. A slow client
// whose buffer is full misses events instead of blocking the engine.
type ExecutionStream struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewExecutionStream(logger *xlogger.Logger) *ExecutionStream {
	return &ExecutionStream{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

func (h *ExecutionStream) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/executions", h.Serve)
}

// Serve upgrades the connection. Optional query filters: pipeline_id, execution_id.
func (h *ExecutionStream) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	sub := &subscriber{
		conn:        conn,
		pipelineID:  c.QueryParam("pipeline_id"),
		executionID: c.QueryParam("execution_id"),
		send:        make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("execution stream subscribed",
		xlogger.String("pipeline_id", sub.pipelineID),
		xlogger.String("execution_id", sub.executionID))

	go h.writeLoop(sub)
	h.readLoop(sub)
	return nil
}

// readLoop discards client frames and detects disconnects.
func (h *ExecutionStream) readLoop(sub *subscriber) {
	defer h.remove(sub)
	sub.conn.SetReadLimit(4096)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ExecutionStream) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ExecutionStream) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

// PublishExecution delivers ev to every matching subscriber without blocking.
func (h *ExecutionStream) PublishExecution(_ context.Context, ev *models.ExecutionEvent) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			h.logger.Warn("execution stream subscriber lagging, event dropped",
				xlogger.String("execution_id", ev.ExecutionID))
		}
	}
	return nil
}

// Subscribers returns the number of connected clients.
func (h *ExecutionStream) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every client.
func (h *ExecutionStream) Close() {
	h.mu.Lock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

var _ domrepo.EventPublisher = (*ExecutionStream)(nil)
