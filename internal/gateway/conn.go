package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/parley/internal/observability"
)

// conn is one client connection. It implements session.Notifier so
// sessions created over it push notifications back through its writer
// pump.
type conn struct {
	server *Server
	ws     *websocket.Conn
	logger *observability.Logger

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	inflight  sync.WaitGroup

	mu          sync.Mutex
	sessions    map[string]struct{}
	lastSession string
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		server:   s,
		ws:       ws,
		logger:   s.logger.WithFields("remote", ws.RemoteAddr().String()),
		send:     make(chan []byte, 64),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]struct{}),
	}
}

func (c *conn) run() {
	go c.writePump()
	c.readPump()
	c.close()
	c.inflight.Wait()
	c.teardown()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close()
	})
}

// teardown stops sessions owned by this connection; a disconnect is an
// implicit stopSession for everything it started.
func (c *conn) teardown() {
	c.server.dropConn(c)

	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.sessions = make(map[string]struct{})
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.server.deps.Sessions.Stop(context.Background(), id); err != nil {
			c.logger.Warn(context.Background(), "session stop on disconnect failed", "session_id", id, "error", err)
		}
	}
}

func (c *conn) readPump() {
	c.ws.SetReadLimit(wsMaxPayloadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		// Requests run off the read loop so stopSession, tool results,
		// and pong frames get through while a turn is in flight. The
		// per-session turn lock serializes the turns themselves.
		c.inflight.Add(1)
		go func(data []byte) {
			defer c.inflight.Done()
			c.handleMessage(data)
		}(data)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	writeWait := c.server.cfg.WriteTimeout
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *conn) handleMessage(data []byte) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(errorResponse(nil, errParse("parse error: "+err.Error())))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		c.reply(errorResponse(req.ID, errInvalidRequest("expected a JSON-RPC 2.0 request")))
		return
	}

	result, rpcErr := c.dispatch(&req)
	if c.server.metrics != nil {
		status := "ok"
		if rpcErr != nil {
			status = "error"
		}
		c.server.metrics.RecordRPC(req.Method, status)
	}
	if req.isNotification() {
		return
	}
	if rpcErr != nil {
		c.reply(errorResponse(req.ID, rpcErr))
		return
	}
	c.reply(response(req.ID, result))
}

func (c *conn) reply(resp *rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error(c.ctx, "marshal response failed", "error", err)
		return
	}
	c.enqueue(data)
}

// Notify implements session.Notifier.
func (c *conn) Notify(method string, params any) {
	data, err := json.Marshal(rpcNotification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		c.logger.Error(c.ctx, "marshal notification failed", "method", method, "error", err)
		return
	}
	c.enqueue(data)
}

// enqueue hands a frame to the writer pump. A client that cannot keep
// up loses notifications rather than blocking a turn.
func (c *conn) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.logger.Warn(c.ctx, "send buffer full, dropping frame")
	}
}

func (c *conn) trackSession(id string) {
	c.mu.Lock()
	c.sessions[id] = struct{}{}
	c.lastSession = id
	c.mu.Unlock()
	c.server.bindSession(id, c)
}

func (c *conn) untrackSession(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	if c.lastSession == id {
		c.lastSession = ""
	}
	c.mu.Unlock()
	c.server.unbindSession(id)
}

// defaultSession falls back to the connection's most recent session
// when a request omits sessionId.
func (c *conn) defaultSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSession
}
