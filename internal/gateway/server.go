// Package gateway exposes the runtime over JSON-RPC 2.0 on a
// WebSocket, plus /healthz and /metrics on the same HTTP server. Each
// connection gets a read pump and a single writer pump; notifications
// from sessions are serialized through the writer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/session"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/internal/workers"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	defaultWriteWait  = 10 * time.Second
	defaultWSPath     = "/ws"
)

// Deps are the runtime components the gateway fronts.
type Deps struct {
	Config   *config.Config
	Sessions *session.Manager
	Workers  *workers.Manager
	Executor *tools.Executor
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Server is the WebSocket gateway.
type Server struct {
	cfg      config.ServerConfig
	deps     Deps
	logger   *observability.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	waiters  *toolWaiters

	httpServer *http.Server
	listener   net.Listener

	mu     sync.Mutex
	conns  map[*conn]struct{}
	owners map[string]*conn
}

// NewServer wires the gateway. It installs itself as the client-side
// tool resolver on the executor.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	s := &Server{
		cfg:     deps.Config.Server,
		deps:    deps,
		logger:  logger.Named("gateway"),
		metrics: deps.Metrics,
		conns:   make(map[*conn]struct{}),
		owners:  make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
	s.waiters = newToolWaiters(s.notifyToolCall, logger)
	if deps.Executor != nil {
		deps.Executor.SetClientResolver(s.waiters)
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	path := s.cfg.Path
	if path == "" {
		path = defaultWSPath
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "gateway serve error", "error", err)
		}
	}()

	s.logger.Info(ctx, "gateway listening", "addr", listener.Addr().String(), "path", path)
	return nil
}

// Addr returns the bound address, useful when Listen used port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes all connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.authenticate(r); err != nil {
		s.logger.Warn(r.Context(), "upgrade rejected", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConn(s, ws)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.run()
}

func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	for id, owner := range s.owners {
		if owner == c {
			delete(s.owners, id)
		}
	}
	s.mu.Unlock()
}

func (s *Server) bindSession(sessionID string, c *conn) {
	s.mu.Lock()
	s.owners[sessionID] = c
	s.mu.Unlock()
}

func (s *Server) unbindSession(sessionID string) {
	s.mu.Lock()
	delete(s.owners, sessionID)
	s.mu.Unlock()
}

func (s *Server) ownerOf(sessionID string) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[sessionID]
}

// notifyToolCall tells the session's client that a client-side tool
// call is waiting for provideToolResult.
func (s *Server) notifyToolCall(ctx context.Context, call toolCallNotice) {
	sessionID, _ := ctx.Value(observability.SessionIDKey).(string)
	if sessionID == "" {
		return
	}
	call.SessionID = sessionID
	if owner := s.ownerOf(sessionID); owner != nil {
		owner.Notify("tool.call", call)
	}
}
