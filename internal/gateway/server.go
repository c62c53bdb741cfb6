// Package gateway is the WebSocket RPC transport: it upgrades
// connections, frames requests and responses, forwards broadcast
// events to subscribed clients, and rate-limits per connection.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tronrun/agentruntime/internal/config"
	"github.com/tronrun/agentruntime/internal/orchestrator"
	"github.com/tronrun/agentruntime/internal/pipeline"
	"github.com/tronrun/agentruntime/internal/store"
)

// Server handles WebSocket and health endpoints.
type Server struct {
	cfg      config.GatewayConfig
	store    store.EventStore
	orch     *orchestrator.Orchestrator
	pipeline *pipeline.Pipeline
	router   *MethodRouter

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server.
func NewServer(cfg config.GatewayConfig, st store.EventStore, orch *orchestrator.Orchestrator, p *pipeline.Pipeline) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		orch:     orch,
		pipeline: p,
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = NewMethodRouter(s)
	return s
}

// checkOrigin validates the Origin header against the allowed-origins
// whitelist. No configured origins means all are allowed; an empty
// Origin (non-browser clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: rejected origin", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	s.mux = mux
	return mux
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and stops the orchestrator.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	s.orch.Shutdown(ctx)
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway: upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.NewString(), conn, s)
	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	// Blocks for the connection's lifetime; the request context dies
	// when this handler returns, so the pumps run on their own.
	client.Run(context.Background())

	s.mu.Lock()
	delete(s.clients, client.ID)
	s.mu.Unlock()
}
