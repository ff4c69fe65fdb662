package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // progress events carry no private data
	},
}

// Server streams seed progress to WebSocket clients.
type Server struct {
	mu     sync.Mutex
	server *http.Server
	hub    *Hub
	stop   context.CancelFunc
	log    *slog.Logger
}

// NewServer creates a server and starts its hub.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "websocket")

	ctx, stop := context.WithCancel(context.Background())
	hub := NewHub(logger)
	go hub.Run(ctx)

	return &Server{
		hub:  hub,
		stop: stop,
		log:  logger,
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the WebSocket routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/seed", s.handleSeed)
	mux.HandleFunc("/ws/health", s.handleHealth)
	return mux
}

// Start listens on port and blocks until the server stops.
func (s *Server) Start(port string) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info("WebSocket server listening", "port", port)
	return srv.ListenAndServe()
}

// handleSeed upgrades the connection and subscribes it to seed progress.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := newClient(s.hub, conn, s.log)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// handleHealth returns WebSocket server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"clients": s.hub.ClientCount(),
	})
}

// Shutdown stops accepting connections and disconnects every client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	s.stop()
	select {
	case <-s.hub.Done():
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
