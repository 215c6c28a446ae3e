// Package gateway exposes the loopback HTTP and WebSocket surface: the
// unauthenticated health endpoint and the token-authenticated JSON-RPC
// socket with push events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Server binds the gateway to a loopback address. Anything that is not a
// loopback Origin is refused before the upgrade.
type Server struct {
	addr       string
	dispatcher *Dispatcher
	httpServer *http.Server
	upgrader   websocket.Upgrader
	start      time.Time
	logger     *slog.Logger
}

// NewServer wires the HTTP surface over the dispatcher.
func NewServer(host string, port int, dispatcher *Dispatcher) *Server {
	s := &Server{
		addr:       fmt.Sprintf("%s:%d", host, port),
		dispatcher: dispatcher,
		start:      time.Now(),
		logger:     slog.Default().With("component", "gateway"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkLoopbackOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens and serves until Shutdown. It returns once the listener is
// bound, so callers know the port is live.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("gateway listening", "addr", s.addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the configured bind address.
func (s *Server) Addr() string { return s.addr }

// Shutdown stops accepting connections and drains the existing ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.dispatcher.closeConns()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.start).Seconds()),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade refused", "error", err)
		return
	}
	c := newConn(ws, s.dispatcher)
	go c.run()
}

// checkLoopbackOrigin admits requests without an Origin header (native
// clients) and browser requests whose Origin host is a loopback name.
func checkLoopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1" ||
		strings.HasPrefix(host, "127.")
}
