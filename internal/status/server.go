// Package status implements the Status Server (spec.md §4.7): a small
// read-only HTTP server exposing current counters as JSON and Prometheus
// metrics, plus a live counters feed over WebSocket adapted from the
// teacher's web.go broadcast mechanism. It never blocks the Manager.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grishkovelli/proxypool/internal/store"
)

// StatsSource is the subset of *store.Store the Status Server depends on.
type StatsSource interface {
	Stats(ctx context.Context) (store.Counters, error)
}

// Server is a read-only HTTP server reporting aggregate counters.
type Server struct {
	store   StatsSource
	log     *slog.Logger
	httpSrv *http.Server

	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]bool
	clientsM sync.Mutex
}

// New builds a Server bound to addr (e.g. ":8080"), per spec.md §6's
// status-port configuration.
func New(addr string, store StatsSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store:   store,
		log:     log,
		clients: make(map[*websocket.Conn]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run starts serving and broadcasting until ctx is cancelled, then shuts
// down gracefully. It never blocks its caller's other goroutines — run it
// in its own goroutine.
func (s *Server) Run(ctx context.Context) error {
	go s.broadcastLoop(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	s.clientsM.Lock()
	s.clients[conn] = true
	s.clientsM.Unlock()
}

// broadcastLoop pushes the current counters to every connected client every
// two seconds, adapted from the teacher's sendStatistics/handleMessages
// (worker.go, web.go) into a single ticker-driven push.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAllClients()
			return
		case <-ticker.C:
			stats, err := s.store.Stats(ctx)
			if err != nil {
				continue
			}
			payload, _ := json.Marshal(stats)
			s.broadcast(payload)
		}
	}
}

func (s *Server) broadcast(payload []byte) {
	s.clientsM.Lock()
	defer s.clientsM.Unlock()
	for c := range s.clients {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.Close()
			delete(s.clients, c)
		}
	}
}

func (s *Server) closeAllClients() {
	s.clientsM.Lock()
	defer s.clientsM.Unlock()
	for c := range s.clients {
		c.Close()
		delete(s.clients, c)
	}
}
