// Package api serves the local read-only status surface: health, a status
// document, Prometheus metrics, and a live log stream over websocket. It
// binds to loopback and never mutates daemon state.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/daemon"
	"github.com/darbylab/darby/internal/llm"
	"github.com/darbylab/darby/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Status is the /api/status payload.
type Status struct {
	Version         string               `json:"version"`
	Uptime          string               `json:"uptime"`
	Provider        string               `json:"provider"`
	Providers       []llm.ProviderStatus `json:"providers,omitempty"`
	ManifestVersion int                  `json:"manifest_version"`
	Daemon          daemon.Stats         `json:"daemon"`
}

// StatusFunc assembles the current status document.
type StatusFunc func(ctx context.Context) Status

// Server is the status API. A nil *Server (or empty addr) is a disabled
// server; Start and Shutdown are no-ops on it.
type Server struct {
	addr   string
	status StatusFunc
	logs   *logging.Broadcaster
	srv    *http.Server
}

// New builds the server. Returns nil when addr is empty, which disables the
// API entirely.
func New(addr string, status StatusFunc, logs *logging.Broadcaster) *Server {
	if addr == "" {
		return nil
	}
	return &Server{addr: addr, status: status, logs: logs}
}

// Start listens in the background and shuts down when ctx is canceled.
func (s *Server) Start(ctx context.Context) {
	if s == nil {
		return
	}

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // websocket streams stay open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Status API did not shut down cleanly")
		}
	}()

	go func() {
		log.Info().Str("addr", s.addr).Msg("Status API listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Status API stopped unexpectedly")
		}
	}()
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", readOnly(s.handleHealth))
	mux.HandleFunc("/api/status", readOnly(s.handleStatus))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/logs/ws", s.handleLogsWS)
	return mux
}

// readOnly rejects anything but GET; this API never mutates state.
func readOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "status source not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.status(r.Context()))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Loopback-only server; browsers on this machine are the audience.
	CheckOrigin: func(*http.Request) bool { return true },
}

const wsPingInterval = 30 * time.Second

// handleLogsWS streams buffered history and then live log lines until the
// client goes away or the broadcaster shuts down.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "log streaming not configured"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Log stream upgrade failed")
		return
	}
	defer conn.Close()

	id, lines, history := s.logs.Subscribe()
	defer s.logs.Unsubscribe(id)
	log.Debug().Str("subscriber", id).Msg("Log stream client connected")

	for _, line := range history {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	// Reader drains control frames and flags disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug().Str("subscriber", id).Msg("Log stream client disconnected")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Status API response write failed")
	}
}
