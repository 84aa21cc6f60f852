// Package rpc exposes the market's HTTP surface: the inbound message
// endpoint, health checks, metrics, and a read-only state view.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lomarket/core"
	"lomarket/protocol"
)

// Server accepts protocol messages over HTTP and feeds them to the node.
type Server struct {
	node *core.Node
	log  *slog.Logger
	http *http.Server
}

// NewServer builds the HTTP frontend for the given node.
func NewServer(listen string, node *core.Node, log *slog.Logger) *Server {
	s := &Server{node: node, log: log}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/message", s.handleMessage)
	r.Get("/info", s.handleInfo)

	s.http = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var msg protocol.Message
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message payload")
		return
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	select {
	case s.node.Inbox() <- msg:
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"accepted":true}`))
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.node.InfoView())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("rpc listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
