// Package statusserver serves the local pages shown by the kiosk browser and
// a small status API for them, plus health checks and metrics.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onesibox/onesibox/internal/agent/hal"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/pkg/log"
	"github.com/onesibox/onesibox/pkg/mqtt"
	"github.com/onesibox/onesibox/pkg/options"
	"github.com/onesibox/onesibox/pkg/version"
)

// StateSource provides the device state.
type StateSource interface {
	Snapshot() state.Snapshot
}

// PushStatus reports the push channel state. It is optional.
type PushStatus interface {
	Status() mqtt.ConnectionState
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status           state.Status           `json:"status"`
	ConnectionStatus state.ConnectionStatus `json:"connectionStatus"`
	PushStatus       string                 `json:"pushStatus,omitempty"`
	Volume           int                    `json:"volume"`
	CurrentMedia     *state.Media           `json:"currentMedia"`
	CurrentMeeting   *state.Meeting         `json:"currentMeeting"`
	LastHeartbeat    *time.Time             `json:"lastHeartbeat"`
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	state   StateSource
	push    PushStatus
	ready   atomic.Bool

	ln net.Listener
}

func NewServer(opts *options.HttpOptions, st StateSource, push PushStatus) *Server {
	s := &Server{options: opts, state: st, push: push}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router. Unknown paths fall through to the static pages.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/system-info", s.handleSystemInfo).Methods(http.MethodGet)

	if s.options.StaticDir != "" {
		// http.Dir rejects paths escaping the root.
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.options.StaticDir))).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}

// SetReady flips the readiness check.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.state.Snapshot()
	resp := StatusResponse{
		Status:           snap.Status,
		ConnectionStatus: snap.ConnectionStatus,
		Volume:           snap.Volume,
		CurrentMedia:     snap.CurrentMedia,
		CurrentMeeting:   snap.CurrentMeeting,
		LastHeartbeat:    snap.LastHeartbeat,
	}
	if s.push != nil {
		resp.PushStatus = string(s.push.Status())
	}
	writeJSON(w, resp)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, _ *http.Request) {
	ip, _ := hal.PrimaryIPv4()
	writeJSON(w, map[string]string{
		"version": version.Get().GitVersion,
		"ip":      ip,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "error", err)
	}
}

// Listen binds the server address. Start calls it when it has not been
// called yet.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.server.Addr
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	log.Info("Starting HTTP Server", "addr", s.Addr(), "staticDir", s.options.StaticDir)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.options.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
