// Package web exposes a location manager over HTTP: a small JSON control API
// and a websocket stream of the events it delivers.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Bucknalla/go-gpx-location/location"
)

// Message is one websocket frame.
type Message struct {
	Type string `json:"type"` // location, heading, enter_region, exit_region, status
	Data any    `json:"data"`
}

// Server serves the control API for one manager. It implements
// location.Delegate and location.RegionDelegate, so registering it on the
// manager streams events to websocket clients.
type Server struct {
	manager  *location.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan Message
}

// NewServer creates a server controlling m.
func NewServer(m *location.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager: m,
		logger:  logger.With("component", "web"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 64),
	}
}

// Handler returns the router for the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Routes live on the root router so a wrong method gets 405, not 404.
	r.HandleFunc("/api/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/api/kill", s.handleKill).Methods(http.MethodPost)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/locations", s.handleLocations).Methods(http.MethodPost)
	r.HandleFunc("/api/config", s.handleConfig).Methods(http.MethodPost)
	r.HandleFunc("/api/ws", s.handleWebSocket)

	r.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

// Run forwards queued events to websocket clients until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.closeClients()
			return nil
		case msg := <-s.broadcast:
			s.send(msg)
		}
	}
}

func (s *Server) send(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		if err := client.WriteJSON(msg); err != nil {
			s.logger.Warn("websocket write failed", "remote", client.RemoteAddr().String(), "error", err)
			client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}

// publish queues msg without blocking the delivering goroutine. Messages are
// dropped while the queue is full.
func (s *Server) publish(msg Message) {
	select {
	case s.broadcast <- msg:
	default:
		s.logger.Debug("websocket queue full, dropping event", "type", msg.Type)
	}
}

func (s *Server) OnLocationUpdate(_ location.Control, sample location.PositionSample) {
	s.publish(Message{Type: "location", Data: sample})
}

func (s *Server) OnHeadingUpdate(_ location.Control, heading location.HeadingSample) {
	s.publish(Message{Type: "heading", Data: heading})
}

func (s *Server) OnEnterRegion(_ location.Control, r location.Region) {
	s.publish(Message{Type: "enter_region", Data: r})
}

func (s *Server) OnExitRegion(_ location.Control, r location.Region) {
	s.publish(Message{Type: "exit_region", Data: r})
}

// Status is the body of GET /api/status.
type Status struct {
	Mode          string                   `json:"mode"`
	Simulating    bool                     `json:"simulating"`
	Authorization string                   `json:"authorization"`
	Playback      *location.Status         `json:"playback,omitempty"`
	Location      *location.PositionSample `json:"location,omitempty"`
	Heading       *location.HeadingSample  `json:"heading,omitempty"`
	Clients       int                      `json:"clients"`
}

func (s *Server) status() Status {
	st := Status{
		Mode:          s.manager.Mode().String(),
		Simulating:    s.manager.Simulating(),
		Authorization: s.manager.AuthorizationStatus().String(),
	}
	if sim, ok := s.manager.Simulator(); ok {
		ps := sim.Status()
		st.Playback = &ps
	}
	if loc, ok := s.manager.Location(); ok {
		st.Location = &loc
	}
	if h, ok := s.manager.Heading(); ok {
		st.Heading = &h
	}
	s.mu.Lock()
	st.Clients = len(s.clients)
	s.mu.Unlock()
	return st
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The first frame is written before the client is registered, so it
	// cannot race with broadcasts.
	if err := conn.WriteJSON(Message{Type: "status", Data: s.status()}); err != nil {
		s.logger.Warn("error sending status", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("websocket client connected", "clients", n)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, conn)
	n = len(s.clients)
	s.mu.Unlock()
	s.logger.Info("websocket client disconnected", "clients", n)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.manager.StartUpdatingLocation()
	s.logger.Info("location updates started")
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.manager.StopUpdatingLocation()
	s.logger.Info("location updates stopped")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	s.manager.Kill()
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	var samples []location.PositionSample
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	for i, sample := range samples {
		if err := sample.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("location %d: %v", i, err), http.StatusBadRequest)
			return
		}
	}

	if err := s.manager.SetLocations(samples); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, location.ErrModeViolation) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.logger.Info("track replaced", "points", len(samples))
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "points": len(samples)})
}

// ConfigUpdate is the body of POST /api/config. Absent fields are left
// unchanged.
type ConfigUpdate struct {
	SecondLength   *float64 `json:"second_length"`
	DistanceFilter *float64 `json:"distance_filter"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var update ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if update.SecondLength != nil {
		if err := s.manager.SetSecondLength(*update.SecondLength); err != nil {
			http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusBadRequest)
			return
		}
	}
	if update.DistanceFilter != nil {
		s.manager.SetDistanceFilter(*update.DistanceFilter)
	}
	s.logger.Info("configuration updated", "second_length", s.manager.SecondLength(), "distance_filter", s.manager.DistanceFilter())
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
