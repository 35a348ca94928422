// Package server exposes the annotated stream and alert state over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
)

// Config defines the HTTP surface settings.
type Config struct {
	AllowOrigin         string
	AlertStreamInterval time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		AllowOrigin:         "*",
		AlertStreamInterval: time.Second,
	}
}

// Server serves the stream, alert and health endpoints.
type Server struct {
	cfg         Config
	state       *alert.State
	broadcaster *FrameBroadcaster
}

// NewServer returns a configured server. The broadcaster must be started
// separately.
func NewServer(cfg Config, state *alert.State, broadcaster *FrameBroadcaster) *Server {
	if cfg.AlertStreamInterval <= 0 {
		cfg.AlertStreamInterval = DefaultConfig().AlertStreamInterval
	}
	return &Server{
		cfg:         cfg,
		state:       state,
		broadcaster: broadcaster,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/video_feed", getOnly(s.handleVideoFeed))
	mux.HandleFunc("/api/alert", getOnly(s.handleAlert))
	mux.HandleFunc("/api/alert/stream", getOnly(s.handleAlertStream))
	mux.HandleFunc("/api/health", getOnly(s.handleHealth))

	return withCORS(s.cfg.AllowOrigin, mux)
}

func withCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	id, partCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	logger.Info("Server", "Stream client %s connected from %s", id, r.RemoteAddr)
	streamMJPEGFromChannel(r.Context(), w, partCh)
	logger.Info("Server", "Stream client %s finished", id)
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.state.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	writeJSON(w, map[string]any{"camera_status": snap.CameraStatus})
}

func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamAlertEvents(r.Context(), w, s.state, s.cfg.AlertStreamInterval, useProtobuf)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
