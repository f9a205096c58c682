package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"camforge/internal/config"
	"camforge/internal/export"
	"camforge/internal/meta"
	"camforge/internal/photo"
	"camforge/internal/session"
	"camforge/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server exposes the session and export surface over HTTP.
type Server struct {
	addr       string
	cfg        *config.Config
	store      *storage.Store
	runner     *export.Runner
	normalizer *photo.Manager
	log        *slog.Logger
	server     *http.Server
	upgrader   websocket.Upgrader
	hub        *wsHub

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewServer wires the HTTP surface around an export runner.
func NewServer(cfg *config.Config, store *storage.Store, runner *export.Runner, normalizer *photo.Manager, log *slog.Logger) *Server {
	return &Server{
		addr:       cfg.Server.Listen,
		cfg:        cfg,
		store:      store,
		runner:     runner,
		normalizer: normalizer,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, same-host UI
			},
		},
		hub:      newHub(log),
		sessions: make(map[string]*session.Session),
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go s.hub.run(ctx)
	results, unsubscribe := s.runner.Subscribe()
	defer unsubscribe()
	go s.hub.pump(ctx, results)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/presets", s.handlePresets).Methods("GET")
	r.HandleFunc("/api/exports", s.handleExports).Methods("GET")
	r.HandleFunc("/api/sessions", s.handleCreateSession).Methods("POST")
	r.HandleFunc("/api/sessions/{id}", s.handleGetSession).Methods("GET")
	r.HandleFunc("/api/sessions/{id}/mode", s.handleSetMode).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/fields", s.handleSetFields).Methods("PUT")
	r.HandleFunc("/api/sessions/{id}/preset", s.handleApplyPreset).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/files", s.handleUpload).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/export", s.handleExport).Methods("POST")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// defaultFields seeds a new session from the configured defaults.
func (s *Server) defaultFields() meta.Input {
	d := s.cfg.Defaults
	return meta.Input{
		Make:      d.Make,
		Model:     d.Model,
		CaptureAt: time.Now().Format(meta.CaptureTimeLayout),
		Aperture:  d.Aperture,
		FocalMm:   d.Focal,
		Focal35Mm: d.Focal35,
		ISO:       d.ISO,
		Width:     d.Width,
	}
}

func (s *Server) session(id string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, apiError{Error: msg, Kind: kind})
}
