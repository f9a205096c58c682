package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"camforge/internal/export"
)

// wsHub fans export results out to connected websocket clients.
type wsHub struct {
	log        *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newHub(log *slog.Logger) *wsHub {
	return &wsHub{
		log:        log,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *wsHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug("websocket client disconnected", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}

// exportEvent is the wire shape of one result on the stream.
type exportEvent struct {
	AttemptID string `json:"attempt_id"`
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
	Artifact  string `json:"artifact,omitempty"`
	AssetID   string `json:"asset_id,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// pump forwards runner results into the hub until ctx ends.
func (h *wsHub) pump(ctx context.Context, results <-chan export.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			ev := exportEvent{
				AttemptID: res.Request.ID,
				SessionID: res.Request.Session.ID(),
				Mode:      string(res.Mode),
				Status:    "completed",
				Artifact:  res.Artifact,
				AssetID:   res.AssetID,
			}
			if res.Error != nil {
				ev.Status = "failed"
				ev.Error = res.Error.Error()
				ev.ErrorKind = errKind(res.Error)
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- payload:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
