package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"
	"collab-sync/pkg/collab"
	"collab-sync/pkg/room"

	"github.com/gorilla/websocket"
)

// Handlers contains all HTTP and WebSocket handlers
type Handlers struct {
	roomManager *room.RoomManager
	service     *collab.Service
	verifier    auth.Verifier
	access      auth.Checker
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewHandlers creates a new handlers instance. allowedOrigin restricts
// websocket upgrades to one browser origin; empty or "*" allows any.
func NewHandlers(rm *room.RoomManager, service *collab.Service, verifier auth.Verifier, access auth.Checker, allowedOrigin string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		roomManager: rm,
		service:     service,
		verifier:    verifier,
		access:      access,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
		logger: logger,
	}
}

func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowed == "" || allowed == "*" || origin == "" || origin == allowed
	}
}

// Authenticate is the middleware guarding the REST routes.
func (h *Handlers) Authenticate(next http.Handler) http.Handler {
	return auth.Middleware(h.verifier, h.writeError)(next)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]interface{}{
		"status": status,
		"error":  apperr.Message(err),
	})
}

// Health reports that the process is serving.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"rooms":  h.roomManager.Rooms(),
	})
}
