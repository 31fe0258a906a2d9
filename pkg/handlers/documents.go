package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"

	"github.com/gorilla/mux"
)

func caller(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

// CreateDocument creates a new document owned by the caller
func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Wrap(apperr.Invalid, err, "Invalid JSON"))
		return
	}

	doc, err := h.service.CreateDocument(r.Context(), caller(r).UserID, req.Title, req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// ListDocuments returns the documents the caller owns or was granted
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListDocuments(r.Context(), caller(r).UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetDocument retrieves a document by ID
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetDocument(r.Context(), caller(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument deletes a document
func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteDocument(r.Context(), caller(r).UserID, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantRole shares a document with another user
func (h *Handlers) GrantRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Wrap(apperr.Invalid, err, "Invalid JSON"))
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.service.GrantRole(r.Context(), caller(r).UserID, mux.Vars(r)["id"], req.UserID, role); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSnapshots returns a document's checkpoints, newest first
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.service.ListSnapshots(r.Context(), caller(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// RestoreSnapshot rolls a document back to a snapshot. Connected members
// receive the change as an ordinary op_applied.
func (h *Handlers) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snapshotID, err := strconv.ParseInt(vars["snapshotId"], 10, 64)
	if err != nil {
		h.writeError(w, apperr.Wrap(apperr.Invalid, err, "Invalid snapshot id"))
		return
	}

	res, err := h.roomManager.Restore(r.Context(), caller(r).UserID, vars["id"], snapshotID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documentId": vars["id"],
		"content":    res.Content,
		"version":    res.Version,
	})
}

// ListOperations returns the document's op log
func (h *Handlers) ListOperations(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.OpLog(r.Context(), caller(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetRoomUsers returns the list of users in a room
func (h *Handlers) GetRoomUsers(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if err := h.access.RequireAccess(r.Context(), caller(r).UserID, roomID, auth.RoleView); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"users":   h.roomManager.Users(roomID),
	})
}

// Routes registers every endpoint on r.
func (h *Handlers) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// WebSocket endpoint for real-time collaboration
	r.HandleFunc("/ws", h.HandleWebSocket)
	r.HandleFunc("/ws/{documentId}", h.HandleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.Authenticate)
	api.HandleFunc("/documents", h.CreateDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents", h.ListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/permissions", h.GrantRole).Methods(http.MethodPut)
	api.HandleFunc("/documents/{id}/snapshots", h.ListSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/snapshots/{snapshotId}/restore", h.RestoreSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/operations", h.ListOperations).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/users", h.GetRoomUsers).Methods(http.MethodGet)
}
