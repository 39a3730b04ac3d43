package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

// SessionRegistry is the room lifecycle surface the HTTP API drives.
type SessionRegistry interface {
	CreateSession(ctx context.Context, quiz models.QuizSnapshot, hostUserID string) (*live.Session, error)
	LookupByID(id uuid.UUID) (*live.Session, error)
}

// RoomsHandler handles the room HTTP API: creation, state reads and final
// results.
type RoomsHandler struct {
	registry SessionRegistry
	quizzes  live.QuizLoader
}

// NewRoomsHandler creates a rooms handler.
func NewRoomsHandler(registry SessionRegistry, quizzes live.QuizLoader) *RoomsHandler {
	return &RoomsHandler{
		registry: registry,
		quizzes:  quizzes,
	}
}

// CreateRoomRequest is the body for POST /api/rooms.
type CreateRoomRequest struct {
	QuizID     string `json:"quiz_id"`
	HostUserID string `json:"host_user_id"`
}

// CreateRoomResponse is the reply for a created room.
type CreateRoomResponse struct {
	RoomID   string `json:"room_id"`
	RoomCode string `json:"room_code"`
}

// HandleCreateRoom handles POST /api/rooms.
func (h *RoomsHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.QuizID == "" || req.HostUserID == "" {
		http.Error(w, "quiz_id and host_user_id are required", http.StatusBadRequest)
		return
	}

	quiz, err := h.quizzes.LoadQuiz(r.Context(), req.QuizID)
	if err != nil {
		log.Error().Err(err).Str("quiz_id", req.QuizID).Msg("failed to load quiz")
		http.Error(w, "Failed to load quiz", httpStatus(err))
		return
	}

	session, err := h.registry.CreateSession(r.Context(), quiz, req.HostUserID)
	if err != nil {
		log.Error().Err(err).Str("quiz_id", req.QuizID).Msg("failed to create session")
		http.Error(w, "Failed to create room", httpStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(CreateRoomResponse{
		RoomID:   session.ID().String(),
		RoomCode: session.Code(),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode create room response")
	}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state. The optional
// participant_id query parameter scopes the snapshot to one viewer.
func (h *RoomsHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := h.sessionFromPath(w, r, "/state")
	if !ok {
		return
	}
	snapshot := session.Snapshot(r.URL.Query().Get("participant_id"))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// HandleGetRoomResults handles GET /api/rooms/{id}/results. Returns 404 until
// the session has ended.
func (h *RoomsHandler) HandleGetRoomResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := h.sessionFromPath(w, r, "/results")
	if !ok {
		return
	}
	final, err := session.FinalResults()
	if err != nil {
		http.Error(w, "Results not available", httpStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(final); err != nil {
		log.Error().Err(err).Msg("failed to encode room results response")
	}
}

// HandleHealthz handles GET /healthz.
func (h *RoomsHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// RegisterRoutes registers the room HTTP routes with an HTTP mux.
func (h *RoomsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/api/rooms", h.HandleCreateRoom)

	// Subresource routes share a prefix; dispatch on the suffix.
	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/state"):
			h.HandleGetRoomState(w, r)
		case strings.HasSuffix(r.URL.Path, "/results"):
			h.HandleGetRoomResults(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// sessionFromPath resolves the room from a path like /api/rooms/{id}{suffix},
// writing the error response itself when resolution fails.
func (h *RoomsHandler) sessionFromPath(w http.ResponseWriter, r *http.Request, suffix string) (*live.Session, bool) {
	idStr := extractRoomIDFromPath(r.URL.Path, suffix)
	if idStr == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return nil, false
	}
	roomID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "Invalid room ID format", http.StatusBadRequest)
		return nil, false
	}

	session, err := h.registry.LookupByID(roomID)
	if err != nil {
		http.Error(w, "Room not found", httpStatus(err))
		return nil, false
	}
	return session, true
}

// extractRoomIDFromPath extracts the room ID from a path like
// /api/rooms/{id}/state.
func extractRoomIDFromPath(path, suffix string) string {
	const prefix = "/api/rooms/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := path[len(prefix) : len(path)-len(suffix)]
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

// httpStatus maps session errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, live.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, live.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, live.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, live.ErrInvalidTransition), errors.Is(err, live.ErrDuplicateAnswer), errors.Is(err, live.ErrTooLate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
