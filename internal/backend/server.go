package backend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mazungumzo/internal/content"
	"mazungumzo/internal/history"
	"mazungumzo/internal/models"

	"github.com/gorilla/websocket"
)

type Server struct {
	hub      *Hub
	upgrader *websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:    hub,
		logger: logger,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dev backend, any origin
			},
		},
	}
}

// HandleConnections upgrades GET /ws/chat/{userID}/ to a websocket.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := content.ValidateID(userID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.hub.HasUser(models.ID(userID)) {
		http.Error(w, "Unknown user", http.StatusNotFound)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("error upgrading to websocket", "error", err)
		return
	}

	conn, err := NewConnection(s.hub, ws, models.ID(userID), s.logger)
	if err != nil {
		s.logger.Error("error joining hub", "user_id", userID, "error", err)
		_ = ws.Close()
		return
	}

	if err := conn.Handle(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Info("connection ended", "user_id", userID, "error", err)
	}
}

// HandleHistory serves GET /api/chat/conversations/{conversationID}/messages/.
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(history.UserHeader)
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conversationID := r.PathValue("conversationID")

	messages, err := s.hub.History(models.ID(userID), models.ID(conversationID))
	switch {
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(messages); err != nil {
		s.logger.Error("failed to write history", "error", err)
	}
}
