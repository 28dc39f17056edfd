package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"mazungumzo/internal/backend"
)

// ChatServer exposes the dev backend: the websocket endpoint and the
// history endpoint.
type ChatServer struct {
	server *http.Server
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewChatServer(hub *backend.Hub, addr string, logger *slog.Logger) *ChatServer {
	if logger == nil {
		logger = slog.Default()
	}
	server := backend.NewServer(hub, logger)

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("GET /ws/chat/{userID}/", server.HandleConnections)

	// History service
	mux.HandleFunc("GET /api/chat/conversations/{conversationID}/messages/", server.HandleHistory)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if addr == "" {
		addr = ":8000"
	}

	return &ChatServer{
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *ChatServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *ChatServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *ChatServer) Serve(ln net.Listener) error {
	s.logger.Info("server started", "addr", ln.Addr().String())
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *ChatServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
