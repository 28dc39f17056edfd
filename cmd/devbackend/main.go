// Command devbackend serves the chat wire protocol with fixture users, so
// the client can be run end to end on a laptop.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mazungumzo/internal/backend"
	"mazungumzo/internal/config"
	"mazungumzo/internal/http"
	"mazungumzo/internal/stubs"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	cfg, err := config.Load(true)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	hub, err := backend.NewHub(backend.HubConfig{
		Users:         stubs.Users,
		Conversations: stubs.Fixtures(),
		MaxRecords:    cfg.BackendHistory,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	server := http.NewChatServer(hub, cfg.BackendAddr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
