package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mazungumzo/internal/chat"
	"mazungumzo/internal/commands"
	"mazungumzo/internal/config"
	"mazungumzo/internal/history"
	"mazungumzo/internal/models"
	"mazungumzo/internal/storage"
	"mazungumzo/internal/ws"

	"golang.org/x/sync/errgroup"
)

// newSession wires a chat session for the configured identity.
func newSession(cfg *config.Config, cache chat.StateCache, onUpdate func(chat.Update)) (*chat.Session, error) {
	identity := models.Identity{
		ID:        models.ID(cfg.UserID),
		FirstName: cfg.FirstName,
		LastName:  cfg.LastName,
	}

	manager := ws.NewManager(ws.Config{
		ServerURL:            cfg.ServerURL,
		DialTimeout:          cfg.DialTimeout,
		Reconnect:            cfg.Reconnect,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, nil)

	return chat.NewSession(identity, manager, chat.Options{
		History:       history.NewClient(cfg.APIURL, identity.ID, nil),
		Cache:         cache,
		TypingTimeout: cfg.TypingTimeout,
		OnUpdate:      onUpdate,
	})
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(false)
	if err != nil {
		return err
	}

	bbStorage, err := storage.NewBboltStorage(cfg.StateDB)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	var repl *commands.REPL
	session, err := newSession(cfg, bbStorage, func(u chat.Update) {
		repl.HandleUpdate(u)
	})
	if err != nil {
		return err
	}
	defer session.Close()
	repl = commands.NewREPL(session, out)

	if err := session.Open(ctx); err != nil {
		// Keep going offline; cached conversations are still browsable.
		slog.Warn("failed to connect", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.Run(gCtx)
	})

	g.Go(func() error {
		defer cancel()
		return repl.Run(gCtx, in)
	})

	return g.Wait()
}

func main() {
	verbose := flag.Bool("v", false, "Log debug output")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
