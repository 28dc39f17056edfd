package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"mazungumzo/internal/models"
	"mazungumzo/internal/protocol"
)

var errReplaced = errors.New("connection replaced by a newer one")

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
}

type messageHub interface {
	Join(userID models.ID) (chan models.ServerEvent, error)
	Leave(userID models.ID, ch chan models.ServerEvent)
	Dispatch(userID models.ID, cmd models.ClientCommand) error
}

// Connection serves one websocket client of the dev backend.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	userID     models.ID
	logger     *slog.Logger
	fromClient chan models.ClientCommand
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	userID models.ID,
	logger *slog.Logger,
) (*Connection, error) {
	outbox, err := hub.Join(userID)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		logger:     logger.With("user_id", userID),
		fromClient: make(chan models.ClientCommand),
		fromServer: outbox,
		errorCh:    make(chan error, 2),
	}, nil
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.Leave(c.userID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			c.logger.Debug("ignoring client frame", "error", err)
			continue
		}
		select {
		case c.fromClient <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case cmd := <-c.fromClient:
			if err := c.hub.Dispatch(c.userID, cmd); err != nil {
				c.logger.Warn("command rejected", "type", cmd.Type, "conversation_id", cmd.ConversationID, "error", err)
			}
		case ev, ok := <-c.fromServer:
			if !ok {
				return errReplaced
			}
			if err := c.ws.WriteJSON(protocol.EventFrame(ev)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
