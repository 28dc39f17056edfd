package ws

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

const TextMessage = websocket.TextMessage

// wsConnection is the subset of *websocket.Conn the manager relies on.
type wsConnection interface {
	Close() error
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Dialer opens a transport to addr. It must honour ctx cancellation.
type Dialer func(ctx context.Context, addr string) (wsConnection, error)

// DefaultDialer dials with gorilla's default dialer.
func DefaultDialer(ctx context.Context, addr string) (wsConnection, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}
