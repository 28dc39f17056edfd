package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"mazungumzo/internal/models"
	"mazungumzo/internal/protocol"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed      = errors.New("connection closed")
	ErrNoIdentity  = errors.New("identity is required to open a connection")
	errClientClose = errors.New("closed by client")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Config struct {
	// ServerURL is the websocket base, e.g. ws://localhost:8000.
	ServerURL   string
	DialTimeout time.Duration

	Reconnect            bool
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// OutboundBuffer bounds commands queued for the writer.
	OutboundBuffer int
	// EventBuffer bounds decoded events waiting for the consumer.
	EventBuffer int

	// OnStateChange, if set, is called after every transition while the
	// manager lock is held; it must not call back into the Manager.
	OnStateChange func(state State, reason error)
}

// Manager owns the single realtime connection of one identity.
type Manager struct {
	cfg    Config
	dial   Dialer
	base   *slog.Logger
	logger *slog.Logger

	events chan models.ServerEvent

	mu       sync.Mutex
	state    State
	reason   error
	identity models.Identity
	conn     wsConnection
	outbound chan []byte
	cancel   context.CancelFunc
	done     chan struct{}
	// changed is closed and replaced on every transition.
	changed  chan struct{}
}

func NewManager(cfg Config, dial Dialer) *Manager {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.OutboundBuffer == 0 {
		cfg.OutboundBuffer = 64
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 256
	}
	if dial == nil {
		dial = DefaultDialer
	}
	base := slog.Default().With("session_id", uuid.NewString())
	return &Manager{
		cfg:    cfg,
		dial:   dial,
		base:   base,
		logger:  base,
		events:  make(chan models.ServerEvent, cfg.EventBuffer),
		changed: make(chan struct{}),
	}
}

// Address returns the websocket address of identity's connection.
func Address(serverURL string, userID models.ID) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	return u.JoinPath("ws", "chat", userID.String()).String() + "/", nil
}

// Events delivers inbound events in transport order. The channel outlives
// individual connections and is never closed.
func (m *Manager) Events() <-chan models.ServerEvent {
	return m.events
}

// Status returns the current state and, for StateClosed, its reason.
func (m *Manager) Status() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

func (m *Manager) Connected() bool {
	state, _ := m.Status()
	return state == StateOpen
}

// Open connects identity and blocks until the transport is open or failed.
// Opening the identity that is already open is a no-op, and opening it
// while it is connecting waits for that attempt. A different identity
// replaces the current connection.
func (m *Manager) Open(ctx context.Context, identity models.Identity) error {
	if identity.ID == "" {
		return ErrNoIdentity
	}

	m.mu.Lock()
	if m.state == StateConnecting && m.identity.ID == identity.ID {
		return m.awaitSettled(ctx, identity.ID)
	}
	if m.state == StateOpen || m.state == StateConnecting {
		if m.identity.ID == identity.ID {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		m.Close()
		m.mu.Lock()
	}
	m.identity = identity
	m.logger = m.base.With("user_id", identity.ID.String())
	m.setState(StateConnecting, nil)
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	conn, err := m.connect(ctx, identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != done || m.state != StateConnecting {
		// Close raced the dial.
		if conn != nil {
			_ = conn.Close()
		}
		close(done)
		return ErrClosed
	}
	if err != nil {
		m.setState(StateClosed, err)
		close(done)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.attach(conn)
	go m.supervise(runCtx, conn, done)
	return nil
}

// awaitSettled waits for the pending attempt of userID to leave
// StateConnecting. Caller holds m.mu; it is released on return.
func (m *Manager) awaitSettled(ctx context.Context, userID models.ID) error {
	for m.state == StateConnecting && m.identity.ID == userID {
		changed := m.changed
		m.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}
	state, reason, current := m.state, m.reason, m.identity.ID
	m.mu.Unlock()

	switch {
	case current != userID:
		return ErrClosed
	case state == StateOpen:
		return nil
	case reason == nil || errors.Is(reason, errClientClose):
		return ErrClosed
	default:
		return reason
	}
}

func (m *Manager) connect(ctx context.Context, identity models.Identity) (wsConnection, error) {
	addr, err := Address(m.cfg.ServerURL, identity.ID)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, err := m.dial(dialCtx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

// attach installs conn as the live transport. Caller holds m.mu.
func (m *Manager) attach(conn wsConnection) {
	m.conn = conn
	m.outbound = make(chan []byte, m.cfg.OutboundBuffer)
	m.setState(StateOpen, nil)
}

// Send enqueues cmd for the writer. Commands issued while the connection
// is not open are dropped. Send never blocks and reports whether cmd was
// queued.
func (m *Manager) Send(cmd models.Command) bool {
	data, err := protocol.Encode(cmd)
	if err != nil {
		m.base.Error("failed to encode command", "error", err)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen {
		m.logger.Debug("dropping command, connection not open", "type", cmd.CommandType(), "state", m.state.String())
		return false
	}

	select {
	case m.outbound <- data:
		return true
	default:
		m.logger.Warn("dropping command, outbound queue full", "type", cmd.CommandType())
		return false
	}
}

// Close tears the connection down. It is safe to call repeatedly and
// waits until the transport goroutines have exited.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateDisconnected || (m.state == StateClosed && m.conn == nil) {
		m.mu.Unlock()
		return
	}
	done := m.done
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.setState(StateClosed, errClientClose)
	// A pending Open observes the state change and closes done itself.
	m.done = nil
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

// supervise runs conn until it fails, then either reconnects or settles
// into StateClosed. It closes done on exit.
func (m *Manager) supervise(ctx context.Context, conn wsConnection, done chan struct{}) {
	defer close(done)

	recon := newReconnector(m.cfg)
	for {
		err := m.pump(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			// Close won the lock; its state stands.
			m.mu.Unlock()
			return
		}
		m.conn = nil
		if !m.cfg.Reconnect {
			m.setState(StateClosed, err)
			m.mu.Unlock()
			m.logger.Warn("connection lost", "error", err)
			return
		}
		m.setState(StateConnecting, err)
		identity := m.identity
		m.mu.Unlock()

		m.logger.Warn("connection lost, reconnecting", "error", err)
		next, rerr := m.redial(ctx, recon, identity)
		if rerr != nil {
			m.mu.Lock()
			if ctx.Err() == nil {
				m.setState(StateClosed, rerr)
			}
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			_ = next.Close()
			return
		}
		m.attach(next)
		m.mu.Unlock()
		recon.markConnected()
		conn = next
	}
}

func (m *Manager) redial(ctx context.Context, recon *reconnector, identity models.Identity) (wsConnection, error) {
	var lastErr error
	for recon.shouldReconnect() {
		delay := recon.nextDelay()
		m.logger.Info("reconnect scheduled", "attempt", recon.attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		conn, err := m.connect(ctx, identity)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		m.logger.Warn("reconnect failed", "attempt", recon.attempt, "error", err)
	}
	return nil, fmt.Errorf("giving up after %d reconnect attempts: %w", recon.attempt, lastErr)
}

// pump runs the reader and writer of conn until either fails or ctx ends.
func (m *Manager) pump(ctx context.Context, conn wsConnection) error {
	m.mu.Lock()
	outbound := m.outbound
	m.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			ev, err := protocol.Decode(data)
			if err != nil {
				m.logger.Debug("ignoring malformed event", "error", err)
				continue
			}
			select {
			case m.events <- ev:
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case data := <-outbound:
				if err := conn.WriteMessage(TextMessage, data); err != nil {
					_ = conn.Close()
					return fmt.Errorf("write: %w", err)
				}
			case <-gCtx.Done():
				// Unblock the reader.
				_ = conn.Close()
				return gCtx.Err()
			}
		}
	})

	return g.Wait()
}

// setState records a transition. Caller holds m.mu.
func (m *Manager) setState(state State, reason error) {
	m.state = state
	m.reason = reason
	if reason != nil {
		m.logger.Info("connection state changed", "state", state.String(), "reason", reason)
	} else {
		m.logger.Info("connection state changed", "state", state.String())
	}
	close(m.changed)
	m.changed = make(chan struct{})
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(state, reason)
	}
}
