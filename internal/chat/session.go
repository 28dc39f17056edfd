package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"mazungumzo/internal/models"
)

var (
	ErrNoIdentity           = errors.New("no signed-in identity")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrUnknownConversation  = errors.New("unknown conversation")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrClosed               = errors.New("session closed")
)

// Connection is the realtime transport as seen by the session.
type Connection interface {
	Open(ctx context.Context, identity models.Identity) error
	Send(cmd models.Command) bool
	Events() <-chan models.ServerEvent
	Connected() bool
	Close()
}

// HistoryFetcher loads the message history of a conversation.
type HistoryFetcher interface {
	Fetch(ctx context.Context, conversationID models.ID) ([]models.Message, error)
}

// StateCache persists the parts of the state that should survive a
// restart of the client.
type StateCache interface {
	ReplaceConversations(userID models.ID, conversations []models.Conversation) error
	ListConversations(userID models.ID) ([]models.Conversation, error)
	UpsertUnread(userID, conversationID models.ID, count int) error
	ListUnread(userID models.ID) (map[models.ID]int, error)
}

// Update describes what Run just applied: an inbound event, or the
// history of a conversation.
type Update struct {
	Event   *models.ServerEvent
	History models.ID
}

type Options struct {
	History       HistoryFetcher
	Cache         StateCache
	Clock         Clock
	TypingTimeout time.Duration

	// OnUpdate is called from Run after each applied update, without
	// holding the session lock.
	OnUpdate func(Update)
}

type historyResult struct {
	selection      uint64
	conversationID models.ID
	messages       []models.Message
	err            error
}

// Session is the chat state of one signed-in identity. Inbound events and
// history results are applied one at a time by Run; user intents may be
// called from any goroutine.
type Session struct {
	identity models.Identity
	conn     Connection
	history  HistoryFetcher
	cache    StateCache
	typing   *TypingController
	onUpdate func(Update)
	logger   *slog.Logger

	mu        sync.RWMutex
	state     *State
	selection uint64

	loaded    chan historyResult
	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSession(identity models.Identity, conn Connection, opts Options) (*Session, error) {
	if identity.ID == "" {
		return nil, ErrNoIdentity
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		identity: identity,
		conn:     conn,
		history:  opts.History,
		cache:    opts.Cache,
		typing:   NewTypingController(conn.Send, opts.Clock, opts.TypingTimeout),
		onUpdate: opts.OnUpdate,
		logger:   slog.Default().With("user_id", identity.ID.String()),
		state:    NewState(identity.ID),
		loaded:   make(chan historyResult),
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
	}
	s.restore()
	return s, nil
}

func (s *Session) restore() {
	if s.cache == nil {
		return
	}
	convs, err := s.cache.ListConversations(s.identity.ID)
	if err != nil {
		s.logger.Warn("failed to restore conversations", "error", err)
	} else {
		s.state.Conversations = convs
	}
	unread, err := s.cache.ListUnread(s.identity.ID)
	if err != nil {
		s.logger.Warn("failed to restore unread counts", "error", err)
	} else {
		s.state.Unread.Restore(unread)
	}
}

// Open connects the session's identity. It blocks until the transport is
// open or has failed.
func (s *Session) Open(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	return s.conn.Open(ctx, s.identity)
}

// Run applies inbound events in arrival order until ctx is done or the
// session is closed.
func (s *Session) Run(ctx context.Context) error {
	events := s.conn.Events()
	for {
		select {
		case ev := <-events:
			s.dispatch(ev)
			s.notify(Update{Event: &ev})
		case res := <-s.loaded:
			if s.applyHistory(res) {
				s.notify(Update{History: res.conversationID})
			}
		case <-s.closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Close cancels the typing timer, releases the connection and waits for
// outstanding history fetches. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.mu.Unlock()

		s.cancel()
		s.typing.Stop()
		s.conn.Close()
		s.wg.Wait()
	})
}

func (s *Session) dispatch(ev models.ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	change := s.state.Apply(ev)
	if change == (Change{}) && ev.Type != models.EventTypeTyping {
		s.logger.Debug("event had no effect", "type", ev.Type)
	}
	s.persist(change)
}

func (s *Session) notify(u Update) {
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}

// applyHistory merges a fetch result and reports whether the log changed.
func (s *Session) applyHistory(res historyResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.selection != s.selection {
		s.logger.Debug("discarding stale history", "conversation_id", res.conversationID.String())
		return false
	}
	if res.err != nil {
		s.logger.Warn("failed to fetch history", "conversation_id", res.conversationID.String(), "error", res.err)
		return false
	}
	s.state.MergeHistory(res.conversationID, res.messages)
	return true
}

// persist writes changed state through to the cache. Caller holds s.mu.
func (s *Session) persist(change Change) {
	if s.cache == nil {
		return
	}
	if change.Conversations {
		if err := s.cache.ReplaceConversations(s.identity.ID, s.state.Conversations); err != nil {
			s.logger.Warn("failed to cache conversations", "error", err)
		}
	}
	if change.Unread != "" {
		count := s.state.Unread.CountFor(change.Unread)
		if err := s.cache.UpsertUnread(s.identity.ID, change.Unread, count); err != nil {
			s.logger.Warn("failed to cache unread count", "conversation_id", change.Unread.String(), "error", err)
		}
	}
}

// SelectConversation makes id the active conversation and starts loading
// its history. Selecting the active conversation again repeats the same
// steps.
func (s *Session) SelectConversation(id models.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	if _, ok := s.state.Conversation(id); !ok {
		return ErrUnknownConversation
	}
	if s.state.ActiveID != id {
		s.typing.Cancel()
	}
	s.persist(s.state.Select(id))
	s.selection++

	if s.history != nil {
		s.fetchHistory(s.selection, id)
	}
	return nil
}

// fetchHistory loads history in the background and hands the result to
// Run. Caller holds s.mu.
func (s *Session) fetchHistory(selection uint64, id models.ID) {
	s.wg.Go(func() {
		msgs, err := s.history.Fetch(s.ctx, id)
		select {
		case s.loaded <- historyResult{
			selection:      selection,
			conversationID: id,
			messages:       msgs,
			err:            err,
		}:
		case <-s.closed:
		}
	})
}

// SendMessage posts content to the active conversation. The message shows
// up in the log once the backend echoes it back. While disconnected the
// command is dropped; Connected tells the caller whether that happened.
func (s *Session) SendMessage(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	s.mu.RLock()
	active := s.state.ActiveID
	s.mu.RUnlock()
	if active == "" {
		return ErrNoActiveConversation
	}

	s.conn.Send(models.SendMessage{ConversationID: active, Content: content})
	s.typing.Sent(active)
	return nil
}

// NotifyTyping records a change to the draft of the active conversation.
func (s *Session) NotifyTyping() error {
	s.mu.RLock()
	active := s.state.ActiveID
	s.mu.RUnlock()
	if active == "" {
		return ErrNoActiveConversation
	}

	s.typing.Activity(active)
	return nil
}

func (s *Session) Identity() models.Identity {
	return s.identity
}

func (s *Session) Connected() bool {
	return s.conn.Connected()
}

func (s *Session) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Conversations)
}

func (s *Session) ActiveConversation() (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.ActiveID == "" {
		return models.Conversation{}, false
	}
	return s.state.Conversation(s.state.ActiveID)
}

func (s *Session) ActiveID() models.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveID
}

func (s *Session) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Log)
}

// PeerTyping reports whether the other side is typing in the active
// conversation.
func (s *Session) PeerTyping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.PeerTyping
}

func (s *Session) UnreadCount(id models.ID) int {
	return s.state.Unread.CountFor(id)
}

func (s *Session) Unread() map[models.ID]int {
	return s.state.Unread.Snapshot()
}
