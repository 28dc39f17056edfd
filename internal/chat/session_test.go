package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mazungumzo/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	open   bool
	opens  int
	closed int
	sent   []models.Command
	events chan models.ServerEvent
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan models.ServerEvent, 16)}
}

func (c *fakeConn) Open(ctx context.Context, identity models.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		c.opens++
	}
	c.open = true
	return nil
}

func (c *fakeConn) Send(cmd models.Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.sent = append(c.sent, cmd)
	return true
}

func (c *fakeConn) Events() <-chan models.ServerEvent { return c.events }

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed++
}

func (c *fakeConn) commands() []models.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Command(nil), c.sent...)
}

type fakeHistory struct {
	mu      sync.Mutex
	calls   []models.ID
	release chan struct{}
	byID    map[models.ID][]models.Message
	err     error
}

func (h *fakeHistory) Fetch(ctx context.Context, id models.ID) ([]models.Message, error) {
	h.mu.Lock()
	h.calls = append(h.calls, id)
	release := h.release
	h.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byID[id], h.err
}

func (h *fakeHistory) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type memCache struct {
	mu     sync.Mutex
	convs  map[models.ID][]models.Conversation
	unread map[models.ID]map[models.ID]int
}

func newMemCache() *memCache {
	return &memCache{
		convs:  make(map[models.ID][]models.Conversation),
		unread: make(map[models.ID]map[models.ID]int),
	}
}

func (m *memCache) ReplaceConversations(userID models.ID, conversations []models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[userID] = append([]models.Conversation(nil), conversations...)
	return nil
}

func (m *memCache) ListConversations(userID models.ID) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Conversation(nil), m.convs[userID]...), nil
}

func (m *memCache) UpsertUnread(userID, conversationID models.ID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unread[userID] == nil {
		m.unread[userID] = make(map[models.ID]int)
	}
	m.unread[userID][conversationID] = count
	return nil
}

func (m *memCache) ListUnread(userID models.ID) (map[models.ID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.ID]int)
	for k, v := range m.unread[userID] {
		out[k] = v
	}
	return out, nil
}

var identity = models.Identity{ID: localUser, FirstName: "Amani", LastName: "Otieno"}

func startSession(t *testing.T, conn *fakeConn, opts Options) *Session {
	t.Helper()
	s, err := NewSession(identity, conn, opts)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Close()
	})
	return s
}

// push delivers ev and waits until the session has applied it.
func push(t *testing.T, conn *fakeConn, ev models.ServerEvent) {
	t.Helper()
	conn.events <- ev
	require.Eventually(t, func() bool { return len(conn.events) == 0 }, time.Second, time.Millisecond)
	// The event has been received; a second no-op round trip makes sure it
	// was applied.
	conn.events <- models.ServerEvent{Type: "test.barrier"}
	require.Eventually(t, func() bool { return len(conn.events) == 0 }, time.Second, time.Millisecond)
}

func TestNewSession_RequiresIdentity(t *testing.T) {
	_, err := NewSession(models.Identity{}, newFakeConn(), Options{})
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestSession_EndToEnd(t *testing.T) {
	conn := newFakeConn()
	clock := &fakeClock{}
	history := &fakeHistory{}
	s := startSession(t, conn, Options{Clock: clock, History: history})

	push(t, conn, listEvent(conv("c1", "u2"), conv("c2", "u2")))
	require.Len(t, s.Conversations(), 2)

	push(t, conn, msgEvent("m1", "c2", "u2", time.Now()))
	require.Equal(t, 1, s.UnreadCount("c2"))

	// History serves the message that arrived before selection.
	history.byID = map[models.ID][]models.Message{
		"c2": {{ID: "m1", ConversationID: "c2", SenderID: "u2", Content: "message m1"}},
	}
	require.NoError(t, s.SelectConversation("c2"))
	require.Equal(t, 0, s.UnreadCount("c2"))
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, models.ID("m1"), s.Messages()[0].ID)
	require.Equal(t, 1, history.callCount())

	active, ok := s.ActiveConversation()
	require.True(t, ok)
	require.Equal(t, models.ID("c2"), active.ID)

	require.NoError(t, s.NotifyTyping())
	clock.Advance(time.Second)

	require.Equal(t, []models.Command{
		models.SetTyping{ConversationID: "c2", IsTyping: true},
		models.SetTyping{ConversationID: "c2", IsTyping: false},
	}, conn.commands())
}

func TestSession_SendMessage(t *testing.T) {
	conn := newFakeConn()
	clock := &fakeClock{}
	s := startSession(t, conn, Options{Clock: clock})

	require.ErrorIs(t, s.SendMessage("hi"), ErrNoActiveConversation)
	require.ErrorIs(t, s.NotifyTyping(), ErrNoActiveConversation)

	push(t, conn, listEvent(conv("c1", "u2")))
	require.NoError(t, s.SelectConversation("c1"))

	require.ErrorIs(t, s.SendMessage("   "), ErrEmptyMessage)

	require.NoError(t, s.NotifyTyping())
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, s.SendMessage("  habari  "))
	clock.Advance(2 * time.Second)

	require.Equal(t, []models.Command{
		models.SetTyping{ConversationID: "c1", IsTyping: true},
		models.SendMessage{ConversationID: "c1", Content: "habari"},
		models.SetTyping{ConversationID: "c1", IsTyping: false},
	}, conn.commands())

	// The echo is what puts the message in the log.
	require.Empty(t, s.Messages())
	push(t, conn, msgEvent("m1", "c1", localUser, time.Now()))
	require.Len(t, s.Messages(), 1)
	require.Equal(t, 0, s.UnreadCount("c1"))
}

func TestSession_SendWhileDisconnected(t *testing.T) {
	conn := newFakeConn()
	s := startSession(t, conn, Options{Clock: &fakeClock{}})
	push(t, conn, listEvent(conv("c1", "u2")))
	require.NoError(t, s.SelectConversation("c1"))

	conn.Close()
	require.False(t, s.Connected())
	require.NoError(t, s.SendMessage("lost"))
	require.Empty(t, conn.commands())
}

func TestSession_SelectUnknownConversation(t *testing.T) {
	conn := newFakeConn()
	s := startSession(t, conn, Options{})
	require.ErrorIs(t, s.SelectConversation("nope"), ErrUnknownConversation)
}

func TestSession_SwitchingConversationStopsTyping(t *testing.T) {
	conn := newFakeConn()
	clock := &fakeClock{}
	s := startSession(t, conn, Options{Clock: clock})
	push(t, conn, listEvent(conv("c1", "u2"), conv("c2", "u3")))

	require.NoError(t, s.SelectConversation("c1"))
	require.NoError(t, s.NotifyTyping())
	require.NoError(t, s.SelectConversation("c2"))
	clock.Advance(5 * time.Second)

	require.Equal(t, []models.Command{
		models.SetTyping{ConversationID: "c1", IsTyping: true},
		models.SetTyping{ConversationID: "c1", IsTyping: false},
	}, conn.commands())
}

func TestSession_RapidReselection(t *testing.T) {
	conn := newFakeConn()
	history := &fakeHistory{release: make(chan struct{})}
	s := startSession(t, conn, Options{History: history})
	push(t, conn, listEvent(conv("c1", "u2"), conv("c2", "u3")))
	push(t, conn, msgEvent("m1", "c2", "u3", time.Now()))
	push(t, conn, msgEvent("m2", "c1", "u2", time.Now()))

	history.byID = map[models.ID][]models.Message{
		"c1": {{ID: "old-c1", ConversationID: "c1"}},
		"c2": {{ID: "old-c2", ConversationID: "c2"}},
	}

	require.NoError(t, s.SelectConversation("c1"))
	require.NoError(t, s.SelectConversation("c2"))
	require.NoError(t, s.SelectConversation("c2"))
	require.Equal(t, 3, history.callCount())

	close(history.release)

	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].ID == "old-c2"
	}, time.Second, time.Millisecond)
	require.Equal(t, 0, s.UnreadCount("c1"))
	require.Equal(t, 0, s.UnreadCount("c2"))
}

func TestSession_HistoryFailureKeepsLiveLog(t *testing.T) {
	conn := newFakeConn()
	history := &fakeHistory{err: errors.New("boom")}
	s := startSession(t, conn, Options{History: history})
	push(t, conn, listEvent(conv("c1", "u2")))

	require.NoError(t, s.SelectConversation("c1"))
	require.Eventually(t, func() bool { return history.callCount() == 1 }, time.Second, time.Millisecond)
	push(t, conn, msgEvent("m1", "c1", "u2", time.Now()))
	require.Len(t, s.Messages(), 1)
}

func TestSession_CacheWriteThroughAndRestore(t *testing.T) {
	cache := newMemCache()
	conn := newFakeConn()
	s := startSession(t, conn, Options{Cache: cache})

	push(t, conn, listEvent(conv("c1", "u2"), conv("c2", "u3")))
	push(t, conn, msgEvent("m1", "c2", "u3", time.Now()))
	push(t, conn, msgEvent("m2", "c2", "u3", time.Now()))
	s.Close()

	restored, err := NewSession(identity, newFakeConn(), Options{Cache: cache})
	require.NoError(t, err)
	require.Len(t, restored.Conversations(), 2)
	require.Equal(t, 2, restored.UnreadCount("c2"))

	c2, ok := func() (models.Conversation, bool) {
		for _, c := range restored.Conversations() {
			if c.ID == "c2" {
				return c, true
			}
		}
		return models.Conversation{}, false
	}()
	require.True(t, ok)
	require.NotNil(t, c2.LastMessage)
	require.Equal(t, "message m2", c2.LastMessage.Content)

	require.NoError(t, restored.SelectConversation("c2"))
	unread, _ := cache.ListUnread(localUser)
	require.Equal(t, 0, unread["c2"])
	restored.Close()
}

func TestSession_CloseCancelsTypingTimer(t *testing.T) {
	conn := newFakeConn()
	clock := &fakeClock{}
	s, err := NewSession(identity, conn, Options{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	s.dispatch(listEvent(conv("c1", "u2")))
	require.NoError(t, s.SelectConversation("c1"))
	require.NoError(t, s.NotifyTyping())

	s.Close()
	s.Close()
	clock.Advance(5 * time.Second)

	require.Len(t, conn.commands(), 1)
	require.Equal(t, 1, conn.closed)
	require.ErrorIs(t, s.SelectConversation("c1"), ErrClosed)
	require.ErrorIs(t, s.Open(context.Background()), ErrClosed)
}

func TestSession_OpenIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	s, err := NewSession(identity, conn, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Open(context.Background()))
	require.Equal(t, 1, conn.opens)
	s.Close()
}

func TestSession_OnUpdate(t *testing.T) {
	conn := newFakeConn()
	history := &fakeHistory{byID: map[models.ID][]models.Message{
		"c1": {{ID: "m0", ConversationID: "c1"}},
	}}

	var mu sync.Mutex
	var updates []Update
	s := startSession(t, conn, Options{
		History: history,
		OnUpdate: func(u Update) {
			mu.Lock()
			defer mu.Unlock()
			updates = append(updates, u)
		},
	})

	push(t, conn, listEvent(conv("c1", "u2")))
	require.NoError(t, s.SelectConversation("c1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, u := range updates {
			if u.History == "c1" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, updates[0].Event)
	require.Equal(t, models.EventTypeConversationList, updates[0].Event.Type)
	require.Equal(t, []models.Message{{ID: "m0", ConversationID: "c1"}}, s.Messages())
}
