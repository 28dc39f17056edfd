package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"mazungumzo/internal/content"
	"mazungumzo/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrForbidden   = errors.New("not a participant")
	ErrEmpty       = errors.New("empty message")
)

const outboxSize = 100

// Conversation seeds a room when the hub starts.
type Conversation struct {
	ID       models.ID
	Title    string
	Members  []models.ID
	Messages []models.Message
}

type HubConfig struct {
	Users         []models.Participant
	Conversations []Conversation
	MaxRecords    int
	Logger        *slog.Logger
	Now           func() time.Time
}

type Hub struct {
	rooms map[models.ID]*Room
	users map[models.ID]models.Participant

	// userID -> outbox of the live connection
	connected *geche.MapCache[models.ID, chan models.ServerEvent]

	logger *slog.Logger
	now    func() time.Time

	mu sync.RWMutex
}

func NewHub(cfg HubConfig) (*Hub, error) {
	h := &Hub{
		rooms:     make(map[models.ID]*Room),
		users:     make(map[models.ID]models.Participant),
		connected: geche.NewMapCache[models.ID, chan models.ServerEvent](),
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}

	for _, u := range cfg.Users {
		h.users[u.ID] = u
	}

	for _, c := range cfg.Conversations {
		participants := make([]models.Participant, 0, len(c.Members))
		for _, id := range c.Members {
			u, ok := h.users[id]
			if !ok {
				return nil, fmt.Errorf("conversation %s: %w %s", c.ID, ErrUnknownUser, id)
			}
			participants = append(participants, u)
		}
		room := NewRoom(RoomConfig{
			ID:             c.ID,
			Title:          c.Title,
			Participants:   participants,
			MaxRecords:     cfg.MaxRecords,
			RecordCallback: h.handleRecordCallback,
		})
		seed := h.now().Add(-time.Duration(len(c.Messages)) * time.Minute)
		for i, m := range c.Messages {
			m.ID = models.ID(uuid.NewString())
			m.ConversationID = c.ID
			m.Timestamp = seed.Add(time.Duration(i) * time.Minute)
			room.AddRecord(m)
		}
		h.rooms[c.ID] = room
	}

	return h, nil
}

func (h *Hub) HasUser(userID models.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// Join registers a live connection for userID. The returned outbox
// already holds the user's conversation list. A second connection for the
// same user replaces the first one, whose outbox is closed.
func (h *Hub) Join(userID models.ID) (chan models.ServerEvent, error) {
	if !h.HasUser(userID) {
		return nil, ErrUnknownUser
	}

	ch := make(chan models.ServerEvent, outboxSize)
	ch <- models.ServerEvent{
		Type:          models.EventTypeConversationList,
		Conversations: h.Conversations(userID),
	}

	h.mu.Lock()
	if prev, err := h.connected.Get(userID); err == nil {
		close(prev)
	}
	h.connected.Set(userID, ch)
	h.mu.Unlock()

	h.logger.Info("user joined", "user_id", userID)
	return ch, nil
}

// Leave unregisters ch. It is a no-op when ch was already replaced.
func (h *Hub) Leave(userID models.ID, ch chan models.ServerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, err := h.connected.Get(userID)
	if err != nil || current != ch {
		return
	}
	close(ch)
	_ = h.connected.Del(userID)
	h.logger.Info("user left", "user_id", userID)
}

func (h *Hub) Online(userID models.ID) bool {
	_, err := h.connected.Get(userID)
	return err == nil
}

func (h *Hub) room(conversationID models.ID) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[conversationID]
	return r, ok
}

// Dispatch applies a command sent by userID.
func (h *Hub) Dispatch(userID models.ID, cmd models.ClientCommand) error {
	r, ok := h.room(cmd.ConversationID)
	if !ok {
		return fmt.Errorf("conversation %s: %w", cmd.ConversationID, models.ErrNotFound)
	}
	if !r.HasMember(userID) {
		return fmt.Errorf("conversation %s: %w", cmd.ConversationID, ErrForbidden)
	}

	switch cmd.Type {
	case models.CommandTypeMessage:
		text := strings.TrimSpace(content.Sanitize(cmd.Content))
		if text == "" {
			return ErrEmpty
		}
		r.AddRecord(models.Message{
			ID:             models.ID(uuid.NewString()),
			ConversationID: r.ID,
			SenderID:       userID,
			Content:        text,
			Timestamp:      h.now().UTC(),
		})
	case models.CommandTypeTyping:
		ev := models.ServerEvent{Type: models.EventTypeTyping, IsTyping: cmd.IsTyping}
		for _, p := range r.Participants {
			if p.ID != userID {
				h.deliver(p.ID, ev)
			}
		}
	}
	return nil
}

// Conversations lists the rooms userID takes part in, most recently
// active first.
func (h *Hub) Conversations(userID models.ID) []models.Conversation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := []models.Conversation{}
	for _, r := range h.rooms {
		if r.HasMember(userID) {
			result = append(result, r.Conversation())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		li, lj := result[i].LastMessage, result[j].LastMessage
		switch {
		case li != nil && lj != nil && !li.Timestamp.Equal(lj.Timestamp):
			return li.Timestamp.After(lj.Timestamp)
		case li != nil && lj == nil:
			return true
		case li == nil && lj != nil:
			return false
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// History returns the buffered messages of a conversation userID is a
// participant of.
func (h *Hub) History(userID, conversationID models.ID) ([]models.Message, error) {
	r, ok := h.room(conversationID)
	if !ok {
		return nil, models.ErrNotFound
	}
	if !r.HasMember(userID) {
		return nil, ErrForbidden
	}
	return r.Messages(), nil
}

func (h *Hub) handleRecordCallback(receiverID models.ID, record Record) {
	msg := record.Message
	h.deliver(receiverID, models.ServerEvent{
		Type:    models.EventTypeMessage,
		Message: &msg,
	})
}

func (h *Hub) deliver(receiverID models.ID, ev models.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, err := h.connected.Get(receiverID)
	if err != nil {
		return
	}

	select {
	case ch <- ev:
	default:
		h.logger.Warn("outbox full, dropping event", "user_id", receiverID, "type", ev.Type)
	}
}
