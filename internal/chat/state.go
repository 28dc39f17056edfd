package chat

import (
	"slices"

	"mazungumzo/internal/models"
)

// State is the in-memory projection owned by one session. It is mutated
// only through Apply, Select and MergeHistory, all called from the
// session while holding its lock.
type State struct {
	LocalUserID   models.ID
	Conversations []models.Conversation
	ActiveID      models.ID
	Log           []models.Message
	PeerTyping    bool
	Unread        *Unread
}

// Change reports what a transition touched, for write-through caching.
type Change struct {
	Conversations bool
	// Unread is the conversation whose count changed, if any.
	Unread models.ID
}

func NewState(localUserID models.ID) *State {
	return &State{
		LocalUserID: localUserID,
		Unread:      NewUnread(),
	}
}

// Apply runs the reducer for one inbound event. Unknown event types are
// ignored.
func (s *State) Apply(ev models.ServerEvent) Change {
	switch ev.Type {
	case models.EventTypeConversationList:
		s.Conversations = slices.Clone(ev.Conversations)
		return Change{Conversations: true}

	case models.EventTypeMessage:
		if ev.Message == nil {
			return Change{}
		}
		return s.applyMessage(*ev.Message)

	case models.EventTypeTyping:
		s.PeerTyping = ev.IsTyping
		return Change{}

	default:
		return Change{}
	}
}

func (s *State) applyMessage(msg models.Message) Change {
	var change Change
	active := s.ActiveID != "" && msg.ConversationID == s.ActiveID

	if active {
		s.Log = append(s.Log, msg)
	}

	if i := s.indexOf(msg.ConversationID); i >= 0 {
		s.Conversations[i].LastMessage = &models.LastMessage{
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
		change.Conversations = true
	}

	if msg.SenderID != s.LocalUserID && !active {
		s.Unread.Increment(msg.ConversationID)
		change.Unread = msg.ConversationID
	}

	return change
}

// Select makes id the active conversation: the message log is cleared,
// its unread count is reset, and the peer typing flag is dropped since it
// belonged to the previous conversation.
func (s *State) Select(id models.ID) Change {
	s.ActiveID = id
	s.Log = nil
	s.PeerTyping = false
	s.Unread.Reset(id)
	return Change{Unread: id}
}

// MergeHistory installs fetched history for the active conversation.
// Live messages that arrived during the fetch are kept after the history,
// in arrival order, unless the history already contains them.
func (s *State) MergeHistory(id models.ID, history []models.Message) {
	if s.ActiveID != id {
		return
	}

	seen := make(map[models.ID]struct{}, len(history))
	merged := make([]models.Message, 0, len(history)+len(s.Log))
	for _, m := range history {
		if m.ConversationID != "" && m.ConversationID != id {
			continue
		}
		if m.ID != "" {
			seen[m.ID] = struct{}{}
		}
		merged = append(merged, m)
	}
	for _, m := range s.Log {
		if _, dup := seen[m.ID]; dup && m.ID != "" {
			continue
		}
		merged = append(merged, m)
	}
	s.Log = merged
}

func (s *State) Conversation(id models.ID) (models.Conversation, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Conversations[i], true
	}
	return models.Conversation{}, false
}

func (s *State) indexOf(id models.ID) int {
	return slices.IndexFunc(s.Conversations, func(c models.Conversation) bool {
		return c.ID == id
	})
}
