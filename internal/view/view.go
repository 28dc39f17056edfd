// Package view turns session state into read models for presentation.
package view

import (
	"log/slog"
	"time"

	"mazungumzo/internal/content"
	"mazungumzo/internal/models"
)

const (
	UnknownUser   = "Unknown User"
	NoMessagesYet = "No messages yet"

	previewLength = 60
)

type ConversationItem struct {
	ID          models.ID
	DisplayName string
	Preview     string
	LastAt      time.Time
	Unread      int
	Active      bool
}

type MessageItem struct {
	ID        models.ID
	SenderID  models.ID
	Mine      bool
	Text      string
	HTML      string
	Timestamp time.Time
}

// Snapshot is everything a chat screen needs to draw itself.
type Snapshot struct {
	Connected     bool
	Conversations []ConversationItem
	Active        *ConversationItem
	Messages      []MessageItem
	PeerTyping    bool
}

// Source is the read side of a chat session.
type Source interface {
	Identity() models.Identity
	Connected() bool
	Conversations() []models.Conversation
	ActiveID() models.ID
	Unread() map[models.ID]int
	Messages() []models.Message
	PeerTyping() bool
}

func Build(src Source) Snapshot {
	localID := src.Identity().ID
	snap := Snapshot{
		Connected:     src.Connected(),
		Conversations: ConversationItems(localID, src.Conversations(), src.ActiveID(), src.Unread()),
		Messages:      MessageItems(localID, src.Messages()),
		PeerTyping:    src.PeerTyping(),
	}
	for i := range snap.Conversations {
		if snap.Conversations[i].Active {
			snap.Active = &snap.Conversations[i]
			break
		}
	}
	return snap
}

// DisplayName names a conversation after the first participant that is
// not the local user.
func DisplayName(localID models.ID, c models.Conversation) string {
	for _, p := range c.Participants {
		if p.ID == localID {
			continue
		}
		if name := p.FullName(); name != "" {
			return name
		}
		return UnknownUser
	}
	if c.Title != "" {
		return c.Title
	}
	return UnknownUser
}

func ConversationItems(localID models.ID, conversations []models.Conversation, activeID models.ID, unread map[models.ID]int) []ConversationItem {
	items := make([]ConversationItem, 0, len(conversations))
	for _, c := range conversations {
		item := ConversationItem{
			ID:          c.ID,
			DisplayName: DisplayName(localID, c),
			Preview:     NoMessagesYet,
			Unread:      unread[c.ID],
			Active:      activeID != "" && c.ID == activeID,
		}
		if c.LastMessage != nil {
			item.Preview = content.Preview(c.LastMessage.Content, previewLength)
			item.LastAt = c.LastMessage.Timestamp
		}
		items = append(items, item)
	}
	return items
}

func MessageItems(localID models.ID, messages []models.Message) []MessageItem {
	items := make([]MessageItem, 0, len(messages))
	for _, m := range messages {
		html, err := content.Render(m.Content)
		if err != nil {
			slog.Debug("failed to render message", "message_id", m.ID, "error", err)
			html = content.Sanitize(m.Content)
		}
		items = append(items, MessageItem{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Mine:      m.SenderID == localID,
			Text:      m.Content,
			HTML:      html,
			Timestamp: m.Timestamp,
		})
	}
	return items
}
