package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// ID is an opaque identifier. The backend emits numeric primary keys for
// users and conversations, so both JSON numbers and strings are accepted.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Identity is the signed-in local user as supplied by the auth collaborator.
type Identity struct {
	ID        ID     `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (i Identity) DisplayName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// Participant is a conversation member reference.
type Participant struct {
	ID        ID     `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (p Participant) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// LastMessage is the denormalized summary shown in the conversation list.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a server-owned snapshot of a thread.
type Conversation struct {
	ID           ID            `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  *LastMessage  `json:"last_message,omitempty"`
	Title        string        `json:"title,omitempty"`
}

// HasParticipant reports whether userID is a member of the conversation.
func (c Conversation) HasParticipant(userID ID) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Message is immutable once received.
type Message struct {
	ID             ID        `json:"id"`
	ConversationID ID        `json:"conversation_id"`
	SenderID       ID        `json:"sender_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

type EventType string

const (
	EventTypeMessage          EventType = "chat.message"
	EventTypeTyping           EventType = "chat.typing"
	EventTypeConversationList EventType = "chat.conversation_list"
)

// ServerEvent is an inbound event pushed by the backend.
type ServerEvent struct {
	Type          EventType      `json:"type"`
	Message       *Message       `json:"message,omitempty"`
	IsTyping      bool           `json:"is_typing,omitempty"`
	Conversations []Conversation `json:"conversations,omitempty"`
}

type CommandType string

const (
	CommandTypeMessage CommandType = "chat.message"
	CommandTypeTyping  CommandType = "chat.typing"
)

// Command is a local user intent that can be serialized to the wire.
type Command interface {
	CommandType() CommandType
}

// SendMessage asks the backend to post content into a conversation.
type SendMessage struct {
	ConversationID ID
	Content        string
}

func (SendMessage) CommandType() CommandType { return CommandTypeMessage }

// SetTyping announces the local user's typing state in a conversation.
type SetTyping struct {
	ConversationID ID
	IsTyping       bool
}

func (SetTyping) CommandType() CommandType { return CommandTypeTyping }

// ClientCommand is the decoded form of any command, used by the backend.
type ClientCommand struct {
	Type           CommandType `json:"type"`
	ConversationID ID          `json:"conversation_id"`
	Content        string      `json:"content,omitempty"`
	IsTyping       bool        `json:"is_typing,omitempty"`
}
