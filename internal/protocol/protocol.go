// Package protocol encodes and decodes the JSON frames exchanged with the
// chat backend. Every frame is an object with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"mazungumzo/internal/models"
)

var (
	ErrMalformed      = errors.New("malformed frame")
	ErrUnknownCommand = errors.New("unknown command")
)

type messageFrame struct {
	Type           models.CommandType `json:"type"`
	ConversationID models.ID          `json:"conversation_id"`
	Content        string             `json:"content"`
}

type typingFrame struct {
	Type           models.CommandType `json:"type"`
	ConversationID models.ID          `json:"conversation_id"`
	IsTyping       bool               `json:"is_typing"`
}

// Encode serializes a local user intent.
func Encode(cmd models.Command) ([]byte, error) {
	switch c := cmd.(type) {
	case models.SendMessage:
		return json.Marshal(messageFrame{
			Type:           models.CommandTypeMessage,
			ConversationID: c.ConversationID,
			Content:        c.Content,
		})
	case models.SetTyping:
		return json.Marshal(typingFrame{
			Type:           models.CommandTypeTyping,
			ConversationID: c.ConversationID,
			IsTyping:       c.IsTyping,
		})
	case nil:
		return nil, fmt.Errorf("%w: nil command", ErrUnknownCommand)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

// Decode parses an inbound event. Frames with an unrecognised type are
// returned as-is so the caller can skip them; frames of a known type that
// lack their payload are reported as ErrMalformed.
func Decode(data []byte) (models.ServerEvent, error) {
	var ev models.ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.ServerEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Type == "" {
		return models.ServerEvent{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if ev.Type == models.EventTypeMessage {
		if ev.Message == nil || ev.Message.ConversationID == "" {
			return models.ServerEvent{}, fmt.Errorf("%w: chat.message without message", ErrMalformed)
		}
	}
	return ev, nil
}

type messageEvent struct {
	Type    models.EventType `json:"type"`
	Message models.Message   `json:"message"`
}

type typingEvent struct {
	Type     models.EventType `json:"type"`
	IsTyping bool             `json:"is_typing"`
}

type conversationListEvent struct {
	Type          models.EventType      `json:"type"`
	Conversations []models.Conversation `json:"conversations"`
}

// EncodeEvent serializes a backend push. Used by the development backend
// and by tests that play the server role.
func EncodeEvent(ev models.ServerEvent) ([]byte, error) {
	return json.Marshal(EventFrame(ev))
}

// EventFrame returns the wire shape of ev, suitable for WriteJSON.
func EventFrame(ev models.ServerEvent) any {
	switch ev.Type {
	case models.EventTypeMessage:
		var msg models.Message
		if ev.Message != nil {
			msg = *ev.Message
		}
		return messageEvent{Type: ev.Type, Message: msg}
	case models.EventTypeTyping:
		return typingEvent{Type: ev.Type, IsTyping: ev.IsTyping}
	case models.EventTypeConversationList:
		convs := ev.Conversations
		if convs == nil {
			convs = []models.Conversation{}
		}
		return conversationListEvent{Type: ev.Type, Conversations: convs}
	default:
		return ev
	}
}

// DecodeCommand parses a client command on the backend side.
func DecodeCommand(data []byte) (models.ClientCommand, error) {
	var cmd models.ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return models.ClientCommand{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch cmd.Type {
	case models.CommandTypeMessage, models.CommandTypeTyping:
	default:
		return models.ClientCommand{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	if cmd.ConversationID == "" {
		return models.ClientCommand{}, fmt.Errorf("%w: missing conversation_id", ErrMalformed)
	}
	return cmd, nil
}
