package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBParticipant struct {
	ID        string `msgpack:"id"`
	FirstName string `msgpack:"firstName"`
	LastName  string `msgpack:"lastName"`
}

type DBConversation struct {
	ID            string          `msgpack:"id"`
	Position      int             `msgpack:"position"`
	Title         string          `msgpack:"title"`
	Participants  []DBParticipant `msgpack:"participants"`
	HasLast       bool            `msgpack:"hasLast"`
	LastContent   string          `msgpack:"lastContent"`
	LastTimestamp *DBTimestamp    `msgpack:"lastTimestamp,omitempty"` // nil for a zero time
}

type DBTimestamp struct {
	Unix  int64 `msgpack:"unix"`
	Nanos int32 `msgpack:"nanos"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBUnread struct {
	ConversationID string `msgpack:"conversationId"`
	Count          int    `msgpack:"count"`
}

func (u *DBUnread) Key() []byte {
	return []byte(u.ConversationID)
}

func (u *DBUnread) MarshalBinary() (data []byte, err error) {
	type alias DBUnread
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUnread) UnmarshalBinary(data []byte) error {
	type alias DBUnread
	return msgpack.Unmarshal(data, (*alias)(u))
}
