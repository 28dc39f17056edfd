package backend

import (
	"slices"
	"sync"

	"mazungumzo/internal/models"
)

type Seq int64

type Record struct {
	Seq     Seq
	Message models.Message
}

// Room is one conversation on the backend: its participants and a bounded
// ring buffer with the most recent messages.
type Room struct {
	ID           models.ID
	Title        string
	Participants []models.Participant

	records    []Record
	firstSeq   Seq
	lastSeq    Seq
	lastIndex  int
	maxRecords int
	last       *models.LastMessage

	recordCallback func(receiverID models.ID, record Record)

	mux sync.RWMutex
}

type RoomConfig struct {
	ID             models.ID
	Title          string
	Participants   []models.Participant
	MaxRecords     int
	RecordCallback func(receiverID models.ID, record Record)
}

func NewRoom(config RoomConfig) *Room {
	maxRecords := config.MaxRecords
	if maxRecords <= 0 {
		maxRecords = 100
	}
	return &Room{
		ID:             config.ID,
		Title:          config.Title,
		Participants:   slices.Clone(config.Participants),
		maxRecords:     maxRecords,
		lastIndex:      -1,
		firstSeq:       -1,
		lastSeq:        -1,
		recordCallback: config.RecordCallback,
	}
}

func (r *Room) HasMember(userID models.ID) bool {
	return slices.ContainsFunc(r.Participants, func(p models.Participant) bool {
		return p.ID == userID
	})
}

// AddRecord appends msg to the ring buffer, overwriting the oldest record
// when full, and hands the record to the callback once per participant.
func (r *Room) AddRecord(msg models.Message) Record {
	r.mux.Lock()
	r.lastSeq++
	record := Record{Seq: r.lastSeq, Message: msg}

	switch {
	case len(r.records) < r.maxRecords:
		if r.firstSeq == -1 {
			r.firstSeq = r.lastSeq
		}
		r.records = append(r.records, record)
		r.lastIndex++
	default:
		r.firstSeq++
		i := (r.lastIndex + 1) % r.maxRecords
		r.records[i] = record
		r.lastIndex = i
	}
	r.last = &models.LastMessage{Content: msg.Content, Timestamp: msg.Timestamp}
	r.mux.Unlock()

	if r.recordCallback != nil {
		for _, p := range r.Participants {
			r.recordCallback(p.ID, record)
		}
	}
	return record
}

// LastRecords returns up to count most recent records, oldest first.
func (r *Room) LastRecords(count int) []Record {
	r.mux.RLock()
	defer r.mux.RUnlock()

	if r.lastSeq == -1 || count <= 0 {
		return []Record{}
	}

	total := int(r.lastSeq - r.firstSeq + 1)
	if count > total {
		count = total
	}

	head := 0
	if len(r.records) == r.maxRecords {
		head = (r.lastIndex + 1) % r.maxRecords
	}
	startIdx := (head + total - count) % len(r.records)

	result := make([]Record, count)
	if startIdx+count <= len(r.records) {
		copy(result, r.records[startIdx:startIdx+count])
	} else {
		n1 := len(r.records) - startIdx
		copy(result, r.records[startIdx:])
		copy(result[n1:], r.records[:count-n1])
	}
	return result
}

// Messages returns the whole buffered history, oldest first.
func (r *Room) Messages() []models.Message {
	records := r.LastRecords(r.maxRecords)
	messages := make([]models.Message, len(records))
	for i, rec := range records {
		messages[i] = rec.Message
	}
	return messages
}

// Conversation describes the room in list form.
func (r *Room) Conversation() models.Conversation {
	r.mux.RLock()
	defer r.mux.RUnlock()

	c := models.Conversation{
		ID:           r.ID,
		Title:        r.Title,
		Participants: slices.Clone(r.Participants),
	}
	if r.last != nil {
		last := *r.last
		c.LastMessage = &last
	}
	return c
}
