package chat

import (
	"fmt"
	"testing"
	"time"

	"mazungumzo/internal/models"
)

const localUser models.ID = "u1"

func conv(id models.ID, others ...models.ID) models.Conversation {
	c := models.Conversation{
		ID:           id,
		Participants: []models.Participant{{ID: localUser, FirstName: "Amani", LastName: "Otieno"}},
	}
	for _, o := range others {
		c.Participants = append(c.Participants, models.Participant{ID: o, FirstName: "Peer", LastName: string(o)})
	}
	return c
}

func msgEvent(id, conversationID, sender models.ID, ts time.Time) models.ServerEvent {
	return models.ServerEvent{
		Type: models.EventTypeMessage,
		Message: &models.Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       sender,
			Content:        "message " + string(id),
			Timestamp:      ts,
		},
	}
}

func listEvent(convs ...models.Conversation) models.ServerEvent {
	return models.ServerEvent{Type: models.EventTypeConversationList, Conversations: convs}
}

func TestState_SnapshotReplace(t *testing.T) {
	s := NewState(localUser)

	s.Apply(listEvent(conv("c1", "u2"), conv("c2", "u3")))
	if len(s.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(s.Conversations))
	}

	s.Apply(listEvent(conv("c2", "u3"), conv("c3", "u4")))
	if len(s.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(s.Conversations))
	}
	if _, ok := s.Conversation("c1"); ok {
		t.Error("c1 should be gone after the second snapshot")
	}
	if _, ok := s.Conversation("c3"); !ok {
		t.Error("c3 should be present after the second snapshot")
	}

	s.Apply(listEvent())
	if len(s.Conversations) != 0 {
		t.Errorf("empty snapshot should clear the list, got %d", len(s.Conversations))
	}
}

func TestState_ActiveLogKeepsArrivalOrder(t *testing.T) {
	s := NewState(localUser)
	s.Apply(listEvent(conv("c1", "u2")))
	s.Select("c1")

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	// Timestamps deliberately out of order.
	offsets := []int{5, 1, 3, 0, 4}
	for i, off := range offsets {
		s.Apply(msgEvent(models.ID(fmt.Sprintf("m%d", i)), "c1", "u2", base.Add(time.Duration(off)*time.Minute)))
	}

	if len(s.Log) != len(offsets) {
		t.Fatalf("expected %d messages, got %d", len(offsets), len(s.Log))
	}
	for i, m := range s.Log {
		if want := models.ID(fmt.Sprintf("m%d", i)); m.ID != want {
			t.Errorf("index %d: expected %s, got %s", i, want, m.ID)
		}
	}
	if s.Unread.CountFor("c1") != 0 {
		t.Errorf("active conversation must stay at 0 unread, got %d", s.Unread.CountFor("c1"))
	}
}

func TestState_UnreadMonotonic(t *testing.T) {
	s := NewState(localUser)
	s.Apply(listEvent(conv("c1", "u2"), conv("c2", "u3")))
	s.Select("c1")

	prev := 0
	senders := []models.ID{"u3", localUser, "u3", "u3", localUser}
	for i, sender := range senders {
		s.Apply(msgEvent(models.ID(fmt.Sprintf("m%d", i)), "c2", sender, time.Now()))
		n := s.Unread.CountFor("c2")
		want := prev
		if sender != localUser {
			want++
		}
		if n != want {
			t.Fatalf("after message %d from %s: expected %d, got %d", i, sender, want, n)
		}
		prev = n
	}
	if prev != 3 {
		t.Errorf("expected 3 unread, got %d", prev)
	}
	if len(s.Log) != 0 {
		t.Errorf("messages for an inactive conversation must not enter the log, got %d", len(s.Log))
	}
}

func TestState_MessageUpdatesLastMessage(t *testing.T) {
	s := NewState(localUser)
	s.Apply(listEvent(conv("c1", "u2")))

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	change := s.Apply(msgEvent("m1", "c1", localUser, ts))

	c, _ := s.Conversation("c1")
	if c.LastMessage == nil || c.LastMessage.Content != "message m1" || !c.LastMessage.Timestamp.Equal(ts) {
		t.Errorf("unexpected last message: %+v", c.LastMessage)
	}
	if !change.Conversations {
		t.Error("expected conversation change")
	}
	if change.Unread != "" {
		t.Error("own message must not change unread counts")
	}
}

func TestState_MessageForUnknownConversation(t *testing.T) {
	s := NewState(localUser)
	change := s.Apply(msgEvent("m1", "c9", "u2", time.Now()))
	if change.Conversations {
		t.Error("no conversation should change")
	}
	if s.Unread.CountFor("c9") != 1 {
		t.Errorf("expected unread to be tracked, got %d", s.Unread.CountFor("c9"))
	}
}

func TestState_SelectResetsUnread(t *testing.T) {
	s := NewState(localUser)
	s.Apply(listEvent(conv("c1", "u2"), conv("c2", "u3")))
	s.Select("c1")

	for i := range 4 {
		s.Apply(msgEvent(models.ID(fmt.Sprintf("m%d", i)), "c2", "u3", time.Now()))
	}
	s.Apply(models.ServerEvent{Type: models.EventTypeTyping, IsTyping: true})

	s.Select("c2")
	if n := s.Unread.CountFor("c2"); n != 0 {
		t.Errorf("expected 0 after select, got %d", n)
	}
	if s.PeerTyping {
		t.Error("typing flag should be cleared on selection")
	}
	if len(s.Log) != 0 {
		t.Errorf("log should be cleared on selection, got %d", len(s.Log))
	}

	// Reselecting is harmless.
	s.Select("c2")
	s.Select("c2")
	if n := s.Unread.CountFor("c2"); n != 0 {
		t.Errorf("expected 0 after reselect, got %d", n)
	}

	// Going back: c2 becomes inactive with 0 unread.
	s.Select("c1")
	if n := s.Unread.CountFor("c2"); n != 0 {
		t.Errorf("expected 0 for the left conversation, got %d", n)
	}
}

func TestState_Typing(t *testing.T) {
	s := NewState(localUser)
	s.Apply(models.ServerEvent{Type: models.EventTypeTyping, IsTyping: true})
	if !s.PeerTyping {
		t.Error("expected peer typing")
	}
	s.Apply(models.ServerEvent{Type: models.EventTypeTyping, IsTyping: false})
	if s.PeerTyping {
		t.Error("expected peer not typing")
	}
}

func TestState_UnknownEventIgnored(t *testing.T) {
	s := NewState(localUser)
	s.Apply(listEvent(conv("c1", "u2")))
	change := s.Apply(models.ServerEvent{Type: "chat.reaction"})
	if change != (Change{}) {
		t.Errorf("unexpected change: %+v", change)
	}
	if len(s.Conversations) != 1 {
		t.Error("state should be untouched")
	}
	s.Apply(models.ServerEvent{Type: models.EventTypeMessage})
}

func TestState_MergeHistory(t *testing.T) {
	s := NewState(localUser)
	s.Apply(listEvent(conv("c1", "u2")))
	s.Select("c1")

	now := time.Now()
	// Live messages arrive while history loads; m3 is also in the history.
	s.Apply(msgEvent("m3", "c1", "u2", now))
	s.Apply(msgEvent("m4", "c1", "u2", now))

	s.MergeHistory("c1", []models.Message{
		{ID: "m1", ConversationID: "c1"},
		{ID: "m2", ConversationID: "c1"},
		{ID: "m3", ConversationID: "c1"},
	})

	want := []models.ID{"m1", "m2", "m3", "m4"}
	if len(s.Log) != len(want) {
		t.Fatalf("expected %v, got %+v", want, s.Log)
	}
	for i, id := range want {
		if s.Log[i].ID != id {
			t.Errorf("index %d: expected %s, got %s", i, id, s.Log[i].ID)
		}
	}

	// History for a conversation that is no longer active is ignored.
	s.MergeHistory("c2", []models.Message{{ID: "x"}})
	if len(s.Log) != len(want) {
		t.Error("foreign history was merged")
	}
}

func TestUnread(t *testing.T) {
	u := NewUnread()
	if u.CountFor("c1") != 0 {
		t.Error("unknown conversation should report 0")
	}
	if n := u.Increment("c1"); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
	u.Increment("c1")
	u.Restore(map[models.ID]int{"c2": 5, "c3": -1})

	snap := u.Snapshot()
	if snap["c1"] != 2 || snap["c2"] != 5 {
		t.Errorf("unexpected snapshot: %v", snap)
	}
	if _, ok := snap["c3"]; ok {
		t.Error("negative counts must not be restored")
	}

	u.Reset("c1")
	if u.CountFor("c1") != 0 {
		t.Error("reset should zero the count")
	}
}
