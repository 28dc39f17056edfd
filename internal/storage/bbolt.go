package storage

import (
	"fmt"
	"sort"
	"time"

	"mazungumzo/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketUnread        = []byte("unread")
)

// BboltStorage is the client's local state cache. Each top-level bucket
// holds one nested bucket per signed-in user.
type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketUnread); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// ReplaceConversations stores a conversation snapshot for userID,
// discarding whatever snapshot was stored before.
func (s *BboltStorage) ReplaceConversations(userID models.ID, conversations []models.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketConversations)
		key := []byte(userID)
		if root.Bucket(key) != nil {
			if err := root.DeleteBucket(key); err != nil {
				return fmt.Errorf("failed to drop previous snapshot: %w", err)
			}
		}
		b, err := root.CreateBucket(key)
		if err != nil {
			return fmt.Errorf("failed to create user bucket: %w", err)
		}

		for i, c := range conversations {
			dbConv := toDBConversation(i, c)
			if err := put(b, &dbConv); err != nil {
				return fmt.Errorf("failed to put conversation: %w", err)
			}
		}
		return nil
	})
}

// ListConversations returns the stored snapshot in its original order.
func (s *BboltStorage) ListConversations(userID models.ID) ([]models.Conversation, error) {
	var dbConvs []DBConversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return err
			}
			dbConvs = append(dbConvs, dbConv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(dbConvs, func(i, j int) bool {
		return dbConvs[i].Position < dbConvs[j].Position
	})
	conversations := make([]models.Conversation, 0, len(dbConvs))
	for _, c := range dbConvs {
		conversations = append(conversations, fromDBConversation(c))
	}
	return conversations, nil
}

// UpsertUnread stores the unread count of one conversation.
func (s *BboltStorage) UpsertUnread(userID, conversationID models.ID, count int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketUnread).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("failed to create user bucket: %w", err)
		}
		return put(b, &DBUnread{
			ConversationID: string(conversationID),
			Count:          count,
		})
	})
}

func (s *BboltStorage) ListUnread(userID models.ID) (map[models.ID]int, error) {
	counts := make(map[models.ID]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUnread).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbUnread DBUnread
			if err := dbUnread.UnmarshalBinary(v); err != nil {
				return err
			}
			counts[models.ID(dbUnread.ConversationID)] = dbUnread.Count
			return nil
		})
	})
	return counts, err
}

func put(b *bbolt.Bucket, item Storeable) error {
	data, err := item.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(item.Key(), data)
}

func toDBConversation(position int, c models.Conversation) DBConversation {
	dbConv := DBConversation{
		ID:       string(c.ID),
		Position: position,
		Title:    c.Title,
	}
	if len(c.Participants) > 0 {
		dbConv.Participants = make([]DBParticipant, len(c.Participants))
		for i, p := range c.Participants {
			dbConv.Participants[i] = DBParticipant{
				ID:        string(p.ID),
				FirstName: p.FirstName,
				LastName:  p.LastName,
			}
		}
	}
	if c.LastMessage != nil {
		dbConv.HasLast = true
		dbConv.LastContent = c.LastMessage.Content
		if ts := c.LastMessage.Timestamp; !ts.IsZero() {
			dbConv.LastTimestamp = &DBTimestamp{Unix: ts.Unix(), Nanos: int32(ts.Nanosecond())}
		}
	}
	return dbConv
}

func fromDBConversation(dbConv DBConversation) models.Conversation {
	c := models.Conversation{
		ID:    models.ID(dbConv.ID),
		Title: dbConv.Title,
	}
	if len(dbConv.Participants) > 0 {
		c.Participants = make([]models.Participant, len(dbConv.Participants))
		for i, p := range dbConv.Participants {
			c.Participants[i] = models.Participant{
				ID:        models.ID(p.ID),
				FirstName: p.FirstName,
				LastName:  p.LastName,
			}
		}
	}
	if dbConv.HasLast {
		c.LastMessage = &models.LastMessage{Content: dbConv.LastContent}
		if ts := dbConv.LastTimestamp; ts != nil {
			c.LastMessage.Timestamp = time.Unix(ts.Unix, int64(ts.Nanos)).UTC()
		}
	}
	return c
}
