package chat

import (
	"mazungumzo/internal/models"

	"github.com/c-pro/geche"
)

// Unread maps conversation ids to the number of messages received while
// the conversation was not active. Writes come from the session's single
// event loop; reads may happen from any goroutine.
type Unread struct {
	counts *geche.MapCache[models.ID, int]
}

func NewUnread() *Unread {
	return &Unread{
		counts: geche.NewMapCache[models.ID, int](),
	}
}

// Increment adds one to the count of id and returns the new value.
func (u *Unread) Increment(id models.ID) int {
	n, _ := u.counts.Get(id)
	n++
	u.counts.Set(id, n)
	return n
}

func (u *Unread) Reset(id models.ID) {
	u.counts.Set(id, 0)
}

func (u *Unread) CountFor(id models.ID) int {
	n, err := u.counts.Get(id)
	if err != nil {
		return 0
	}
	return n
}

// Snapshot returns a copy of all counts, zeros included.
func (u *Unread) Snapshot() map[models.ID]int {
	return u.counts.Snapshot()
}

// Restore seeds counts, typically from the local state cache. Negative
// values are ignored.
func (u *Unread) Restore(counts map[models.ID]int) {
	for id, n := range counts {
		if n < 0 {
			continue
		}
		u.counts.Set(id, n)
	}
}
