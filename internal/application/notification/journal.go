package notification

import (
	"time"

	"github.com/liftops-portal/internal/domain"
)

type changeKind int

const (
	changeInsert changeKind = iota
	changeRestore
	changeUpdate
	changeRead
	changeRemove
)

// change is one local write to the cache.
type change struct {
	seq   uint64
	kind  changeKind
	id    string
	ids   []string
	entry domain.Notification
	patch domain.NotificationPatch
	at    time.Time
	delta int // unread counter adjustment made when the write was applied
	hold  *hold
}

// hold groups the writes of one optimistic mutation. Until it is released
// the remote has not confirmed them, so every page fetched in the meantime
// gets them replayed.
type hold struct {
	releasedAt uint64 // Store.seq at release; 0 while the remote call runs
}

// unseenSince reports whether a page whose fetch started at seq since can
// be missing this write.
func (c change) unseenSince(since uint64) bool {
	if c.seq > since {
		return true
	}
	return c.hold != nil && (c.hold.releasedAt == 0 || c.hold.releasedAt > since)
}

// release marks h settled. Its writes stop being replayed over pages
// fetched from now on.
func (s *Store) release(h *hold) {
	s.mu.Lock()
	s.seq++
	h.releasedAt = s.seq
	if !s.inFlight {
		s.trimLocked()
	}
	s.mu.Unlock()
}

func (s *Store) recordLocked(c change, h *hold) {
	s.seq++
	if h == nil && !s.inFlight {
		return
	}
	c.seq = s.seq
	c.hold = h
	s.journal = append(s.journal, c)
}

// trimLocked drops every write except those still waiting on the remote.
func (s *Store) trimLocked() {
	kept := s.journal[:0]
	for _, c := range s.journal {
		if c.hold != nil && c.hold.releasedAt == 0 {
			kept = append(kept, c)
		}
	}
	clear(s.journal[len(kept):])
	s.journal = kept
}

// replayLocked applies c again and returns its effect on the unread count.
func (s *Store) replayLocked(c change) int {
	d, _ := s.applyLocked(&c)
	return d
}

// applyLocked performs c on the cached items. It returns the unread counter
// adjustment and whether anything changed. A read change keeps only the IDs
// it actually flipped.
func (s *Store) applyLocked(c *change) (int, bool) {
	delta := 0
	switch c.kind {
	case changeInsert, changeRestore:
		if s.indexOf(c.entry.ID) >= 0 {
			return 0, false
		}
		n := c.entry.Clone()
		if c.kind == changeInsert {
			n = s.normalize(n)
			c.entry = n.Clone()
			s.items = append([]domain.Notification{n}, s.items...)
		} else {
			s.items = append(s.items, n)
		}
		if !n.Read {
			delta = 1
		}
	case changeUpdate:
		i := s.indexOf(c.id)
		if i < 0 {
			return 0, false
		}
		wasRead := s.items[i].Read
		s.patchLocked(&s.items[i], c.patch)
		switch {
		case wasRead && !s.items[i].Read:
			delta = 1
		case !wasRead && s.items[i].Read:
			delta = -1
		}
	case changeRead:
		var changed []string
		for _, id := range c.ids {
			i := s.indexOf(id)
			if i < 0 || s.items[i].Read {
				continue
			}
			t := c.at
			s.items[i].Read = true
			s.items[i].ReadAt = &t
			changed = append(changed, id)
		}
		c.ids = changed
		delta = -len(changed)
	case changeRemove:
		i := s.indexOf(c.id)
		if i < 0 {
			return 0, false
		}
		if !s.items[i].Read {
			delta = -1
		}
		s.items = append(s.items[:i:i], s.items[i+1:]...)
	}
	c.delta = delta
	return delta, true
}

func (s *Store) patchLocked(n *domain.Notification, patch domain.NotificationPatch) {
	if patch.Title != nil {
		n.Title = *patch.Title
	}
	if patch.Body != nil {
		n.Body = *patch.Body
	}
	if patch.Link != nil {
		l := *patch.Link
		n.Link = &l
	}
	if patch.Important != nil {
		n.Important = *patch.Important
	}
	if patch.Metadata != nil {
		n.Metadata = patch.Metadata
	}
	if patch.Read != nil {
		n.Read = *patch.Read
	}
	switch {
	case !n.Read:
		n.ReadAt = nil
	case patch.ReadAt != nil:
		t := *patch.ReadAt
		n.ReadAt = &t
	case n.ReadAt == nil:
		t := s.cfg.Clock()
		n.ReadAt = &t
	}
}
