package services

import (
	"github.com/bradenaw/juniper/xslices"

	"github.com/ajramos/orionmail/internal/mail"
)

// newerThan returns the records of fresh whose uid is above front, newest
// first.
func newerThan(front uint32, fresh []mail.Message) []mail.Message {
	return sortedUnique(xslices.Filter(fresh, func(m mail.Message) bool { return m.UID > front }))
}

// MergeNew prepends the records of a freshly loaded newest page that are newer
// than the cache front and returns how many rows were prepended, so the
// interface can keep the user's scroll offset. An empty cache cannot be merged
// into: the caller reloads instead.
func (c *MailboxController) MergeNew(fresh []mail.Message) (int, error) {
	c.mu.Lock()
	n, err := c.mergeLocked(fresh)
	c.mu.Unlock()
	if err == nil {
		c.notify()
	}
	return n, err
}

func (c *MailboxController) mergeLocked(fresh []mail.Message) (int, error) {
	front, ok := c.cache.Front()
	if !ok {
		return 0, ErrEmptyCache
	}
	n := c.cache.Prepend(c.overlayLocked(newerThan(front.UID, fresh)))
	c.lastPrepended = n
	if n > 0 {
		c.recountLocked()
	}
	return n, nil
}
