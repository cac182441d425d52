package services

import (
	"cmp"
	"slices"

	"github.com/bradenaw/juniper/xslices"

	"github.com/ajramos/orionmail/internal/mail"
)

// messageCache holds records sorted strictly descending by uid. Every insertion
// path drops uids that are already present.
type messageCache struct {
	items []mail.Message
	index map[uint32]struct{}
}

func newMessageCache() *messageCache {
	return &messageCache{index: make(map[uint32]struct{})}
}

func byUIDDesc(a, b mail.Message) int {
	return cmp.Compare(b.UID, a.UID)
}

// sortedUnique returns records sorted descending with duplicate and zero uids
// removed. The input is not modified.
func sortedUnique(records []mail.Message) []mail.Message {
	out := xslices.Filter(records, func(m mail.Message) bool { return m.UID != 0 })
	slices.SortStableFunc(out, byUIDDesc)
	return slices.CompactFunc(out, func(a, b mail.Message) bool { return a.UID == b.UID })
}

func (c *messageCache) Len() int { return len(c.items) }

func (c *messageCache) Front() (mail.Message, bool) {
	if len(c.items) == 0 {
		return mail.Message{}, false
	}
	return c.items[0], true
}

func (c *messageCache) Tail() (mail.Message, bool) {
	if len(c.items) == 0 {
		return mail.Message{}, false
	}
	return c.items[len(c.items)-1], true
}

func (c *messageCache) Contains(uid uint32) bool {
	_, ok := c.index[uid]
	return ok
}

// Get returns a pointer to the cached record. The pointer is only valid until
// the next insertion or removal.
func (c *messageCache) Get(uid uint32) *mail.Message {
	if !c.Contains(uid) {
		return nil
	}
	i, found := slices.BinarySearchFunc(c.items, uid, func(m mail.Message, target uint32) int {
		return cmp.Compare(target, m.UID)
	})
	if !found {
		return nil
	}
	return &c.items[i]
}

// Replace discards the current contents.
func (c *messageCache) Replace(records []mail.Message) {
	c.items = sortedUnique(records)
	c.index = make(map[uint32]struct{}, len(c.items))
	for _, m := range c.items {
		c.index[m.UID] = struct{}{}
	}
}

// Append adds records older than the current tail and returns how many were
// added.
func (c *messageCache) Append(records []mail.Message) int {
	tail, ok := c.Tail()
	added := 0
	for _, m := range sortedUnique(records) {
		if c.Contains(m.UID) || (ok && m.UID >= tail.UID) {
			continue
		}
		c.items = append(c.items, m)
		c.index[m.UID] = struct{}{}
		added++
	}
	return added
}

// Prepend adds records newer than the current front and returns how many were
// added.
func (c *messageCache) Prepend(records []mail.Message) int {
	front, ok := c.Front()
	fresh := xslices.Filter(sortedUnique(records), func(m mail.Message) bool {
		return !c.Contains(m.UID) && (!ok || m.UID > front.UID)
	})
	if len(fresh) == 0 {
		return 0
	}
	for _, m := range fresh {
		c.index[m.UID] = struct{}{}
	}
	c.items = append(fresh, c.items...)
	return len(fresh)
}

func (c *messageCache) Remove(uid uint32) bool {
	if !c.Contains(uid) {
		return false
	}
	c.items = slices.DeleteFunc(c.items, func(m mail.Message) bool { return m.UID == uid })
	delete(c.index, uid)
	return true
}

// Project returns a copy of the records in folder.
func (c *messageCache) Project(folder string) []mail.Message {
	return xslices.Filter(c.items, func(m mail.Message) bool { return m.InFolder(folder) })
}

// UIDs returns the cached uids in order.
func (c *messageCache) UIDs() []uint32 {
	out := make([]uint32, 0, len(c.items))
	for _, m := range c.items {
		out = append(out, m.UID)
	}
	return out
}
