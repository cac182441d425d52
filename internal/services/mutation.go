package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// beginFlagLocked records an optimistic flag value and returns its sequence
// number.
func (c *MailboxController) beginFlagLocked(uid uint32, kind flagKind, value bool) uint64 {
	c.flagSeq++
	c.pendingFlags[flagKey{uid, kind}] = pendingFlag{value: value, seq: c.flagSeq}
	return c.flagSeq
}

// endFlagLocked clears the pending entry and reports whether it still belonged
// to seq. A later mutation of the same flag takes ownership of the entry.
func (c *MailboxController) endFlagLocked(uid uint32, kind flagKind, seq uint64) bool {
	key := flagKey{uid, kind}
	p, ok := c.pendingFlags[key]
	if !ok || p.seq != seq {
		return false
	}
	delete(c.pendingFlags, key)
	return true
}

// SetStarred sets the starred flag of uid in the cache, then asks the gateway
// to do the same. A failure other than an invalid session restores the
// previous value. Unknown uids are ignored.
func (c *MailboxController) SetStarred(ctx context.Context, uid uint32, starred bool) error {
	c.mu.Lock()
	m := c.cache.Get(uid)
	if m == nil || c.loggedOut {
		c.mu.Unlock()
		return nil
	}
	prev := m.Starred
	m.Starred = starred
	seq := c.beginFlagLocked(uid, flagStarred, starred)
	c.recountLocked()
	c.mu.Unlock()
	c.notify()

	err := c.gateway.ToggleStar(ctx, uid, starred)

	c.mu.Lock()
	owned := c.endFlagLocked(uid, flagStarred, seq)
	if err == nil {
		c.mu.Unlock()
		return nil
	}
	if IsSessionInvalid(err) {
		c.mu.Unlock()
		c.forceLogout(ctx, err)
		return err
	}
	if owned {
		if m := c.cache.Get(uid); m != nil {
			m.Starred = prev
			c.recountLocked()
		}
	}
	c.mu.Unlock()
	c.notify()

	c.mutationLog(uid, "star").WithError(err).Warn("star failed, rolled back")
	return fmt.Errorf("set starred on %d: %w", uid, err)
}

// ToggleStar flips the starred flag of uid.
func (c *MailboxController) ToggleStar(ctx context.Context, uid uint32) error {
	m, ok := c.Message(uid)
	if !ok {
		return nil
	}
	return c.SetStarred(ctx, uid, !m.Starred)
}

// MarkRead clears the unread flag of uid in the cache, then asks the gateway to
// do the same. Read or unknown messages are left alone.
func (c *MailboxController) MarkRead(ctx context.Context, uid uint32) error {
	c.mu.Lock()
	m := c.cache.Get(uid)
	if m == nil || !m.Unread || c.loggedOut {
		c.mu.Unlock()
		return nil
	}
	m.Unread = false
	seq := c.beginFlagLocked(uid, flagRead, true)
	c.recountLocked()
	c.mu.Unlock()
	c.notify()

	err := c.gateway.MarkAsRead(ctx, uid)

	c.mu.Lock()
	owned := c.endFlagLocked(uid, flagRead, seq)
	if err == nil {
		c.mu.Unlock()
		return nil
	}
	if IsSessionInvalid(err) {
		c.mu.Unlock()
		c.forceLogout(ctx, err)
		return err
	}
	if owned {
		if m := c.cache.Get(uid); m != nil {
			m.Unread = true
			c.recountLocked()
		}
	}
	c.mu.Unlock()
	c.notify()

	c.mutationLog(uid, "read").WithError(err).Warn("mark read failed, rolled back")
	return fmt.Errorf("mark %d read: %w", uid, err)
}

// DeleteMessage removes uid from the cache and clears the selection if it
// pointed at it, then asks the gateway to delete it. On failure the newest
// page is reloaded from the durable cache, since a removed record has no
// well-defined place to go back to.
func (c *MailboxController) DeleteMessage(ctx context.Context, uid uint32) error {
	c.mu.Lock()
	if c.loggedOut || !c.cache.Remove(uid) {
		c.mu.Unlock()
		return nil
	}
	if c.selected == uid {
		c.selected = 0
	}
	if c.opened == uid {
		c.opened = 0
	}
	c.pendingDeletes[uid] = struct{}{}
	c.recountLocked()
	c.mu.Unlock()
	c.notify()

	err := c.gateway.DeleteMessage(ctx, uid)

	c.mu.Lock()
	delete(c.pendingDeletes, uid)
	c.mu.Unlock()
	if err == nil {
		return nil
	}
	if IsSessionInvalid(err) {
		c.forceLogout(ctx, err)
		return err
	}

	logger := c.mutationLog(uid, "delete")
	logger.WithError(err).Warn("delete failed, reloading newest page")
	if _, rerr := c.Reload(ctx); rerr != nil {
		if IsSessionInvalid(rerr) {
			c.forceLogout(ctx, rerr)
		}
		logger.WithError(rerr).Error("reload after failed delete")
	}
	return fmt.Errorf("delete %d: %w", uid, err)
}

// Open makes uid the open message. Opening an unread message marks it read
// once: after the flag flips, reopening it issues no further call.
func (c *MailboxController) Open(ctx context.Context, uid uint32) error {
	c.mu.Lock()
	m := c.cache.Get(uid)
	if m == nil {
		c.mu.Unlock()
		return nil
	}
	c.selected = uid
	c.opened = uid
	unread := m.Unread
	c.mu.Unlock()
	c.notify()

	if !unread {
		return nil
	}
	return c.MarkRead(ctx, uid)
}

// CloseMessage clears the open message. Body fetches still in flight for it
// are discarded.
func (c *MailboxController) CloseMessage() {
	c.mu.Lock()
	c.opened = 0
	c.mu.Unlock()
	c.notify()
}

// MessageBody fetches the body of uid. The result is discarded with
// ErrStaleSelection when uid stopped being the open message meanwhile.
func (c *MailboxController) MessageBody(ctx context.Context, uid uint32) (string, error) {
	body, err := c.gateway.MessageBody(ctx, uid)

	c.mu.Lock()
	current := c.opened
	c.mu.Unlock()
	if current != uid {
		return "", ErrStaleSelection
	}
	if err != nil {
		if IsSessionInvalid(err) {
			c.forceLogout(ctx, err)
		}
		return "", fmt.Errorf("load body of %d: %w", uid, err)
	}
	return body, nil
}

func (c *MailboxController) mutationLog(uid uint32, op string) logrus.FieldLogger {
	return c.log().WithFields(logrus.Fields{"uid": uid, "op": op})
}
