package services

import (
	"context"
	"fmt"

	"github.com/ajramos/orionmail/internal/mail"
)

// LoadMore appends the next older page to the cache. It is a no-op while a
// load is in flight, once history is exhausted, or while the cache is empty.
// A failed fetch leaves the cursor untouched so the call can be retried.
func (c *MailboxController) LoadMore(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.loadingMore || !c.cursor.HasMore || c.cache.Len() == 0 || c.loggedOut {
		c.mu.Unlock()
		return 0, nil
	}
	before := c.cursor.LastKnownUID
	if before == 0 {
		tail, _ := c.cache.Tail()
		before = tail.UID
	}
	epoch := c.epoch
	c.loadingMore = true
	c.mu.Unlock()
	c.notify()

	raw, err := c.gateway.MessagesPage(ctx, PageRequest{BeforeUID: before, Limit: c.cfg.PageSize})

	c.mu.Lock()
	c.loadingMore = false
	if err != nil {
		c.mu.Unlock()
		c.notify()
		if IsSessionInvalid(err) {
			c.forceLogout(ctx, err)
		} else {
			c.log().WithError(err).WithField("before", before).Debug("load more failed")
		}
		return 0, fmt.Errorf("load page before %d: %w", before, err)
	}
	if epoch != c.epoch {
		// The cache was replaced while this page was in flight.
		c.mu.Unlock()
		c.notify()
		return 0, nil
	}
	added := c.cache.Append(c.overlayLocked(mail.NormalizeAll(raw)))
	c.advanceCursorLocked(raw)
	if added > 0 {
		c.recountLocked()
	}
	c.mu.Unlock()
	c.notify()

	c.log().WithField("before", before).WithField("added", added).Debug("loaded older page")
	return added, nil
}

// Reload replaces the cache with the newest page of the durable cache and
// resets the cursor.
func (c *MailboxController) Reload(ctx context.Context) (int, error) {
	raw, err := c.gateway.MessagesPage(ctx, PageRequest{Limit: c.cfg.PageSize})
	if err != nil {
		return 0, fmt.Errorf("load newest page: %w", err)
	}
	c.mu.Lock()
	c.replaceLocked(raw)
	n := c.cache.Len()
	c.mu.Unlock()
	c.notify()
	return n, nil
}
