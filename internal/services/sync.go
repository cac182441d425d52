package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ajramos/orionmail/internal/mail"
)

// SyncTrigger identifies what started a sync run.
type SyncTrigger int

const (
	TriggerUser SyncTrigger = iota
	TriggerPush
	TriggerTick
	TriggerBootstrap
	TriggerDeferred
)

func (t SyncTrigger) String() string {
	switch t {
	case TriggerUser:
		return "user"
	case TriggerPush:
		return "push"
	case TriggerTick:
		return "tick"
	case TriggerBootstrap:
		return "bootstrap"
	case TriggerDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Foreground reports whether results of the run are shown to the user.
func (t SyncTrigger) Foreground() bool { return t == TriggerUser }

// SyncState is the state of the sync orchestrator.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncSyncing
)

func (s SyncState) String() string {
	if s == SyncSyncing {
		return "syncing"
	}
	return "idle"
}

// SyncResult describes one sync run.
type SyncResult struct {
	// Skipped is set when another run was already in flight.
	Skipped   bool
	NewCount  int
	Reloaded  bool
	Prepended int
}

// SyncState returns the current orchestrator state.
func (c *MailboxController) SyncState() SyncState {
	if c.syncing.Load() {
		return SyncSyncing
	}
	return SyncIdle
}

// Sync runs the remote synchronization primitive and folds its outcome into
// the cache. A call made while another run is in flight returns immediately
// with Skipped set and no error.
func (c *MailboxController) Sync(ctx context.Context, trigger SyncTrigger) (SyncResult, error) {
	if c.isLoggedOut() {
		return SyncResult{Skipped: true}, nil
	}
	if !c.syncing.CompareAndSwap(false, true) {
		c.log().WithField("trigger", trigger.String()).Debug("sync already running, skipping")
		return SyncResult{Skipped: true}, nil
	}
	logger := c.log().WithFields(logrus.Fields{"run": uuid.NewString(), "trigger": trigger.String()})

	if trigger.Foreground() {
		c.mu.Lock()
		c.syncError = ""
		c.stopTimerLocked(&c.errorTimer)
		c.mu.Unlock()
	}
	c.notify()
	defer func() {
		c.syncing.Store(false)
		c.notify()
	}()

	started := time.Now()
	res, err := c.runSync(ctx)
	if err != nil {
		c.syncFailed(ctx, trigger, logger, err)
		return res, err
	}

	logger.WithFields(logrus.Fields{
		"new":       res.NewCount,
		"reloaded":  res.Reloaded,
		"prepended": res.Prepended,
		"took":      time.Since(started).Round(time.Millisecond),
	}).Info("sync finished")

	if trigger.Foreground() {
		c.flashMessage(syncResultMessage(res.NewCount))
	}
	return res, nil
}

func (c *MailboxController) runSync(ctx context.Context) (SyncResult, error) {
	count, err := c.gateway.SyncInbox(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync inbox: %w", err)
	}
	res := SyncResult{NewCount: count}

	renumbered := c.mailboxRenumbered()
	if renumbered || c.cacheLen() == 0 {
		if _, err := c.Reload(ctx); err != nil {
			return res, err
		}
		res.Reloaded = true
		return res, nil
	}
	if count == 0 {
		return res, nil
	}

	raw, err := c.gateway.MessagesPage(ctx, PageRequest{Limit: c.cfg.PageSize})
	if err != nil {
		return res, fmt.Errorf("load newest page: %w", err)
	}
	c.mu.Lock()
	res.Prepended, err = c.mergeLocked(mail.NormalizeAll(raw))
	if errors.Is(err, ErrEmptyCache) {
		// Emptied by a delete while the page was loading.
		c.replaceLocked(raw)
		res.Reloaded = true
		err = nil
	}
	c.mu.Unlock()
	c.notify()
	return res, err
}

// mailboxRenumbered reports whether the gateway saw a new mailbox epoch since
// the last check.
func (c *MailboxController) mailboxRenumbered() bool {
	e, ok := c.gateway.(MailboxEpoch)
	if !ok {
		return false
	}
	current := e.MailboxEpoch()
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.mailboxEpoch != 0 && current != 0 && current != c.mailboxEpoch
	if current != 0 {
		c.mailboxEpoch = current
	}
	return changed
}

func (c *MailboxController) syncFailed(ctx context.Context, trigger SyncTrigger, logger logrus.FieldLogger, err error) {
	if IsSessionInvalid(err) {
		c.forceLogout(ctx, err)
		return
	}
	logger.WithError(err).Warn("sync failed")
	if trigger.Foreground() {
		c.flashError("Sync failed: " + err.Error())
	}
}

func syncResultMessage(n int) string {
	switch n {
	case 0:
		return "No new messages"
	case 1:
		return "1 new message"
	default:
		return fmt.Sprintf("%d new messages", n)
	}
}

// flashMessage shows a result message that clears itself.
func (c *MailboxController) flashMessage(msg string) {
	c.mu.Lock()
	c.syncMessage = msg
	c.stopTimerLocked(&c.messageTimer)
	c.messageTimer = c.afterFuncLocked(c.cfg.MessageClearAfter, func() {
		c.mu.Lock()
		if c.syncMessage == msg {
			c.syncMessage = ""
		}
		c.mu.Unlock()
		c.notify()
	})
	c.mu.Unlock()
	c.notify()
}

// flashError shows an error message that clears itself.
func (c *MailboxController) flashError(msg string) {
	c.mu.Lock()
	c.syncError = msg
	c.stopTimerLocked(&c.errorTimer)
	c.errorTimer = c.afterFuncLocked(c.cfg.MessageClearAfter, func() {
		c.mu.Lock()
		if c.syncError == msg {
			c.syncError = ""
		}
		c.mu.Unlock()
		c.notify()
	})
	c.mu.Unlock()
	c.notify()
}

// scheduleDeferredSyncLocked runs a background sync after d, replacing any
// sync scheduled earlier.
func (c *MailboxController) scheduleDeferredSyncLocked(d time.Duration) {
	c.stopTimerLocked(&c.debounceTimer)
	c.debounceTimer = c.afterFuncLocked(d, func() {
		_, _ = c.Sync(c.ctx, TriggerDeferred)
	})
}
