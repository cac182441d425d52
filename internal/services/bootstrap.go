package services

import (
	"context"
	"time"
)

// BootstrapState tracks the one-time cold start of the controller.
type BootstrapState int

const (
	BootstrapCold BootstrapState = iota
	BootstrapWaitingForFirstBatch
	BootstrapReady
)

func (s BootstrapState) String() string {
	switch s {
	case BootstrapCold:
		return "cold"
	case BootstrapWaitingForFirstBatch:
		return "waiting"
	case BootstrapReady:
		return "ready"
	default:
		return "unknown"
	}
}

// BootstrapState returns the current bootstrap state.
func (c *MailboxController) BootstrapState() BootstrapState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrap
}

// Bootstrap populates the cache on cold start and returns once the interface
// may render. A cached newest page makes the controller ready at once and
// schedules a background sync shortly after. Otherwise a background sync is
// started and the durable cache is polled until it yields records or the
// bootstrap timeout elapses; the controller becomes ready either way. Only the
// first call does any work.
func (c *MailboxController) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	if c.bootstrapBegun {
		c.mu.Unlock()
		return nil
	}
	c.bootstrapBegun = true
	c.mu.Unlock()

	logger := c.log().WithField("phase", "bootstrap")

	raw, err := c.gateway.MessagesPage(ctx, PageRequest{Limit: c.cfg.PageSize})
	if err != nil {
		if IsSessionInvalid(err) {
			c.forceLogout(ctx, err)
			c.setBootstrap(BootstrapReady)
			return err
		}
		logger.WithError(err).Warn("reading cached page failed")
	}
	if err == nil && len(raw) > 0 {
		c.mu.Lock()
		c.replaceLocked(raw)
		c.bootstrap = BootstrapReady
		c.scheduleDeferredSyncLocked(c.cfg.BackgroundSyncDelay)
		c.mu.Unlock()
		c.notify()
		logger.WithField("cached", len(raw)).Info("bootstrapped from cache")
		return nil
	}

	c.setBootstrap(BootstrapWaitingForFirstBatch)
	c.mu.Lock()
	if !c.closed {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_, _ = c.Sync(c.ctx, TriggerBootstrap)
		}()
	}
	c.mu.Unlock()

	return c.waitForFirstBatch(ctx)
}

func (c *MailboxController) setBootstrap(s BootstrapState) {
	c.mu.Lock()
	c.bootstrap = s
	c.mu.Unlock()
	c.notify()
}

// waitForFirstBatch polls the durable cache until it is non-empty or the
// bootstrap timeout elapses.
func (c *MailboxController) waitForFirstBatch(ctx context.Context) error {
	logger := c.log().WithField("phase", "bootstrap")
	ticker := time.NewTicker(c.cfg.BootstrapPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.cfg.BootstrapTimeout)
	defer deadline.Stop()

	for {
		// The bootstrap sync reloads the cache itself when it finishes first.
		if c.cacheLen() > 0 {
			c.setBootstrap(BootstrapReady)
			return nil
		}
		select {
		case <-ctx.Done():
			c.setBootstrap(BootstrapReady)
			return ctx.Err()
		case <-c.ctx.Done():
			if c.isLoggedOut() {
				c.setBootstrap(BootstrapReady)
				return nil
			}
			return ErrControllerClosed
		case <-deadline.C:
			logger.WithField("timeout", c.cfg.BootstrapTimeout).Warn("no messages before bootstrap timeout, showing empty inbox")
			c.setBootstrap(BootstrapReady)
			return nil
		case <-ticker.C:
			raw, err := c.gateway.MessagesPage(ctx, PageRequest{Limit: c.cfg.PageSize})
			if err != nil {
				if IsSessionInvalid(err) {
					c.forceLogout(ctx, err)
					c.setBootstrap(BootstrapReady)
					return err
				}
				logger.WithError(err).Debug("poll failed")
				continue
			}
			if len(raw) == 0 {
				continue
			}
			c.mu.Lock()
			if c.cache.Len() == 0 {
				c.replaceLocked(raw)
			}
			c.bootstrap = BootstrapReady
			c.mu.Unlock()
			c.notify()
			logger.WithField("count", len(raw)).Info("first batch arrived")
			return nil
		}
	}
}
