package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ajramos/orionmail/internal/mailserver"
)

type sessionKind int

const (
	kindPrimary sessionKind = iota
	kindPrefetch
	kindCount
)

func (k sessionKind) String() string {
	if k == kindPrefetch {
		return "prefetch"
	}
	return "primary"
}

// slot holds one reusable session. lock is a weighted semaphore of one so
// waiting for the slot honours the caller's context.
type slot struct {
	lock *semaphore.Weighted
	sess RemoteSession
}

// sessionPool keeps one session per kind so body prefetching never queues
// behind user actions on the same connection.
type sessionPool struct {
	dialer  Dialer
	maxIdle time.Duration
	logger  logrus.FieldLogger
	slots   [kindCount]*slot
}

func newSessionPool(dialer Dialer, maxIdle time.Duration, logger logrus.FieldLogger) *sessionPool {
	p := &sessionPool{dialer: dialer, maxIdle: maxIdle, logger: logger}
	for i := range p.slots {
		p.slots[i] = &slot{lock: semaphore.NewWeighted(1)}
	}
	return p
}

// with runs fn on the session of kind, dialing one if needed. A session that
// failed a command is dropped and the next call dials a fresh one.
func (p *sessionPool) with(ctx context.Context, kind sessionKind, fn func(RemoteSession) error) error {
	sl := p.slots[kind]
	if err := sl.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sl.lock.Release(1)

	sess, err := p.ensure(ctx, kind, sl)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		if !errors.Is(err, mailserver.ErrNotFound) {
			_ = sess.Close()
			sl.sess = nil
		}
		return err
	}
	return nil
}

func (p *sessionPool) ensure(ctx context.Context, kind sessionKind, sl *slot) (RemoteSession, error) {
	logger := p.logger.WithField("session", kind.String())
	if sl.sess != nil && time.Since(sl.sess.LastUsed()) > p.maxIdle {
		err := sl.sess.Noop()
		if err == nil {
			_, err = sl.sess.Select()
		}
		if err != nil {
			logger.WithError(err).Info("idle session failed health check, reconnecting")
			_ = sl.sess.Close()
			sl.sess = nil
		}
	}
	if sl.sess == nil {
		sess, err := p.dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		logger.Debug("session dialed")
		sl.sess = sess
	}
	return sl.sess, nil
}

// close logs out every pooled session, waiting for commands in flight.
func (p *sessionPool) close() {
	for kind, sl := range p.slots {
		_ = sl.lock.Acquire(context.Background(), 1)
		if sl.sess != nil {
			if err := sl.sess.Logout(); err != nil {
				p.logger.WithError(err).WithField("session", sessionKind(kind).String()).Debug("logout failed")
			}
			sl.sess = nil
		}
		sl.lock.Release(1)
	}
}
