package gateway

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ajramos/orionmail/internal/services"
)

// WatcherOptions tunes the IDLE watcher.
type WatcherOptions struct {
	// Renew is how long one IDLE command may run before it is reissued.
	Renew      time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// MinInterval is the minimum spacing between two delivered events.
	MinInterval time.Duration
}

// DefaultWatcherOptions returns the default tuning.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Renew:       15 * time.Minute,
		MinBackoff:  2 * time.Second,
		MaxBackoff:  60 * time.Second,
		MinInterval: 2 * time.Second,
	}
}

// IdleWatcher keeps an IDLE connection open on its own session and delivers
// "mailbox updated" events. It implements services.PushChannel.
type IdleWatcher struct {
	dialer  Dialer
	opts    WatcherOptions
	limiter *rate.Limiter
	logger  logrus.FieldLogger
}

var _ services.PushChannel = (*IdleWatcher)(nil)

// NewIdleWatcher creates a watcher. Zero options take their defaults.
func NewIdleWatcher(dialer Dialer, opts WatcherOptions) *IdleWatcher {
	def := DefaultWatcherOptions()
	if opts.Renew <= 0 {
		opts.Renew = def.Renew
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(def.MaxBackoff, opts.MinBackoff)
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = def.MinInterval
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &IdleWatcher{
		dialer:  dialer,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		logger:  logger,
	}
}

// SetLogger sets the logger for debug output
func (w *IdleWatcher) SetLogger(logger logrus.FieldLogger) {
	w.logger = logger
}

// Subscribe starts watching. Events that arrive while the previous one is
// still unread are merged into it. The channel is closed when ctx is done or
// the session can no longer authenticate.
func (w *IdleWatcher) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	events := make(chan struct{}, 1)
	go w.run(ctx, events)
	return events, nil
}

func (w *IdleWatcher) run(ctx context.Context, events chan<- struct{}) {
	defer close(events)
	backoff := w.opts.MinBackoff
	reconnect := false
	for {
		connected, err := w.watch(ctx, events, reconnect)
		if ctx.Err() != nil {
			return
		}
		err = classify(err)
		if services.IsSessionInvalid(err) {
			w.logger.WithError(err).Warn("idle: session invalid, stopping")
			return
		}
		if connected {
			backoff = w.opts.MinBackoff
		}
		w.logger.WithError(err).WithField("retry_in", backoff).Warn("idle: connection lost")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, w.opts.MaxBackoff)
		reconnect = true
	}
}

// watch runs IDLE on one session until it fails. After a reconnect one event
// is delivered for changes missed while disconnected.
func (w *IdleWatcher) watch(ctx context.Context, events chan<- struct{}, reconnect bool) (bool, error) {
	sess, err := w.dialer.Dial(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = sess.Logout() }()
	w.logger.Debug("idle: waiting for changes")

	if reconnect {
		w.deliver(events)
	}
	for {
		changed, err := sess.Idle(ctx, w.opts.Renew)
		if err != nil {
			return true, err
		}
		if !changed {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return true, err
		}
		w.deliver(events)
	}
}

func (w *IdleWatcher) deliver(events chan<- struct{}) {
	select {
	case events <- struct{}{}:
	default:
	}
}
