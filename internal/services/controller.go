package services

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/ajramos/orionmail/internal/mail"
)

// ControllerConfig tunes the mailbox controller.
type ControllerConfig struct {
	PageSize              int
	BootstrapPollInterval time.Duration
	BootstrapTimeout      time.Duration
	BackgroundSyncDelay   time.Duration
	PollInterval          time.Duration
	MessageClearAfter     time.Duration
}

// DefaultControllerConfig returns the default controller tuning
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		PageSize:              25,
		BootstrapPollInterval: 500 * time.Millisecond,
		BootstrapTimeout:      120 * time.Second,
		BackgroundSyncDelay:   500 * time.Millisecond,
		PollInterval:          180 * time.Second,
		MessageClearAfter:     3 * time.Second,
	}
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	def := DefaultControllerConfig()
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.BootstrapPollInterval <= 0 {
		c.BootstrapPollInterval = def.BootstrapPollInterval
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = def.BootstrapTimeout
	}
	if c.BackgroundSyncDelay <= 0 {
		c.BackgroundSyncDelay = def.BackgroundSyncDelay
	}
	if c.MessageClearAfter <= 0 {
		c.MessageClearAfter = def.MessageClearAfter
	}
	// PollInterval <= 0 disables the fallback poll
	return c
}

// Cursor tracks backward pagination through the durable cache. A zero
// LastKnownUID means no page has been loaded yet.
type Cursor struct {
	LastKnownUID uint32
	HasMore      bool
	PageSize     int
}

// View is a read-only snapshot handed to the interface layer.
type View struct {
	Messages      []mail.Message
	IsSyncing     bool
	SyncMessage   string
	SyncError     string
	HasMore       bool
	IsLoadingMore bool
	Bootstrap     BootstrapState
	SelectedUID   uint32
	OpenUID       uint32
	LastPrepended int
	UnreadCounts  map[string]int
	LoggedOut     bool
}

type flagKind int

const (
	flagStarred flagKind = iota
	flagRead
)

type flagKey struct {
	uid  uint32
	kind flagKind
}

// pendingFlag is an optimistic flag value not yet confirmed by the gateway.
type pendingFlag struct {
	value bool
	seq   uint64
}

// MailboxController owns the message cache, the pagination cursor, the sync
// state and the bootstrap state of one mailbox mirror.
type MailboxController struct {
	gateway MailGateway
	session SessionManager
	push    PushChannel
	cfg     ControllerConfig
	logger  logrus.FieldLogger

	syncing atomic.Bool

	mu             sync.Mutex
	cache          *messageCache
	cursor         Cursor
	epoch          uint64
	loadingMore    bool
	syncMessage    string
	syncError      string
	bootstrap      BootstrapState
	bootstrapBegun bool
	selected       uint32
	opened         uint32
	lastPrepended  int
	unread         map[string]int
	pendingFlags   map[flagKey]pendingFlag
	pendingDeletes map[uint32]struct{}
	flagSeq        uint64
	mailboxEpoch   uint32
	loggedOut      bool
	closed         bool
	messageTimer   *time.Timer
	errorTimer     *time.Timer
	debounceTimer  *time.Timer

	subMu     sync.Mutex
	listeners map[int]func(View)
	nextSub   int

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewMailboxController creates a controller. push may be nil when no push
// channel is available.
func NewMailboxController(gateway MailGateway, session SessionManager, push PushChannel, cfg ControllerConfig) *MailboxController {
	ctx, cancel := context.WithCancel(context.Background())
	cfg = cfg.withDefaults()
	c := &MailboxController{
		gateway:        gateway,
		session:        session,
		push:           push,
		cfg:            cfg,
		cache:          newMessageCache(),
		cursor:         Cursor{HasMore: true, PageSize: cfg.PageSize},
		bootstrap:      BootstrapCold,
		unread:         make(map[string]int),
		pendingFlags:   make(map[flagKey]pendingFlag),
		pendingDeletes: make(map[uint32]struct{}),
		listeners:      make(map[int]func(View)),
		ctx:            ctx,
		cancel:         cancel,
	}
	if e, ok := gateway.(MailboxEpoch); ok {
		c.mailboxEpoch = e.MailboxEpoch()
	}
	return c
}

// SetLogger sets the logger for debug output
func (c *MailboxController) SetLogger(logger logrus.FieldLogger) {
	c.logger = logger
}

var discardLogger = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func (c *MailboxController) log() logrus.FieldLogger {
	if c.logger != nil {
		return c.logger
	}
	return discardLogger
}

// Start registers the push subscription and the fallback poll. It is meant to
// run once the bootstrap gate has released the interface.
func (c *MailboxController) Start() error {
	var err error
	c.startOnce.Do(func() {
		if c.push != nil {
			var events <-chan struct{}
			events, err = c.push.Subscribe(c.ctx)
			if err != nil {
				return
			}
			c.wg.Add(1)
			go c.listenPush(events)
		}
		if c.cfg.PollInterval > 0 {
			c.wg.Add(1)
			go c.pollLoop()
		}
	})
	return err
}

func (c *MailboxController) listenPush(events <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				// The channel ends when the watcher gives up, usually on a
				// rejected session. A sync surfaces that at once.
				c.log().Warn("push channel closed")
				_, _ = c.Sync(c.ctx, TriggerPush)
				return
			}
			_, _ = c.Sync(c.ctx, TriggerPush)
		}
	}
}

func (c *MailboxController) pollLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.Sync(c.ctx, TriggerTick)
		}
	}
}

// Close stops timers and background loops and waits for them to exit.
func (c *MailboxController) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.stopTimerLocked(&c.messageTimer)
		c.stopTimerLocked(&c.errorTimer)
		c.stopTimerLocked(&c.debounceTimer)
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()
	})
	return nil
}

// afterFuncLocked schedules fn on a timer tracked by the wait group. Callers
// hold c.mu.
func (c *MailboxController) afterFuncLocked(d time.Duration, fn func()) *time.Timer {
	if c.closed {
		return nil
	}
	c.wg.Add(1)
	return time.AfterFunc(d, func() {
		defer c.wg.Done()
		if c.ctx.Err() != nil {
			return
		}
		fn()
	})
}

func (c *MailboxController) stopTimerLocked(t **time.Timer) {
	if *t != nil && (*t).Stop() {
		c.wg.Done()
	}
	*t = nil
}

// Subscribe registers fn to receive a fresh View after every state change.
// fn runs on the goroutine that made the change and must not block.
func (c *MailboxController) Subscribe(fn func(View)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.listeners, id)
		c.subMu.Unlock()
	}
}

func (c *MailboxController) notify() {
	c.subMu.Lock()
	if len(c.listeners) == 0 {
		c.subMu.Unlock()
		return
	}
	fns := make([]func(View), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	v := c.View()
	for _, fn := range fns {
		fn(v)
	}
}

// View returns a snapshot of the whole cache and the controller flags.
func (c *MailboxController) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Messages:      c.cache.Project(mail.FolderAll),
		IsSyncing:     c.syncing.Load(),
		SyncMessage:   c.syncMessage,
		SyncError:     c.syncError,
		HasMore:       c.cursor.HasMore,
		IsLoadingMore: c.loadingMore,
		Bootstrap:     c.bootstrap,
		SelectedUID:   c.selected,
		OpenUID:       c.opened,
		LastPrepended: c.lastPrepended,
		UnreadCounts:  maps.Clone(c.unread),
		LoggedOut:     c.loggedOut,
	}
}

// Messages returns the records of one folder projection, newest first.
func (c *MailboxController) Messages(folder string) []mail.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Project(folder)
}

// Message returns a copy of one cached record.
func (c *MailboxController) Message(uid uint32) (mail.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.cache.Get(uid); m != nil {
		return *m, true
	}
	return mail.Message{}, false
}

// UnreadCounts returns unread totals per folder, including the starred
// projection.
func (c *MailboxController) UnreadCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.unread)
}

// Cursor returns the pagination cursor.
func (c *MailboxController) Cursor() Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Select marks uid as the highlighted row without opening it.
func (c *MailboxController) Select(uid uint32) {
	c.mu.Lock()
	if uid != 0 && !c.cache.Contains(uid) {
		c.mu.Unlock()
		return
	}
	c.selected = uid
	c.mu.Unlock()
	c.notify()
}

// recountLocked rebuilds the derived unread counters.
func (c *MailboxController) recountLocked() {
	counts := make(map[string]int)
	for _, m := range c.cache.items {
		if !m.Unread {
			continue
		}
		counts[m.Folder]++
		if m.Starred {
			counts[mail.FolderStarred]++
		}
	}
	c.unread = counts
}

// overlayLocked drops records with a delete in flight and applies optimistic
// flag values that the durable cache has not caught up with yet.
func (c *MailboxController) overlayLocked(records []mail.Message) []mail.Message {
	out := records[:0:0]
	for _, m := range records {
		if _, gone := c.pendingDeletes[m.UID]; gone {
			continue
		}
		if p, ok := c.pendingFlags[flagKey{m.UID, flagStarred}]; ok {
			m.Starred = p.value
		}
		if p, ok := c.pendingFlags[flagKey{m.UID, flagRead}]; ok {
			m.Unread = !p.value
		}
		out = append(out, m)
	}
	return out
}

// replaceLocked installs a freshly loaded newest page as the whole cache and
// resets the cursor behind it.
func (c *MailboxController) replaceLocked(raw []mail.RawMessage) {
	c.cache.Replace(c.overlayLocked(mail.NormalizeAll(raw)))
	c.epoch++
	c.cursor = Cursor{HasMore: true, PageSize: c.cfg.PageSize}
	c.advanceCursorLocked(raw)
	c.lastPrepended = 0
	if c.selected != 0 && !c.cache.Contains(c.selected) {
		c.selected = 0
	}
	c.recountLocked()
}

func (c *MailboxController) advanceCursorLocked(raw []mail.RawMessage) {
	c.cursor.HasMore = len(raw) == c.cursor.PageSize
	for _, r := range raw {
		if r.UID != 0 && (c.cursor.LastKnownUID == 0 || r.UID < c.cursor.LastKnownUID) {
			c.cursor.LastKnownUID = r.UID
		}
	}
}

func (c *MailboxController) cacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// forceLogout escalates an invalidated session once and stops background work.
func (c *MailboxController) forceLogout(ctx context.Context, reason error) {
	c.mu.Lock()
	if c.loggedOut {
		c.mu.Unlock()
		return
	}
	c.loggedOut = true
	c.stopTimerLocked(&c.debounceTimer)
	c.mu.Unlock()

	c.log().WithError(reason).Warn("session invalid, forcing logout")
	if c.session != nil {
		if err := c.session.ForceLogout(context.WithoutCancel(ctx), reason); err != nil {
			c.log().WithError(err).Error("forced logout failed")
		}
	}
	c.cancel()
	c.notify()
}

func (c *MailboxController) isLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}
