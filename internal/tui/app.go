// Package tui is the terminal interface over the mailbox controller.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ajramos/orionmail/internal/config"
	"github.com/ajramos/orionmail/internal/mail"
	"github.com/ajramos/orionmail/internal/services"
	"github.com/derailed/tview"
	"github.com/sirupsen/logrus"
)

// Controller is the part of the mailbox controller the interface drives.
type Controller interface {
	Bootstrap(ctx context.Context) error
	Start() error
	Subscribe(fn func(services.View)) (unsubscribe func())
	View() services.View
	Messages(folder string) []mail.Message
	Select(uid uint32)
	Sync(ctx context.Context, trigger services.SyncTrigger) (services.SyncResult, error)
	LoadMore(ctx context.Context) (int, error)
	ToggleStar(ctx context.Context, uid uint32) error
	MarkRead(ctx context.Context, uid uint32) error
	DeleteMessage(ctx context.Context, uid uint32) error
	Open(ctx context.Context, uid uint32) error
	CloseMessage()
	MessageBody(ctx context.Context, uid uint32) (string, error)
}

// App encapsulates the terminal UI and the mailbox controller
type App struct {
	*tview.Application
	ctrl   Controller
	colors *config.ColorsConfig
	logger logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	views map[string]tview.Primitive

	mu         sync.Mutex
	folder     string
	drawnUIDs  []uint32
	drawing    bool
	view       services.View
	guard      *loadMoreGuard
	flash      string
	flashTimer *time.Timer
	logoutErr  error

	// spawn runs background work and queue applies a change on the UI
	// goroutine. Tests replace both with synchronous calls.
	spawn func(func())
	queue func(func())
	now   func() time.Time
}

// NewApp creates the application. colors may be nil for the defaults.
func NewApp(ctrl Controller, colors *config.ColorsConfig) *App {
	if colors == nil {
		colors = config.DefaultColors()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Application: tview.NewApplication(),
		ctrl:        ctrl,
		colors:      colors,
		ctx:         ctx,
		cancel:      cancel,
		views:       make(map[string]tview.Primitive),
		folder:      mail.FolderInbox,
		guard:       newLoadMoreGuard(loadMoreInterval),
		now:         time.Now,
	}
	a.spawn = func(fn func()) {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			fn()
		}()
	}
	a.queue = func(fn func()) { a.QueueUpdateDraw(fn) }

	a.applyTheme()
	a.initComponents()
	a.bindKeys()
	return a
}

// SetLogger sets the logger for the interface
func (a *App) SetLogger(logger logrus.FieldLogger) {
	a.logger = logger
}

func (a *App) log() logrus.FieldLogger {
	if a.logger != nil {
		return a.logger
	}
	return discardLogger
}

// Run shows the interface, bootstraps the controller and blocks until the
// user quits or the session is logged out. It returns the logout reason in
// the latter case.
func (a *App) Run() error {
	unsubscribe := a.ctrl.Subscribe(func(v services.View) {
		a.queue(func() { a.render(v) })
	})
	defer unsubscribe()

	a.render(a.ctrl.View())
	a.spawn(a.bootstrap)

	err := a.Application.Run()
	a.cancel()
	a.wg.Wait()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logoutErr
}

func (a *App) bootstrap() {
	if err := a.ctrl.Bootstrap(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log().WithError(err).Warn("bootstrap finished with error")
	}
	if a.ctx.Err() != nil {
		return
	}
	if err := a.ctrl.Start(); err != nil {
		a.log().WithError(err).Error("start background sync")
		a.showError(fmt.Sprintf("background sync unavailable: %v", err))
	}
}

// HandleLogout stops the interface after the session was torn down. It is
// meant to be registered with the session manager.
func (a *App) HandleLogout(reason error) {
	a.mu.Lock()
	if a.logoutErr == nil {
		a.logoutErr = fmt.Errorf("signed out: %w", reason)
	}
	a.mu.Unlock()
	a.log().WithError(reason).Warn("session ended, leaving interface")
	a.queue(a.Stop)
}

// Quit stops the interface.
func (a *App) Quit() {
	a.cancel()
	a.Stop()
}
