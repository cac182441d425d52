package tui

import (
	"github.com/ajramos/orionmail/internal/mail"
	"github.com/ajramos/orionmail/internal/services"
	"github.com/derailed/tcell/v2"
)

// Default key bindings.
const (
	keySync      = 'r'
	keyStar      = 's'
	keyMarkRead  = 'u'
	keyDelete    = 'd'
	keyInbox     = '1'
	keyStarred   = '2'
	keyQuit      = 'q'
	keyLoadMore  = 'N'
	keyFocusBody = 'l'
	keyFocusList = 'h'
)

func (a *App) bindKeys() {
	a.SetInputCapture(a.handleKey)
}

// handleKey dispatches global shortcuts. Unhandled events pass through to
// the focused view.
func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		a.closeMessage()
		return nil
	case tcell.KeyCtrlC:
		a.Quit()
		return nil
	case tcell.KeyRune:
	default:
		return event
	}

	switch event.Rune() {
	case keySync:
		a.syncNow()
	case keyStar:
		a.withSelected("star", func(uid uint32) error { return a.ctrl.ToggleStar(a.ctx, uid) })
	case keyMarkRead:
		a.withSelected("mark read", func(uid uint32) error { return a.ctrl.MarkRead(a.ctx, uid) })
	case keyDelete:
		a.withSelected("delete", func(uid uint32) error { return a.ctrl.DeleteMessage(a.ctx, uid) })
	case keyInbox:
		a.setFolder(mail.FolderInbox)
	case keyStarred:
		a.setFolder(mail.FolderStarred)
	case keyLoadMore:
		a.loadMore()
	case keyFocusBody:
		if tv := a.textView("text"); tv != nil {
			a.SetFocus(tv)
		}
	case keyFocusList:
		if l := a.listView(); l != nil {
			a.SetFocus(l)
		}
	case keyQuit:
		a.Quit()
	default:
		return event
	}
	return nil
}

func (a *App) syncNow() {
	a.spawn(func() {
		res, err := a.ctrl.Sync(a.ctx, services.TriggerUser)
		if err != nil {
			a.log().WithError(err).Debug("user sync failed")
			return
		}
		if res.Skipped {
			a.showInfo("Sync already running")
		}
	})
}

// withSelected runs op against the selected message in the background.
func (a *App) withSelected(name string, op func(uid uint32) error) {
	uid, ok := a.selectedUID()
	if !ok {
		return
	}
	a.spawn(func() {
		if err := op(uid); err != nil {
			a.log().WithError(err).WithField("uid", uid).Warnf("%s failed", name)
			if !services.IsSessionInvalid(err) {
				a.showError("Could not " + name + " message")
			}
		}
	})
}
