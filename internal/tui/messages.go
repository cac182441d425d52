package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ajramos/orionmail/internal/mail"
	"github.com/ajramos/orionmail/internal/render"
	"github.com/ajramos/orionmail/internal/services"
	"github.com/derailed/tcell/v2"
	"github.com/derailed/tview"
)

const defaultListWidth = 100

// render redraws every view from a controller snapshot. It runs on the UI
// goroutine.
func (a *App) render(v services.View) {
	a.mu.Lock()
	a.view = v
	rows := project(v.Messages, a.folder)
	folder := a.folder
	flash := a.flash
	a.mu.Unlock()

	a.drawFolders(folder, v.UnreadCounts)
	a.drawList(rows, v.SelectedUID)
	if status := a.textView("status"); status != nil {
		status.SetText(statusText(v, flash, len(rows)))
	}
}

func project(all []mail.Message, folder string) []mail.Message {
	out := make([]mail.Message, 0, len(all))
	for _, m := range all {
		if m.InFolder(folder) {
			out = append(out, m)
		}
	}
	return out
}

func (a *App) drawFolders(folder string, unread map[string]int) {
	tv := a.textView("folders")
	if tv == nil {
		return
	}
	tab := func(key rune, name, f string) string {
		label := fmt.Sprintf("%c %s", key, name)
		if n := unread[f]; n > 0 {
			label += fmt.Sprintf(" (%d)", n)
		}
		if f == folder {
			return fmt.Sprintf("[%s::b] %s [-::-]", a.colors.Title, label)
		}
		return " " + label + " "
	}
	tv.SetText(tab(keyInbox, "Inbox", mail.FolderInbox) + "  " + tab(keyStarred, "Starred", mail.FolderStarred))
}

// drawList rebuilds the table keeping the highlighted message on the same uid
// so that prepended messages do not move it.
func (a *App) drawList(rows []mail.Message, selected uint32) {
	list := a.listView()
	if list == nil {
		return
	}
	prevRow, _ := list.GetSelection()
	prevUID := uint32(0)
	if old := a.rowUIDs(); prevRow >= 0 && prevRow < len(old) {
		prevUID = old[prevRow]
	}
	if selected == 0 {
		selected = prevUID
	}

	_, _, width, _ := list.GetInnerRect()
	if width <= 0 {
		width = defaultListWidth
	}
	now := a.now()

	uids := make([]uint32, len(rows))
	for i, m := range rows {
		uids[i] = m.UID
	}
	a.mu.Lock()
	a.drawing = true
	a.drawnUIDs = uids
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.drawing = false
		a.mu.Unlock()
	}()

	list.Clear()
	target := 0
	for i, m := range rows {
		cell := tview.NewTableCell(tview.Escape(render.Row(m, width, now))).
			SetTextColor(a.rowColor(m)).
			SetExpansion(1)
		list.SetCell(i, 0, cell)
		if m.UID == selected {
			target = i
		}
	}
	if len(rows) > 0 {
		list.Select(target, 0)
	}
	list.SetTitle(fmt.Sprintf(" Messages (%d) ", len(rows)))
}

func (a *App) rowUIDs() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint32(nil), a.drawnUIDs...)
}

func (a *App) rowColor(m mail.Message) tcell.Color {
	switch {
	case m.Starred:
		return a.colors.Message.Starred.Color()
	case m.Unread:
		return a.colors.Message.Unread.Color()
	default:
		return a.colors.Message.Read.Color()
	}
}

// selectedUID returns the uid of the highlighted row.
func (a *App) selectedUID() (uint32, bool) {
	list := a.listView()
	if list == nil {
		return 0, false
	}
	row, _ := list.GetSelection()
	return a.uidAt(row)
}

func (a *App) uidAt(row int) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row < 0 || row >= len(a.drawnUIDs) {
		return 0, false
	}
	return a.drawnUIDs[row], true
}

func (a *App) onSelectionChanged(row, _ int) {
	a.mu.Lock()
	drawing := a.drawing
	total := len(a.drawnUIDs)
	v := a.view
	a.mu.Unlock()
	if drawing {
		return
	}
	if uid, ok := a.uidAt(row); ok && uid != v.SelectedUID {
		a.spawn(func() { a.ctrl.Select(uid) })
	}
	if a.guard.shouldLoad(row, total, v.HasMore, v.IsLoadingMore, a.now()) {
		a.loadMore()
	}
}

func (a *App) setFolder(folder string) {
	a.mu.Lock()
	if a.folder == folder {
		a.mu.Unlock()
		return
	}
	a.folder = folder
	v := a.view
	a.mu.Unlock()
	a.render(v)
	if list := a.listView(); list != nil && list.GetRowCount() > 0 {
		list.Select(0, 0)
		list.ScrollToBeginning()
	}
}

func (a *App) loadMore() {
	a.spawn(func() {
		n, err := a.ctrl.LoadMore(a.ctx)
		if err != nil {
			// The next scroll retries
			a.log().WithError(err).Warn("load more failed")
			return
		}
		a.log().WithField("count", n).Debug("loaded older messages")
	})
}

// openRow opens the message at row and loads its body.
func (a *App) openRow(row int) {
	uid, ok := a.uidAt(row)
	if !ok {
		return
	}
	a.spawn(func() {
		if err := a.ctrl.Open(a.ctx, uid); err != nil {
			a.log().WithError(err).WithField("uid", uid).Warn("open failed")
		}
		a.showBody(uid)
	})
}

// showBody fetches and displays the body of uid. The result is dropped when
// another message was opened meanwhile.
func (a *App) showBody(uid uint32) {
	msg, ok := findMessage(a.ctrl.Messages(mail.FolderAll), uid)
	if !ok {
		return
	}
	a.queue(func() {
		a.setBody(render.Header(msg), "Loading...")
	})

	body, err := a.ctrl.MessageBody(a.ctx, uid)
	switch {
	case errors.Is(err, services.ErrStaleSelection):
		return
	case err != nil:
		a.log().WithError(err).WithField("uid", uid).Warn("load body failed")
		a.queue(func() { a.setBody(render.Header(msg), "Could not load message body.") })
		return
	}
	a.queue(func() {
		width := defaultListWidth
		if tv := a.textView("text"); tv != nil {
			if _, _, w, _ := tv.GetInnerRect(); w > 0 {
				width = w
			}
		}
		a.setBody(render.Header(msg), render.Wrap(body, width))
	})
}

func (a *App) setBody(header, body string) {
	if hv := a.textView("header"); hv != nil {
		hv.SetText(tview.Escape(strings.TrimRight(header, "\n")))
	}
	if tv := a.textView("text"); tv != nil {
		tv.SetText(body)
		tv.ScrollToBeginning()
	}
}

func (a *App) closeMessage() {
	a.ctrl.CloseMessage()
	a.setBody("", "")
	if l := a.listView(); l != nil {
		a.SetFocus(l)
	}
}

func findMessage(msgs []mail.Message, uid uint32) (mail.Message, bool) {
	for _, m := range msgs {
		if m.UID == uid {
			return m, true
		}
	}
	return mail.Message{}, false
}
