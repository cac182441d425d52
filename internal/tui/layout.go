package tui

import (
	"io"

	"github.com/derailed/tcell/v2"
	"github.com/derailed/tview"
	"github.com/sirupsen/logrus"
)

var discardLogger = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// applyTheme sets the global tview styles from the configured colors
func (a *App) applyTheme() {
	tview.Styles.PrimitiveBackgroundColor = a.colors.Bg.Color()
	tview.Styles.PrimaryTextColor = a.colors.Fg.Color()
	tview.Styles.BorderColor = a.colors.Border.Color()
	tview.Styles.FocusColor = a.colors.Focus.Color()
	tview.Styles.TitleColor = a.colors.Title.Color()
}

// initComponents builds the folder bar, message list, body pane and status bar
func (a *App) initComponents() {
	folders := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	folders.SetBackgroundColor(a.colors.Bg.Color())

	list := tview.NewTable().SetSelectable(true, false)
	list.SetBackgroundColor(a.colors.Bg.Color())
	list.SetBorder(true).
		SetBorderColor(a.colors.Border.Color()).
		SetBorderAttributes(tcell.AttrBold).
		SetTitle(" Messages ").
		SetTitleColor(a.colors.Title.Color()).
		SetTitleAlign(tview.AlignCenter)
	list.SetSelectedStyle(tcell.StyleDefault.
		Foreground(a.colors.Bg.Color()).
		Background(a.colors.Focus.Color()))
	list.SetSelectionChangedFunc(a.onSelectionChanged)
	list.SetSelectedFunc(func(row, _ int) { a.openRow(row) })

	header := tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	header.SetBackgroundColor(a.colors.Bg.Color())

	text := tview.NewTextView().SetDynamicColors(false).SetWrap(true).SetScrollable(true)
	text.SetBackgroundColor(a.colors.Bg.Color())

	textContainer := tview.NewFlex().SetDirection(tview.FlexRow)
	textContainer.SetBackgroundColor(a.colors.Bg.Color())
	textContainer.SetBorder(true).
		SetBorderColor(a.colors.Border.Color()).
		SetBorderAttributes(tcell.AttrBold).
		SetTitle(" Message ").
		SetTitleColor(a.colors.Title.Color()).
		SetTitleAlign(tview.AlignCenter)
	textContainer.AddItem(header, 4, 0, false)
	textContainer.AddItem(text, 0, 1, false)

	status := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	status.SetBackgroundColor(a.colors.Status.Bg.Color())
	status.SetTextColor(a.colors.Status.Fg.Color())

	content := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(list, 0, 3, true).
		AddItem(textContainer, 0, 2, false)

	main := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(folders, 1, 0, false).
		AddItem(content, 0, 1, true).
		AddItem(status, 1, 0, false)

	a.views["folders"] = folders
	a.views["list"] = list
	a.views["header"] = header
	a.views["text"] = text
	a.views["textContainer"] = textContainer
	a.views["status"] = status
	a.views["main"] = main

	a.SetRoot(main, true).SetFocus(list)
}

func (a *App) listView() *tview.Table {
	t, _ := a.views["list"].(*tview.Table)
	return t
}

func (a *App) textView(name string) *tview.TextView {
	t, _ := a.views[name].(*tview.TextView)
	return t
}
