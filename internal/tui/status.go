package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajramos/orionmail/internal/services"
)

const flashDuration = 3 * time.Second

// statusText builds the status bar line for a snapshot.
func statusText(v services.View, flash string, count int) string {
	if v.LoggedOut {
		return "[red::b] Signed out. Sign in again to continue. [-::-]"
	}
	parts := []string{"OrionMail"}
	switch {
	case v.Bootstrap == services.BootstrapWaitingForFirstBatch:
		parts = append(parts, "Loading mailbox...")
	case v.IsSyncing:
		parts = append(parts, "Syncing...")
	}
	if v.IsLoadingMore {
		parts = append(parts, "Loading older messages...")
	}
	if v.SyncMessage != "" {
		parts = append(parts, v.SyncMessage)
	}
	if v.SyncError != "" {
		parts = append(parts, "[red]"+v.SyncError+"[-]")
	}
	if flash != "" {
		parts = append(parts, flash)
	}
	parts = append(parts, fmt.Sprintf("%d messages", count))
	parts = append(parts, "r sync | s star | u read | d delete | q quit")
	return " " + strings.Join(parts, " | ")
}

// showStatusMessage displays a transient message in the status bar
func (a *App) showStatusMessage(msg string) {
	a.mu.Lock()
	a.flash = msg
	if a.flashTimer != nil {
		a.flashTimer.Stop()
	}
	a.flashTimer = time.AfterFunc(flashDuration, func() {
		a.mu.Lock()
		if a.flash != msg {
			a.mu.Unlock()
			return
		}
		a.flash = ""
		a.mu.Unlock()
		a.queue(a.redrawStatus)
	})
	a.mu.Unlock()
	a.queue(a.redrawStatus)
}

func (a *App) redrawStatus() {
	a.mu.Lock()
	v, flash, count := a.view, a.flash, len(a.drawnUIDs)
	a.mu.Unlock()
	if status := a.textView("status"); status != nil {
		status.SetText(statusText(v, flash, count))
	}
}

// showError shows an error message via status helpers
func (a *App) showError(msg string) {
	a.showStatusMessage("[red]" + msg + "[-]")
}

// showInfo shows an info message via status helpers
func (a *App) showInfo(msg string) {
	a.showStatusMessage(msg)
}
