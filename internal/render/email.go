package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajramos/orionmail/internal/mail"
	"github.com/mattn/go-runewidth"
)

// Column widths of a message row.
const (
	flagsWidth  = 3
	senderWidth = 22
	dateWidth   = 6
	minSubject  = 12
)

// Row renders a message as a fixed-width list line:
// flags, sender, subject with snippet, and a relative date.
func Row(m mail.Message, width int, now time.Time) string {
	flags := flagColumn(m)
	date := RelativeTime(m.Timestamp, now)

	sender := senderWidth
	subject := width - flagsWidth - sender - dateWidth - 3
	if subject < minSubject {
		sender -= minSubject - subject
		if sender < 8 {
			sender = 8
		}
		subject = minSubject
	}

	text := m.Subject
	if m.Snippet != "" && m.Snippet != mail.DefaultSnippet {
		text += " - " + m.Snippet
	}

	return fmt.Sprintf("%s %s %s %s",
		fitWidth(flags, flagsWidth),
		fitWidth(m.Sender, sender),
		fitWidth(text, subject),
		rightFit(date, dateWidth),
	)
}

func flagColumn(m mail.Message) string {
	var b strings.Builder
	if m.Unread {
		b.WriteString("●")
	} else {
		b.WriteString("○")
	}
	if m.Starred {
		b.WriteString("★")
	} else {
		b.WriteString(" ")
	}
	if m.HasAttachments {
		b.WriteString("@")
	}
	return b.String()
}

// Header renders the block shown above an opened message body.
func Header(m mail.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From:    %s <%s>\n", m.Sender, m.SenderAddress)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	if !m.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Date:    %s\n", m.Timestamp.Local().Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	}
	return b.String()
}

// RelativeTime formats t compactly relative to now. Zero times render empty.
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(diff.Hours()/24))
	case t.Year() == now.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("01/06")
	}
}

// fitWidth truncates by display width with an ellipsis and pads on the right.
func fitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = runewidth.Truncate(s, width, "...")
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}

func rightFit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = runewidth.TruncateLeft(s, width, "")
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		s = strings.Repeat(" ", pad) + s
	}
	return s
}
