// Package mail defines the cached message record and the normalization rules
// that turn gateway records into it.
package mail

import (
	"time"
)

// Folder tags carried by records. FolderStarred is virtual: no record is
// stored under it, it selects records whose Starred flag is set.
const (
	FolderInbox   = "inbox"
	FolderStarred = "starred"
	FolderAll     = "all"
)

// Display defaults for records missing fields.
const (
	DefaultSubject = "(No Subject)"
	DefaultSender  = "(Unknown Sender)"
	DefaultAddress = "(no address)"
	DefaultSnippet = "(No preview available)"
	DefaultAvatar  = "?"
)

// SnippetWidth is the display width a snippet is cut to.
const SnippetWidth = 180

// RawMessage is a record as returned by the mail gateway. Any string field may
// be empty and Date may be zero.
type RawMessage struct {
	UID            uint32
	Folder         string
	Sender         string
	SenderAddress  string
	Subject        string
	Snippet        string
	Date           time.Time
	Seen           bool
	Flagged        bool
	HasAttachments bool
}

// Message is the normalized record held by the controller cache.
type Message struct {
	UID            uint32
	Sender         string
	SenderAddress  string
	Subject        string
	Snippet        string
	Avatar         string
	AvatarHue      int
	Timestamp      time.Time
	Unread         bool
	Starred        bool
	Folder         string
	HasAttachments bool
}

// InFolder reports whether the message belongs to the given folder projection.
func (m Message) InFolder(folder string) bool {
	switch folder {
	case "", FolderAll:
		return true
	case FolderStarred:
		return m.Starred
	default:
		return m.Folder == folder
	}
}
