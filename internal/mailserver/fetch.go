package mailserver

import (
	"fmt"
	"slices"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/ajramos/orionmail/internal/mail"
)

var headerFetchOptions = &imap.FetchOptions{
	UID:           true,
	Flags:         true,
	Envelope:      true,
	InternalDate:  true,
	BodyStructure: &imap.FetchItemBodyStructure{},
}

// FetchHeaders returns the header records of the uids in [start, end].
func (s *Session) FetchHeaders(start, end uint32) ([]mail.RawMessage, error) {
	if start == 0 || start > end {
		return nil, nil
	}
	var set imap.UIDSet
	set.AddRange(imap.UID(start), imap.UID(end))

	cmd := s.client.Fetch(set, headerFetchOptions)
	defer cmd.Close()

	var out []mail.RawMessage
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		if buf.UID == 0 {
			continue
		}
		out = append(out, headerFromBuffer(buf))
	}
	if err := cmd.Close(); err != nil {
		return out, fmt.Errorf("fetch %d:%d: %w", start, end, err)
	}
	s.touch()
	return out, nil
}

// headerFromBuffer converts a fetched message into a gateway record.
func headerFromBuffer(buf *imapclient.FetchMessageBuffer) mail.RawMessage {
	r := mail.RawMessage{
		UID:     uint32(buf.UID),
		Folder:  mail.FolderInbox,
		Date:    buf.InternalDate,
		Seen:    slices.Contains(buf.Flags, imap.FlagSeen),
		Flagged: slices.Contains(buf.Flags, imap.FlagFlagged),
	}
	if env := buf.Envelope; env != nil {
		r.Subject = env.Subject
		if !env.Date.IsZero() {
			r.Date = env.Date
		}
		if len(env.From) > 0 {
			r.Sender = env.From[0].Name
			r.SenderAddress = env.From[0].Addr()
		}
	}
	if buf.BodyStructure != nil {
		r.HasAttachments = strings.EqualFold(buf.BodyStructure.MediaType(), "multipart/mixed")
	}
	return r
}

// FetchBody returns the full RFC 822 message without setting \Seen.
func (s *Session) FetchBody(uid uint32) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	cmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		_ = cmd.Close()
		return nil, fmt.Errorf("message %d: %w", uid, ErrNotFound)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collect message %d: %w", uid, err)
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch body %d: %w", uid, err)
	}
	s.touch()
	return buf.FindBodySection(section), nil
}

// SetFlag adds or removes flag on uid.
func (s *Session) SetFlag(uid uint32, flag imap.Flag, on bool) error {
	op := imap.StoreFlagsAdd
	if !on {
		op = imap.StoreFlagsDel
	}
	err := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []imap.Flag{flag},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("store %s on %d: %w", flag, uid, err)
	}
	s.touch()
	return nil
}

// SetSeen marks uid as read.
func (s *Session) SetSeen(uid uint32) error {
	return s.SetFlag(uid, imap.FlagSeen, true)
}

// SetFlagged stars or unstars uid.
func (s *Session) SetFlagged(uid uint32, flagged bool) error {
	return s.SetFlag(uid, imap.FlagFlagged, flagged)
}

// MoveToTrash moves uid to the trash mailbox. Servers refusing the move get
// the message flagged \Deleted and expunged instead.
func (s *Session) MoveToTrash(uid uint32) error {
	set := imap.UIDSetNum(imap.UID(uid))
	_, moveErr := s.client.Move(set, s.cfg.TrashMailbox).Wait()
	if moveErr == nil {
		s.touch()
		return nil
	}
	if err := s.SetFlag(uid, imap.FlagDeleted, true); err != nil {
		return fmt.Errorf("move %d to %s: %v; %w", uid, s.cfg.TrashMailbox, moveErr, err)
	}
	if err := s.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunge %d: %w", uid, err)
	}
	return nil
}
