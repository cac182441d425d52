package gateway

import (
	"context"
	"time"

	"github.com/ajramos/orionmail/internal/mail"
	"github.com/ajramos/orionmail/internal/mailserver"
)

// RemoteSession is one authenticated connection to the mail server with the
// mailbox selected.
type RemoteSession interface {
	Select() (mailserver.MailboxStatus, error)
	Noop() error
	FetchHeaders(start, end uint32) ([]mail.RawMessage, error)
	FetchBody(uid uint32) ([]byte, error)
	SetSeen(uid uint32) error
	SetFlagged(uid uint32, flagged bool) error
	MoveToTrash(uid uint32) error
	Idle(ctx context.Context, renew time.Duration) (bool, error)
	LastUsed() time.Time
	Logout() error
	Close() error
}

// Dialer opens remote sessions.
type Dialer interface {
	Dial(ctx context.Context) (RemoteSession, error)
}

type imapDialer struct {
	d *mailserver.Dialer
}

// IMAP adapts an IMAP dialer to Dialer.
func IMAP(d *mailserver.Dialer) Dialer {
	return imapDialer{d: d}
}

func (i imapDialer) Dial(ctx context.Context) (RemoteSession, error) {
	s, err := i.d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}
