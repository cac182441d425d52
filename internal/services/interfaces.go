package services

import (
	"context"

	"github.com/ajramos/orionmail/internal/mail"
)

// PageRequest selects a page of the durable cache. A zero BeforeUID asks for
// the newest page.
type PageRequest struct {
	BeforeUID uint32
	Limit     int
}

// MailGateway is the synchronization service that talks to the mail server and
// owns the durable cache.
type MailGateway interface {
	// SyncInbox pulls new messages into the durable cache and returns how many
	// were fetched.
	SyncInbox(ctx context.Context) (int, error)
	// MessagesPage returns records ordered by uid descending.
	MessagesPage(ctx context.Context, req PageRequest) ([]mail.RawMessage, error)
	ToggleStar(ctx context.Context, uid uint32, starred bool) error
	MarkAsRead(ctx context.Context, uid uint32) error
	DeleteMessage(ctx context.Context, uid uint32) error
	MessageBody(ctx context.Context, uid uint32) (string, error)
}

// MailboxEpoch is implemented by gateways that can tell when the server
// renumbered the mailbox. A changed epoch forces a full reload instead of an
// incremental merge.
type MailboxEpoch interface {
	MailboxEpoch() uint32
}

// PushChannel delivers "mailbox updated" events. The channel is closed when
// ctx is done.
type PushChannel interface {
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

// SessionManager is told when the session must be torn down.
type SessionManager interface {
	ForceLogout(ctx context.Context, reason error) error
}
