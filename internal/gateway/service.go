// Package gateway is the mail synchronization service. It pulls headers from
// the mail server into the durable cache, serves cache pages, applies flag
// changes and deletions remotely and locally, and fetches message bodies.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ajramos/orionmail/internal/db"
	"github.com/ajramos/orionmail/internal/mail"
	"github.com/ajramos/orionmail/internal/services"
)

// Options tunes the service. Zero fields take the defaults of DefaultOptions.
type Options struct {
	// Mailbox keys the stored UIDVALIDITY.
	Mailbox string
	// BootstrapWindow is how many of the newest uids the first sync fetches.
	BootstrapWindow uint32
	// PrefetchLimit is how many of the newest bodies are fetched after a sync.
	PrefetchLimit  int
	BodyCacheSize  int
	Permits        int64
	MaxSessionIdle time.Duration
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		Mailbox:         "INBOX",
		BootstrapWindow: 200,
		PrefetchLimit:   25,
		BodyCacheSize:   50,
		Permits:         3,
		MaxSessionIdle:  30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Mailbox == "" {
		o.Mailbox = def.Mailbox
	}
	if o.BootstrapWindow == 0 {
		o.BootstrapWindow = def.BootstrapWindow
	}
	if o.PrefetchLimit <= 0 {
		o.PrefetchLimit = def.PrefetchLimit
	}
	if o.BodyCacheSize <= 0 {
		o.BodyCacheSize = def.BodyCacheSize
	}
	if o.Permits < 2 {
		o.Permits = def.Permits
	}
	if o.MaxSessionIdle <= 0 {
		o.MaxSessionIdle = def.MaxSessionIdle
	}
	return o
}

// Service implements services.MailGateway on top of the durable cache and the
// mail server.
type Service struct {
	store  *db.MessageStore
	pool   *sessionPool
	opts   Options
	folder string
	logger logrus.FieldLogger

	bodies *lru.Cache[uint32, string]
	// sem bounds concurrent body fetches. Background work also takes bgSem,
	// which has one permit fewer, so a user-initiated fetch always finds a
	// free permit.
	sem   *semaphore.Weighted
	bgSem *semaphore.Weighted

	syncing atomic.Bool
	epoch   atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ services.MailGateway = (*Service)(nil)
var _ services.MailboxEpoch = (*Service)(nil)

// New creates the service and loads the stored mailbox epoch.
func New(ctx context.Context, store *db.MessageStore, dialer Dialer, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("message store is required")
	}
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}
	opts = opts.withDefaults()
	bodies, err := lru.New[uint32, string](opts.BodyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("body cache: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bg, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:  store,
		opts:   opts,
		folder: mail.FolderInbox,
		logger: logger,
		bodies: bodies,
		sem:    semaphore.NewWeighted(opts.Permits),
		bgSem:  semaphore.NewWeighted(opts.Permits - 1),
		ctx:    bg,
		cancel: cancel,
	}
	s.pool = newSessionPool(dialer, opts.MaxSessionIdle, logger)

	validity, ok, err := store.Validity(ctx, opts.Mailbox)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load mailbox state: %w", err)
	}
	if ok {
		s.epoch.Store(validity)
	}
	return s, nil
}

// SetLogger sets the logger for debug output
func (s *Service) SetLogger(logger logrus.FieldLogger) {
	s.logger = logger
	s.pool.logger = logger
}

// MailboxEpoch returns the UIDVALIDITY of the mailbox as last seen.
func (s *Service) MailboxEpoch() uint32 {
	return s.epoch.Load()
}

// Close stops background prefetching and logs out of the server.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.pool.close()
	return nil
}

// planFetch returns the uid range to fetch given the highest stored uid and
// the server's UIDNEXT. An empty cache fetches the newest window uids.
func planFetch(last, uidNext, window uint32) (start, end uint32, ok bool) {
	if uidNext <= last+1 {
		return 0, 0, false
	}
	end = uidNext - 1
	if last == 0 {
		start = 1
		if end > window {
			start = end - window + 1
		}
	} else {
		start = last + 1
	}
	if start > end {
		return 0, 0, false
	}
	return start, end, true
}

// SyncInbox fetches headers newer than the durable cache and returns how many
// were stored. A call made while another sync runs returns 0. A changed
// UIDVALIDITY discards the cache before fetching.
func (s *Service) SyncInbox(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, services.ErrControllerClosed
	}
	if !s.syncing.CompareAndSwap(false, true) {
		s.logger.Debug("sync already running, skipping")
		return 0, nil
	}
	defer s.syncing.Store(false)

	last, err := s.store.HighestUID(ctx, s.folder)
	if err != nil {
		return 0, fmt.Errorf("read highest uid: %w", err)
	}
	stored, known, err := s.store.Validity(ctx, s.opts.Mailbox)
	if err != nil {
		return 0, fmt.Errorf("read mailbox state: %w", err)
	}

	var fetched int
	err = s.pool.with(ctx, kindPrimary, func(sess RemoteSession) error {
		status, err := sess.Select()
		if err != nil {
			return err
		}
		if !known || stored != status.UIDValidity {
			s.logger.WithFields(logrus.Fields{"old": stored, "new": status.UIDValidity}).Info("uidvalidity changed, clearing cache")
			if err := s.store.Clear(ctx, s.folder); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			if err := s.store.SetValidity(ctx, s.opts.Mailbox, status.UIDValidity); err != nil {
				return fmt.Errorf("store uidvalidity: %w", err)
			}
			s.bodies.Purge()
			last = 0
		}
		s.epoch.Store(status.UIDValidity)

		start, end, ok := planFetch(last, status.UIDNext, s.opts.BootstrapWindow)
		if !ok {
			return nil
		}
		s.logger.WithFields(logrus.Fields{"start": start, "end": end}).Debug("fetching headers")
		headers, err := sess.FetchHeaders(start, end)
		if err != nil {
			return err
		}
		rows := make([]db.MessageRow, 0, len(headers))
		for _, h := range headers {
			rows = append(rows, toRow(s.folder, status.UIDValidity, h))
		}
		if err := s.store.UpsertHeaders(ctx, rows); err != nil {
			return fmt.Errorf("store headers: %w", err)
		}
		fetched = len(rows)
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	s.logger.WithField("new", fetched).Info("inbox synced")
	s.prefetchInBackground()
	return fetched, nil
}

// MessagesPage returns a page of the durable cache, newest first.
func (s *Service) MessagesPage(ctx context.Context, req services.PageRequest) ([]mail.RawMessage, error) {
	rows, err := s.store.Page(ctx, s.folder, req.BeforeUID, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]mail.RawMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// ToggleStar sets the \Flagged flag remotely, then in the durable cache.
func (s *Service) ToggleStar(ctx context.Context, uid uint32, starred bool) error {
	err := s.pool.with(ctx, kindPrimary, func(sess RemoteSession) error {
		return sess.SetFlagged(uid, starred)
	})
	if err != nil {
		return classify(err)
	}
	return s.store.SetFlagged(ctx, s.folder, uid, starred)
}

// MarkAsRead sets the \Seen flag remotely, then in the durable cache. Messages
// already read locally issue no remote command.
func (s *Service) MarkAsRead(ctx context.Context, uid uint32) error {
	seen, err := s.store.IsSeen(ctx, s.folder, uid)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	err = s.pool.with(ctx, kindPrimary, func(sess RemoteSession) error {
		return sess.SetSeen(uid)
	})
	if err != nil {
		return classify(err)
	}
	return s.store.SetSeen(ctx, s.folder, uid, true)
}

// DeleteMessage moves uid to the trash and drops it from the durable cache.
func (s *Service) DeleteMessage(ctx context.Context, uid uint32) error {
	err := s.pool.with(ctx, kindPrimary, func(sess RemoteSession) error {
		return sess.MoveToTrash(uid)
	})
	if err != nil {
		return classify(err)
	}
	s.bodies.Remove(uid)
	return s.store.Delete(ctx, s.folder, uid)
}

func toRow(folder string, validity uint32, r mail.RawMessage) db.MessageRow {
	var date int64
	if !r.Date.IsZero() {
		date = r.Date.Unix()
	}
	return db.MessageRow{
		Folder:         folder,
		UID:            r.UID,
		UIDValidity:    validity,
		Subject:        r.Subject,
		Sender:         r.Sender,
		SenderAddress:  r.SenderAddress,
		Date:           date,
		Snippet:        r.Snippet,
		Seen:           r.Seen,
		Flagged:        r.Flagged,
		HasAttachments: r.HasAttachments,
	}
}

func fromRow(r db.MessageRow) mail.RawMessage {
	var date time.Time
	if r.Date != 0 {
		date = time.Unix(r.Date, 0)
	}
	return mail.RawMessage{
		UID:            r.UID,
		Folder:         r.Folder,
		Sender:         r.Sender,
		SenderAddress:  r.SenderAddress,
		Subject:        r.Subject,
		Snippet:        r.Snippet,
		Date:           date,
		Seen:           r.Seen,
		Flagged:        r.Flagged,
		HasAttachments: r.HasAttachments,
	}
}
