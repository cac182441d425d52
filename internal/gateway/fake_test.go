package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajramos/orionmail/internal/db"
	"github.com/ajramos/orionmail/internal/mail"
	"github.com/ajramos/orionmail/internal/mailserver"
)

// fakeServer is an in-memory mailbox shared by the sessions it dials.
type fakeServer struct {
	mu       sync.Mutex
	validity uint32
	messages map[uint32]mail.RawMessage
	bodies   map[uint32][]byte
	trash    []uint32

	dialErr error
	moveErr error
	noopErr error

	dials       int
	headerCalls int
	bodyCalls   int
	seenCalls   int
	logouts     int

	// idle receives one value per IDLE wait: true reports a change, false
	// fails the connection.
	idle chan bool
}

func newFakeServer(validity uint32, uids ...uint32) *fakeServer {
	s := &fakeServer{
		validity: validity,
		messages: make(map[uint32]mail.RawMessage),
		bodies:   make(map[uint32][]byte),
	}
	s.add(uids...)
	return s
}

func (s *fakeServer) add(uids ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range uids {
		s.messages[uid] = mail.RawMessage{
			UID:           uid,
			Folder:        mail.FolderInbox,
			Sender:        "Ada Lovelace",
			SenderAddress: "ada@example.com",
			Subject:       fmt.Sprintf("message %d", uid),
			Date:          time.Unix(1700000000+int64(uid), 0),
		}
		s.bodies[uid] = []byte(fmt.Sprintf("Subject: message %d\r\nContent-Type: text/plain\r\n\r\nbody of %d\r\n", uid, uid))
	}
}

func (s *fakeServer) uidNext() uint32 {
	var highest uint32
	for uid := range s.messages {
		highest = max(highest, uid)
	}
	return highest + 1
}

func (s *fakeServer) Dial(ctx context.Context) (RemoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	return &fakeSession{srv: s, lastUsed: time.Now()}, nil
}

func (s *fakeServer) count(field *int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *field
}

type fakeSession struct {
	srv      *fakeServer
	lastUsed time.Time
}

func (f *fakeSession) Select() (mailserver.MailboxStatus, error) {
	s := f.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	f.lastUsed = time.Now()
	return mailserver.MailboxStatus{UIDValidity: s.validity, UIDNext: s.uidNext(), Messages: uint32(len(s.messages))}, nil
}

func (f *fakeSession) Noop() error {
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	return f.srv.noopErr
}

func (f *fakeSession) FetchHeaders(start, end uint32) ([]mail.RawMessage, error) {
	s := f.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headerCalls++
	var out []mail.RawMessage
	for uid, m := range s.messages {
		if uid >= start && uid <= end {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (f *fakeSession) FetchBody(uid uint32) ([]byte, error) {
	s := f.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodyCalls++
	body, ok := s.bodies[uid]
	if !ok {
		return nil, mailserver.ErrNotFound
	}
	return body, nil
}

func (f *fakeSession) SetSeen(uid uint32) error {
	s := f.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenCalls++
	m := s.messages[uid]
	m.Seen = true
	s.messages[uid] = m
	return nil
}

func (f *fakeSession) SetFlagged(uid uint32, flagged bool) error {
	s := f.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.messages[uid]
	m.Flagged = flagged
	s.messages[uid] = m
	return nil
}

func (f *fakeSession) MoveToTrash(uid uint32) error {
	s := f.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.moveErr != nil {
		return s.moveErr
	}
	delete(s.messages, uid)
	s.trash = append(s.trash, uid)
	return nil
}

func (f *fakeSession) Idle(ctx context.Context, renew time.Duration) (bool, error) {
	select {
	case ok := <-f.srv.idle:
		if !ok {
			return false, mailserver.ErrConnectionClosed
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (f *fakeSession) LastUsed() time.Time { return f.lastUsed }

func (f *fakeSession) Logout() error {
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	f.srv.logouts++
	return nil
}

func (f *fakeSession) Close() error { return nil }

func newTestStore(t *testing.T) *db.MessageStore {
	t.Helper()
	store, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "mail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return db.NewMessageStore(store)
}

func newTestService(t *testing.T, srv *fakeServer, store *db.MessageStore) *Service {
	t.Helper()
	svc, err := New(context.Background(), store, srv, Options{BootstrapWindow: 6, PrefetchLimit: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}
