package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ajramos/orionmail/internal/mail"
)

// MockMailGateway implements MailGateway for testing
type MockMailGateway struct {
	mock.Mock
}

func (m *MockMailGateway) SyncInbox(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockMailGateway) MessagesPage(ctx context.Context, req PageRequest) ([]mail.RawMessage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]mail.RawMessage), args.Error(1)
}

func (m *MockMailGateway) ToggleStar(ctx context.Context, uid uint32, starred bool) error {
	args := m.Called(ctx, uid, starred)
	return args.Error(0)
}

func (m *MockMailGateway) MarkAsRead(ctx context.Context, uid uint32) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}

func (m *MockMailGateway) DeleteMessage(ctx context.Context, uid uint32) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}

func (m *MockMailGateway) MessageBody(ctx context.Context, uid uint32) (string, error) {
	args := m.Called(ctx, uid)
	return args.String(0), args.Error(1)
}

// fakeGateway is an in-memory gateway. Messages in incoming move to store on
// the next SyncInbox call.
type fakeGateway struct {
	mu        sync.Mutex
	store     []mail.RawMessage
	incoming  []mail.RawMessage
	epoch     uint32
	syncErr   error
	starErr   error
	deleteErr error
	syncCalls int

	// syncGate blocks SyncInbox until closed; syncEntered is signalled when a
	// call reaches it.
	syncGate    chan struct{}
	syncEntered chan struct{}

	onStar   func()
	onDelete func()
	onBody   func()
}

func newFakeGateway(uids ...uint32) *fakeGateway {
	return &fakeGateway{store: rawMsgs(uids...)}
}

func (g *fakeGateway) SyncInbox(ctx context.Context) (int, error) {
	g.mu.Lock()
	g.syncCalls++
	gate, entered := g.syncGate, g.syncEntered
	g.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.syncErr != nil {
		return 0, g.syncErr
	}
	n := len(g.incoming)
	g.store = append(g.store, g.incoming...)
	slices.SortFunc(g.store, func(a, b mail.RawMessage) int { return cmp.Compare(b.UID, a.UID) })
	g.incoming = nil
	return n, nil
}

func (g *fakeGateway) MessagesPage(_ context.Context, req PageRequest) ([]mail.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []mail.RawMessage
	for _, r := range g.store {
		if req.BeforeUID != 0 && r.UID >= req.BeforeUID {
			continue
		}
		out = append(out, r)
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (g *fakeGateway) ToggleStar(_ context.Context, uid uint32, starred bool) error {
	if g.onStar != nil {
		g.onStar()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.starErr != nil {
		return g.starErr
	}
	g.update(uid, func(r *mail.RawMessage) { r.Flagged = starred })
	return nil
}

func (g *fakeGateway) MarkAsRead(_ context.Context, uid uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.update(uid, func(r *mail.RawMessage) { r.Seen = true })
	return nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, uid uint32) error {
	if g.onDelete != nil {
		g.onDelete()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	g.store = slices.DeleteFunc(g.store, func(r mail.RawMessage) bool { return r.UID == uid })
	return nil
}

func (g *fakeGateway) MessageBody(_ context.Context, uid uint32) (string, error) {
	if g.onBody != nil {
		g.onBody()
	}
	return fmt.Sprintf("body of %d", uid), nil
}

func (g *fakeGateway) MailboxEpoch() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

func (g *fakeGateway) update(uid uint32, fn func(*mail.RawMessage)) {
	for i := range g.store {
		if g.store[i].UID == uid {
			fn(&g.store[i])
		}
	}
}

func (g *fakeGateway) SyncCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.syncCalls
}

type fakeSession struct {
	mu      sync.Mutex
	reasons []error
}

func (s *fakeSession) ForceLogout(_ context.Context, reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
	return nil
}

func (s *fakeSession) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons)
}

type fakePush struct {
	events chan struct{}
}

func (p *fakePush) Subscribe(context.Context) (<-chan struct{}, error) {
	return p.events, nil
}

func rawMsgs(uids ...uint32) []mail.RawMessage {
	out := make([]mail.RawMessage, 0, len(uids))
	for _, uid := range uids {
		out = append(out, mail.RawMessage{
			UID:           uid,
			Folder:        mail.FolderInbox,
			Sender:        "Ada Lovelace",
			SenderAddress: "ada@example.com",
			Subject:       fmt.Sprintf("message %d", uid),
			Date:          time.Unix(int64(uid)*60, 0),
		})
	}
	return out
}

func uidsOf(msgs []mail.Message) []uint32 {
	out := make([]uint32, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.UID)
	}
	return out
}

func assertStrictlyDescending(t *testing.T, msgs []mail.Message) {
	t.Helper()
	seen := make(map[uint32]bool, len(msgs))
	for i, m := range msgs {
		assert.False(t, seen[m.UID], "uid %d repeated", m.UID)
		seen[m.UID] = true
		if i > 0 {
			assert.Greater(t, msgs[i-1].UID, m.UID)
		}
	}
}

func testConfig() ControllerConfig {
	return ControllerConfig{
		PageSize:              3,
		BootstrapPollInterval: 5 * time.Millisecond,
		BootstrapTimeout:      time.Second,
		BackgroundSyncDelay:   5 * time.Millisecond,
		MessageClearAfter:     20 * time.Millisecond,
	}
}

func newTestController(t *testing.T, gw MailGateway, session SessionManager, cfg ControllerConfig) *MailboxController {
	t.Helper()
	c := NewMailboxController(gw, session, nil, cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
