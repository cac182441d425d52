package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncTrigger_String(t *testing.T) {
	assert.Equal(t, "user", TriggerUser.String())
	assert.Equal(t, "push", TriggerPush.String())
	assert.Equal(t, "tick", TriggerTick.String())
	assert.Equal(t, "bootstrap", TriggerBootstrap.String())
	assert.Equal(t, "deferred", TriggerDeferred.String())
	assert.Equal(t, "unknown", SyncTrigger(99).String())
	assert.True(t, TriggerUser.Foreground())
	assert.False(t, TriggerPush.Foreground())
}

func TestSyncResultMessage(t *testing.T) {
	assert.Equal(t, "No new messages", syncResultMessage(0))
	assert.Equal(t, "1 new message", syncResultMessage(1))
	assert.Equal(t, "7 new messages", syncResultMessage(7))
}

func TestMailboxController_Sync_EmptyCacheLoadsFirstPage(t *testing.T) {
	tests := []struct {
		pageSize int
		hasMore  bool
	}{
		{pageSize: 25, hasMore: false},
		{pageSize: 12, hasMore: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("page_size_%d", tt.pageSize), func(t *testing.T) {
			gw := newFakeGateway()
			for uid := uint32(1); uid <= 12; uid++ {
				gw.incoming = append(gw.incoming, rawMsgs(uid)...)
			}
			cfg := testConfig()
			cfg.PageSize = tt.pageSize
			c := newTestController(t, gw, nil, cfg)

			res, err := c.Sync(context.Background(), TriggerUser)
			require.NoError(t, err)
			assert.Equal(t, 12, res.NewCount)
			assert.True(t, res.Reloaded)

			all := c.Messages("")
			assert.Len(t, all, 12)
			assertStrictlyDescending(t, all)
			assert.Equal(t, tt.hasMore, c.Cursor().HasMore)
			assert.Equal(t, uint32(1), c.Cursor().LastKnownUID)
		})
	}
}

func TestMailboxController_Sync_MergesNewMessages(t *testing.T) {
	gw := newFakeGateway(10, 9, 8)
	c := newTestController(t, gw, nil, testConfig())
	ctx := context.Background()
	_, err := c.Reload(ctx)
	require.NoError(t, err)

	gw.mu.Lock()
	gw.incoming = rawMsgs(12, 11)
	gw.mu.Unlock()

	res, err := c.Sync(ctx, TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{NewCount: 2, Prepended: 2}, res)
	assert.Equal(t, []uint32{12, 11, 10, 9, 8}, uidsOf(c.Messages("")))
	assert.Equal(t, "2 new messages", c.View().SyncMessage)

	assert.Eventually(t, func() bool { return c.View().SyncMessage == "" },
		time.Second, 5*time.Millisecond, "result message clears itself")
}

func TestMailboxController_Sync_NothingNew(t *testing.T) {
	gw := newFakeGateway(10, 9, 8)
	c := newTestController(t, gw, nil, testConfig())
	ctx := context.Background()
	_, err := c.Reload(ctx)
	require.NoError(t, err)

	res, err := c.Sync(ctx, TriggerUser)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res)
	assert.Equal(t, []uint32{10, 9, 8}, uidsOf(c.Messages("")))
	assert.Equal(t, "No new messages", c.View().SyncMessage)
}

func TestMailboxController_Sync_BackgroundIsQuiet(t *testing.T) {
	gw := newFakeGateway(10)
	c := newTestController(t, gw, nil, testConfig())
	ctx := context.Background()
	_, err := c.Reload(ctx)
	require.NoError(t, err)

	_, err = c.Sync(ctx, TriggerPush)
	require.NoError(t, err)
	assert.Empty(t, c.View().SyncMessage)

	gw.mu.Lock()
	gw.syncErr = errors.New("connection reset")
	gw.mu.Unlock()
	_, err = c.Sync(ctx, TriggerTick)
	assert.Error(t, err)
	assert.Empty(t, c.View().SyncError)
}

func TestMailboxController_Sync_ForegroundErrorIsShown(t *testing.T) {
	gw := newFakeGateway(10)
	gw.syncErr = errors.New("connection reset")
	c := newTestController(t, gw, nil, testConfig())

	_, err := c.Sync(context.Background(), TriggerUser)
	assert.Error(t, err)
	assert.Equal(t, SyncIdle, c.SyncState())
	assert.Contains(t, c.View().SyncError, "Sync failed")
	assert.Contains(t, c.View().SyncError, "connection reset")

	assert.Eventually(t, func() bool { return c.View().SyncError == "" },
		time.Second, 5*time.Millisecond)
}

func TestMailboxController_Sync_SessionInvalid(t *testing.T) {
	gw := newFakeGateway(10)
	gw.syncErr = fmt.Errorf("refresh token: %w", ErrSessionInvalid)
	session := &fakeSession{}
	c := newTestController(t, gw, session, testConfig())
	ctx := context.Background()

	_, err := c.Sync(ctx, TriggerUser)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, 1, session.Calls())
	assert.True(t, c.View().LoggedOut)
	assert.Empty(t, c.View().SyncError)

	res, err := c.Sync(ctx, TriggerUser)
	assert.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, gw.SyncCalls())
	assert.Equal(t, 1, session.Calls())
}

func TestMailboxController_Sync_SingleFlight(t *testing.T) {
	gw := newFakeGateway(10)
	gw.syncGate = make(chan struct{})
	gw.syncEntered = make(chan struct{}, 1)
	c := newTestController(t, gw, nil, testConfig())
	ctx := context.Background()

	done := make(chan SyncResult, 1)
	go func() {
		res, _ := c.Sync(ctx, TriggerPush)
		done <- res
	}()
	<-gw.syncEntered
	assert.Equal(t, SyncSyncing, c.SyncState())
	assert.True(t, c.View().IsSyncing)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Sync(ctx, TriggerUser)
			assert.NoError(t, err)
			assert.True(t, res.Skipped)
		}()
	}
	wg.Wait()

	close(gw.syncGate)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, gw.SyncCalls())
	assert.Equal(t, SyncIdle, c.SyncState())
}

func TestMailboxController_Sync_RenumberedMailboxReloads(t *testing.T) {
	gw := newFakeGateway(10, 9, 8)
	gw.epoch = 1
	c := newTestController(t, gw, nil, testConfig())
	ctx := context.Background()
	_, err := c.Reload(ctx)
	require.NoError(t, err)

	gw.mu.Lock()
	gw.epoch = 2
	gw.store = rawMsgs(3, 2, 1)
	gw.mu.Unlock()

	res, err := c.Sync(ctx, TriggerTick)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)
	assert.Equal(t, []uint32{3, 2, 1}, uidsOf(c.Messages("")))
	assert.Equal(t, uint32(1), c.Cursor().LastKnownUID)
}

func TestMailboxController_Start_PushAndPoll(t *testing.T) {
	gw := newFakeGateway(10)
	push := &fakePush{events: make(chan struct{})}
	cfg := testConfig()
	c := NewMailboxController(gw, nil, push, cfg)

	require.NoError(t, c.Start())
	push.events <- struct{}{}
	assert.Eventually(t, func() bool { return gw.SyncCalls() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	cfg.PollInterval = 10 * time.Millisecond
	polled := NewMailboxController(newFakeGateway(10), nil, nil, cfg)
	require.NoError(t, polled.Start())
	assert.Eventually(t, func() bool {
		return polled.gateway.(*fakeGateway).SyncCalls() >= 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, polled.Close())
}

func TestMailboxController_Start_ClosedPushEscalatesSession(t *testing.T) {
	gw := newFakeGateway(10)
	gw.syncErr = fmt.Errorf("idle: %w", ErrSessionInvalid)
	session := &fakeSession{}
	push := &fakePush{events: make(chan struct{})}
	c := NewMailboxController(gw, session, push, testConfig())

	require.NoError(t, c.Start())
	close(push.events)

	assert.Eventually(t, func() bool { return session.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.View().LoggedOut)
	assert.Equal(t, 1, gw.SyncCalls())
	require.NoError(t, c.Close())
}

func TestMailboxController_Subscribe(t *testing.T) {
	gw := newFakeGateway(10, 9)
	c := newTestController(t, gw, nil, testConfig())

	var mu sync.Mutex
	var views []View
	unsubscribe := c.Subscribe(func(v View) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})

	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	mu.Lock()
	require.NotEmpty(t, views)
	last := views[len(views)-1]
	count := len(views)
	mu.Unlock()
	assert.Equal(t, []uint32{10, 9}, uidsOf(last.Messages))
	assert.Equal(t, 2, last.UnreadCounts["inbox"])

	unsubscribe()
	c.Select(9)
	mu.Lock()
	assert.Equal(t, count, len(views))
	mu.Unlock()
	assert.Equal(t, uint32(9), c.View().SelectedUID)
}
