package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBootstrapState_String(t *testing.T) {
	assert.Equal(t, "cold", BootstrapCold.String())
	assert.Equal(t, "waiting", BootstrapWaitingForFirstBatch.String())
	assert.Equal(t, "ready", BootstrapReady.String())
}

func TestMailboxController_Bootstrap_FromCache(t *testing.T) {
	gw := newFakeGateway(5, 4, 3, 2)
	c := newTestController(t, gw, nil, testConfig())
	assert.Equal(t, BootstrapCold, c.BootstrapState())

	require.NoError(t, c.Bootstrap(context.Background()))
	assert.Equal(t, BootstrapReady, c.BootstrapState())
	assert.Equal(t, []uint32{5, 4, 3}, uidsOf(c.Messages("")))

	// A background sync follows shortly after
	assert.Eventually(t, func() bool { return gw.SyncCalls() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMailboxController_Bootstrap_WaitsForFirstBatch(t *testing.T) {
	gw := newFakeGateway()
	gw.incoming = rawMsgs(7, 6)
	c := newTestController(t, gw, nil, testConfig())

	var mu sync.Mutex
	var states []BootstrapState
	c.Subscribe(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != v.Bootstrap {
			states = append(states, v.Bootstrap)
		}
	})

	require.NoError(t, c.Bootstrap(context.Background()))
	assert.Equal(t, BootstrapReady, c.BootstrapState())
	assert.Equal(t, []uint32{7, 6}, uidsOf(c.Messages("")))
	mu.Lock()
	assert.Contains(t, states, BootstrapWaitingForFirstBatch)
	mu.Unlock()

	// Only the first call does any work
	require.NoError(t, c.Bootstrap(context.Background()))
	assert.Equal(t, 1, gw.SyncCalls())
}

func TestMailboxController_Bootstrap_ReadyAtCeiling(t *testing.T) {
	gw := newFakeGateway()
	cfg := testConfig()
	cfg.BootstrapTimeout = 50 * time.Millisecond
	c := newTestController(t, gw, nil, cfg)

	start := time.Now()
	require.NoError(t, c.Bootstrap(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), cfg.BootstrapTimeout)
	assert.Equal(t, BootstrapReady, c.BootstrapState())
	assert.Empty(t, c.Messages(""))
}

func TestMailboxController_Bootstrap_Cancelled(t *testing.T) {
	gw := newFakeGateway()
	gw.syncGate = make(chan struct{})
	cfg := testConfig()
	cfg.BootstrapTimeout = time.Minute
	c := newTestController(t, gw, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Bootstrap(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, BootstrapReady, c.BootstrapState())
}

func TestMailboxController_Bootstrap_SessionInvalid(t *testing.T) {
	gw := &MockMailGateway{}
	gw.On("MessagesPage", mock.Anything, PageRequest{Limit: 3}).Return(nil, errors.New("Token has been expired or revoked"))
	session := &fakeSession{}
	c := newTestController(t, gw, session, testConfig())

	err := c.Bootstrap(context.Background())
	assert.True(t, IsSessionInvalid(err))
	assert.Equal(t, BootstrapReady, c.BootstrapState())
	assert.Equal(t, 1, session.Calls())
	gw.AssertNotCalled(t, "SyncInbox", mock.Anything)
}
