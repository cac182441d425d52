package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMailboxController_Reload(t *testing.T) {
	gw := newFakeGateway(10, 9, 8, 7, 6)
	c := newTestController(t, gw, nil, testConfig())

	n, err := c.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint32{10, 9, 8}, uidsOf(c.Messages("")))
	assert.Equal(t, Cursor{LastKnownUID: 8, HasMore: true, PageSize: 3}, c.Cursor())
	assert.Equal(t, 3, c.UnreadCounts()["inbox"])
}

func TestMailboxController_LoadMore_WalksHistory(t *testing.T) {
	gw := newFakeGateway(10, 9, 8, 7, 6, 5, 4)
	c := newTestController(t, gw, nil, testConfig())
	ctx := context.Background()

	_, err := c.Reload(ctx)
	require.NoError(t, err)

	added, err := c.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.True(t, c.Cursor().HasMore)

	added, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.False(t, c.Cursor().HasMore)

	// History exhausted
	added, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	all := c.Messages("")
	assert.Equal(t, []uint32{10, 9, 8, 7, 6, 5, 4}, uidsOf(all))
	assertStrictlyDescending(t, all)
	assert.Equal(t, uint32(4), c.Cursor().LastKnownUID)
}

func TestMailboxController_LoadMore_EmptyCacheIsNoop(t *testing.T) {
	gw := &MockMailGateway{}
	c := newTestController(t, gw, nil, testConfig())

	added, err := c.LoadMore(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, added)
	gw.AssertNotCalled(t, "MessagesPage", mock.Anything, mock.Anything)
}

func TestMailboxController_LoadMore_RetryAfterFailure(t *testing.T) {
	gw := &MockMailGateway{}
	gw.On("MessagesPage", mock.Anything, PageRequest{Limit: 3}).Return(rawMsgs(10, 9, 8), nil).Once()
	gw.On("MessagesPage", mock.Anything, PageRequest{BeforeUID: 8, Limit: 3}).Return(nil, errors.New("connection reset")).Once()
	gw.On("MessagesPage", mock.Anything, PageRequest{BeforeUID: 8, Limit: 3}).Return(rawMsgs(7, 6, 5), nil).Once()

	c := newTestController(t, gw, nil, testConfig())
	ctx := context.Background()
	_, err := c.Reload(ctx)
	require.NoError(t, err)

	added, err := c.LoadMore(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, added)
	assert.Equal(t, Cursor{LastKnownUID: 8, HasMore: true, PageSize: 3}, c.Cursor())
	assert.Equal(t, []uint32{10, 9, 8}, uidsOf(c.Messages("")))
	assert.False(t, c.View().IsLoadingMore)

	added, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Equal(t, []uint32{10, 9, 8, 7, 6, 5}, uidsOf(c.Messages("")))
	assert.Equal(t, uint32(5), c.Cursor().LastKnownUID)

	gw.AssertExpectations(t)
}

func TestMailboxController_LoadMore_DiscardsPageAfterReplace(t *testing.T) {
	gw := &MockMailGateway{}
	var c *MailboxController
	ctx := context.Background()

	gw.On("MessagesPage", mock.Anything, PageRequest{Limit: 3}).Return(rawMsgs(10, 9, 8), nil)
	gw.On("MessagesPage", mock.Anything, PageRequest{BeforeUID: 8, Limit: 3}).
		Run(func(mock.Arguments) {
			_, err := c.Reload(ctx)
			assert.NoError(t, err)
		}).
		Return(rawMsgs(7, 6, 5), nil).Once()

	c = newTestController(t, gw, nil, testConfig())
	_, err := c.Reload(ctx)
	require.NoError(t, err)

	added, err := c.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, []uint32{10, 9, 8}, uidsOf(c.Messages("")))
	assert.Equal(t, uint32(8), c.Cursor().LastKnownUID)
}

func TestMailboxController_LoadMore_KeepsUIDsUnique(t *testing.T) {
	gw := &MockMailGateway{}
	gw.On("MessagesPage", mock.Anything, PageRequest{Limit: 3}).Return(rawMsgs(10, 9, 8), nil)
	// A misbehaving gateway returning overlapping and unsorted rows
	gw.On("MessagesPage", mock.Anything, PageRequest{BeforeUID: 8, Limit: 3}).Return(rawMsgs(9, 6, 8), nil)

	c := newTestController(t, gw, nil, testConfig())
	ctx := context.Background()
	_, err := c.Reload(ctx)
	require.NoError(t, err)

	added, err := c.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	all := c.Messages("")
	assert.Equal(t, []uint32{10, 9, 8, 6}, uidsOf(all))
	assertStrictlyDescending(t, all)
}

func TestMailboxController_LoadMore_SessionInvalid(t *testing.T) {
	gw := &MockMailGateway{}
	gw.On("MessagesPage", mock.Anything, PageRequest{Limit: 3}).Return(rawMsgs(10, 9, 8), nil)
	gw.On("MessagesPage", mock.Anything, PageRequest{BeforeUID: 8, Limit: 3}).Return(nil, errors.New("No active account")).Once()

	session := &fakeSession{}
	c := newTestController(t, gw, session, testConfig())
	ctx := context.Background()
	_, err := c.Reload(ctx)
	require.NoError(t, err)

	_, err = c.LoadMore(ctx)
	assert.Error(t, err)
	assert.True(t, IsSessionInvalid(err))
	assert.Equal(t, 1, session.Calls())
	assert.True(t, c.View().LoggedOut)

	added, err := c.LoadMore(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, added)
}
