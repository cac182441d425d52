package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewerThan(t *testing.T) {
	assert.Equal(t, []uint32{55, 53}, uidsOf(newerThan(50, msgs(48, 55, 50, 53, 55))))
	assert.Empty(t, newerThan(60, msgs(55, 53)))
}

func TestMailboxController_MergeNew(t *testing.T) {
	gw := newFakeGateway(50, 48, 45)
	c := newTestController(t, gw, nil, testConfig())
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	n, err := c.MergeNew(msgs(55, 53, 50, 48))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint32{55, 53, 50, 48, 45}, uidsOf(c.Messages("")))
	assert.Equal(t, 2, c.View().LastPrepended)
	assert.Equal(t, 5, c.UnreadCounts()["inbox"])

	n, err = c.MergeNew(msgs(55, 53))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assertStrictlyDescending(t, c.Messages(""))
}

func TestMailboxController_MergeNew_EmptyCache(t *testing.T) {
	c := newTestController(t, newFakeGateway(), nil, testConfig())

	n, err := c.MergeNew(msgs(3, 2))
	assert.ErrorIs(t, err, ErrEmptyCache)
	assert.Equal(t, 0, n)
	assert.Empty(t, c.Messages(""))
}

func TestMailboxController_MergeNew_KeepsStaleFlagsOut(t *testing.T) {
	gw := newFakeGateway(50, 48)
	c := newTestController(t, gw, nil, testConfig())
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	fresh := msgs(52, 50)
	fresh[1].Starred = true
	_, err = c.MergeNew(fresh)
	require.NoError(t, err)

	m, ok := c.Message(50)
	require.True(t, ok)
	assert.False(t, m.Starred, "records already cached are not overwritten by a merge")
}
