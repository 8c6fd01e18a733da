package room

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/events"
)

func newTestCache(t *testing.T) (*cache.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c, err := cache.NewClient(mr.Addr(), "")
	require.NoError(t, err)
	return c, mr
}

func TestJoinLeaveRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	owner := events.Member{UserID: "u1", Username: "owner"}
	r := New(owner)
	require.NoError(t, r.ToCache(ctx, c))

	guest := events.Member{UserID: "u2", Username: "guest"}
	require.NoError(t, r.Join(ctx, c, guest))

	loaded, ok, err := FromCache(ctx, c, r.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, loaded.Users, 1)
	assert.Equal(t, guest, loaded.Users[0])

	has, err := HasMember(ctx, c, r.ID, guest)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, r.Leave(ctx, c, guest))
	loaded, _, err = FromCache(ctx, c, r.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Users, 0)
}

func TestJoinRejectsDuplicate(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	owner := events.Member{UserID: "u1", Username: "owner"}
	r := New(owner)
	require.NoError(t, r.ToCache(ctx, c))

	guest := events.Member{UserID: "u2", Username: "guest"}
	require.NoError(t, r.Join(ctx, c, guest))
	assert.ErrorIs(t, r.Join(ctx, c, guest), ErrAlreadyJoined)
}

func TestJoinRejectsWhenNotLobby(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	owner := events.Member{UserID: "u1", Username: "owner"}
	r := New(owner)
	require.NoError(t, r.ToCache(ctx, c))
	require.NoError(t, r.Start(ctx, c))

	guest := events.Member{UserID: "u2", Username: "guest"}
	assert.ErrorIs(t, r.Join(ctx, c, guest), ErrNotAcceptingMembers)
}

func TestJoinRejectsAtCapacity(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	owner := events.Member{UserID: "u0", Username: "owner"}
	r := New(owner)
	require.NoError(t, r.ToCache(ctx, c))

	for i := 0; i < MaxMembers; i++ {
		m := events.Member{UserID: fmt.Sprintf("user-%d", i), Username: fmt.Sprintf("user-%d", i)}
		require.NoError(t, r.Join(ctx, c, m))
	}

	assert.ErrorIs(t, r.Join(ctx, c, events.Member{UserID: "overflow"}), ErrCapacityReached)
}

func TestJoinDuplicateTakesPrecedenceOverStatus(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	owner := events.Member{UserID: "u1", Username: "owner"}
	r := New(owner)
	require.NoError(t, r.ToCache(ctx, c))

	guest := events.Member{UserID: "u2", Username: "guest"}
	require.NoError(t, r.Join(ctx, c, guest))
	require.NoError(t, r.Start(ctx, c))

	assert.ErrorIs(t, r.Join(ctx, c, guest), ErrAlreadyJoined)
}

func TestFromCacheMissing(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	_, ok, err := FromCache(context.Background(), c, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartEndTransitions(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	owner := events.Member{UserID: "u1", Username: "owner"}
	r := New(owner)
	require.NoError(t, r.ToCache(ctx, c))

	require.NoError(t, r.Start(ctx, c))
	assert.Equal(t, StatusOngoing, r.Status)

	require.NoError(t, r.End(ctx, c))
	assert.Equal(t, StatusEnded, r.Status)

	loaded, _, err := FromCache(ctx, c, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, loaded.Status)
}
