package messageproc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/events"
	"github.com/quillapp/quill-server/internal/room"
)

func setup(t *testing.T) (*cache.Client, *miniredis.Miniredis, *room.Room) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c, err := cache.NewClient(mr.Addr(), "")
	require.NoError(t, err)

	owner := events.Member{UserID: "owner-1", Username: "owner"}
	r := room.New(owner)
	require.NoError(t, r.ToCache(context.Background(), c))
	return c, mr, r
}

func TestProcess_StartByOwner(t *testing.T) {
	c, mr, r := setup(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	msg := events.InboundMessage{EventType: events.TypeStart, Data: json.RawMessage(`{}`)}
	env, err := Process(context.Background(), msg, r, r.Owner, c)
	require.NoError(t, err)
	assert.Equal(t, events.TypeGameStateChange, env.EventType)
	assert.Equal(t, room.StatusOngoing, r.Status)
}

func TestProcess_StartByNonOwnerFails(t *testing.T) {
	c, mr, r := setup(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	guest := events.Member{UserID: "guest-1", Username: "guest"}
	msg := events.InboundMessage{EventType: events.TypeStart, Data: json.RawMessage(`{}`)}
	env, err := Process(context.Background(), msg, r, guest, c)
	require.NoError(t, err)
	assert.Equal(t, events.TypeError, env.EventType)
	assert.Equal(t, room.StatusLobby, r.Status)
}

func TestProcess_CorrectGuess(t *testing.T) {
	c, mr, r := setup(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, room.AnswerKey(r.ID), "banana", 0))

	guest := events.Member{UserID: "guest-1", Username: "guest"}
	msg := events.InboundMessage{EventType: events.TypeMessage, Data: json.RawMessage(`{"message":"Banana"}`)}

	env, err := Process(ctx, msg, r, guest, c)
	require.NoError(t, err)
	assert.Equal(t, events.TypeCorrectGuess, env.EventType)

	var out events.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, out.HasGuessed)
}

func TestProcess_RepeatGuessIsRedacted(t *testing.T) {
	c, mr, r := setup(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, room.AnswerKey(r.ID), "banana", 0))
	require.NoError(t, c.SAdd(ctx, room.GuessedKey(r.ID), "guest-1"))

	guest := events.Member{UserID: "guest-1", Username: "guest"}
	msg := events.InboundMessage{EventType: events.TypeMessage, Data: json.RawMessage(`{"message":"banana"}`)}

	env, err := Process(ctx, msg, r, guest, c)
	require.NoError(t, err)
	assert.Equal(t, events.TypeMessage, env.EventType)

	var out events.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "****", out.Message)
}

func TestProcess_MalformedMessage(t *testing.T) {
	c, mr, r := setup(t)
	defer mr.Close()
	defer func() { _ = c.Close() }()

	guest := events.Member{UserID: "guest-1", Username: "guest"}
	msg := events.InboundMessage{}
	_, err := Process(context.Background(), msg, r, guest, c)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
