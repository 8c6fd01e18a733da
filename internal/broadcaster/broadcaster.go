// Package broadcaster bridges one client socket with its room's pub/sub channel.
package broadcaster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/events"
	"github.com/quillapp/quill-server/internal/logging"
	"github.com/quillapp/quill-server/internal/metrics"
	"github.com/quillapp/quill-server/internal/room"
)

// subscribeRetryBudget bounds how many times the relay retries a transient
// cache connection failure before giving up on this connection.
const subscribeRetryBudget = 50

// writeWait bounds how long a single socket write may block.
const writeWait = 10 * time.Second

// Broadcaster owns the websocket connection for one authenticated member of
// one room. The reader side runs on the caller's goroutine (the HTTP
// handler's read loop, which calls SendPersonal and Emit); the
// relay side is a tracked background goroutine spawned by SpawnRelay.
type Broadcaster struct {
	conn  *websocket.Conn
	cache *cache.Client
	room  *room.Room
	user  events.Member

	writeMu sync.Mutex
}

// New constructs a Broadcaster for an already-joined member.
func New(conn *websocket.Conn, c *cache.Client, r *room.Room, user events.Member) *Broadcaster {
	return &Broadcaster{conn: conn, cache: c, room: r, user: user}
}

// SendPersonal writes an event directly to this connection only.
func (b *Broadcaster) SendPersonal(env events.Envelope) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteJSON(env)
}

// Emit publishes an event to the room's channel for every subscriber,
// including this connection's own relay.
func (b *Broadcaster) Emit(ctx context.Context, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.cache.Publish(ctx, room.Channel(b.room.ID), string(payload))
}

// Join sends this connection its own CONNECT snapshot, then announces the
// member's arrival to the rest of the room.
func (b *Broadcaster) Join(ctx context.Context) error {
	connectEnv, err := events.New(events.TypeConnect, b.room)
	if err != nil {
		return err
	}
	if err := b.SendPersonal(connectEnv); err != nil {
		return err
	}

	joinEnv, err := events.New(events.TypeMemberJoin, b.user)
	if err != nil {
		return err
	}
	return b.Emit(ctx, joinEnv)
}

// Leave announces this member's departure to the rest of the room.
func (b *Broadcaster) Leave(ctx context.Context) error {
	leaveEnv, err := events.New(events.TypeMemberLeave, b.user)
	if err != nil {
		return err
	}
	return b.Emit(ctx, leaveEnv)
}

// SpawnRelay starts the background relay goroutine and tracks it in the
// process-wide registry so it outlives the spawning call.
func (b *Broadcaster) SpawnRelay(ctx context.Context) {
	track(func() { b.relay(ctx) })
}

// relay subscribes to the room channel and forwards every message to this
// connection's socket, until a terminal event arrives or the subscription
// dies.
func (b *Broadcaster) relay(ctx context.Context) {
	channel := room.Channel(b.room.ID)
	sub, err := cache.SubscribeWithRetry(ctx, b.cache, channel, subscribeRetryBudget)
	if err != nil {
		logging.Error(ctx, "relay failed to subscribe, giving up", zap.String("channel", channel), zap.Error(err))
		return
	}
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if b.forward(msg.Payload) {
				return
			}
		}
	}
}

// forward writes the raw payload to this connection's socket and reports
// whether the relay should terminate afterward. A self MEMBER_LEAVE is never
// written to the socket being closed; it only triggers the close.
func (b *Broadcaster) forward(payload string) bool {
	var env events.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logging.Error(context.Background(), "relay received malformed envelope", zap.Error(err))
		return false
	}

	if env.EventType == events.TypeMemberLeave {
		var m events.Member
		if err := json.Unmarshal(env.Data, &m); err == nil && m.UserID == b.user.UserID {
			_ = b.conn.Close()
			return true
		}
	}

	b.writeMu.Lock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	writeErr := b.conn.WriteMessage(websocket.TextMessage, []byte(payload))
	b.writeMu.Unlock()
	if writeErr != nil {
		metrics.WebsocketEvents.WithLabelValues(string(env.EventType), "write_error").Inc()
		return true
	}
	metrics.WebsocketEvents.WithLabelValues(string(env.EventType), "relayed").Inc()

	if env.EventType == events.TypeGameStateChange {
		var r room.Room
		if err := json.Unmarshal(env.Data, &r); err == nil && r.Status == room.StatusEnded {
			return true
		}
	}
	return false
}
