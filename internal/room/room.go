// Package room implements the authoritative, cache-backed room state model.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/events"
	"github.com/quillapp/quill-server/internal/logging"
)

// Status is a room's lifecycle state.
type Status string

const (
	StatusLobby   Status = "lobby"
	StatusOngoing Status = "ongoing"
	StatusEnded   Status = "ended"
)

const MaxMembers = 8

var (
	ErrAlreadyJoined       = errors.New("room: user already joined")
	ErrNotAcceptingMembers = errors.New("room: not accepting new members")
	ErrCapacityReached     = errors.New("room: capacity reached")
	ErrNotFound            = errors.New("room: not found")
)

// Room is the in-process view of a game session; ToCache/FromCache keep it
// synchronized with the shared cache so multiple processes can cooperate.
type Room struct {
	ID     string          `json:"room_id"`
	Owner  events.Member   `json:"owner"`
	Users  []events.Member `json:"users"`
	Status Status          `json:"status"`
}

// New creates a fresh room in LOBBY status owned by owner.
func New(owner events.Member) *Room {
	return &Room{
		ID:     uuid.NewString(),
		Owner:  owner,
		Users:  []events.Member{},
		Status: StatusLobby,
	}
}

func ownerKey(id string) string   { return fmt.Sprintf("room:%s:owner", id) }
func statusKey(id string) string  { return fmt.Sprintf("room:%s:status", id) }
func usersKey(id string) string   { return fmt.Sprintf("room:%s:users", id) }
func answerKey(id string) string  { return fmt.Sprintf("room:%s:answer", id) }
func guessedKey(id string) string { return fmt.Sprintf("room:%s:guessed", id) }

// AnswerKey, GuessedKey are exported for the game loop and message processor,
// which read/write those keys directly rather than through Room methods.
func AnswerKey(id string) string  { return answerKey(id) }
func GuessedKey(id string) string { return guessedKey(id) }

// encodeMember produces the canonical JSON form used for list membership
// comparisons; struct field order makes this byte-stable across calls.
func encodeMember(m events.Member) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToCache persists owner, status, and the member list. It is meant to be
// called once, right after New, to seed an empty room. The keys are written
// by separate commands, not in one transaction.
func (r *Room) ToCache(ctx context.Context, c *cache.Client) error {
	ownerJSON, err := encodeMember(r.Owner)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, ownerKey(r.ID), ownerJSON, 0); err != nil {
		return err
	}
	if err := c.Set(ctx, statusKey(r.ID), string(r.Status), 0); err != nil {
		return err
	}
	for _, u := range r.Users {
		encoded, err := encodeMember(u)
		if err != nil {
			return err
		}
		if err := c.RPush(ctx, usersKey(r.ID), encoded); err != nil {
			return err
		}
	}
	return nil
}

// FromCache reconstructs a Room from the cache. ok is false if the room does
// not exist (status key absent).
func FromCache(ctx context.Context, c *cache.Client, roomID string) (*Room, bool, error) {
	statusStr, ok, err := c.Get(ctx, statusKey(roomID))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	ownerJSON, ok, err := c.Get(ctx, ownerKey(roomID))
	if err != nil {
		return nil, false, err
	}
	var owner events.Member
	if ok {
		if err := json.Unmarshal([]byte(ownerJSON), &owner); err != nil {
			return nil, false, err
		}
	}

	rawUsers, err := c.LRange(ctx, usersKey(roomID))
	if err != nil {
		return nil, false, err
	}
	users := make([]events.Member, 0, len(rawUsers))
	for _, raw := range rawUsers {
		var m events.Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, false, err
		}
		users = append(users, m)
	}

	return &Room{
		ID:     roomID,
		Owner:  owner,
		Users:  users,
		Status: Status(statusStr),
	}, true, nil
}

// Join adds a member to the room, subject to I1-I3.
func (r *Room) Join(ctx context.Context, c *cache.Client, member events.Member) error {
	for _, u := range r.Users {
		if u.UserID == member.UserID {
			return ErrAlreadyJoined
		}
	}
	if r.Status != StatusLobby {
		return ErrNotAcceptingMembers
	}
	if len(r.Users) >= MaxMembers {
		return ErrCapacityReached
	}

	encoded, err := encodeMember(member)
	if err != nil {
		return err
	}
	if err := c.RPush(ctx, usersKey(r.ID), encoded); err != nil {
		return err
	}
	r.Users = append(r.Users, member)
	return nil
}

// Leave removes a member from the room. A missing member is tolerated.
func (r *Room) Leave(ctx context.Context, c *cache.Client, member events.Member) error {
	encoded, err := encodeMember(member)
	if err != nil {
		return err
	}
	removed, err := c.LRem(ctx, usersKey(r.ID), encoded)
	if err != nil {
		return err
	}
	if removed != 1 {
		logging.Warn(ctx, "room leave removed unexpected number of entries",
			zap.String("room_id", r.ID), zap.String("user_id", member.UserID), zap.Int64("removed", removed))
	}
	for i, u := range r.Users {
		if u.UserID == member.UserID {
			r.Users = append(r.Users[:i], r.Users[i+1:]...)
			break
		}
	}
	return nil
}

// HasMember reports whether member is currently present, consulting the cache.
func HasMember(ctx context.Context, c *cache.Client, roomID string, member events.Member) (bool, error) {
	encoded, err := encodeMember(member)
	if err != nil {
		return false, err
	}
	return c.LPos(ctx, usersKey(roomID), encoded)
}

// Start transitions the room to ONGOING.
func (r *Room) Start(ctx context.Context, c *cache.Client) error {
	r.Status = StatusOngoing
	return c.Set(ctx, statusKey(r.ID), string(StatusOngoing), 0)
}

// End transitions the room to ENDED.
func (r *Room) End(ctx context.Context, c *cache.Client) error {
	r.Status = StatusEnded
	return c.Set(ctx, statusKey(r.ID), string(StatusEnded), 0)
}

// Channel returns the pub/sub channel name for this room.
func Channel(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}
