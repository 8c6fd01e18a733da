// Package messageproc turns one inbound client message into an outbound event.
package messageproc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/events"
	"github.com/quillapp/quill-server/internal/room"
)

// ErrMalformedMessage is returned for inbound frames missing required fields.
var ErrMalformedMessage = errors.New("messageproc: malformed message")

// Process dispatches an inbound message against room/user state and returns
// the event that should be published (to the room channel, or personally for
// TypeError).
func Process(ctx context.Context, msg events.InboundMessage, r *room.Room, user events.Member, c *cache.Client) (events.Envelope, error) {
	if msg.EventType == "" || msg.Data == nil {
		return events.Envelope{}, ErrMalformedMessage
	}

	switch msg.EventType {
	case events.TypeStart:
		return processStart(ctx, r, user, c)
	case events.TypeMessage:
		return processMessage(ctx, msg, r, user, c)
	case events.TypeDrawing:
		return processDrawing(msg, user)
	default:
		return events.Envelope{EventType: msg.EventType, Data: msg.Data}, nil
	}
}

func processStart(ctx context.Context, r *room.Room, user events.Member, c *cache.Client) (events.Envelope, error) {
	if user.UserID != r.Owner.UserID {
		return errorEnvelope("only the room owner can start the game")
	}
	if err := r.Start(ctx, c); err != nil {
		return events.Envelope{}, err
	}
	return events.New(events.TypeGameStateChange, r)
}

func processMessage(ctx context.Context, msg events.InboundMessage, r *room.Room, user events.Member, c *cache.Client) (events.Envelope, error) {
	var in events.ChatMessage
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		return events.Envelope{}, ErrMalformedMessage
	}

	answer, hasAnswer, err := c.Get(ctx, room.AnswerKey(r.ID))
	if err != nil {
		return events.Envelope{}, err
	}

	hasGuessed, err := c.SIsMember(ctx, room.GuessedKey(r.ID), user.UserID)
	if err != nil {
		return events.Envelope{}, err
	}

	if hasAnswer && strings.EqualFold(strings.TrimSpace(in.Message), strings.TrimSpace(answer)) {
		if !hasGuessed {
			if err := c.SAdd(ctx, room.GuessedKey(r.ID), user.UserID); err != nil {
				return events.Envelope{}, err
			}
			out := events.ChatMessage{Username: user.Username, Message: "guessed the word!", HasGuessed: true}
			return events.New(events.TypeCorrectGuess, out)
		}
		out := events.ChatMessage{Username: user.Username, Message: "****", HasGuessed: true}
		return events.New(events.TypeMessage, out)
	}

	out := events.ChatMessage{Username: user.Username, Message: in.Message, HasGuessed: hasGuessed}
	return events.New(events.TypeMessage, out)
}

func processDrawing(msg events.InboundMessage, user events.Member) (events.Envelope, error) {
	var in struct {
		Elements json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		return events.Envelope{}, ErrMalformedMessage
	}
	out := events.Drawing{User: user, Elements: in.Elements}
	return events.New(events.TypeDrawing, out)
}

func errorEnvelope(message string) (events.Envelope, error) {
	return events.New(events.TypeError, events.ErrorData{Message: message})
}
