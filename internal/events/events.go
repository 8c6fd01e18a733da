// Package events defines the wire protocol exchanged between clients, the
// message processor, and the game loop over a room's pub/sub channel.
package events

import "encoding/json"

// Type is the closed set of event kinds carried in an envelope.
type Type string

const (
	TypeStart           Type = "start"
	TypeConnect         Type = "connect"
	TypeMemberJoin      Type = "member_join"
	TypeMemberLeave     Type = "member_leave"
	TypeOwnerChange     Type = "owner_change"
	TypeGameStateChange Type = "game_state_change"
	TypeMessage         Type = "message"
	TypeCorrectGuess    Type = "correct_guess"
	TypeDrawing         Type = "drawing"
	TypeTurnStart       Type = "turn_start"
	TypeTurnEnd         Type = "turn_end"
	TypeError           Type = "error"
)

// Envelope is the JSON frame sent on the wire and on the room channel.
type Envelope struct {
	EventType Type            `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// New builds an Envelope by marshaling data into the payload slot.
func New(eventType Type, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{EventType: eventType, Data: raw}, nil
}

// Member is the value-type participant shared across payloads.
type Member struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ErrorData carries a human-readable message for TypeError events.
type ErrorData struct {
	Message string `json:"message"`
}

// ChatMessage is the payload for inbound and outbound MESSAGE/CORRECT_GUESS events.
type ChatMessage struct {
	Username   string `json:"username"`
	Message    string `json:"message"`
	HasGuessed bool   `json:"has_guessed"`
}

// Drawing is the payload for DRAWING events; Elements is opaque to the server.
type Drawing struct {
	User     Member          `json:"user"`
	Elements json.RawMessage `json:"elements"`
}

// TurnStartData is the payload for TURN_START.
type TurnStartData struct {
	User   Member `json:"user"`
	Answer string `json:"answer"`
}

// TurnEndData is the payload for TURN_END.
type TurnEndData struct {
	Turn int `json:"turn"`
}

// InboundMessage is the shape a client sends over the socket.
type InboundMessage struct {
	EventType Type            `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}
