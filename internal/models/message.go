package models

import (
	"encoding/json"
	"time"
)

// EventType names a signaling frame on the websocket.
type EventType string

const (
	EventJoinRoom         EventType = "join-room"
	EventLeaveRoom        EventType = "leave-room"
	EventAllUsers         EventType = "all-users"
	EventUserRole         EventType = "user-role"
	EventUserJoined       EventType = "user-joined"
	EventUserDisconnected EventType = "user-disconnected"
	EventSignal           EventType = "signal"
	EventChat             EventType = "chat"
	EventWelcome          EventType = "welcome"
)

// SignalType is the kind of a relayed WebRTC signal
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
)

// Valid reports whether t may be relayed between peers.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate:
		return true
	}
	return false
}

// Event is a single websocket frame: {"event": "...", "data": ...}
type Event struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event.
func NewEvent(kind EventType, data any) (Event, error) {
	if data == nil {
		return Event{Event: kind}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Event: kind, Data: raw}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(e.Data, v)
}

// Signal is the envelope of the "signal" event. Clients fill To, the
// relay replaces it with From before forwarding. Data is relayed verbatim.
type Signal struct {
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data"`
}

// SignalKind is the part of Signal.Data the relay inspects.
type SignalKind struct {
	Type SignalType `json:"type"`
}

// Welcome tells a fresh connection the id the relay knows it by.
type Welcome struct {
	ID string `json:"id"`
}

// UserRole is the payload of "user-role".
type UserRole struct {
	Role    Role `json:"role"`
	IsFirst bool `json:"isFirst"`
}

// ChatRequest is sent by a client, ChatMessage is what the room receives.
type ChatRequest struct {
	Text string `json:"text"`
}

type ChatMessage struct {
	From   string    `json:"from"`
	Role   Role      `json:"role"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}
