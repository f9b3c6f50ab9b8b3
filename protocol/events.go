package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names exchanged with the chat server. Each websocket frame is a
// single Envelope carrying one named event.
const (
	// transport-level handshake, never forwarded to subscribers
	EventConnect = "connect"

	// client -> server
	EventJoinRoom       = "join-room"
	EventSendMessage    = "send-message"
	EventTyping         = "typing"
	EventPrivateMessage = "private-message"

	// server -> client
	EventRoomJoined         = "room-joined"
	EventNewMessage         = "new-message"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventUserTyping         = "user-typing"
	EventPrivateMessageSent = "private-message-sent"
	EventRoomDeleted        = "room-deleted"
	EventError              = "error"
)

// Envelope is the wire frame: an event name plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = raw
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event name")
	}
	return env, nil
}

// Session is the record produced by the join flow. Immutable for the
// lifetime of one room view; cleared on explicit leave or room deletion.
type Session struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	RoomID    string `json:"roomId"`
	IsCreator bool   `json:"isCreator,omitempty"`
}

// Participant identifies one room member. ID is the opaque server-assigned
// connection identifier and changes across reconnects.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Room struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Users []Participant `json:"users"`
}

type Message struct {
	SocketID  string    `json:"socketId"`
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type PrivateMessage struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Connected is the payload of the reserved connect handshake frame.
type Connected struct {
	SID string `json:"sid"`
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type SendMessage struct {
	Text string `json:"message"`
	Type string `json:"type"`
}

type Typing struct {
	IsTyping bool `json:"isTyping"`
}

type PrivateSend struct {
	TargetSocketID string `json:"targetSocketId"`
	Text           string `json:"message"`
}

type RoomJoined struct {
	Room     Room      `json:"room"`
	Messages []Message `json:"messages"`
}

// Membership is the payload of user-joined and user-left: the affected
// username plus a full snapshot of the current member list.
type Membership struct {
	Username string        `json:"username"`
	Users    []Participant `json:"users"`
}

type UserTyping struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type RoomDeleted struct {
	Text string `json:"message"`
}

type ServerError struct {
	Text string `json:"message"`
}
