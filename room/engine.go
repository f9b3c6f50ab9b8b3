// Package room holds the synchronization engine: it consumes server-pushed
// events and local user actions, keeps the authoritative room state, and
// emits rendering intents to the view layer.
package room

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
	"github.com/Abdul-khadeer-2404/CrewChat/transport"
)

// Engine owns RoomState. Membership is replaced wholesale on every
// membership event, never patched, so local state cannot diverge from the
// server after missed events. The message log is append-only.
type Engine struct {
	sess   protocol.Session
	tr     Transport
	view   Renderer
	typing *TypingCoordinator

	mu         sync.Mutex
	room       protocol.Room
	messages   []protocol.Message
	privates   []protocol.PrivateMessage
	closed     bool
	observers  []func()
	onTerminal func()
}

func New(sess protocol.Session, tr Transport, view Renderer, typing *TypingCoordinator) *Engine {
	return &Engine{sess: sess, tr: tr, view: view, typing: typing}
}

// Observe appends fn to the ordered observer list invoked after each
// inbound message append. This is how the unread tracker hooks in.
func (e *Engine) Observe(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// OnTerminal registers the callback fired once when room deletion is
// observed, after the blocking notice has been emitted.
func (e *Engine) OnTerminal(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTerminal = fn
}

// Run wires the engine to the transport. Call before Connect so no event
// is missed; a join request is emitted on every transition to Connected,
// first connect and reconnects alike.
func (e *Engine) Run() {
	e.tr.Subscribe(protocol.EventRoomJoined, e.handleRoomJoined)
	e.tr.Subscribe(protocol.EventNewMessage, e.handleNewMessage)
	e.tr.Subscribe(protocol.EventUserJoined, e.membershipHandler("joined the room"))
	e.tr.Subscribe(protocol.EventUserLeft, e.membershipHandler("left the room"))
	e.tr.Subscribe(protocol.EventUserTyping, e.handleUserTyping)
	e.tr.Subscribe(protocol.EventPrivateMessage, e.handlePrivate)
	e.tr.Subscribe(protocol.EventPrivateMessageSent, e.handlePrivateSent)
	e.tr.Subscribe(protocol.EventRoomDeleted, e.handleRoomDeleted)
	e.tr.Subscribe(protocol.EventError, e.handleServerError)
	e.tr.OnStatus(func(s transport.Status) {
		if s == transport.StatusConnected {
			e.joinRoom()
		}
	})
}

func (e *Engine) joinRoom() {
	log.Info().Str("room", e.sess.RoomID).Str("user", e.sess.Username).Msg("[room] joining")
	e.tr.Emit(protocol.EventJoinRoom, protocol.JoinRoom{
		RoomID:   e.sess.RoomID,
		Username: e.sess.Username,
	})
}

// SendMessage broadcasts a chat message. Empty-after-trim input and a
// not-connected transport are both silent no-ops; a successful send always
// stops the active typing burst.
func (e *Engine) SendMessage(text string) {
	text = strings.TrimSpace(text)
	if text == "" || e.isClosed() {
		return
	}
	if e.tr.Status() != transport.StatusConnected {
		return
	}
	e.tr.Emit(protocol.EventSendMessage, protocol.SendMessage{Text: text, Type: "text"})
	if e.typing != nil {
		e.typing.Stop()
	}
}

// SendPrivateMessage addresses one participant by connection identifier.
// There is no optimistic append: the sender's own copy only appears when
// the server confirms with private-message-sent.
func (e *Engine) SendPrivateMessage(targetID, text string) {
	text = strings.TrimSpace(text)
	if text == "" || targetID == "" || e.isClosed() {
		return
	}
	e.tr.Emit(protocol.EventPrivateMessage, protocol.PrivateSend{
		TargetSocketID: targetID,
		Text:           text,
	})
}

// IsSelf reports whether a connection identifier is this client's current
// one. Looked up live on every call: identifiers change across reconnects.
func (e *Engine) IsSelf(connID string) bool {
	return connID != "" && connID == e.tr.ConnID()
}

func (e *Engine) handleRoomJoined(data json.RawMessage) {
	payload, ok := decode[protocol.RoomJoined](data, protocol.EventRoomJoined)
	if !ok || e.isClosed() {
		return
	}
	rm := payload.Room
	rm.Name = sanitizeText(rm.Name)
	rm.Users = cleanUsers(rm.Users)
	backlog := make([]protocol.Message, len(payload.Messages))
	for i, m := range payload.Messages {
		backlog[i] = cleanMessage(m)
	}

	e.mu.Lock()
	// Authoritative snapshot: overwrites whatever was in flight, merges
	// nothing. Backlog keeps server order.
	e.room = rm
	e.messages = append(e.messages, backlog...)
	e.mu.Unlock()

	e.view.RoomInfo(rm)
	e.view.Users(rm.Users)
	for _, m := range backlog {
		e.view.Message(m, e.IsSelf(m.SocketID))
	}
	e.view.System(fmt.Sprintf("Welcome to %s!", rm.Name))
}

func (e *Engine) handleNewMessage(data json.RawMessage) {
	m, ok := decode[protocol.Message](data, protocol.EventNewMessage)
	if !ok || e.isClosed() {
		return
	}
	m = cleanMessage(m)
	e.mu.Lock()
	e.messages = append(e.messages, m)
	e.mu.Unlock()
	e.view.Message(m, e.IsSelf(m.SocketID))
	e.notifyObservers()
}

func (e *Engine) membershipHandler(verb string) transport.Handler {
	return func(data json.RawMessage) {
		payload, ok := decode[protocol.Membership](data, "membership")
		if !ok || e.isClosed() {
			return
		}
		users := cleanUsers(payload.Users)
		e.mu.Lock()
		e.room.Users = users
		e.mu.Unlock()
		e.view.Users(users)
		e.view.System(fmt.Sprintf("%s %s", sanitizeName(payload.Username), verb))
	}
}

func (e *Engine) handleUserTyping(data json.RawMessage) {
	payload, ok := decode[protocol.UserTyping](data, protocol.EventUserTyping)
	if !ok || e.isClosed() || e.typing == nil {
		return
	}
	e.typing.HandleRemote(sanitizeName(payload.Username), payload.IsTyping)
}

func (e *Engine) handlePrivate(data json.RawMessage) {
	m, ok := decode[protocol.PrivateMessage](data, protocol.EventPrivateMessage)
	if !ok || e.isClosed() {
		return
	}
	m.From = sanitizeName(m.From)
	m.Text = sanitizeText(m.Text)
	e.mu.Lock()
	e.privates = append(e.privates, m)
	e.mu.Unlock()
	e.view.Private(m, false)
	e.notifyObservers()
}

// handlePrivateSent is the sender's own confirmation; it does not count as
// unread, so observers are not notified.
func (e *Engine) handlePrivateSent(data json.RawMessage) {
	m, ok := decode[protocol.PrivateMessage](data, protocol.EventPrivateMessageSent)
	if !ok || e.isClosed() {
		return
	}
	m.To = sanitizeName(m.To)
	m.Text = sanitizeText(m.Text)
	e.mu.Lock()
	e.privates = append(e.privates, m)
	e.mu.Unlock()
	e.view.Private(m, true)
}

func (e *Engine) handleRoomDeleted(data json.RawMessage) {
	payload, ok := decode[protocol.RoomDeleted](data, protocol.EventRoomDeleted)
	if !ok || e.isClosed() {
		return
	}
	text := sanitizeText(payload.Text)
	e.mu.Lock()
	e.closed = true
	fn := e.onTerminal
	e.mu.Unlock()
	log.Info().Str("room", e.sess.RoomID).Msg("[room] deleted by server")
	e.view.System(text)
	e.view.RoomGone(text)
	if fn != nil {
		fn()
	}
}

// handleServerError surfaces semantic server errors verbatim; room state
// is untouched.
func (e *Engine) handleServerError(data json.RawMessage) {
	payload, ok := decode[protocol.ServerError](data, protocol.EventError)
	if !ok {
		return
	}
	log.Warn().Str("message", payload.Text).Msg("[room] server error")
	e.view.System(fmt.Sprintf("Error: %s", sanitizeText(payload.Text)))
}

func (e *Engine) notifyObservers() {
	e.mu.Lock()
	obs := make([]func(), len(e.observers))
	copy(obs, e.observers)
	e.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Snapshot is a read-only copy of the authoritative state, served by the
// local debug endpoint.
type Snapshot struct {
	Room     protocol.Room             `json:"room"`
	Messages []protocol.Message        `json:"messages"`
	Privates []protocol.PrivateMessage `json:"privateMessages,omitempty"`
	Closed   bool                      `json:"closed"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Room:     e.room,
		Messages: append([]protocol.Message(nil), e.messages...),
		Privates: append([]protocol.PrivateMessage(nil), e.privates...),
		Closed:   e.closed,
	}
}

// Inbound content is sanitized before it enters the message log, so the
// stored state and everything served from it match what gets rendered.
func cleanMessage(m protocol.Message) protocol.Message {
	m.Username = sanitizeName(m.Username)
	m.Text = sanitizeText(m.Text)
	return m
}

func cleanUsers(users []protocol.Participant) []protocol.Participant {
	out := make([]protocol.Participant, len(users))
	for i, u := range users {
		out[i] = protocol.Participant{ID: u.ID, Username: sanitizeName(u.Username)}
	}
	return out
}

func decode[T any](data json.RawMessage, event string) (T, bool) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("[room] bad payload")
		return v, false
	}
	return v, true
}
