package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
	"github.com/Abdul-khadeer-2404/CrewChat/transport"
)

type emit struct {
	event   string
	payload any
}

type fakeTransport struct {
	mu        sync.Mutex
	status    transport.Status
	connID    string
	emits     []emit
	handlers  map[string][]transport.Handler
	statusFns []func(transport.Status)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]transport.Handler)}
}

func (f *fakeTransport) Emit(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emit{event, payload})
}

func (f *fakeTransport) Subscribe(event string, h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeTransport) OnStatus(fn func(transport.Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusFns = append(f.statusFns, fn)
}

func (f *fakeTransport) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) ConnID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connID
}

func (f *fakeTransport) setStatus(s transport.Status) {
	f.mu.Lock()
	f.status = s
	fns := make([]func(transport.Status), len(f.statusFns))
	copy(fns, f.statusFns)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (f *fakeTransport) setConnID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connID = id
}

// fire delivers one server event to all subscribed handlers.
func (f *fakeTransport) fire(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	hs := append([]transport.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeTransport) emitted(event string) []emit {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emit
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type renderedMsg struct {
	m   protocol.Message
	own bool
}

type renderedPriv struct {
	m    protocol.PrivateMessage
	sent bool
}

type recorderView struct {
	mu       sync.Mutex
	messages []renderedMsg
	privates []renderedPriv
	systems  []string
	userSets [][]protocol.Participant
	rooms    []protocol.Room
	shown    []string
	hidden   int
	gone     []string
}

func (v *recorderView) Message(m protocol.Message, own bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, renderedMsg{m, own})
}

func (v *recorderView) Private(m protocol.PrivateMessage, sent bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.privates = append(v.privates, renderedPriv{m, sent})
}

func (v *recorderView) System(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.systems = append(v.systems, text)
}

func (v *recorderView) RoomInfo(r protocol.Room) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rooms = append(v.rooms, r)
}

func (v *recorderView) Users(users []protocol.Participant) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.userSets = append(v.userSets, users)
}

func (v *recorderView) TypingStarted(username string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shown = append(v.shown, username)
}

func (v *recorderView) TypingStopped() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hidden++
}

func (v *recorderView) RoomGone(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gone = append(v.gone, text)
}

func newTestEngine(t *testing.T) (*Engine, *fakeTransport, *recorderView, *TypingCoordinator) {
	t.Helper()
	ft := newFakeTransport()
	view := &recorderView{}
	typing := NewTypingCoordinator(ft, view, 30*time.Millisecond)
	sess := protocol.Session{ID: "rec-1", Username: "alice", RoomID: "ABCD1234"}
	eng := New(sess, ft, view, typing)
	eng.Run()
	return eng, ft, view, typing
}

func TestJoinEmittedOnEveryConnect(t *testing.T) {
	_, ft, _, _ := newTestEngine(t)

	ft.setConnID("conn-1")
	ft.setStatus(transport.StatusConnected)
	require.Len(t, ft.emitted(protocol.EventJoinRoom), 1)

	ft.setStatus(transport.StatusDisconnected)
	ft.setStatus(transport.StatusReconnecting)
	require.Len(t, ft.emitted(protocol.EventJoinRoom), 1)

	ft.setConnID("conn-2")
	ft.setStatus(transport.StatusConnected)
	joins := ft.emitted(protocol.EventJoinRoom)
	require.Len(t, joins, 2)

	// rejoin uses the original session values, not connection state
	for _, j := range joins {
		payload, ok := j.payload.(protocol.JoinRoom)
		require.True(t, ok)
		assert.Equal(t, "ABCD1234", payload.RoomID)
		assert.Equal(t, "alice", payload.Username)
	}
}

func TestRoomJoinedBacklogThenWelcome(t *testing.T) {
	eng, ft, view, _ := newTestEngine(t)

	backlog := []protocol.Message{
		{SocketID: "c9", Username: "bob", Text: "first", Timestamp: time.Now()},
		{SocketID: "c8", Username: "carol", Text: "second", Timestamp: time.Now()},
	}
	ft.fire(t, protocol.EventRoomJoined, protocol.RoomJoined{
		Room: protocol.Room{
			ID:   "ABCD1234",
			Name: "Test Room",
			Users: []protocol.Participant{
				{ID: "c9", Username: "bob"},
				{ID: "c8", Username: "carol"},
			},
		},
		Messages: backlog,
	})

	view.mu.Lock()
	require.Len(t, view.messages, 2)
	assert.Equal(t, "first", view.messages[0].m.Text)
	assert.Equal(t, "second", view.messages[1].m.Text)
	require.Len(t, view.systems, 1)
	assert.Equal(t, "Welcome to Test Room!", view.systems[0])
	require.Len(t, view.rooms, 1)
	view.mu.Unlock()

	snap := eng.Snapshot()
	assert.Equal(t, "Test Room", snap.Room.Name)
	assert.Len(t, snap.Messages, 2)
}

func TestRoomJoinedOverwritesInFlightState(t *testing.T) {
	eng, ft, _, _ := newTestEngine(t)

	ft.fire(t, protocol.EventRoomJoined, protocol.RoomJoined{
		Room: protocol.Room{ID: "ABCD1234", Name: "Old", Users: []protocol.Participant{{ID: "a", Username: "x"}}},
	})
	ft.fire(t, protocol.EventRoomJoined, protocol.RoomJoined{
		Room: protocol.Room{ID: "ABCD1234", Name: "New", Users: []protocol.Participant{{ID: "b", Username: "y"}, {ID: "c", Username: "z"}}},
	})

	snap := eng.Snapshot()
	assert.Equal(t, "New", snap.Room.Name)
	require.Len(t, snap.Room.Users, 2)
	assert.Equal(t, "b", snap.Room.Users[0].ID)
}

func TestMembershipSnapshotReplacement(t *testing.T) {
	eng, ft, view, _ := newTestEngine(t)

	steps := []struct {
		event string
		who   string
		users []protocol.Participant
	}{
		{protocol.EventUserJoined, "bob", []protocol.Participant{{ID: "1", Username: "alice"}, {ID: "2", Username: "bob"}}},
		{protocol.EventUserJoined, "carol", []protocol.Participant{{ID: "1", Username: "alice"}, {ID: "2", Username: "bob"}, {ID: "3", Username: "carol"}}},
		{protocol.EventUserLeft, "bob", []protocol.Participant{{ID: "1", Username: "alice"}, {ID: "3", Username: "carol"}}},
	}
	for _, step := range steps {
		ft.fire(t, step.event, protocol.Membership{Username: step.who, Users: step.users})
		snap := eng.Snapshot()
		require.Equal(t, step.users, snap.Room.Users, "users must equal the latest snapshot exactly")
	}

	view.mu.Lock()
	defer view.mu.Unlock()
	require.Len(t, view.systems, 3)
	assert.Equal(t, "bob joined the room", view.systems[0])
	assert.Equal(t, "carol joined the room", view.systems[1])
	assert.Equal(t, "bob left the room", view.systems[2])
}

func TestSendMessageValidation(t *testing.T) {
	eng, ft, _, _ := newTestEngine(t)

	// not connected: dropped
	eng.SendMessage("hello")
	assert.Empty(t, ft.emitted(protocol.EventSendMessage))

	ft.setStatus(transport.StatusConnected)

	// empty after trimming: dropped
	eng.SendMessage("   \t ")
	assert.Empty(t, ft.emitted(protocol.EventSendMessage))

	eng.SendMessage("  hello  ")
	sends := ft.emitted(protocol.EventSendMessage)
	require.Len(t, sends, 1)
	payload, ok := sends[0].payload.(protocol.SendMessage)
	require.True(t, ok)
	assert.Equal(t, "hello", payload.Text)
	assert.Equal(t, "text", payload.Type)
}

func TestSendMessageStopsActiveTypingOnce(t *testing.T) {
	eng, ft, _, typing := newTestEngine(t)
	ft.setStatus(transport.StatusConnected)

	typing.Touch()
	eng.SendMessage("hi")

	signals := ft.emitted(protocol.EventTyping)
	require.Len(t, signals, 2)
	assert.Equal(t, protocol.Typing{IsTyping: true}, signals[0].payload)
	assert.Equal(t, protocol.Typing{IsTyping: false}, signals[1].payload)

	// the idle timer was cancelled: no duplicate stop fires later
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, ft.emitted(protocol.EventTyping), 2)
}

func TestSelfIdentityIsNeverCached(t *testing.T) {
	_, ft, view, _ := newTestEngine(t)

	ft.setConnID("conn-1")
	ft.fire(t, protocol.EventNewMessage, protocol.Message{SocketID: "conn-1", Username: "alice", Text: "mine"})

	ft.setConnID("conn-2")
	ft.fire(t, protocol.EventNewMessage, protocol.Message{SocketID: "conn-1", Username: "alice", Text: "stale id"})

	view.mu.Lock()
	defer view.mu.Unlock()
	require.Len(t, view.messages, 2)
	assert.True(t, view.messages[0].own)
	assert.False(t, view.messages[1].own)
}

func TestPrivateMessageAsymmetry(t *testing.T) {
	eng, ft, view, _ := newTestEngine(t)
	ft.setStatus(transport.StatusConnected)

	var unread int
	var mu sync.Mutex
	eng.Observe(func() {
		mu.Lock()
		unread++
		mu.Unlock()
	})

	// validation
	eng.SendPrivateMessage("", "hello")
	eng.SendPrivateMessage("c7", "   ")
	assert.Empty(t, ft.emitted(protocol.EventPrivateMessage))

	// no optimistic append on send
	eng.SendPrivateMessage("c7", "psst")
	require.Len(t, ft.emitted(protocol.EventPrivateMessage), 1)
	assert.Empty(t, eng.Snapshot().Privates)

	// sender's copy appears only on the server confirmation, keyed by To,
	// and does not count as unread
	ft.fire(t, protocol.EventPrivateMessageSent, protocol.PrivateMessage{From: "alice", To: "bob", Text: "psst"})
	view.mu.Lock()
	require.Len(t, view.privates, 1)
	assert.True(t, view.privates[0].sent)
	assert.Equal(t, "bob", view.privates[0].m.To)
	view.mu.Unlock()
	mu.Lock()
	assert.Equal(t, 0, unread)
	mu.Unlock()

	// recipient's copy is keyed by From and counts as unread
	ft.fire(t, protocol.EventPrivateMessage, protocol.PrivateMessage{From: "carol", To: "alice", Text: "hey"})
	view.mu.Lock()
	require.Len(t, view.privates, 2)
	assert.False(t, view.privates[1].sent)
	assert.Equal(t, "carol", view.privates[1].m.From)
	view.mu.Unlock()
	mu.Lock()
	assert.Equal(t, 1, unread)
	mu.Unlock()
}

func TestRoomDeletedIsTerminal(t *testing.T) {
	eng, ft, view, _ := newTestEngine(t)
	ft.setStatus(transport.StatusConnected)

	var cleared bool
	eng.OnTerminal(func() { cleared = true })

	ft.fire(t, protocol.EventRoomDeleted, protocol.RoomDeleted{Text: "This room was deleted"})
	view.mu.Lock()
	require.Len(t, view.gone, 1)
	view.mu.Unlock()
	assert.True(t, cleared)
	assert.True(t, eng.Snapshot().Closed)

	// nothing is valid after deletion
	eng.SendMessage("too late")
	assert.Empty(t, ft.emitted(protocol.EventSendMessage))
	ft.fire(t, protocol.EventNewMessage, protocol.Message{SocketID: "x", Username: "bob", Text: "ghost"})
	assert.Empty(t, eng.Snapshot().Messages)
}

func TestServerErrorIsNonFatal(t *testing.T) {
	eng, ft, view, _ := newTestEngine(t)

	ft.fire(t, protocol.EventRoomJoined, protocol.RoomJoined{
		Room: protocol.Room{ID: "ABCD1234", Name: "Test Room"},
	})
	ft.fire(t, protocol.EventError, protocol.ServerError{Text: "rate limited"})

	view.mu.Lock()
	assert.Contains(t, view.systems, "Error: rate limited")
	view.mu.Unlock()
	assert.Equal(t, "Test Room", eng.Snapshot().Room.Name)
	assert.False(t, eng.Snapshot().Closed)
}

func TestInboundTextIsSanitized(t *testing.T) {
	eng, ft, view, _ := newTestEngine(t)

	ft.fire(t, protocol.EventNewMessage, protocol.Message{
		SocketID: "c1",
		Username: "<script>alert(1)</script>",
		Text:     "hi <b>there</b>",
	})

	view.mu.Lock()
	require.Len(t, view.messages, 1)
	assert.Equal(t, "anon", view.messages[0].m.Username)
	assert.Equal(t, "hi there", view.messages[0].m.Text)
	view.mu.Unlock()

	// the stored log holds the sanitized form, not the raw inbound text
	snap := eng.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "anon", snap.Messages[0].Username)
	assert.Equal(t, "hi there", snap.Messages[0].Text)
}

func TestBacklogIsSanitizedAtIngest(t *testing.T) {
	eng, ft, _, _ := newTestEngine(t)

	ft.fire(t, protocol.EventRoomJoined, protocol.RoomJoined{
		Room: protocol.Room{ID: "ABCD1234", Name: "Test Room"},
		Messages: []protocol.Message{
			{SocketID: "c1", Username: "bob", Text: "<img src=x onerror=alert(1)>hi"},
		},
	})

	snap := eng.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "bob", snap.Messages[0].Username)
	assert.Equal(t, "hi", snap.Messages[0].Text)
}

func TestBadPayloadIsIgnored(t *testing.T) {
	eng, ft, _, _ := newTestEngine(t)

	ft.mu.Lock()
	hs := append([]transport.Handler(nil), ft.handlers[protocol.EventNewMessage]...)
	ft.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(`{"message": 42`))
	}
	assert.Empty(t, eng.Snapshot().Messages)
}
