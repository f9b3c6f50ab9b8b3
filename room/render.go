package room

import (
	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
	"github.com/Abdul-khadeer-2404/CrewChat/transport"
)

// Transport is what the engine needs from the connection layer.
type Transport interface {
	Emit(event string, payload any)
	Subscribe(event string, h transport.Handler)
	OnStatus(fn func(transport.Status))
	Status() transport.Status
	ConnID() string
}

// Renderer consumes rendering intents. Implementations are view-layer glue
// (terminal, web page); the engine never depends on how they draw.
type Renderer interface {
	Message(m protocol.Message, own bool)
	Private(m protocol.PrivateMessage, sent bool)
	System(text string)
	RoomInfo(r protocol.Room)
	Users(users []protocol.Participant)
	TypingStarted(username string)
	TypingStopped()
	// RoomGone presents the blocking room-deleted notice.
	RoomGone(text string)
}
