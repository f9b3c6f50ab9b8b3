// Package console is the terminal view layer: a Renderer over stdout and a
// line-based input loop. Deliberately thin; all failure handling lives in
// the core packages.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
	"github.com/Abdul-khadeer-2404/CrewChat/room"
)

// Renderer prints rendering intents as timestamped lines.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *Renderer) Message(m protocol.Message, own bool) {
	who := m.Username
	if own {
		who += " (you)"
	}
	r.printf("[%s] %s: %s", m.Timestamp.Local().Format("15:04"), who, m.Text)
}

func (r *Renderer) Private(m protocol.PrivateMessage, sent bool) {
	if sent {
		r.printf("[%s] (private) to %s: %s", m.Timestamp.Local().Format("15:04"), m.To, m.Text)
		return
	}
	r.printf("[%s] (private) from %s: %s", m.Timestamp.Local().Format("15:04"), m.From, m.Text)
}

func (r *Renderer) System(text string) {
	r.printf("-- %s", text)
}

func (r *Renderer) RoomInfo(rm protocol.Room) {
	r.printf("== %s (%s)", rm.Name, rm.ID)
}

func (r *Renderer) Users(users []protocol.Participant) {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	r.printf("== %d online: %s", len(users), strings.Join(names, ", "))
}

func (r *Renderer) TypingStarted(username string) {
	r.printf(".. %s is typing...", username)
}

func (r *Renderer) TypingStopped() {}

func (r *Renderer) RoomGone(text string) {
	r.printf("!! %s", text)
	r.printf("!! This room is gone. Start again from the entry point.")
}

func (r *Renderer) Banner(text string) {
	r.printf("** %s", text)
}

// SetTitle updates the terminal title via the OSC 0 escape. Used as the
// unread tracker's TitleFunc.
func (r *Renderer) SetTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "\x1b]0;%s\x07", title)
}

// Commands understood by the input loop besides plain message lines.
type Commands struct {
	Users     func()
	Reconnect func()
	Leave     func()
	// Away and Back stand in for the tab losing and regaining visibility.
	Away func()
	Back func()
}

// RunInput reads stdin lines until EOF, /quit, or ctx cancellation. Each
// line counts as keystroke activity before it is sent, so typing signals
// fire the way per-key input events do in a richer view.
func RunInput(ctx context.Context, in io.Reader, eng *room.Engine, typing *room.TypingCoordinator, cmds Commands) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			if cmds.Leave != nil {
				cmds.Leave()
			}
			return
		case line == "/users":
			if cmds.Users != nil {
				cmds.Users()
			}
		case line == "/reconnect":
			if cmds.Reconnect != nil {
				cmds.Reconnect()
			}
		case line == "/away":
			if cmds.Away != nil {
				cmds.Away()
			}
		case line == "/back":
			if cmds.Back != nil {
				cmds.Back()
			}
		case strings.HasPrefix(line, "/msg "):
			rest := strings.TrimPrefix(line, "/msg ")
			target, text, found := strings.Cut(rest, " ")
			if !found || strings.TrimSpace(text) == "" {
				continue
			}
			eng.SendPrivateMessage(target, text)
		default:
			typing.Touch()
			eng.SendMessage(line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("[console] input read error")
	}
}
