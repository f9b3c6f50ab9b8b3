package room

import (
	"sync"
	"time"

	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
)

const defaultTypingIdle = 1500 * time.Millisecond

// TypingCoordinator debounces local keystrokes into start/stop typing
// signals and maps remote signals onto a single display slot.
type TypingCoordinator struct {
	tr   Transport
	view Renderer
	idle time.Duration

	mu     sync.Mutex
	active bool
	gen    uint64
	timer  *time.Timer
}

func NewTypingCoordinator(tr Transport, view Renderer, idle time.Duration) *TypingCoordinator {
	if idle <= 0 {
		idle = defaultTypingIdle
	}
	return &TypingCoordinator{tr: tr, view: view, idle: idle}
}

// Touch records local input activity: the first touch of a burst emits the
// start signal, every touch re-arms the idle timer.
func (t *TypingCoordinator) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		t.active = true
		t.tr.Emit(protocol.EventTyping, protocol.Typing{IsTyping: true})
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.idle, func() { t.expire(gen) })
}

// expire is the idle timer callback. Timer.Stop cannot cancel a callback
// that has already fired and is waiting on the lock, so a stale expiry is
// detected by its generation and ignored instead of stopping the burst a
// concurrent Touch just started.
func (t *TypingCoordinator) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.stopLocked()
}

// Stop ends the active burst: emits the stop signal iff one was active, and
// always cancels the pending idle timer. Called on idle expiry, focus loss,
// and message send.
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *TypingCoordinator) stopLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.active {
		t.active = false
		t.tr.Emit(protocol.EventTyping, protocol.Typing{IsTyping: false})
	}
}

// HandleRemote applies an incoming typing signal. The display holds at most
// one name: a start replaces whatever is shown (last writer wins) and a
// stop hides the indicator unconditionally, even when it comes from a user
// other than the one displayed.
func (t *TypingCoordinator) HandleRemote(username string, isTyping bool) {
	if isTyping {
		t.view.TypingStarted(username)
		return
	}
	t.view.TypingStopped()
}
