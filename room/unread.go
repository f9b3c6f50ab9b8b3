package room

import (
	"fmt"
	"sync"
)

// TitleFunc pushes the externally-visible title (terminal title bar,
// browser tab) whenever the unread indicator changes.
type TitleFunc func(title string)

// UnreadTracker counts messages that arrive while the view is not the
// active surface, exposing them as a "(N) <title>" indicator.
type UnreadTracker struct {
	mu       sync.Mutex
	active   bool
	count    int
	original string
	setTitle TitleFunc
}

func NewUnreadTracker(original string, set TitleFunc) *UnreadTracker {
	if set == nil {
		set = func(string) {}
	}
	return &UnreadTracker{active: true, original: original, setTitle: set}
}

// SetActive reflects visibility transitions. Becoming active resets the
// counter and restores the original title.
func (u *UnreadTracker) SetActive(active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.active = active
	if active {
		u.count = 0
		u.setTitle(u.original)
	}
}

// Bump is registered as an engine observer: one call per qualifying
// message. Counting only happens while inactive.
func (u *UnreadTracker) Bump() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active {
		return
	}
	u.count++
	u.setTitle(fmt.Sprintf("(%d) %s", u.count, u.original))
}

func (u *UnreadTracker) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}
