// Package transport owns the single persistent connection to the chat
// server: dialing, the reconnect state machine, and a typed
// event-subscription surface over JSON envelopes.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
)

const (
	defaultReconnectDelay = time.Second
	defaultMaxAttempts    = 5
	defaultConnectTimeout = 20 * time.Second
	writeWait             = 10 * time.Second
)

var errStopped = errors.New("transport stopped")

type Config struct {
	URL            string
	Reconnect      bool
	ReconnectDelay time.Duration
	MaxAttempts    int
	ConnectTimeout time.Duration
}

// Handler receives the payload of one subscribed event. Handlers run on the
// read loop, in receipt order, and must not block.
type Handler func(data json.RawMessage)

// Adapter is the client side of the persistent connection. One instance per
// session lifetime; Connect may be called again after the machine lands in
// StatusFailed (manual retry).
type Adapter struct {
	cfg    Config
	dialer Dialer

	mu         sync.Mutex
	status     Status
	conn       Conn
	connID     string
	subs       map[string][]Handler
	statusSubs []func(Status)
	running    bool
	closing    bool

	wmu sync.Mutex // serializes writes to the current conn
}

func New(cfg Config) *Adapter {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Adapter{
		cfg:    cfg,
		dialer: wsDialer{timeout: cfg.ConnectTimeout},
		subs:   make(map[string][]Handler),
	}
}

// NewWithDialer is used by tests to drive the state machine with scripted
// connections.
func NewWithDialer(cfg Config, d Dialer) *Adapter {
	a := New(cfg)
	a.dialer = d
	return a
}

// Subscribe registers a handler for a named event. Multiple handlers per
// event are all invoked, in registration order.
func (a *Adapter) Subscribe(event string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs[event] = append(a.subs[event], h)
}

// OnStatus registers an observer for connection lifecycle transitions.
func (a *Adapter) OnStatus(fn func(Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusSubs = append(a.statusSubs, fn)
}

func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// ConnID returns the server-assigned identifier of the current connection.
// It changes across reconnects, so callers must never cache it.
func (a *Adapter) ConnID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connID
}

// Connect starts the connection loop. It returns immediately; progress is
// reported through OnStatus observers.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("transport: already connected")
	}
	a.running = true
	a.closing = false
	a.mu.Unlock()

	a.setStatus(StatusConnecting)
	go a.run(ctx)
	return nil
}

// Disconnect tears down the connection and stops any reconnect attempt.
// Idempotent.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	a.closing = true
	conn := a.conn
	a.conn = nil
	a.connID = ""
	a.mu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
}

// Emit sends one named event, fire-and-forget. Dropped silently unless the
// adapter is Connected; this layer never queues.
func (a *Adapter) Emit(event string, payload any) {
	a.mu.Lock()
	conn := a.conn
	ok := a.status == StatusConnected && conn != nil
	a.mu.Unlock()
	if !ok {
		log.Debug().Str("event", event).Msg("[transport] emit dropped: not connected")
		return
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("[transport] encode failed")
		return
	}
	a.wmu.Lock()
	defer a.wmu.Unlock()
	if dl, okDl := conn.(interface{ SetWriteDeadline(time.Time) error }); okDl {
		_ = dl.SetWriteDeadline(time.Now().Add(writeWait))
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Debug().Err(err).Str("event", event).Msg("[transport] write failed")
	}
}

func (a *Adapter) run(ctx context.Context) {
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	conn, sid, err := a.establish(ctx)
	for {
		if err == nil {
			a.becomeConnected(conn, sid)
			a.serve(conn)
			a.setStatus(StatusDisconnected)
			if a.stopped(ctx) || !a.cfg.Reconnect {
				return
			}
		} else {
			log.Warn().Err(err).Msg("[transport] connect failed")
			if a.stopped(ctx) || !a.cfg.Reconnect {
				a.setStatus(StatusDisconnected)
				return
			}
		}

		// A server-initiated close lands here like any other loss; only
		// attempt exhaustion is fatal.
		a.setStatus(StatusReconnecting)
		conn, sid, err = a.redial(ctx)
		if err != nil {
			if a.stopped(ctx) {
				a.setStatus(StatusDisconnected)
			} else {
				log.Error().Err(err).Msg("[transport] reconnect exhausted")
				a.setStatus(StatusFailed)
			}
			return
		}
	}
}

// redial retries establish with a fixed delay, bounded by MaxAttempts.
// The attempt budget is per outage: a success resets it.
func (a *Adapter) redial(ctx context.Context) (Conn, string, error) {
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if !sleepCtx(ctx, a.cfg.ReconnectDelay) || a.stopped(ctx) {
			return nil, "", errStopped
		}
		conn, sid, err := a.establish(ctx)
		if err == nil {
			return conn, sid, nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("[transport] reconnect attempt failed")
	}
	return nil, "", fmt.Errorf("gave up after %d attempts", a.cfg.MaxAttempts)
}

// establish dials and waits for the reserved connect frame that carries the
// server-assigned connection identifier.
func (a *Adapter) establish(ctx context.Context) (Conn, string, error) {
	conn, err := a.dialer.Dial(ctx, a.cfg.URL)
	if err != nil {
		return nil, "", err
	}
	_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ConnectTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("handshake read: %w", err)
	}
	env, err := protocol.Decode(frame)
	if err != nil || env.Event != protocol.EventConnect {
		_ = conn.Close()
		return nil, "", errors.New("handshake: expected connect frame")
	}
	var hello protocol.Connected
	if err := json.Unmarshal(env.Data, &hello); err != nil || hello.SID == "" {
		_ = conn.Close()
		return nil, "", errors.New("handshake: bad connect payload")
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, hello.SID, nil
}

func (a *Adapter) becomeConnected(conn Conn, sid string) {
	a.mu.Lock()
	a.conn = conn
	a.connID = sid
	a.mu.Unlock()
	log.Info().Str("sid", sid).Msg("[transport] connected")
	a.setStatus(StatusConnected)
}

// serve reads frames until the connection drops, dispatching each event to
// its subscribers in receipt order.
func (a *Adapter) serve(conn Conn) {
	defer func() {
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
			a.connID = ""
		}
		a.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("[transport] connection lost")
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Msg("[transport] bad frame")
			continue
		}
		if env.Event == protocol.EventConnect {
			continue
		}
		a.dispatch(env)
	}
}

func (a *Adapter) dispatch(env protocol.Envelope) {
	a.mu.Lock()
	handlers := append([]Handler(nil), a.subs[env.Event]...)
	a.mu.Unlock()
	for _, h := range handlers {
		h(env.Data)
	}
}

func (a *Adapter) setStatus(s Status) {
	a.mu.Lock()
	if a.status == s {
		a.mu.Unlock()
		return
	}
	a.status = s
	subs := make([]func(Status), len(a.statusSubs))
	copy(subs, a.statusSubs)
	a.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (a *Adapter) stopped(ctx context.Context) bool {
	a.mu.Lock()
	closing := a.closing
	a.mu.Unlock()
	return closing || ctx.Err() != nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
