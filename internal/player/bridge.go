// Package player bridges a browser video player to a session coordinator over
// a WebSocket. The browser executes play/pause commands and reports back; the
// bridge presents it to the coordinator as a video handle and element.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/agent"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	// ErrDisconnected is returned for commands issued after the player left.
	ErrDisconnected = errors.New("player disconnected")
	// ErrAckTimeout is returned when the player does not acknowledge a command in time.
	ErrAckTimeout = errors.New("player did not acknowledge command")
)

// DefaultAckTimeout bounds how long a command waits for the player.
const DefaultAckTimeout = 2 * time.Second

// abortError is the DOMException name browsers report when play() is
// interrupted by a pause.
const abortError = "AbortError"

// Commands understood by the browser.
const (
	CommandPause         = "pause"
	CommandPlay          = "play"
	CommandElementPause  = "element_pause"
	CommandDispatchPause = "dispatch_pause"
)

// Conn is the subset of *websocket.Conn the bridge uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// State is the player state last reported by the browser. Paused is the
// player controls' view; ElementPaused is the <video> element's own flag.
type State struct {
	Paused        bool    `json:"paused"`
	ElementPaused bool    `json:"element_paused"`
	CurrentTime   float64 `json:"current_time"`
	Duration      float64 `json:"duration"`
	HasElement    bool    `json:"has_element"`
}

// inbound is a client to server message.
type inbound struct {
	Type          string          `json:"type"`
	ID            string          `json:"id,omitempty"`
	Error         string          `json:"error,omitempty"`
	Paused        *bool           `json:"paused,omitempty"`
	ElementPaused *bool           `json:"element_paused,omitempty"`
	CurrentTime   *float64        `json:"current_time,omitempty"`
	Duration      *float64        `json:"duration,omitempty"`
	HasElement    *bool           `json:"has_element,omitempty"`
	Action        json.RawMessage `json:"action,omitempty"`
}

// outbound is a server to client message.
type outbound struct {
	Type    string                `json:"type"`
	ID      string                `json:"id,omitempty"`
	Command string                `json:"command,omitempty"`
	Error   string                `json:"error,omitempty"`
	Context *domain.SystemContext `json:"context,omitempty"`
}

type ack struct {
	err string
}

// Bridge is one connected browser player.
type Bridge struct {
	conn       Conn
	ackTimeout time.Duration
	log        *slog.Logger

	mu      sync.Mutex
	state   State
	pending map[string]chan ack
	closed  bool
	done    chan struct{}

	writeMu sync.Mutex

	latestMu sync.Mutex
	latest   *domain.SystemContext
	notify   chan struct{}
}

var (
	_ video.Handle  = (*Bridge)(nil)
	_ video.Element = elementView{}
)

// NewBridge wraps conn. A non-positive ackTimeout uses DefaultAckTimeout.
func NewBridge(conn Conn, ackTimeout time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Bridge{
		conn:       conn,
		ackTimeout: ackTimeout,
		log:        logger,
		state:      State{Paused: true, ElementPaused: true},
		pending:    make(map[string]chan ack),
		done:       make(chan struct{}),
		notify:     make(chan struct{}, 1),
	}
}

// State returns the last reported player state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Pause asks the browser to pause through the player API.
func (b *Bridge) Pause() error {
	return b.command(CommandPause)
}

// Play asks the browser to play. An interrupted play maps to video.ErrPlayInterrupted.
func (b *Bridge) Play() error {
	return b.command(CommandPlay)
}

// IsPaused reports the last state the browser sent.
func (b *Bridge) IsPaused() bool {
	return b.State().Paused
}

// CurrentTime reports the last position the browser sent.
func (b *Bridge) CurrentTime() float64 {
	return b.State().CurrentTime
}

// Locator exposes the raw media element when the browser reported one.
func (b *Bridge) Locator() video.ElementLocator {
	return func() (video.Element, bool) {
		if !b.State().HasElement {
			return nil, false
		}
		return elementView{b: b}, true
	}
}

// elementView drives the <video> element behind the player.
type elementView struct {
	b *Bridge
}

func (e elementView) Pause() error              { return e.b.command(CommandElementPause) }
func (e elementView) Paused() bool              { return e.b.State().ElementPaused }
func (e elementView) CurrentTime() float64      { return e.b.CurrentTime() }
func (e elementView) DispatchPauseEvent() error { return e.b.command(CommandDispatchPause) }

func (b *Bridge) command(name string) error {
	id := uuid.NewString()
	ch := make(chan ack, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrDisconnected
	}
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.write(outbound{Type: "command", ID: id, Command: name}); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	select {
	case a := <-ch:
		switch {
		case a.err == "":
			return nil
		case name == CommandPlay && a.err == abortError:
			return video.ErrPlayInterrupted
		default:
			return fmt.Errorf("player rejected %s: %s", name, a.err)
		}
	case <-timer.C:
		return fmt.Errorf("%s: %w", name, ErrAckTimeout)
	case <-b.done:
		return ErrDisconnected
	}
}

// Publish queues c for delivery. Only the newest undelivered context is kept,
// so a slow browser never holds up the coordinator.
func (b *Bridge) Publish(c domain.SystemContext) {
	b.latestMu.Lock()
	b.latest = &c
	b.latestMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bridge) pump() {
	for {
		select {
		case <-b.done:
			return
		case <-b.notify:
		}

		b.latestMu.Lock()
		c := b.latest
		b.latest = nil
		b.latestMu.Unlock()
		if c == nil {
			continue
		}
		if err := b.write(outbound{Type: "context", Context: c}); err != nil {
			b.log.Debug("Failed to push context to player", "error", err)
		}
	}
}

// Serve reads client messages until the connection fails or ctx ends. Player
// actions are handed to dispatch; onActivity runs after every message.
func (b *Bridge) Serve(ctx context.Context, dispatch func(agent.Action) error, onActivity func()) error {
	go b.pump()
	defer b.Close(websocket.StatusNormalClosure, "session ended")

	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				b.log.Debug("Player connection closed")
				return nil
			}
			return fmt.Errorf("read player message: %w", err)
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Debug("Ignoring malformed player message", "error", err)
			continue
		}
		b.handle(msg, dispatch)
		if onActivity != nil {
			onActivity()
		}
	}
}

func (b *Bridge) handle(msg inbound, dispatch func(agent.Action) error) {
	switch msg.Type {
	case "state":
		b.applyState(msg)
	case "ack":
		b.applyState(msg)
		b.mu.Lock()
		ch, ok := b.pending[msg.ID]
		b.mu.Unlock()
		if !ok {
			b.log.Debug("Ack for unknown command", "command_id", msg.ID)
			return
		}
		select {
		case ch <- ack{err: msg.Error}:
		default:
		}
	case "action":
		a, err := agent.DecodeAction(msg.Action)
		if err == nil {
			err = dispatch(a)
		}
		if err != nil {
			b.log.Warn("Rejected player action", "error", err)
			if werr := b.write(outbound{Type: "error", Error: err.Error()}); werr != nil {
				b.log.Debug("Failed to send action error", "error", werr)
			}
		}
	case "ping":
		if err := b.write(outbound{Type: "pong"}); err != nil {
			b.log.Debug("Failed to send pong", "error", err)
		}
	default:
		b.log.Debug("Ignoring unknown player message", "type", msg.Type)
	}
}

func (b *Bridge) applyState(msg inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.Paused != nil {
		b.state.Paused = *msg.Paused
	}
	if msg.ElementPaused != nil {
		b.state.ElementPaused = *msg.ElementPaused
	}
	if msg.CurrentTime != nil {
		b.state.CurrentTime = *msg.CurrentTime
	}
	if msg.Duration != nil {
		b.state.Duration = *msg.Duration
	}
	if msg.HasElement != nil {
		b.state.HasElement = *msg.HasElement
	}
}

func (b *Bridge) write(v outbound) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), b.ackTimeout)
	defer cancel()
	return b.conn.Write(ctx, websocket.MessageText, data)
}

// Close disconnects the player and fails every waiting command.
func (b *Bridge) Close(code websocket.StatusCode, reason string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	if err := b.conn.Close(code, reason); err != nil {
		b.log.Debug("Failed to close player connection", "error", err)
	}
}
