package player

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/agent"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrowser plays the client side of the protocol.
type fakeBrowser struct {
	conn *websocket.Conn
	done chan struct{}

	mu            sync.Mutex
	paused        bool
	elementPaused bool
	time          float64
	silent        bool
	playError     string
	commands      []string
	contexts      []domain.SystemContext
	errors        []string
}

func dialBrowser(t *testing.T, url string) *fakeBrowser {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	f := &fakeBrowser{conn: conn, done: make(chan struct{}), paused: true, elementPaused: true}
	go f.run()
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return f
}

func (f *fakeBrowser) run() {
	defer close(f.done)
	for {
		_, data, err := f.conn.Read(context.Background())
		if err != nil {
			return
		}
		var msg outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "command":
			f.onCommand(msg)
		case "context":
			f.mu.Lock()
			f.contexts = append(f.contexts, *msg.Context)
			f.mu.Unlock()
		case "error":
			f.mu.Lock()
			f.errors = append(f.errors, msg.Error)
			f.mu.Unlock()
		}
	}
}

func (f *fakeBrowser) onCommand(msg outbound) {
	f.mu.Lock()
	f.commands = append(f.commands, msg.Command)
	if f.silent {
		f.mu.Unlock()
		return
	}
	var ackErr string
	switch msg.Command {
	case CommandPlay:
		if f.playError != "" {
			ackErr = f.playError
		} else {
			f.paused = false
			f.elementPaused = false
		}
	case CommandPause:
		f.paused = true
		f.elementPaused = true
	case CommandElementPause:
		f.elementPaused = true
	case CommandDispatchPause:
		f.paused = true
	}
	reply := map[string]any{
		"type":           "ack",
		"id":             msg.ID,
		"paused":         f.paused,
		"element_paused": f.elementPaused,
		"current_time":   f.time,
	}
	if ackErr != "" {
		reply["error"] = ackErr
	}
	f.mu.Unlock()
	f.send(reply)
}

func (f *fakeBrowser) send(v any) {
	data, _ := json.Marshal(v)
	_ = f.conn.Write(context.Background(), websocket.MessageText, data)
}

func (f *fakeBrowser) sawCommand(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c == name {
			return true
		}
	}
	return false
}

func (f *fakeBrowser) lastContext() (domain.SystemContext, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.contexts) == 0 {
		return domain.SystemContext{}, false
	}
	return f.contexts[len(f.contexts)-1], true
}

// bridgeServer accepts one connection and hands its Bridge to the test.
func bridgeServer(t *testing.T, ackTimeout time.Duration, dispatch func(agent.Action) error) (*Bridge, *fakeBrowser) {
	t.Helper()
	bridges := make(chan *Bridge, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		b := NewBridge(ws, ackTimeout, nil)
		bridges <- b
		_ = b.Serve(r.Context(), dispatch, nil)
	}))
	t.Cleanup(srv.Close)

	browser := dialBrowser(t, srv.URL)
	select {
	case b := <-bridges:
		return b, browser
	case <-time.After(2 * time.Second):
		t.Fatal("bridge not accepted")
		return nil, nil
	}
}

func noDispatch(agent.Action) error { return nil }

func TestBridgeCommandsWaitForAck(t *testing.T) {
	t.Parallel()
	b, browser := bridgeServer(t, time.Second, noDispatch)

	require.True(t, b.IsPaused())
	require.NoError(t, b.Play())
	assert.False(t, b.IsPaused(), "ack carries the player state")
	require.NoError(t, b.Pause())
	assert.True(t, b.IsPaused())
	assert.True(t, browser.sawCommand(CommandPlay))
	assert.True(t, browser.sawCommand(CommandPause))
}

func TestBridgeMapsAbortErrorToInterruptedPlay(t *testing.T) {
	t.Parallel()
	b, browser := bridgeServer(t, time.Second, noDispatch)

	browser.mu.Lock()
	browser.playError = "AbortError"
	browser.mu.Unlock()
	require.ErrorIs(t, b.Play(), video.ErrPlayInterrupted)

	browser.mu.Lock()
	browser.playError = "NotAllowedError"
	browser.mu.Unlock()
	err := b.Play()
	require.Error(t, err)
	assert.NotErrorIs(t, err, video.ErrPlayInterrupted)
	assert.Contains(t, err.Error(), "NotAllowedError")
}

func TestBridgeAckTimeout(t *testing.T) {
	t.Parallel()
	b, browser := bridgeServer(t, 50*time.Millisecond, noDispatch)

	browser.mu.Lock()
	browser.silent = true
	browser.mu.Unlock()
	require.ErrorIs(t, b.Pause(), ErrAckTimeout)
}

func TestBridgeElementNeedsReport(t *testing.T) {
	t.Parallel()
	b, browser := bridgeServer(t, time.Second, noDispatch)

	_, ok := b.Locator()()
	require.False(t, ok)

	browser.mu.Lock()
	browser.paused, browser.elementPaused = false, false
	browser.mu.Unlock()
	browser.send(map[string]any{"type": "state", "has_element": true, "current_time": 31.5, "paused": false, "element_paused": false})
	require.Eventually(t, func() bool { return b.State().HasElement }, time.Second, 5*time.Millisecond)

	el, ok := b.Locator()()
	require.True(t, ok)
	assert.Equal(t, 31.5, el.CurrentTime())
	assert.False(t, el.Paused())

	require.NoError(t, el.Pause())
	assert.True(t, el.Paused())
	assert.False(t, b.IsPaused(), "the element pausing does not move the player controls")

	require.NoError(t, el.DispatchPauseEvent())
	assert.True(t, b.IsPaused())
	assert.True(t, el.Paused())
	assert.True(t, browser.sawCommand(CommandElementPause))
	assert.True(t, browser.sawCommand(CommandDispatchPause))
}

func TestBridgeElementDisagreementFailsPauseVerification(t *testing.T) {
	t.Parallel()
	b, browser := bridgeServer(t, 20*time.Millisecond, noDispatch)

	browser.mu.Lock()
	browser.silent = true
	browser.mu.Unlock()
	browser.send(map[string]any{"type": "state", "has_element": true, "paused": true, "element_paused": false})
	require.Eventually(t, func() bool { return b.State().HasElement }, time.Second, 5*time.Millisecond)

	ctrl := video.NewController(video.NewPlaybackFlag(), video.Config{VerifyAttempts: 2, VerifyInterval: time.Millisecond}, nil)
	ctrl.SetHandle(b)
	ctrl.SetElementLocator(b.Locator())
	require.ErrorIs(t, ctrl.PauseVideo(context.Background()), video.ErrVideoControl)
}

func TestBridgeDispatchesActions(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		got []agent.Action
	)
	_, browser := bridgeServer(t, time.Second, func(a agent.Action) error {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
		return nil
	})

	browser.send(map[string]any{"type": "action", "action": map[string]any{"type": "manual_pause", "time": 12}})
	browser.send(map[string]any{"type": "action", "action": map[string]any{"type": "teleport"}})

	require.Eventually(t, func() bool {
		browser.mu.Lock()
		defer browser.mu.Unlock()
		return len(browser.errors) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, agent.ManualPause{Time: 12}, got[0])
}

func TestBridgeDisconnectFailsCommands(t *testing.T) {
	t.Parallel()
	b, browser := bridgeServer(t, 100*time.Millisecond, noDispatch)

	require.NoError(t, browser.conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool {
		return b.Pause() == ErrDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}
