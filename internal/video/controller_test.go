package video

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		VerifyAttempts: 10,
		VerifyInterval: 2 * time.Millisecond,
		PlayRetryDelay: time.Millisecond,
	}
}

func newTestController(p *SimulatedPlayer) *Controller {
	c := NewController(NewPlaybackFlag(), fastConfig(), nil)
	c.SetHandle(p)
	c.SetElementLocator(p.Locator())
	return c
}

type fakeHandle struct {
	paused atomic.Bool
	time   float64
}

func (h *fakeHandle) Pause() error         { h.paused.Store(true); return nil }
func (h *fakeHandle) Play() error          { h.paused.Store(false); return nil }
func (h *fakeHandle) IsPaused() bool       { return h.paused.Load() }
func (h *fakeHandle) CurrentTime() float64 { return h.time }

type stuckElement struct {
	time float64
}

func (stuckElement) Pause() error              { return nil }
func (stuckElement) Paused() bool              { return false }
func (e stuckElement) CurrentTime() float64    { return e.time }
func (stuckElement) DispatchPauseEvent() error { return nil }

func TestPauseVideo_VerifiesImmediately(t *testing.T) {
	t.Parallel()

	p := NewSimulatedPlayer(SimulatedOptions{})
	require.NoError(t, p.Play())
	c := newTestController(p)
	c.Flag().SetPlaying(true)

	require.NoError(t, c.PauseVideo(context.Background()))

	pause, elementPause, event, _ := p.Counts()
	assert.Equal(t, 1, pause)
	assert.Zero(t, elementPause)
	assert.Zero(t, event)
	assert.False(t, c.Flag().IsPlaying())
}

func TestPauseVideo_ConvergesWithinPollBudget(t *testing.T) {
	t.Parallel()

	p := NewSimulatedPlayer(SimulatedOptions{PauseLag: 9})
	require.NoError(t, p.Play())
	c := newTestController(p)

	require.NoError(t, c.PauseVideo(context.Background()))
}

func TestPauseVideo_EscalatesStrategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		opts             SimulatedOptions
		wantElementPause int
		wantEvent        int
	}{
		{
			name:             "element pause when handle ignores requests",
			opts:             SimulatedOptions{IgnoreHandlePause: true},
			wantElementPause: 1,
		},
		{
			name:             "synthesized event as last resort",
			opts:             SimulatedOptions{IgnoreHandlePause: true, IgnoreElementPause: true},
			wantElementPause: 1,
			wantEvent:        1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewSimulatedPlayer(tt.opts)
			require.NoError(t, p.Play())
			c := newTestController(p)

			require.NoError(t, c.PauseVideo(context.Background()))
			_, elementPause, event, _ := p.Counts()
			assert.Equal(t, tt.wantElementPause, elementPause)
			assert.Equal(t, tt.wantEvent, event)
		})
	}
}

func TestPauseVideo_FailsWhenSourcesNeverAgree(t *testing.T) {
	t.Parallel()

	h := &fakeHandle{}
	c := NewController(NewPlaybackFlag(), fastConfig(), nil)
	c.SetHandle(h)
	c.SetElementLocator(func() (Element, bool) { return stuckElement{}, true })

	var verified atomic.Bool
	verified.Store(true)
	c.SetObserver(func(_ time.Duration, ok bool) { verified.Store(ok) })

	err := c.PauseVideo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVideoControl)
	assert.False(t, verified.Load())
}

func TestPauseVideo_DefaultBudgetFailsWithinHalfSecond(t *testing.T) {
	t.Parallel()

	p := NewSimulatedPlayer(SimulatedOptions{
		IgnoreHandlePause:  true,
		IgnoreElementPause: true,
		IgnorePauseEvent:   true,
	})
	require.NoError(t, p.Play())
	c := NewController(NewPlaybackFlag(), DefaultConfig(), nil)
	c.SetHandle(p)
	c.SetElementLocator(p.Locator())

	start := time.Now()
	err := c.PauseVideo(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrVideoControl)
	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestPauseVideo_EmbeddedPlayerWithoutElement(t *testing.T) {
	t.Parallel()

	p := NewSimulatedPlayer(SimulatedOptions{NoElement: true})
	require.NoError(t, p.Play())
	c := newTestController(p)

	require.NoError(t, c.PauseVideo(context.Background()))
}

func TestPauseVideo_Cancelled(t *testing.T) {
	t.Parallel()

	p := NewSimulatedPlayer(SimulatedOptions{IgnoreHandlePause: true, IgnoreElementPause: true, IgnorePauseEvent: true})
	require.NoError(t, p.Play())
	c := NewController(NewPlaybackFlag(), Config{VerifyAttempts: 1000, VerifyInterval: 10 * time.Millisecond}, nil)
	c.SetHandle(p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.PauseVideo(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrVideoControl)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPauseVideo_NoHandle(t *testing.T) {
	t.Parallel()

	c := NewController(NewPlaybackFlag(), fastConfig(), nil)
	c.Flag().SetPlaying(true)

	require.NoError(t, c.PauseVideo(context.Background()))
	assert.False(t, c.Flag().IsPlaying())
}

func TestPlayVideo(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	tests := []struct {
		name      string
		errs      []error
		want      bool
		wantCalls int
	}{
		{name: "plays", want: true, wantCalls: 1},
		{name: "retries once after interruption", errs: []error{ErrPlayInterrupted}, want: true, wantCalls: 2},
		{name: "gives up after second interruption", errs: []error{ErrPlayInterrupted, ErrPlayInterrupted}, want: false, wantCalls: 2},
		{name: "does not retry other failures", errs: []error{errBoom}, want: false, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewSimulatedPlayer(SimulatedOptions{PlayErrors: tt.errs})
			c := newTestController(p)

			assert.Equal(t, tt.want, c.PlayVideo(context.Background()))
			_, _, _, plays := p.Counts()
			assert.Equal(t, tt.wantCalls, plays)
			assert.True(t, c.Flag().IsPlaying())
		})
	}
}

func TestCurrentTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handle  float64
		flag    float64
		element float64
		want    float64
	}{
		{name: "element ahead", handle: 0, flag: 12, element: 15, want: 15},
		{name: "handle ahead", handle: 20, flag: 12, element: 15, want: 20},
		{name: "stale zeros ignored", handle: 0, flag: 7, element: 0, want: 7},
		{name: "all zero", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewController(NewPlaybackFlag(), fastConfig(), nil)
			c.SetHandle(&fakeHandle{time: tt.handle})
			c.SetElementLocator(func() (Element, bool) { return stuckElement{time: tt.element}, true })
			c.Flag().SetCurrentTime(tt.flag)

			assert.InDelta(t, tt.want, c.CurrentTime(), 1e-9)
		})
	}
}
