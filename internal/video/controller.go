// Package video makes play/pause requests against a video player verifiable.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrVideoControl is returned when no pause strategy could be verified.
	ErrVideoControl = errors.New("video control failed")
	// ErrPlayInterrupted is returned by handles whose play request was aborted
	// by a near-simultaneous pause (e.g. after the device resumed from sleep).
	ErrPlayInterrupted = errors.New("play request interrupted")
)

// Handle is the player capability injected by the embedding application.
type Handle interface {
	Pause() error
	Play() error
	IsPaused() bool
	CurrentTime() float64
}

// Element is the underlying media element behind a handle, when reachable.
type Element interface {
	Pause() error
	Paused() bool
	CurrentTime() float64
	// DispatchPauseEvent synthesizes a user pause input on the element.
	DispatchPauseEvent() error
}

// ElementLocator finds the underlying element. Embedded players without a
// raw element return false.
type ElementLocator func() (Element, bool)

// Config controls pause verification.
type Config struct {
	VerifyAttempts int
	VerifyInterval time.Duration
	PlayRetryDelay time.Duration
}

// DefaultConfig returns 10 polls at 50ms and a 100ms play retry delay.
func DefaultConfig() Config {
	return Config{
		VerifyAttempts: 10,
		VerifyInterval: 50 * time.Millisecond,
		PlayRetryDelay: 100 * time.Millisecond,
	}
}

// Observer receives the outcome of every pause verification.
type Observer func(elapsed time.Duration, verified bool)

type pauseStrategy struct {
	name  string
	apply func(h Handle, el Element, hasElement bool) error
}

// Strategies escalate; attempt i applies strategy i mod len.
var pauseStrategies = []pauseStrategy{
	{name: "handle", apply: func(h Handle, _ Element, _ bool) error { return h.Pause() }},
	{name: "reverify", apply: func(Handle, Element, bool) error { return nil }},
	{name: "element", apply: func(_ Handle, el Element, ok bool) error {
		if !ok {
			return nil
		}
		return el.Pause()
	}},
	{name: "event", apply: func(_ Handle, el Element, ok bool) error {
		if !ok {
			return nil
		}
		return el.DispatchPauseEvent()
	}},
}

// Controller owns the authoritative answer to "is the video paused".
type Controller struct {
	mu       sync.RWMutex
	handle   Handle
	locate   ElementLocator
	observer Observer

	flag   *PlaybackFlag
	cfg    Config
	logger *slog.Logger
}

// NewController creates a controller writing through flag.
func NewController(flag *PlaybackFlag, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if flag == nil {
		flag = NewPlaybackFlag()
	}
	def := DefaultConfig()
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = def.VerifyAttempts
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = def.VerifyInterval
	}
	if cfg.PlayRetryDelay <= 0 {
		cfg.PlayRetryDelay = def.PlayRetryDelay
	}
	return &Controller{flag: flag, cfg: cfg, logger: logger}
}

// SetHandle injects the player handle. A nil handle detaches it.
func (c *Controller) SetHandle(h Handle) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}

// Handle returns the attached handle, if any.
func (c *Controller) Handle() Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

// SetElementLocator sets how the underlying element is found.
func (c *Controller) SetElementLocator(fn ElementLocator) {
	c.mu.Lock()
	c.locate = fn
	c.mu.Unlock()
}

// SetObserver registers a verification observer.
func (c *Controller) SetObserver(fn Observer) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Flag returns the shared playback flag.
func (c *Controller) Flag() *PlaybackFlag {
	return c.flag
}

func (c *Controller) element() (Element, bool) {
	c.mu.RLock()
	locate := c.locate
	c.mu.RUnlock()
	if locate == nil {
		return nil, false
	}
	el, ok := locate()
	if !ok || el == nil {
		return nil, false
	}
	return el, true
}

func (c *Controller) observe(elapsed time.Duration, verified bool) {
	c.mu.RLock()
	fn := c.observer
	c.mu.RUnlock()
	if fn != nil {
		fn(elapsed, verified)
	}
}

// PauseVideo pauses the player and returns only once the handle, the element
// and the shared flag all agree that it is paused.
func (c *Controller) PauseVideo(ctx context.Context) error {
	// The flag goes first so observers never read a stale "playing" mid-transition.
	c.flag.SetPlaying(false)

	h := c.Handle()
	if h == nil {
		c.logger.Warn("Pause requested without a video handle attached")
		return nil
	}

	start := time.Now()
	for attempt := 0; attempt < c.cfg.VerifyAttempts; attempt++ {
		strategy := pauseStrategies[attempt%len(pauseStrategies)]
		el, hasElement := c.element()
		if err := strategy.apply(h, el, hasElement); err != nil {
			c.logger.Debug("Pause strategy failed", "strategy", strategy.name, "attempt", attempt+1, "error", err)
		}

		if c.verifyPaused(h) {
			c.logger.Debug("Pause verified", "strategy", strategy.name, "attempt", attempt+1)
			c.observe(time.Since(start), true)
			return nil
		}

		timer := time.NewTimer(c.cfg.VerifyInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.observe(time.Since(start), false)
			return fmt.Errorf("pause verification cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if c.verifyPaused(h) {
		c.observe(time.Since(start), true)
		return nil
	}

	c.observe(time.Since(start), false)
	return fmt.Errorf("%w: video not paused after %d attempts", ErrVideoControl, c.cfg.VerifyAttempts)
}

func (c *Controller) verifyPaused(h Handle) bool {
	if !h.IsPaused() || c.flag.IsPlaying() {
		return false
	}
	if el, ok := c.element(); ok {
		return el.Paused()
	}
	return true
}

// PlayVideo resumes playback. Errors are swallowed; the result reports success.
func (c *Controller) PlayVideo(ctx context.Context) bool {
	c.flag.SetPlaying(true)

	h := c.Handle()
	if h == nil {
		c.logger.Warn("Play requested without a video handle attached")
		return false
	}

	err := h.Play()
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrPlayInterrupted) {
		c.logger.Warn("Play failed", "error", err)
		return false
	}

	c.logger.Debug("Play interrupted, retrying once", "delay", c.cfg.PlayRetryDelay)
	timer := time.NewTimer(c.cfg.PlayRetryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
	}

	if err := h.Play(); err != nil {
		c.logger.Warn("Play retry failed", "error", err)
		return false
	}
	return true
}

// CurrentTime returns the largest non-zero position reported by the handle,
// the shared flag and the element, falling back to the flag.
func (c *Controller) CurrentTime() float64 {
	fromFlag := c.flag.CurrentTime()
	best := fromFlag
	if h := c.Handle(); h != nil {
		if t := h.CurrentTime(); t > best {
			best = t
		}
	}
	if el, ok := c.element(); ok {
		if t := el.CurrentTime(); t > best {
			best = t
		}
	}
	if best <= 0 {
		return fromFlag
	}
	return best
}
