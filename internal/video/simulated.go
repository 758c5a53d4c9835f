package video

import "sync"

// SimulatedOptions scripts how a SimulatedPlayer reacts to requests.
type SimulatedOptions struct {
	// PauseLag is how many IsPaused polls a pause request takes to land.
	PauseLag int
	// IgnoreHandlePause drops pauses issued through the handle.
	IgnoreHandlePause bool
	// IgnoreElementPause drops pauses issued through the element.
	IgnoreElementPause bool
	// IgnorePauseEvent drops synthesized pause events.
	IgnorePauseEvent bool
	// NoElement hides the element, like an embedded iframe player.
	NoElement bool
	// PlayErrors are returned by successive Play calls before succeeding.
	PlayErrors  []error
	CurrentTime float64
}

// SimulatedPlayer is an in-memory player implementing Handle and Element.
type SimulatedPlayer struct {
	mu          sync.Mutex
	opts        SimulatedOptions
	paused      bool
	pending     bool
	remaining   int
	currentTime float64
	playErrors  []error

	pauseCalls        int
	elementPauseCalls int
	pauseEventCalls   int
	playCalls         int
}

// simElement is the element view of a SimulatedPlayer.
type simElement struct {
	p *SimulatedPlayer
}

var (
	_ Handle  = (*SimulatedPlayer)(nil)
	_ Element = simElement{}
)

// NewSimulatedPlayer returns a paused player.
func NewSimulatedPlayer(opts SimulatedOptions) *SimulatedPlayer {
	return &SimulatedPlayer{
		opts:        opts,
		paused:      true,
		currentTime: opts.CurrentTime,
		playErrors:  append([]error(nil), opts.PlayErrors...),
	}
}

// Locator exposes the player as its own element.
func (p *SimulatedPlayer) Locator() ElementLocator {
	return func() (Element, bool) {
		if p.opts.NoElement {
			return nil, false
		}
		return simElement{p: p}, true
	}
}

func (p *SimulatedPlayer) requestPause() {
	if p.paused || p.pending {
		return
	}
	if p.opts.PauseLag <= 0 {
		p.paused = true
		return
	}
	p.pending = true
	p.remaining = p.opts.PauseLag
}

// Pause implements Handle.
func (p *SimulatedPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseCalls++
	if !p.opts.IgnoreHandlePause {
		p.requestPause()
	}
	return nil
}

// Play implements Handle.
func (p *SimulatedPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playCalls++
	if len(p.playErrors) > 0 {
		err := p.playErrors[0]
		p.playErrors = p.playErrors[1:]
		return err
	}
	p.paused = false
	p.pending = false
	return nil
}

// IsPaused implements Handle. Each call advances a pending pause.
func (p *SimulatedPlayer) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick()
	return p.paused
}

func (p *SimulatedPlayer) tick() {
	if !p.pending {
		return
	}
	p.remaining--
	if p.remaining <= 0 {
		p.pending = false
		p.paused = true
	}
}

func (e simElement) Pause() error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	e.p.elementPauseCalls++
	if !e.p.opts.IgnoreElementPause {
		e.p.requestPause()
	}
	return nil
}

func (e simElement) Paused() bool {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	return e.p.paused
}

func (e simElement) CurrentTime() float64 {
	return e.p.CurrentTime()
}

func (e simElement) DispatchPauseEvent() error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	e.p.pauseEventCalls++
	if !e.p.opts.IgnorePauseEvent {
		e.p.requestPause()
	}
	return nil
}

// CurrentTime implements Handle.
func (p *SimulatedPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTime
}

// Advance moves the playhead when playing.
func (p *SimulatedPlayer) Advance(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.currentTime += seconds
	}
}

// Seek sets the playhead.
func (p *SimulatedPlayer) Seek(seconds float64) {
	p.mu.Lock()
	p.currentTime = seconds
	p.mu.Unlock()
}

// Counts returns a consistent copy of the call counters.
func (p *SimulatedPlayer) Counts() (pause, elementPause, pauseEvent, play int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauseCalls, p.elementPauseCalls, p.pauseEventCalls, p.playCalls
}
