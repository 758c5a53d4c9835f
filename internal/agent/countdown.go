package agent

import (
	"context"
	"time"
)

// countdownStep is the payload of countdown commands. Steps from a cancelled
// or replaced countdown carry a stale generation and are ignored.
type countdownStep struct {
	gen       uint64
	remaining int
}

// startCountdown schedules the auto-resume countdown, replacing any running one.
func (m *Machine) startCountdown() {
	m.cdMu.Lock()
	if m.cdCancel != nil {
		m.cdCancel()
	}
	m.cdGen++
	gen := m.cdGen
	ctx, cancel := context.WithCancel(context.Background())
	m.cdCancel = cancel
	m.cdMu.Unlock()

	go m.runCountdown(ctx, gen, m.cfg.CountdownSeconds)
}

func (m *Machine) runCountdown(ctx context.Context, gen uint64, seconds int) {
	ticker := time.NewTicker(m.cfg.CountdownInterval)
	defer ticker.Stop()

	for remaining := seconds - 1; remaining >= 0; remaining-- {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cmdType := CommandCountdownTick
		if remaining == 0 {
			cmdType = CommandCountdownResume
		}
		if _, err := m.queue.Enqueue(cmdType, countdownStep{gen: gen, remaining: remaining}); err != nil {
			return
		}
	}
}

// cancelCountdown stops the running countdown, if any.
func (m *Machine) cancelCountdown() {
	m.cdMu.Lock()
	defer m.cdMu.Unlock()
	if m.cdCancel == nil {
		return
	}
	m.cdCancel()
	m.cdCancel = nil
	m.cdGen++
}

func (m *Machine) countdownActive(gen uint64) bool {
	m.cdMu.Lock()
	defer m.cdMu.Unlock()
	return m.cdCancel != nil && gen == m.cdGen
}

func (m *Machine) endCountdown(gen uint64) {
	m.cdMu.Lock()
	defer m.cdMu.Unlock()
	if gen == m.cdGen && m.cdCancel != nil {
		m.cdCancel()
		m.cdCancel = nil
	}
}

func (m *Machine) runCountdownStep(ctx context.Context, step countdownStep) error {
	if !m.countdownActive(step.gen) {
		return nil
	}
	c := m.load()
	if step.remaining > 0 {
		if next, changed := m.reducer.TickCountdown(c, step.remaining); changed {
			m.commit(next)
		}
		return nil
	}

	m.endCountdown(step.gen)
	base, _ := m.reducer.DropCountdown(c)
	if !m.ctrl.PlayVideo(ctx) {
		m.log.Warn("Auto-resume could not start playback")
		m.ctrl.Flag().SetPlaying(false)
		m.commit(base)
		return nil
	}
	next, _ := m.reducer.Resume(base, m.ctrl.CurrentTime())
	m.commit(next)
	return nil
}
