// Package metrics records coordinator activity: commands, state transitions,
// pause verification and live sessions.
package metrics

import "time"

// Recorder defines the interface for recording coordinator metrics.
type Recorder interface {
	// ObserveCommand records a settled command with its terminal status.
	ObserveCommand(cmdType, status string, attempts int)

	// ObserveTransition records a change of system state.
	ObserveTransition(from, to string)

	// ObservePauseVerify records how long pause verification took.
	ObservePauseVerify(elapsed time.Duration, verified bool)

	// SessionOpened and SessionClosed track live coordinator sessions.
	SessionOpened()
	SessionClosed()
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveCommand does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveCommand(_, _ string, _ int) {}

// ObserveTransition does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveTransition(_, _ string) {}

// ObservePauseVerify does nothing in the no-op recorder.
func (n *NoopRecorder) ObservePauseVerify(_ time.Duration, _ bool) {}

// SessionOpened does nothing in the no-op recorder.
func (n *NoopRecorder) SessionOpened() {}

// SessionClosed does nothing in the no-op recorder.
func (n *NoopRecorder) SessionClosed() {}
