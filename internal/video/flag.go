package video

import "sync"

// PlaybackFlag is the shared "is the video playing" state read by the UI and
// written by the controller. Owners construct one per viewing session.
type PlaybackFlag struct {
	mu          sync.RWMutex
	playing     bool
	currentTime float64
}

// NewPlaybackFlag returns a flag in the paused state.
func NewPlaybackFlag() *PlaybackFlag {
	return &PlaybackFlag{}
}

// IsPlaying reports the last written play state.
func (f *PlaybackFlag) IsPlaying() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.playing
}

// SetPlaying records the play state.
func (f *PlaybackFlag) SetPlaying(playing bool) {
	f.mu.Lock()
	f.playing = playing
	f.mu.Unlock()
}

// CurrentTime returns the last reported playback position in seconds.
func (f *PlaybackFlag) CurrentTime() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentTime
}

// SetCurrentTime records the playback position.
func (f *PlaybackFlag) SetCurrentTime(seconds float64) {
	f.mu.Lock()
	f.currentTime = seconds
	f.mu.Unlock()
}
