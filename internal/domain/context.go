package domain

import (
	"fmt"
	"math"
	"time"
)

// VideoState mirrors the player as last observed by the coordinator.
type VideoState struct {
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
}

// AgentState tracks the agent currently offered or running.
type AgentState struct {
	CurrentUnactivatedID   string    `json:"current_unactivated_id,omitempty"`
	CurrentSystemMessageID string    `json:"current_system_message_id,omitempty"`
	ActiveType             AgentKind `json:"active_type,omitempty"`
}

// CapturedError is a diagnostic record of a failed command.
type CapturedError struct {
	CommandID   string    `json:"command_id"`
	CommandType string    `json:"command_type"`
	Message     string    `json:"message"`
	Attempts    int       `json:"attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// SystemContext is the coordinator's single root of state. It is replaced
// wholesale on every transition and never mutated once published.
type SystemContext struct {
	State      SystemState     `json:"state"`
	VideoState VideoState      `json:"video_state"`
	AgentState AgentState      `json:"agent_state"`
	Messages   []Message       `json:"messages"`
	Errors     []CapturedError `json:"errors"`
}

// NewSystemContext returns the cold-start context: paused, no agent, empty timeline.
func NewSystemContext() SystemContext {
	return SystemContext{
		State:    StateVideoPaused,
		Messages: []Message{},
		Errors:   []CapturedError{},
	}
}

// Clone returns a deep copy of c.
func (c SystemContext) Clone() SystemContext {
	out := c
	out.Messages = CloneMessages(c.Messages)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	out.Errors = append([]CapturedError{}, c.Errors...)
	return out
}

// FormatVideoTime renders seconds as m:ss.
func FormatVideoTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
