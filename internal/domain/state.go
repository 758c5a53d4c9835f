package domain

// SystemState is the coordinator's top-level state.
type SystemState string

const (
	StateVideoPlaying            SystemState = "VIDEO_PLAYING"
	StateVideoPaused             SystemState = "VIDEO_PAUSED"
	StateAgentShowingUnactivated SystemState = "AGENT_SHOWING_UNACTIVATED"
	StateAgentActivated          SystemState = "AGENT_ACTIVATED"
	StateAgentRejected           SystemState = "AGENT_REJECTED"
	StateErrorVideoControl       SystemState = "ERROR_VIDEO_CONTROL"
	StateErrorRecovery           SystemState = "ERROR_RECOVERY"
)

// AgentKind identifies an overlay agent.
type AgentKind string

const (
	AgentHint    AgentKind = "hint"
	AgentQuiz    AgentKind = "quiz"
	AgentReflect AgentKind = "reflect"
	AgentPath    AgentKind = "path"
)

// Valid reports whether k is one of the known agents.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentHint, AgentQuiz, AgentReflect, AgentPath:
		return true
	}
	return false
}

// DisplayName returns the learner-facing agent name.
func (k AgentKind) DisplayName() string {
	switch k {
	case AgentHint:
		return "PuzzleHint"
	case AgentQuiz:
		return "PuzzleCheck"
	case AgentReflect:
		return "PuzzleReflect"
	case AgentPath:
		return "PuzzlePath"
	}
	return string(k)
}

// Prompt returns the offer text shown in the agent-prompt message.
func (k AgentKind) Prompt() string {
	switch k {
	case AgentHint:
		return "Do you want a hint about what's happening at this point in the video?"
	case AgentQuiz:
		return "Ready for a quick quiz on what you just watched?"
	case AgentReflect:
		return "Would you like to reflect on what you've learned so far?"
	case AgentPath:
		return "Want a personalized learning path based on your progress?"
	}
	return ""
}
