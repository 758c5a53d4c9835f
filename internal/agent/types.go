// Package agent implements the video-agent coordinator: a state machine that
// keeps the player and the agent timeline in lock-step.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
)

var (
	// ErrUnknownAction is returned when decoding an unrecognized action type.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidAction is returned when an action payload is incomplete.
	ErrInvalidAction = errors.New("invalid action")
	// ErrNoActiveQuiz is recorded when an answer arrives without a running quiz.
	ErrNoActiveQuiz = errors.New("no active quiz")
	// ErrNoReflection is recorded when a submission arrives without an accepted reflection.
	ErrNoReflection = errors.New("no reflection in progress")
	// ErrNoQuestions is recorded when the question source returns nothing.
	ErrNoQuestions = errors.New("no quiz questions available")
)

// ActionType names a dispatched intent.
type ActionType string

const (
	ActionAgentButtonClicked   ActionType = "agent_button_clicked"
	ActionManualPause          ActionType = "manual_pause"
	ActionVideoPlayed          ActionType = "video_played"
	ActionAcceptAgent          ActionType = "accept_agent"
	ActionRejectAgent          ActionType = "reject_agent"
	ActionQuizAnswerSelected   ActionType = "quiz_answer_selected"
	ActionReflectionTypeChosen ActionType = "reflection_type_chosen"
	ActionReflectionCancelled  ActionType = "reflection_cancelled"
	ActionReflectionSubmitted  ActionType = "reflection_submitted"
)

// Action is one of the closed set of intents accepted by Dispatch.
type Action interface {
	Type() ActionType
	validate() error
}

// AgentButtonClicked asks for an agent to be offered at the given video time.
type AgentButtonClicked struct {
	Agent domain.AgentKind
	Time  float64
}

// ManualPause reports that the learner paused the player.
type ManualPause struct {
	Time float64
}

// VideoPlayed reports that the player started playing.
type VideoPlayed struct {
	Time float64
}

// AcceptAgent accepts the offer with the given message id.
type AcceptAgent struct {
	ID string
}

// RejectAgent declines the offer with the given message id.
type RejectAgent struct {
	ID string
}

// QuizAnswerSelected answers the current quiz question. When QuestionIndex is
// set, the answer only applies if that question is still the current one.
type QuizAnswerSelected struct {
	QuestionIndex *int
	Answer        int
}

// ReflectionTypeChosen commits the reflection to a medium.
type ReflectionTypeChosen struct {
	Kind domain.ReflectionKind
}

// ReflectionCancelled abandons the reflection in progress.
type ReflectionCancelled struct{}

// ReflectionSubmitted delivers the captured reflection.
type ReflectionSubmitted struct {
	Kind domain.ReflectionKind
	Data domain.ReflectionData
}

func (AgentButtonClicked) Type() ActionType   { return ActionAgentButtonClicked }
func (ManualPause) Type() ActionType          { return ActionManualPause }
func (VideoPlayed) Type() ActionType          { return ActionVideoPlayed }
func (AcceptAgent) Type() ActionType          { return ActionAcceptAgent }
func (RejectAgent) Type() ActionType          { return ActionRejectAgent }
func (QuizAnswerSelected) Type() ActionType   { return ActionQuizAnswerSelected }
func (ReflectionTypeChosen) Type() ActionType { return ActionReflectionTypeChosen }
func (ReflectionCancelled) Type() ActionType  { return ActionReflectionCancelled }
func (ReflectionSubmitted) Type() ActionType  { return ActionReflectionSubmitted }

func (a AgentButtonClicked) validate() error {
	if !a.Agent.Valid() {
		return fmt.Errorf("%w: unknown agent %q", ErrInvalidAction, a.Agent)
	}
	return nil
}

func (ManualPause) validate() error { return nil }
func (VideoPlayed) validate() error { return nil }

func (a AcceptAgent) validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: accept requires an id", ErrInvalidAction)
	}
	return nil
}

func (a RejectAgent) validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: reject requires an id", ErrInvalidAction)
	}
	return nil
}

func (a QuizAnswerSelected) validate() error {
	if a.Answer < 0 {
		return fmt.Errorf("%w: negative answer", ErrInvalidAction)
	}
	return nil
}

func (a ReflectionTypeChosen) validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: unknown reflection type %q", ErrInvalidAction, a.Kind)
	}
	return nil
}

func (ReflectionCancelled) validate() error { return nil }

func (a ReflectionSubmitted) validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: unknown reflection type %q", ErrInvalidAction, a.Kind)
	}
	if a.Data.Kind != "" && a.Data.Kind != a.Kind {
		return fmt.Errorf("%w: payload kind %q does not match %q", ErrInvalidAction, a.Data.Kind, a.Kind)
	}
	return nil
}

// Envelope is the wire form of an action, shared by the HTTP API, the player
// bridge and replay scenarios.
type Envelope struct {
	Type          ActionType             `json:"type" yaml:"type"`
	Agent         domain.AgentKind       `json:"agent,omitempty" yaml:"agent,omitempty"`
	Time          float64                `json:"time,omitempty" yaml:"time,omitempty"`
	ID            string                 `json:"id,omitempty" yaml:"id,omitempty"`
	QuestionIndex *int                   `json:"question_index,omitempty" yaml:"question_index,omitempty"`
	Answer        *int                   `json:"answer,omitempty" yaml:"answer,omitempty"`
	Kind          domain.ReflectionKind  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Data          *domain.ReflectionData `json:"data,omitempty" yaml:"data,omitempty"`
}

// Action converts the envelope into a validated Action.
func (e Envelope) Action() (Action, error) {
	var a Action
	switch e.Type {
	case ActionAgentButtonClicked:
		a = AgentButtonClicked{Agent: e.Agent, Time: e.Time}
	case ActionManualPause:
		a = ManualPause{Time: e.Time}
	case ActionVideoPlayed:
		a = VideoPlayed{Time: e.Time}
	case ActionAcceptAgent:
		a = AcceptAgent{ID: e.ID}
	case ActionRejectAgent:
		a = RejectAgent{ID: e.ID}
	case ActionQuizAnswerSelected:
		if e.Answer == nil {
			return nil, fmt.Errorf("%w: quiz answer requires an answer", ErrInvalidAction)
		}
		var idx *int
		if e.QuestionIndex != nil {
			v := *e.QuestionIndex
			idx = &v
		}
		a = QuizAnswerSelected{QuestionIndex: idx, Answer: *e.Answer}
	case ActionReflectionTypeChosen:
		a = ReflectionTypeChosen{Kind: e.Kind}
	case ActionReflectionCancelled:
		a = ReflectionCancelled{}
	case ActionReflectionSubmitted:
		sub := ReflectionSubmitted{Kind: e.Kind}
		if e.Data != nil {
			sub.Data = *e.Data.Clone()
		}
		a = sub
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, e.Type)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// DecodeAction parses the JSON wire form of an action.
func DecodeAction(data []byte) (Action, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return e.Action()
}

// Command types executed by the queue. Every action maps to exactly one.
const (
	CommandShowAgent            = "SHOW_AGENT"
	CommandManualPause          = "MANUAL_PAUSE"
	CommandVideoPlayed          = "VIDEO_PLAYED"
	CommandAcceptAgent          = "ACCEPT_AGENT"
	CommandRejectAgent          = "REJECT_AGENT"
	CommandQuizAnswer           = "QUIZ_ANSWER"
	CommandReflectionTypeChosen = "REFLECTION_TYPE_CHOSEN"
	CommandReflectionCancelled  = "REFLECTION_CANCELLED"
	CommandReflectionSubmitted  = "REFLECTION_SUBMITTED"
	CommandCountdownTick        = "COUNTDOWN_TICK"
	CommandCountdownResume      = "COUNTDOWN_RESUME"
)

// CommandType returns the queue command type for a.
func CommandType(a Action) string {
	switch a.Type() {
	case ActionAgentButtonClicked:
		return CommandShowAgent
	case ActionManualPause:
		return CommandManualPause
	case ActionVideoPlayed:
		return CommandVideoPlayed
	case ActionAcceptAgent:
		return CommandAcceptAgent
	case ActionRejectAgent:
		return CommandRejectAgent
	case ActionQuizAnswerSelected:
		return CommandQuizAnswer
	case ActionReflectionTypeChosen:
		return CommandReflectionTypeChosen
	case ActionReflectionCancelled:
		return CommandReflectionCancelled
	case ActionReflectionSubmitted:
		return CommandReflectionSubmitted
	}
	return string(a.Type())
}

// showsAgent reports whether a command type may pause the video to offer an agent.
func showsAgent(cmdType string) bool {
	return cmdType == CommandShowAgent || cmdType == CommandManualPause
}
