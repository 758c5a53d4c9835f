package domain

import (
	"maps"
	"time"
)

// MessageType classifies a timeline entry.
type MessageType string

const (
	MessageSystem            MessageType = "system"
	MessageAgentPrompt       MessageType = "agent-prompt"
	MessageAI                MessageType = "ai"
	MessageUser              MessageType = "user"
	MessageQuizQuestion      MessageType = "quiz-question"
	MessageQuizResult        MessageType = "quiz-result"
	MessageReflectionOptions MessageType = "reflection-options"
)

// MessageState is the lifetime of a timeline entry.
//
// Unactivated entries are ephemeral and pruned whenever the video resumes or a
// new agent is offered. Activated and rejected entries keep their content but
// lose their actions. Permanent entries are never pruned automatically.
type MessageState string

const (
	MessageUnactivated MessageState = "UNACTIVATED"
	MessageActivated   MessageState = "ACTIVATED"
	MessageRejected    MessageState = "REJECTED"
	MessagePermanent   MessageState = "PERMANENT"
)

// ActionKind names an interactive affordance on a message.
type ActionKind string

const (
	ActionAccept ActionKind = "accept"
	ActionReject ActionKind = "reject"
)

// MessageAction is a button rendered under a message.
type MessageAction struct {
	Kind  ActionKind `json:"kind"`
	Label string     `json:"label"`
}

// Message is one entry of the coordinator timeline.
type Message struct {
	ID              string          `json:"id"`
	Type            MessageType     `json:"type"`
	AgentType       AgentKind       `json:"agent_type,omitempty"`
	State           MessageState    `json:"state"`
	Message         string          `json:"message"`
	Timestamp       time.Time       `json:"timestamp"`
	LinkedMessageID string          `json:"linked_message_id,omitempty"`
	Actions         []MessageAction `json:"actions,omitempty"`

	// Accepted marks a reflect prompt the learner accepted while it stays
	// unactivated until the reflection is submitted or abandoned.
	Accepted bool `json:"accepted,omitempty"`
	// Intro marks the AI message that opens a reflection.
	Intro bool `json:"intro,omitempty"`
	// Countdown marks the auto-resume countdown entry.
	Countdown bool `json:"countdown,omitempty"`

	QuizData         *QuizQuestion   `json:"quiz_data,omitempty"`
	QuizState        *QuizState      `json:"quiz_state,omitempty"`
	QuizResult       *QuizResult     `json:"quiz_result,omitempty"`
	ReflectionData   *ReflectionData `json:"reflection_data,omitempty"`
	ReflectionChoice ReflectionKind  `json:"reflection_choice,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Actions != nil {
		out.Actions = append([]MessageAction(nil), m.Actions...)
	}
	if m.QuizData != nil {
		q := m.QuizData.Clone()
		out.QuizData = &q
	}
	if m.QuizState != nil {
		out.QuizState = m.QuizState.Clone()
	}
	if m.QuizResult != nil {
		r := *m.QuizResult
		out.QuizResult = &r
	}
	if m.ReflectionData != nil {
		out.ReflectionData = m.ReflectionData.Clone()
	}
	if m.Metadata != nil {
		out.Metadata = maps.Clone(m.Metadata)
	}
	return out
}

// CloneMessages deep-copies a timeline.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
