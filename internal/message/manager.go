package message

import (
	"fmt"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/google/uuid"
)

// Manager creates timeline entries with time-ordered ids.
type Manager struct {
	now   func() time.Time
	newID func() string
}

// NewManager returns a Manager using the wall clock and UUIDv7 ids.
func NewManager() *Manager {
	return &Manager{
		now: time.Now,
		newID: func() string {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.NewString()
			}
			return id.String()
		},
	}
}

// WithClock returns a copy of m using now for timestamps.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	out := *m
	out.now = now
	return &out
}

// WithIDs returns a copy of m drawing ids from next.
func (m *Manager) WithIDs(next func() string) *Manager {
	out := *m
	out.newID = next
	return &out
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) base(t domain.MessageType, state domain.MessageState, text string) domain.Message {
	return domain.Message{
		ID:        m.newID(),
		Type:      t,
		State:     state,
		Message:   text,
		Timestamp: m.now(),
	}
}

// System creates a system entry.
func (m *Manager) System(text string, state domain.MessageState) domain.Message {
	return m.base(domain.MessageSystem, state, text)
}

// PausedAt creates the unactivated "Paused at m:ss" entry that precedes an agent offer.
func (m *Manager) PausedAt(videoTime float64) domain.Message {
	return m.System("Paused at "+domain.FormatVideoTime(videoTime), domain.MessageUnactivated)
}

// AgentPrompt creates an unactivated offer linked to its paused-at entry.
func (m *Manager) AgentPrompt(kind domain.AgentKind, linkedID string) domain.Message {
	msg := m.base(domain.MessageAgentPrompt, domain.MessageUnactivated, kind.Prompt())
	msg.AgentType = kind
	msg.LinkedMessageID = linkedID
	msg.Actions = []domain.MessageAction{
		{Kind: domain.ActionAccept, Label: "Let's go"},
		{Kind: domain.ActionReject, Label: "Not now"},
	}
	return msg
}

// Activated creates the "📍 <Agent> activated at m:ss" confirmation.
func (m *Manager) Activated(kind domain.AgentKind, videoTime float64) domain.Message {
	msg := m.System(fmt.Sprintf("📍 %s activated at %s", kind.DisplayName(), domain.FormatVideoTime(videoTime)), domain.MessagePermanent)
	msg.AgentType = kind
	return msg
}

// AI creates a permanent AI response.
func (m *Manager) AI(kind domain.AgentKind, text string) domain.Message {
	msg := m.base(domain.MessageAI, domain.MessagePermanent, text)
	msg.AgentType = kind
	return msg
}

// QuizQuestion creates the entry asking the current question of state.
func (m *Manager) QuizQuestion(state *domain.QuizState) domain.Message {
	q, _ := state.Current()
	msg := m.base(domain.MessageQuizQuestion, domain.MessagePermanent,
		fmt.Sprintf("Question %d of %d: %s", state.CurrentQuestionIndex+1, len(state.Questions), q.Question))
	msg.AgentType = domain.AgentQuiz
	data := q.Clone()
	msg.QuizData = &data
	msg.QuizState = state.Clone()
	return msg
}

// QuizFeedback creates the result entry for one answer. The explanation is
// always included.
func (m *Manager) QuizFeedback(q domain.QuizQuestion, correct bool) domain.Message {
	var text string
	if correct {
		text = "✅ Correct! " + q.Explanation
	} else {
		answer := ""
		if q.CorrectAnswer >= 0 && q.CorrectAnswer < len(q.Options) {
			answer = q.Options[q.CorrectAnswer]
		}
		text = fmt.Sprintf("❌ Not quite. The correct answer is %q. %s", answer, q.Explanation)
	}
	msg := m.base(domain.MessageQuizResult, domain.MessagePermanent, text)
	msg.AgentType = domain.AgentQuiz
	return msg
}

// QuizSummary creates the completion entry for a finished quiz.
func (m *Manager) QuizSummary(result domain.QuizResult) domain.Message {
	msg := m.base(domain.MessageQuizResult, domain.MessagePermanent,
		fmt.Sprintf("🎉 Quiz complete! You scored %d/%d (%d%%).", result.Score, result.Total, result.Percentage()))
	msg.AgentType = domain.AgentQuiz
	r := result
	msg.QuizResult = &r
	return msg
}

// Countdown creates the auto-resume entry.
func (m *Manager) Countdown(remaining int) domain.Message {
	msg := m.base(domain.MessageSystem, domain.MessageUnactivated, CountdownText(remaining))
	msg.Countdown = true
	return msg
}

// CountdownText renders the countdown label.
func CountdownText(remaining int) string {
	return fmt.Sprintf("▶️ Resuming video in %d...", remaining)
}

// ReflectionIntro creates the AI entry opening a reflection.
func (m *Manager) ReflectionIntro() domain.Message {
	msg := m.base(domain.MessageAI, domain.MessageUnactivated,
		"Take a moment to reflect on what you just learned. How would you like to capture it?")
	msg.AgentType = domain.AgentReflect
	msg.Intro = true
	return msg
}

// ReflectionOptions creates the medium picker.
func (m *Manager) ReflectionOptions() domain.Message {
	msg := m.base(domain.MessageReflectionOptions, domain.MessageUnactivated, "Choose how to reflect")
	msg.AgentType = domain.AgentReflect
	msg.Metadata = map[string]any{
		"options": []string{
			string(domain.ReflectionVoice),
			string(domain.ReflectionScreenshot),
			string(domain.ReflectionLoom),
		},
	}
	return msg
}

// ReflectionRecorded creates the permanent "📍 PuzzleReflect • <kind> at m:ss" entry.
func (m *Manager) ReflectionRecorded(kind domain.ReflectionKind, videoTime float64) domain.Message {
	msg := m.System(fmt.Sprintf("📍 %s • %s at %s", domain.AgentReflect.DisplayName(), kind.Label(), domain.FormatVideoTime(videoTime)), domain.MessagePermanent)
	msg.AgentType = domain.AgentReflect
	return msg
}

// ReflectionAck creates the AI acknowledgement carrying the captured payload.
func (m *Manager) ReflectionAck(data domain.ReflectionData) domain.Message {
	msg := m.AI(domain.AgentReflect, fmt.Sprintf("Thanks for sharing your %s reflection! It's saved with your progress.", data.Kind.Label()))
	msg.ReflectionData = data.Clone()
	return msg
}
