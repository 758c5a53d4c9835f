// Package message defines the lifecycle rules of the coordinator timeline:
// how entries are created, tagged, filtered and pruned. Every function here is
// pure; callers receive new slices and the input is never modified.
package message

import "github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"

// Predicate selects timeline entries.
type Predicate func(domain.Message) bool

// IsUnactivated matches offered but unresolved entries.
func IsUnactivated(m domain.Message) bool {
	return m.State == domain.MessageUnactivated
}

// IsAgentPrompt matches agent offers.
func IsAgentPrompt(m domain.Message) bool {
	return m.Type == domain.MessageAgentPrompt
}

// IsReflectionOptions matches the transient reflection medium picker.
func IsReflectionOptions(m domain.Message) bool {
	return m.Type == domain.MessageReflectionOptions
}

// IsReflectionIntro matches the AI message opening a reflection.
func IsReflectionIntro(m domain.Message) bool {
	return m.Type == domain.MessageAI && m.AgentType == domain.AgentReflect && m.Intro
}

// IsReflectionRelated matches every transient entry of an unsubmitted reflection.
func IsReflectionRelated(m domain.Message) bool {
	if IsReflectionOptions(m) || IsReflectionIntro(m) {
		return true
	}
	return m.Type == domain.MessageAgentPrompt && m.AgentType == domain.AgentReflect && m.Accepted && IsUnactivated(m)
}

// IsCountdown matches the auto-resume countdown entry.
func IsCountdown(m domain.Message) bool {
	return m.Countdown
}

// Any combines predicates with OR.
func Any(preds ...Predicate) Predicate {
	return func(m domain.Message) bool {
		for _, p := range preds {
			if p(m) {
				return true
			}
		}
		return false
	}
}

// Without returns msgs minus every entry matching any predicate, in order.
func Without(msgs []domain.Message, preds ...Predicate) []domain.Message {
	drop := Any(preds...)
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if !drop(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Count returns how many entries match pred.
func Count(msgs []domain.Message, pred Predicate) int {
	n := 0
	for _, m := range msgs {
		if pred(m) {
			n++
		}
	}
	return n
}

// PruneForNewAgent removes what must go before a new agent is offered.
func PruneForNewAgent(msgs []domain.Message) []domain.Message {
	return Without(msgs, IsUnactivated, IsReflectionOptions, IsReflectionIntro, IsCountdown)
}

// PruneForResume removes what vanishes when the video plays again.
func PruneForResume(msgs []domain.Message) []domain.Message {
	return Without(msgs, IsUnactivated, IsCountdown)
}

// PruneForReflectionAbandon removes an abandoned or cancelled reflection.
func PruneForReflectionAbandon(msgs []domain.Message) []domain.Message {
	return Without(msgs, IsUnactivated, IsReflectionRelated, IsCountdown)
}

// Find returns the entry with id.
func Find(msgs []domain.Message, id string) (domain.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Message{}, false
}

// FindLast returns the most recent entry matching pred.
func FindLast(msgs []domain.Message, pred Predicate) (domain.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if pred(msgs[i]) {
			return msgs[i], true
		}
	}
	return domain.Message{}, false
}

// Update returns a copy of msgs with fn applied to the entry with id.
// ok is false when no entry has that id.
func Update(msgs []domain.Message, id string, fn func(*domain.Message)) ([]domain.Message, bool) {
	out := domain.CloneMessages(msgs)
	for i := range out {
		if out[i].ID == id {
			fn(&out[i])
			return out, true
		}
	}
	return out, false
}

// Append returns a copy of msgs with extra appended.
func Append(msgs []domain.Message, extra ...domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs)+len(extra))
	out = append(out, domain.CloneMessages(msgs)...)
	for _, m := range extra {
		out = append(out, m.Clone())
	}
	return out
}

// StripActions removes the interactive affordances of a message.
func StripActions(m *domain.Message) {
	m.Actions = nil
}

// ActiveQuiz returns the last quiz-question entry with an unfinished quiz.
func ActiveQuiz(msgs []domain.Message) (domain.Message, bool) {
	m, ok := FindLast(msgs, func(m domain.Message) bool {
		return m.Type == domain.MessageQuizQuestion && m.QuizState != nil
	})
	if !ok || m.QuizState.IsComplete {
		return domain.Message{}, false
	}
	return m, true
}

// ReflectionOptions returns the current reflection picker, if any.
func ReflectionOptions(msgs []domain.Message) (domain.Message, bool) {
	return FindLast(msgs, IsReflectionOptions)
}

// ReflectionInProgress reports whether a reflection picker is on screen.
func ReflectionInProgress(msgs []domain.Message) bool {
	_, ok := ReflectionOptions(msgs)
	return ok
}

// ReflectionCommitted reports whether the learner already chose a medium.
func ReflectionCommitted(msgs []domain.Message) bool {
	m, ok := ReflectionOptions(msgs)
	return ok && m.ReflectionChoice != ""
}
