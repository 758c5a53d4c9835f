package agent

import (
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/message"
)

// Reducer holds the transitions of the coordinator. Each method maps a context
// to its successor and reports whether anything changed; none has side effects
// beyond drawing ids and timestamps from the message manager.
type Reducer struct {
	Messages         *message.Manager
	CountdownSeconds int
}

func (r Reducer) countdownSeconds() int {
	if r.CountdownSeconds <= 0 {
		return defaultCountdownSeconds
	}
	return r.CountdownSeconds
}

func paused(c domain.SystemContext, videoTime float64) domain.VideoState {
	vs := c.VideoState
	vs.IsPlaying = false
	if videoTime > 0 {
		vs.CurrentTime = videoTime
	}
	return vs
}

// ShowAgent offers kind at videoTime. Any previous unresolved offer is dropped.
func (r Reducer) ShowAgent(c domain.SystemContext, kind domain.AgentKind, videoTime float64) domain.SystemContext {
	next := c.Clone()
	sys := r.Messages.PausedAt(videoTime)
	prompt := r.Messages.AgentPrompt(kind, sys.ID)

	next.Messages = message.Append(message.PruneForNewAgent(c.Messages), sys, prompt)
	next.State = domain.StateAgentShowingUnactivated
	next.VideoState = paused(c, videoTime)
	next.AgentState = domain.AgentState{
		CurrentUnactivatedID:   prompt.ID,
		CurrentSystemMessageID: sys.ID,
		ActiveType:             kind,
	}
	return next
}

// ManualPause handles a learner pause. During a reflection only the playback
// state changes; otherwise a hint is offered.
func (r Reducer) ManualPause(c domain.SystemContext, videoTime float64) (domain.SystemContext, bool) {
	if message.ReflectionInProgress(c.Messages) {
		if !c.VideoState.IsPlaying && c.State == domain.StateVideoPaused {
			return c, false
		}
		next := c.Clone()
		next.VideoState = paused(c, videoTime)
		next.State = domain.StateVideoPaused
		return next, true
	}
	return r.ShowAgent(c, domain.AgentHint, videoTime), true
}

// Resume handles the video playing again.
func (r Reducer) Resume(c domain.SystemContext, videoTime float64) (domain.SystemContext, bool) {
	next := c.Clone()
	next.State = domain.StateVideoPlaying
	next.VideoState.IsPlaying = true
	if videoTime > 0 {
		next.VideoState.CurrentTime = videoTime
	}

	switch {
	case message.ReflectionCommitted(c.Messages):
		// The reflection UI survives playback once a medium is chosen.
	case message.ReflectionInProgress(c.Messages):
		next.Messages = message.PruneForReflectionAbandon(c.Messages)
		next.AgentState = domain.AgentState{}
	default:
		next.Messages = message.PruneForResume(c.Messages)
		next.AgentState = domain.AgentState{}
	}

	changed := next.State != c.State ||
		next.VideoState.IsPlaying != c.VideoState.IsPlaying ||
		len(next.Messages) != len(c.Messages) ||
		next.AgentState != c.AgentState
	if !changed {
		return c, false
	}
	return next, true
}

// pendingPrompt returns the offer id if it is still unresolved.
func pendingPrompt(c domain.SystemContext, id string) (domain.Message, bool) {
	m, ok := message.Find(c.Messages, id)
	if !ok || !message.IsAgentPrompt(m) || !message.IsUnactivated(m) || m.Accepted {
		return domain.Message{}, false
	}
	return m, true
}

// resolve marks the prompt with state and makes its linked entry permanent.
func resolve(msgs []domain.Message, prompt domain.Message, state domain.MessageState) []domain.Message {
	msgs, _ = message.Update(msgs, prompt.ID, func(m *domain.Message) {
		m.State = state
		message.StripActions(m)
	})
	if prompt.LinkedMessageID != "" {
		msgs, _ = message.Update(msgs, prompt.LinkedMessageID, func(m *domain.Message) {
			m.State = domain.MessagePermanent
		})
	}
	return msgs
}

// Accept activates a hint or path offer. Duplicate accepts are no-ops.
func (r Reducer) Accept(c domain.SystemContext, id string) (domain.SystemContext, bool) {
	prompt, ok := pendingPrompt(c, id)
	if !ok {
		return c, false
	}
	next := c.Clone()
	msgs := resolve(c.Messages, prompt, domain.MessageActivated)
	next.Messages = message.Append(msgs, r.Messages.Activated(prompt.AgentType, c.VideoState.CurrentTime))
	next.State = domain.StateAgentActivated
	next.AgentState = domain.AgentState{ActiveType: prompt.AgentType}
	return next, true
}

// AcceptQuiz activates a quiz offer and asks the first question.
func (r Reducer) AcceptQuiz(c domain.SystemContext, id string, questions []domain.QuizQuestion) (domain.SystemContext, bool) {
	prompt, ok := pendingPrompt(c, id)
	if !ok || len(questions) == 0 {
		return c, false
	}
	next := c.Clone()
	msgs := resolve(c.Messages, prompt, domain.MessageActivated)
	intro := r.Messages.AI(domain.AgentQuiz, "Let's check your understanding with a few quick questions.")
	next.Messages = message.Append(msgs, intro, r.Messages.QuizQuestion(domain.NewQuizState(questions)))
	next.State = domain.StateAgentActivated
	next.AgentState = domain.AgentState{ActiveType: domain.AgentQuiz}
	return next, true
}

// AcceptReflect opens a reflection. The offer stays unactivated so that it is
// pruned if the reflection is abandoned.
func (r Reducer) AcceptReflect(c domain.SystemContext, id string) (domain.SystemContext, bool) {
	prompt, ok := pendingPrompt(c, id)
	if !ok {
		return c, false
	}
	next := c.Clone()
	msgs, _ := message.Update(c.Messages, prompt.ID, func(m *domain.Message) {
		m.Accepted = true
		message.StripActions(m)
	})
	next.Messages = message.Append(msgs, r.Messages.ReflectionIntro(), r.Messages.ReflectionOptions())
	next.State = domain.StateAgentActivated
	next.AgentState = domain.AgentState{
		CurrentUnactivatedID:   prompt.ID,
		CurrentSystemMessageID: prompt.LinkedMessageID,
		ActiveType:             domain.AgentReflect,
	}
	return next, true
}

// Reject declines an offer. Duplicate rejects are no-ops.
func (r Reducer) Reject(c domain.SystemContext, id string) (domain.SystemContext, bool) {
	prompt, ok := pendingPrompt(c, id)
	if !ok {
		return c, false
	}
	next := c.Clone()
	next.Messages = resolve(c.Messages, prompt, domain.MessageRejected)
	next.State = domain.StateAgentRejected
	next.AgentState = domain.AgentState{}
	return next, true
}

// activeQuiz returns the question entry of the running quiz.
func activeQuiz(c domain.SystemContext) (domain.Message, bool) {
	if c.AgentState.ActiveType != domain.AgentQuiz {
		return domain.Message{}, false
	}
	return message.ActiveQuiz(c.Messages)
}

// quizFinished reports whether the latest quiz on the timeline is complete.
func quizFinished(c domain.SystemContext) bool {
	m, ok := message.FindLast(c.Messages, func(m domain.Message) bool {
		return m.Type == domain.MessageQuizQuestion && m.QuizState != nil
	})
	return ok && m.QuizState.IsComplete
}

// AnswerQuiz records answer for the current question. When it completes the
// quiz, the result is returned and the auto-resume countdown is appended.
func (r Reducer) AnswerQuiz(c domain.SystemContext, a QuizAnswerSelected) (domain.SystemContext, *domain.QuizResult, bool) {
	entry, ok := activeQuiz(c)
	if !ok {
		return c, nil, false
	}
	state := entry.QuizState
	if a.QuestionIndex != nil && *a.QuestionIndex != state.CurrentQuestionIndex {
		return c, nil, false
	}
	question, _ := state.Current()
	answered, correct := state.Answer(a.Answer)

	msgs, _ := message.Update(c.Messages, entry.ID, func(m *domain.Message) {
		m.QuizState = answered.Clone()
	})
	msgs = message.Append(msgs, r.Messages.QuizFeedback(question, correct))

	next := c.Clone()
	next.State = domain.StateAgentActivated
	if !answered.IsComplete {
		next.Messages = message.Append(msgs, r.Messages.QuizQuestion(answered))
		return next, nil, true
	}

	result := domain.QuizResult{
		VideoTimestamp: c.VideoState.CurrentTime,
		Score:          answered.Score,
		Total:          len(answered.Questions),
		Answers:        make([]int, len(answered.UserAnswers)),
		CompletedAt:    r.Messages.Now(),
	}
	for i, v := range answered.UserAnswers {
		if v != nil {
			result.Answers[i] = *v
		}
	}
	next.Messages = message.Append(msgs, r.Messages.QuizSummary(result), r.Messages.Countdown(r.countdownSeconds()))
	return next, &result, true
}

// ChooseReflection commits the open reflection to kind.
func (r Reducer) ChooseReflection(c domain.SystemContext, kind domain.ReflectionKind) (domain.SystemContext, bool) {
	options, ok := message.ReflectionOptions(c.Messages)
	if !ok || options.ReflectionChoice == kind {
		return c, false
	}
	next := c.Clone()
	next.Messages, _ = message.Update(c.Messages, options.ID, func(m *domain.Message) {
		m.ReflectionChoice = kind
	})
	return next, true
}

// reflectionPrompt returns the accepted reflect offer awaiting submission.
func reflectionPrompt(c domain.SystemContext) (domain.Message, bool) {
	return message.FindLast(c.Messages, func(m domain.Message) bool {
		return message.IsAgentPrompt(m) && m.AgentType == domain.AgentReflect && m.Accepted && message.IsUnactivated(m)
	})
}

// ReflectionOpen reports whether a reflection can be cancelled or submitted.
func ReflectionOpen(c domain.SystemContext) bool {
	if _, ok := reflectionPrompt(c); ok {
		return true
	}
	return message.ReflectionInProgress(c.Messages)
}

// CancelReflection abandons the open reflection. The resulting state follows
// the player: playing if the video is playing, paused otherwise.
func (r Reducer) CancelReflection(c domain.SystemContext) (domain.SystemContext, bool) {
	if !ReflectionOpen(c) {
		return c, false
	}
	next := c.Clone()
	next.Messages = message.PruneForReflectionAbandon(c.Messages)
	next.AgentState = domain.AgentState{}
	if c.VideoState.IsPlaying {
		next.State = domain.StateVideoPlaying
	} else {
		next.State = domain.StateVideoPaused
	}
	return next, true
}

// SubmitReflection replaces the transient reflection UI with its permanent
// record and appends the auto-resume countdown.
func (r Reducer) SubmitReflection(c domain.SystemContext, data domain.ReflectionData) (domain.SystemContext, bool) {
	if !ReflectionOpen(c) {
		return c, false
	}
	msgs := c.Messages
	if prompt, ok := reflectionPrompt(c); ok {
		msgs = resolve(msgs, prompt, domain.MessageActivated)
	}
	msgs = message.Without(msgs, message.IsReflectionIntro, message.IsReflectionOptions)

	next := c.Clone()
	next.Messages = message.Append(msgs,
		r.Messages.ReflectionRecorded(data.Kind, c.VideoState.CurrentTime),
		r.Messages.ReflectionAck(data),
		r.Messages.Countdown(r.countdownSeconds()),
	)
	next.State = domain.StateAgentActivated
	next.AgentState = domain.AgentState{ActiveType: domain.AgentReflect}
	return next, true
}

// TickCountdown updates the countdown entry to remaining seconds.
func (r Reducer) TickCountdown(c domain.SystemContext, remaining int) (domain.SystemContext, bool) {
	entry, ok := message.FindLast(c.Messages, message.IsCountdown)
	if !ok {
		return c, false
	}
	text := message.CountdownText(remaining)
	if entry.Message == text {
		return c, false
	}
	next := c.Clone()
	next.Messages, _ = message.Update(c.Messages, entry.ID, func(m *domain.Message) {
		m.Message = text
	})
	return next, true
}

// DropCountdown removes a pending countdown entry.
func (r Reducer) DropCountdown(c domain.SystemContext) (domain.SystemContext, bool) {
	if message.Count(c.Messages, message.IsCountdown) == 0 {
		return c, false
	}
	next := c.Clone()
	next.Messages = message.Without(c.Messages, message.IsCountdown)
	return next, true
}

// FailCommand records a terminal command failure. A video control failure
// also moves the coordinator into its error state.
func (r Reducer) FailCommand(c domain.SystemContext, failure domain.CapturedError, videoControl bool) domain.SystemContext {
	next := c.Clone()
	next.Errors = append(next.Errors, failure)
	if videoControl {
		next.State = domain.StateErrorVideoControl
	}
	return next
}

// Recover marks a retry after a video control failure.
func (r Reducer) Recover(c domain.SystemContext) (domain.SystemContext, bool) {
	if c.State == domain.StateErrorRecovery {
		return c, false
	}
	next := c.Clone()
	next.State = domain.StateErrorRecovery
	return next, true
}
