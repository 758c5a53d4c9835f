package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/message"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/quiz"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu            sync.Mutex
	reflections   []domain.ReflectionRecord
	quizzes       []domain.QuizResult
	reflectionErr error
	calls         int
}

func (s *recordingSink) SaveReflection(_ context.Context, rec domain.ReflectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.reflectionErr != nil {
		return s.reflectionErr
	}
	s.reflections = append(s.reflections, rec)
	return nil
}

func (s *recordingSink) SaveQuizResult(_ context.Context, result domain.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes = append(s.quizzes, result)
	return nil
}

func (s *recordingSink) snapshot() ([]domain.ReflectionRecord, []domain.QuizResult, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ReflectionRecord(nil), s.reflections...), append([]domain.QuizResult(nil), s.quizzes...), s.calls
}

type stateLog struct {
	mu     sync.Mutex
	states []domain.SystemState
	texts  []string
}

func (l *stateLog) record(c domain.SystemContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, c.State)
	for _, m := range c.Messages {
		if m.Countdown {
			l.texts = append(l.texts, m.Message)
		}
	}
}

func (l *stateLog) sawState(s domain.SystemState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.states {
		if got == s {
			return true
		}
	}
	return false
}

func (l *stateLog) sawText(text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.texts {
		if got == text {
			return true
		}
	}
	return false
}

func newTestMachine(t *testing.T, opts Options, player *video.SimulatedPlayer) *Machine {
	t.Helper()
	opts.Controller = video.NewController(video.NewPlaybackFlag(), video.Config{
		VerifyAttempts: 10,
		VerifyInterval: time.Millisecond,
		PlayRetryDelay: time.Millisecond,
	}, nil)
	if opts.Config.CountdownInterval == 0 {
		opts.Config.CountdownInterval = 10 * time.Millisecond
	}
	if opts.Config.RetryDelay == 0 {
		opts.Config.RetryDelay = time.Millisecond
	}
	if opts.Session.SessionID == "" {
		opts.Session = SessionInfo{UserID: "user-1", SessionID: "session-1", VideoID: "video-1"}
	}
	m := NewMachine(opts)
	if player != nil {
		m.SetVideoRef(player)
		m.SetElementLocator(player.Locator())
	}
	t.Cleanup(m.Close)
	return m
}

func playing(t *testing.T, m *Machine, player *video.SimulatedPlayer) {
	t.Helper()
	require.NoError(t, player.Play())
	m.Controller().Flag().SetPlaying(true)
}

func dispatch(t *testing.T, m *Machine, actions ...Action) {
	t.Helper()
	for _, a := range actions {
		require.NoError(t, m.Dispatch(a))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))
}

func TestMachine_ManualPauseOffersHint(t *testing.T) {
	t.Parallel()

	player := video.NewSimulatedPlayer(video.SimulatedOptions{PauseLag: 3})
	m := newTestMachine(t, Options{}, player)
	playing(t, m, player)

	dispatch(t, m, ManualPause{Time: 42})

	c := m.Context()
	assert.Equal(t, domain.StateAgentShowingUnactivated, c.State)
	prompt, ok := message.Find(c.Messages, c.AgentState.CurrentUnactivatedID)
	require.True(t, ok)
	assert.Equal(t, domain.AgentHint, prompt.AgentType)
	linked, ok := message.Find(c.Messages, prompt.LinkedMessageID)
	require.True(t, ok)
	assert.Equal(t, "Paused at 0:42", linked.Message)

	assert.True(t, player.IsPaused())
	assert.False(t, m.Controller().Flag().IsPlaying())
}

func TestMachine_SubscribersReceiveCopies(t *testing.T) {
	t.Parallel()

	player := video.NewSimulatedPlayer(video.SimulatedOptions{})
	m := newTestMachine(t, Options{}, player)

	var mu sync.Mutex
	var got []domain.SystemContext
	unsubscribe := m.Subscribe(func(c domain.SystemContext) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentHint, Time: 5})

	mu.Lock()
	require.Len(t, got, 1)
	got[0].Messages[0].Message = "tampered"
	mu.Unlock()
	assert.Equal(t, "Paused at 0:05", m.Context().Messages[0].Message)

	unsubscribe()
	unsubscribe()
	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentPath, Time: 6})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 1)
}

func TestMachine_DuplicateAcceptPublishesOnce(t *testing.T) {
	t.Parallel()

	player := video.NewSimulatedPlayer(video.SimulatedOptions{})
	m := newTestMachine(t, Options{}, player)
	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentHint, Time: 42})
	id := m.Context().AgentState.CurrentUnactivatedID

	var publishes atomic.Int32
	m.Subscribe(func(domain.SystemContext) { publishes.Add(1) })

	dispatch(t, m, AcceptAgent{ID: id}, AcceptAgent{ID: id})

	assert.Equal(t, int32(1), publishes.Load())
	assert.Equal(t, domain.StateAgentActivated, m.Context().State)
	assert.Empty(t, m.Context().Errors)
}

func TestMachine_ResumeGuardWindow(t *testing.T) {
	t.Parallel()

	player := video.NewSimulatedPlayer(video.SimulatedOptions{})
	m := newTestMachine(t, Options{Config: Config{ResumeGuardWindow: 150 * time.Millisecond}}, player)
	playing(t, m, player)

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentQuiz, Time: 10}, VideoPlayed{Time: 10})
	assert.Equal(t, domain.StateAgentShowingUnactivated, m.Context().State, "stale play signal is ignored")

	time.Sleep(200 * time.Millisecond)
	dispatch(t, m, VideoPlayed{Time: 11})

	c := m.Context()
	assert.Equal(t, domain.StateVideoPlaying, c.State)
	assert.Zero(t, message.Count(c.Messages, message.IsUnactivated))
	assert.True(t, m.Controller().Flag().IsPlaying())
}

func answerAll(t *testing.T, m *Machine, answers ...int) {
	t.Helper()
	for _, a := range answers {
		dispatch(t, m, QuizAnswerSelected{Answer: a})
	}
}

func TestMachine_QuizCompletesAndAutoResumes(t *testing.T) {
	t.Parallel()

	bank, err := quiz.NewBank(testQuestions())
	require.NoError(t, err)
	sink := &recordingSink{}
	player := video.NewSimulatedPlayer(video.SimulatedOptions{})
	m := newTestMachine(t, Options{Questions: bank, Sink: sink}, player)
	playing(t, m, player)

	log := &stateLog{}
	m.Subscribe(log.record)

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentQuiz, Time: 90})
	dispatch(t, m, AcceptAgent{ID: m.Context().AgentState.CurrentUnactivatedID})
	answerAll(t, m, 1, 2, 2)

	require.Eventually(t, func() bool {
		return m.Context().State == domain.StateVideoPlaying
	}, 2*time.Second, 5*time.Millisecond)

	c := m.Context()
	assert.Zero(t, message.Count(c.Messages, message.IsCountdown))
	assert.False(t, player.IsPaused())
	assert.True(t, log.sawText("▶️ Resuming video in 3..."))
	assert.True(t, log.sawText("▶️ Resuming video in 1..."))

	_, quizzes, _ := sink.snapshot()
	require.Len(t, quizzes, 1)
	assert.Equal(t, 2, quizzes[0].Score)
	assert.Equal(t, 3, quizzes[0].Total)
	assert.Equal(t, "user-1", quizzes[0].UserID)
	assert.Equal(t, "video-1", quizzes[0].VideoID)
	assert.Equal(t, 90.0, quizzes[0].VideoTimestamp)
}

func pendingOffer(msg domain.Message) bool {
	return message.IsAgentPrompt(msg) && message.IsUnactivated(msg)
}

func TestMachine_UserActionCancelsCountdown(t *testing.T) {
	t.Parallel()

	player := video.NewSimulatedPlayer(video.SimulatedOptions{})
	m := newTestMachine(t, Options{Config: Config{CountdownInterval: 50 * time.Millisecond}}, player)

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentQuiz, Time: 3})
	dispatch(t, m, AcceptAgent{ID: m.Context().AgentState.CurrentUnactivatedID})
	answerAll(t, m, 0, 0)

	// The hint is queued behind the final answer, before its countdown starts.
	require.NoError(t, m.Dispatch(QuizAnswerSelected{Answer: 0}))
	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentHint, Time: 4})

	time.Sleep(400 * time.Millisecond)
	c := m.Context()
	assert.Equal(t, domain.StateAgentShowingUnactivated, c.State)
	assert.Equal(t, 1, message.Count(c.Messages, pendingOffer))
	assert.Zero(t, message.Count(c.Messages, message.IsCountdown))
	assert.True(t, player.IsPaused())
	_, _, _, plays := player.Counts()
	assert.Zero(t, plays)
}

func TestMachine_NoOpActionsKeepCountdown(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	player := video.NewSimulatedPlayer(video.SimulatedOptions{})
	m := newTestMachine(t, Options{Sink: sink, Config: Config{CountdownInterval: 50 * time.Millisecond}}, player)

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentQuiz, Time: 3})
	dispatch(t, m, AcceptAgent{ID: m.Context().AgentState.CurrentUnactivatedID})
	answerAll(t, m, 0, 0)
	dispatch(t, m,
		QuizAnswerSelected{Answer: 0},
		QuizAnswerSelected{Answer: 0},
		RejectAgent{ID: "already-gone"},
	)

	require.Eventually(t, func() bool {
		return m.Context().State == domain.StateVideoPlaying
	}, 2*time.Second, 5*time.Millisecond)
	c := m.Context()
	assert.Empty(t, c.Errors, "a repeated final answer is not a failure")
	assert.False(t, player.IsPaused())
	_, quizzes, _ := sink.snapshot()
	assert.Len(t, quizzes, 1)
}

func TestMachine_FailedActionLeavesCountdown(t *testing.T) {
	t.Parallel()

	player := video.NewSimulatedPlayer(video.SimulatedOptions{
		IgnoreHandlePause:  true,
		IgnoreElementPause: true,
		IgnorePauseEvent:   true,
	})
	m := newTestMachine(t, Options{Config: Config{CountdownInterval: 300 * time.Millisecond}}, player)

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentQuiz, Time: 3})
	dispatch(t, m, AcceptAgent{ID: m.Context().AgentState.CurrentUnactivatedID})
	answerAll(t, m, 0, 0, 0)
	require.Equal(t, 1, message.Count(m.Context().Messages, message.IsCountdown))

	require.NoError(t, player.Play())
	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentHint, Time: 4})

	c := m.Context()
	assert.Equal(t, domain.StateErrorVideoControl, c.State)
	require.Len(t, c.Errors, 1)
	assert.Equal(t, CommandShowAgent, c.Errors[0].CommandType)
	assert.Equal(t, 1, message.Count(c.Messages, message.IsCountdown))
	assert.Zero(t, message.Count(c.Messages, pendingOffer))

	require.Eventually(t, func() bool {
		return m.Context().State == domain.StateVideoPlaying
	}, 3*time.Second, 10*time.Millisecond, "the countdown still resumes playback")
	assert.Zero(t, message.Count(m.Context().Messages, message.IsCountdown))
}

func TestMachine_VideoControlFailure(t *testing.T) {
	t.Parallel()

	player := video.NewSimulatedPlayer(video.SimulatedOptions{
		IgnoreHandlePause:  true,
		IgnoreElementPause: true,
		IgnorePauseEvent:   true,
	})
	m := newTestMachine(t, Options{}, player)
	playing(t, m, player)

	log := &stateLog{}
	m.Subscribe(log.record)

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentHint, Time: 7})

	c := m.Context()
	assert.Equal(t, domain.StateErrorVideoControl, c.State)
	require.Len(t, c.Errors, 1)
	assert.Equal(t, CommandShowAgent, c.Errors[0].CommandType)
	assert.Equal(t, 3, c.Errors[0].Attempts)
	assert.Zero(t, message.Count(c.Messages, message.IsAgentPrompt))
	assert.True(t, log.sawState(domain.StateErrorRecovery))
}

func TestMachine_NewerAgentSupersedesPendingPause(t *testing.T) {
	t.Parallel()

	player := video.NewSimulatedPlayer(video.SimulatedOptions{
		IgnoreHandlePause:  true,
		IgnoreElementPause: true,
		IgnorePauseEvent:   true,
	})
	m := NewMachine(Options{
		Controller: video.NewController(nil, video.Config{VerifyAttempts: 10, VerifyInterval: 5 * time.Millisecond}, nil),
		Config:     Config{RetryDelay: time.Millisecond},
	})
	t.Cleanup(m.Close)
	m.SetVideoRef(player)
	m.SetElementLocator(player.Locator())
	playing(t, m, player)

	require.NoError(t, m.Dispatch(AgentButtonClicked{Agent: domain.AgentHint, Time: 1}))
	time.Sleep(20 * time.Millisecond)
	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentQuiz, Time: 2})

	c := m.Context()
	require.Len(t, c.Errors, 1, "the superseded command is not a failure")
	assert.Equal(t, 3, c.Errors[0].Attempts)
}

func TestMachine_ReflectionSubmitSavesOnce(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	player := video.NewSimulatedPlayer(video.SimulatedOptions{})
	m := newTestMachine(t, Options{Sink: sink}, player)
	submit := ReflectionSubmitted{Kind: domain.ReflectionLoom, Data: domain.ReflectionData{LoomURL: "https://loom.example/share/1"}}

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentReflect, Time: 83})
	dispatch(t, m,
		AcceptAgent{ID: m.Context().AgentState.CurrentUnactivatedID},
		ReflectionTypeChosen{Kind: domain.ReflectionLoom},
		submit,
	)

	require.Eventually(t, func() bool {
		return m.Context().State == domain.StateVideoPlaying
	}, 2*time.Second, 5*time.Millisecond)
	recorded := message.Count(m.Context().Messages, func(msg domain.Message) bool {
		return strings.HasPrefix(msg.Message, "📍 PuzzleReflect • Loom Video at 1:23")
	})
	assert.Equal(t, 1, recorded)

	dispatch(t, m, submit)

	reflections, _, calls := sink.snapshot()
	assert.Equal(t, 1, calls)
	require.Len(t, reflections, 1)
	rec := reflections[0]
	assert.Equal(t, domain.ReflectionLoom, rec.Type)
	assert.Equal(t, domain.ReflectionLoom, rec.Payload.Kind)
	assert.Equal(t, "https://loom.example/share/1", rec.Payload.LoomURL)
	assert.Equal(t, 83.0, rec.VideoTimestamp)
	assert.Equal(t, "session-1", rec.SessionID)

	c := m.Context()
	require.Len(t, c.Errors, 1, "the duplicate submission is recorded, not saved")
	assert.Contains(t, c.Errors[0].Message, ErrNoReflection.Error())
}

func TestMachine_ReflectionSinkFailureLeavesTimeline(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{reflectionErr: errors.New("disk full")}
	player := video.NewSimulatedPlayer(video.SimulatedOptions{})
	m := newTestMachine(t, Options{Sink: sink}, player)

	dispatch(t, m, AgentButtonClicked{Agent: domain.AgentReflect, Time: 10})
	dispatch(t, m,
		AcceptAgent{ID: m.Context().AgentState.CurrentUnactivatedID},
		ReflectionTypeChosen{Kind: domain.ReflectionScreenshot},
	)
	before := m.Context()

	dispatch(t, m, ReflectionSubmitted{Kind: domain.ReflectionScreenshot, Data: domain.ReflectionData{ImageURL: "https://cdn.example/s.png"}})

	after := m.Context()
	_, _, calls := sink.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, before.Messages, after.Messages)
	require.Len(t, after.Errors, 1)
	assert.Equal(t, CommandReflectionSubmitted, after.Errors[0].CommandType)
	assert.Equal(t, 1, after.Errors[0].Attempts)
	assert.Contains(t, after.Errors[0].Message, "disk full")
}

func TestMachine_AnswerWithoutQuizIsRecorded(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, Options{}, nil)
	dispatch(t, m, QuizAnswerSelected{Answer: 1})

	c := m.Context()
	require.Len(t, c.Errors, 1)
	assert.Equal(t, CommandQuizAnswer, c.Errors[0].CommandType)
	assert.Equal(t, domain.StateVideoPaused, c.State)
}

func TestMachine_DispatchRejectsInvalidAndClosed(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, Options{}, nil)

	err := m.Dispatch(AgentButtonClicked{Agent: "bogus"})
	require.ErrorIs(t, err, ErrInvalidAction)
	require.ErrorIs(t, m.Dispatch(nil), ErrInvalidAction)

	m.Close()
	assert.Error(t, m.Dispatch(ManualPause{Time: 1}))
}

func TestMachine_RestoresInitialContext(t *testing.T) {
	t.Parallel()

	initial := domain.NewSystemContext()
	initial.State = domain.StateAgentRejected
	initial.Messages = []domain.Message{{ID: "x", Type: domain.MessageSystem, State: domain.MessagePermanent, Message: "kept"}}

	m := newTestMachine(t, Options{Initial: &initial}, nil)
	initial.Messages[0].Message = "changed after restore"

	c := m.Context()
	assert.Equal(t, domain.StateAgentRejected, c.State)
	assert.Equal(t, "kept", c.Messages[0].Message)
}
