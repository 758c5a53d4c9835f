package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/message"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/metrics"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/queue"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/quiz"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
)

const (
	defaultCountdownSeconds  = 3
	defaultCountdownInterval = time.Second
	defaultResumeGuardWindow = 500 * time.Millisecond
	defaultRetryDelay        = 100 * time.Millisecond
	defaultShowAgentAttempts = 3
)

// QuestionSource supplies quiz questions for a video position.
type QuestionSource interface {
	Questions(ctx context.Context, videoTime float64) ([]domain.QuizQuestion, error)
}

// Sink durably records finished quizzes and reflections.
type Sink interface {
	SaveReflection(ctx context.Context, rec domain.ReflectionRecord) error
	SaveQuizResult(ctx context.Context, result domain.QuizResult) error
}

type nopSink struct{}

func (nopSink) SaveReflection(context.Context, domain.ReflectionRecord) error { return nil }
func (nopSink) SaveQuizResult(context.Context, domain.QuizResult) error       { return nil }

// SessionInfo identifies the viewing session a machine belongs to.
type SessionInfo struct {
	UserID    string
	SessionID string
	VideoID   string
}

// Config holds coordinator timing.
type Config struct {
	CountdownSeconds  int
	CountdownInterval time.Duration
	// ResumeGuardWindow ignores play signals arriving this soon after a pause
	// performed to show an agent.
	ResumeGuardWindow time.Duration
	RetryDelay        time.Duration
	ShowAgentAttempts int
}

// DefaultConfig returns the default coordinator timing.
func DefaultConfig() Config {
	return Config{
		CountdownSeconds:  defaultCountdownSeconds,
		CountdownInterval: defaultCountdownInterval,
		ResumeGuardWindow: defaultResumeGuardWindow,
		RetryDelay:        defaultRetryDelay,
		ShowAgentAttempts: defaultShowAgentAttempts,
	}
}

// Options configures a Machine. Zero values fall back to defaults.
type Options struct {
	Config     Config
	Controller *video.Controller
	Messages   *message.Manager
	Questions  QuestionSource
	Sink       Sink
	Session    SessionInfo
	// Initial restores a previously saved context instead of the cold-start one.
	Initial *domain.SystemContext
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// Subscriber receives a private copy of the context after every change.
type Subscriber func(domain.SystemContext)

type subscription struct {
	id uint64
	fn Subscriber
}

// Machine is the coordinator for one viewing session. Dispatched actions are
// executed one at a time by its command queue; observers learn about the
// result through Subscribe.
type Machine struct {
	cfg       Config
	ctrl      *video.Controller
	reducer   Reducer
	questions QuestionSource
	sink      Sink
	session   SessionInfo
	metrics   metrics.Recorder
	log       *slog.Logger
	queue     *queue.Queue

	mu      sync.RWMutex
	current domain.SystemContext
	subs    []subscription
	nextSub uint64

	// Only touched by the queue worker.
	agentPausedAt time.Time

	cdMu     sync.Mutex
	cdGen    uint64
	cdCancel context.CancelFunc
}

// NewMachine creates a coordinator and starts its command queue.
func NewMachine(opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Session.SessionID != "" {
		logger = logger.With("session_id", opts.Session.SessionID)
	}

	cfg := opts.Config
	def := DefaultConfig()
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = def.CountdownSeconds
	}
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = def.CountdownInterval
	}
	if cfg.ResumeGuardWindow <= 0 {
		cfg.ResumeGuardWindow = def.ResumeGuardWindow
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.ShowAgentAttempts <= 0 {
		cfg.ShowAgentAttempts = def.ShowAgentAttempts
	}

	m := &Machine{
		cfg:       cfg,
		ctrl:      opts.Controller,
		questions: opts.Questions,
		sink:      opts.Sink,
		session:   opts.Session,
		metrics:   opts.Metrics,
		log:       logger,
		current:   domain.NewSystemContext(),
	}
	if m.ctrl == nil {
		m.ctrl = video.NewController(nil, video.DefaultConfig(), logger)
	}
	if m.questions == nil {
		m.questions = quiz.DefaultBank()
	}
	if m.sink == nil {
		m.sink = nopSink{}
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop()
	}
	if opts.Initial != nil {
		m.current = opts.Initial.Clone()
	}
	msgs := opts.Messages
	if msgs == nil {
		msgs = message.NewManager()
	}
	m.reducer = Reducer{Messages: msgs, CountdownSeconds: cfg.CountdownSeconds}
	m.ctrl.SetObserver(m.metrics.ObservePauseVerify)

	m.queue = queue.New(m.execute, queue.Options{
		MaxAttempts: map[string]int{
			CommandShowAgent:   cfg.ShowAgentAttempts,
			CommandManualPause: cfg.ShowAgentAttempts,
		},
		DefaultMaxAttempts: 1,
		RetryDelay:         cfg.RetryDelay,
		Supersedes:         supersedes,
		OnRetry:            m.onRetry,
		OnFailure:          m.onFailure,
		OnSettled:          m.onSettled,
		Logger:             logger,
	})
	return m
}

// supersedes lets a newer agent offer cancel one still verifying its pause.
func supersedes(incoming, running queue.Command) bool {
	return showsAgent(incoming.Type) && showsAgent(running.Type)
}

// Dispatch submits an action and returns without waiting for it to run.
// An action that changes the context cancels a running countdown when the
// queue executes it.
func (m *Machine) Dispatch(a Action) error {
	if a == nil {
		return fmt.Errorf("%w: nil action", ErrInvalidAction)
	}
	if err := a.validate(); err != nil {
		return err
	}
	if _, err := m.queue.Enqueue(CommandType(a), a); err != nil {
		return fmt.Errorf("failed to dispatch %s: %w", a.Type(), err)
	}
	return nil
}

// Subscribe registers fn for every context change and returns a function
// that removes it.
func (m *Machine) Subscribe(fn Subscriber) func() {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscription{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Context returns a copy of the current context.
func (m *Machine) Context() domain.SystemContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// SetVideoRef attaches the player handle.
func (m *Machine) SetVideoRef(h video.Handle) {
	m.ctrl.SetHandle(h)
}

// SetElementLocator sets how the underlying player element is found.
func (m *Machine) SetElementLocator(fn video.ElementLocator) {
	m.ctrl.SetElementLocator(fn)
}

// Controller returns the video controller driven by the machine.
func (m *Machine) Controller() *video.Controller {
	return m.ctrl
}

// Session returns the identity of the machine's session.
func (m *Machine) Session() SessionInfo {
	return m.session
}

// WaitIdle blocks until every queued command has settled.
func (m *Machine) WaitIdle(ctx context.Context) error {
	return m.queue.WaitIdle(ctx)
}

// Close stops the countdown and the command queue.
func (m *Machine) Close() {
	m.cancelCountdown()
	m.queue.Close()
}

func (m *Machine) load() domain.SystemContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// commit replaces the context and notifies subscribers.
func (m *Machine) commit(next domain.SystemContext) {
	m.mu.Lock()
	prev := m.current.State
	m.current = next
	subs := make([]Subscriber, len(m.subs))
	for i, s := range m.subs {
		subs[i] = s.fn
	}
	m.mu.Unlock()

	if prev != next.State {
		m.metrics.ObserveTransition(string(prev), string(next.State))
		m.log.Info("State transition", "from", prev, "to", next.State)
	}
	for _, fn := range subs {
		fn(next.Clone())
	}
}

func (m *Machine) videoTime(reported float64) float64 {
	if reported > 0 {
		m.ctrl.Flag().SetCurrentTime(reported)
		return reported
	}
	return m.ctrl.CurrentTime()
}

func (m *Machine) execute(ctx context.Context, cmd queue.Command) error {
	switch p := cmd.Payload.(type) {
	case countdownStep:
		return m.runCountdownStep(ctx, p)
	case Action:
		return m.runAction(ctx, cmd, p)
	default:
		return fmt.Errorf("unexpected payload %T for %s", cmd.Payload, cmd.Type)
	}
}

// outcome is the result of applying one action.
type outcome struct {
	next      domain.SystemContext
	changed   bool
	countdown bool
}

// runAction applies a to the context without its countdown entry. The
// countdown is only cancelled and removed when the action commits a change;
// failed and no-op actions leave it running.
func (m *Machine) runAction(ctx context.Context, cmd queue.Command, a Action) error {
	base, _ := m.reducer.DropCountdown(m.load())

	out, err := m.apply(ctx, cmd, base, a)
	if err != nil {
		return err
	}
	if !out.changed {
		m.log.Debug("Command had no effect", "command_id", cmd.ID, "type", cmd.Type)
		return nil
	}
	m.cancelCountdown()
	m.commit(out.next)
	if out.countdown {
		m.startCountdown()
	}
	return nil
}

func (m *Machine) apply(ctx context.Context, cmd queue.Command, c domain.SystemContext, action Action) (outcome, error) {
	switch a := action.(type) {
	case AgentButtonClicked:
		t := m.videoTime(a.Time)
		if err := m.ctrl.PauseVideo(ctx); err != nil {
			return outcome{}, fmt.Errorf("failed to pause for %s: %w", a.Agent, err)
		}
		m.agentPausedAt = time.Now()
		return outcome{next: m.reducer.ShowAgent(c, a.Agent, t), changed: true}, nil

	case ManualPause:
		t := m.videoTime(a.Time)
		if message.ReflectionInProgress(c.Messages) {
			m.ctrl.Flag().SetPlaying(false)
		} else {
			if err := m.ctrl.PauseVideo(ctx); err != nil {
				return outcome{}, fmt.Errorf("failed to pause for hint: %w", err)
			}
			m.agentPausedAt = time.Now()
		}
		next, changed := m.reducer.ManualPause(c, t)
		return outcome{next: next, changed: changed}, nil

	case VideoPlayed:
		if !m.agentPausedAt.IsZero() && cmd.Timestamp.Sub(m.agentPausedAt) < m.cfg.ResumeGuardWindow {
			m.log.Debug("Ignoring play signal inside resume guard window", "command_id", cmd.ID)
			return outcome{}, nil
		}
		m.ctrl.Flag().SetPlaying(true)
		next, changed := m.reducer.Resume(c, m.videoTime(a.Time))
		return outcome{next: next, changed: changed}, nil

	case AcceptAgent:
		return m.accept(ctx, c, a.ID)

	case RejectAgent:
		next, changed := m.reducer.Reject(c, a.ID)
		return outcome{next: next, changed: changed}, nil

	case QuizAnswerSelected:
		if _, ok := activeQuiz(c); !ok {
			if quizFinished(c) {
				m.log.Debug("Answer for a finished quiz ignored", "command_id", cmd.ID)
				return outcome{}, nil
			}
			return outcome{}, ErrNoActiveQuiz
		}
		next, result, changed := m.reducer.AnswerQuiz(c, a)
		if result == nil {
			return outcome{next: next, changed: changed}, nil
		}
		result.UserID = m.session.UserID
		result.SessionID = m.session.SessionID
		result.VideoID = m.session.VideoID
		if err := m.sink.SaveQuizResult(ctx, *result); err != nil {
			m.log.Warn("Failed to save quiz result", "score", result.Score, "total", result.Total, "error", err)
		}
		return outcome{next: next, changed: changed, countdown: true}, nil

	case ReflectionTypeChosen:
		next, changed := m.reducer.ChooseReflection(c, a.Kind)
		return outcome{next: next, changed: changed}, nil

	case ReflectionCancelled:
		next, changed := m.reducer.CancelReflection(c)
		return outcome{next: next, changed: changed}, nil

	case ReflectionSubmitted:
		if !ReflectionOpen(c) {
			return outcome{}, ErrNoReflection
		}
		data := a.Data.Clone()
		data.Kind = a.Kind
		rec := domain.ReflectionRecord{
			UserID:         m.session.UserID,
			SessionID:      m.session.SessionID,
			VideoID:        m.session.VideoID,
			Type:           a.Kind,
			VideoTimestamp: c.VideoState.CurrentTime,
			Payload:        *data,
			CreatedAt:      time.Now().UTC(),
		}
		if err := m.sink.SaveReflection(ctx, rec); err != nil {
			return outcome{}, fmt.Errorf("failed to save reflection: %w", err)
		}
		next, changed := m.reducer.SubmitReflection(c, *data)
		return outcome{next: next, changed: changed, countdown: changed}, nil
	}
	return outcome{}, fmt.Errorf("%w: %s", ErrUnknownAction, action.Type())
}

func (m *Machine) accept(ctx context.Context, c domain.SystemContext, id string) (outcome, error) {
	prompt, ok := pendingPrompt(c, id)
	if !ok {
		m.log.Debug("Accept for resolved or unknown agent ignored", "message_id", id)
		return outcome{}, nil
	}

	switch prompt.AgentType {
	case domain.AgentQuiz:
		questions, err := m.questions.Questions(ctx, c.VideoState.CurrentTime)
		if err != nil {
			return outcome{}, fmt.Errorf("failed to load quiz questions: %w", err)
		}
		if len(questions) == 0 {
			return outcome{}, ErrNoQuestions
		}
		next, changed := m.reducer.AcceptQuiz(c, id, questions)
		return outcome{next: next, changed: changed}, nil
	case domain.AgentReflect:
		next, changed := m.reducer.AcceptReflect(c, id)
		return outcome{next: next, changed: changed}, nil
	default:
		next, changed := m.reducer.Accept(c, id)
		return outcome{next: next, changed: changed}, nil
	}
}

func (m *Machine) onRetry(cmd queue.Command, err error) {
	if !errors.Is(err, video.ErrVideoControl) {
		return
	}
	if next, changed := m.reducer.Recover(m.load()); changed {
		m.commit(next)
	}
}

func (m *Machine) onFailure(cmd queue.Command, err error) {
	failure := domain.CapturedError{
		CommandID:   cmd.ID,
		CommandType: cmd.Type,
		Message:     err.Error(),
		Attempts:    cmd.Attempts,
		Timestamp:   time.Now().UTC(),
	}
	m.commit(m.reducer.FailCommand(m.load(), failure, errors.Is(err, video.ErrVideoControl)))
}

func (m *Machine) onSettled(cmd queue.Command) {
	m.metrics.ObserveCommand(cmd.Type, string(cmd.Status), cmd.Attempts)
}
