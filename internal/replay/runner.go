package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/agent"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/message"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/quiz"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
)

// StepResult is the coordinator state observed after a step settled.
type StepResult struct {
	Step         int                `json:"step"`
	Label        string             `json:"label"`
	Error        string             `json:"error,omitempty"`
	State        domain.SystemState `json:"state"`
	PlayerPaused bool               `json:"player_paused"`
	CurrentTime  float64            `json:"current_time"`
	Messages     []string           `json:"messages"`
	Errors       []string           `json:"errors,omitempty"`
}

// Report is the outcome of a whole scenario.
type Report struct {
	Scenario string               `json:"scenario"`
	Steps    []StepResult         `json:"steps"`
	Final    domain.SystemContext `json:"final"`
	Calls    PlayerCalls          `json:"player_calls"`
}

// PlayerCalls counts what the coordinator asked of the player.
type PlayerCalls struct {
	Pause        int `json:"pause"`
	ElementPause int `json:"element_pause"`
	PauseEvent   int `json:"pause_event"`
	Play         int `json:"play"`
}

// Runner executes scenarios. A nil Questions uses the built-in bank.
type Runner struct {
	Questions agent.QuestionSource
	Logger    *slog.Logger
}

// Run plays sc to completion. Action steps wait for the queue to drain
// before the state is sampled.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	questions := r.Questions
	if questions == nil {
		questions = quiz.DefaultBank()
	}

	player := video.NewSimulatedPlayer(sc.Player.options())
	ctrl := video.NewController(nil, video.Config{
		VerifyAttempts: sc.Timing.VerifyAttempts,
		VerifyInterval: sc.Timing.VerifyInterval,
	}, logger)
	if !sc.Player.Detached {
		ctrl.SetHandle(player)
		ctrl.SetElementLocator(player.Locator())
	}

	m := agent.NewMachine(agent.Options{
		Config: agent.Config{
			CountdownSeconds:  sc.Timing.CountdownSeconds,
			CountdownInterval: sc.Timing.CountdownInterval,
		},
		Controller: ctrl,
		Messages:   message.NewManager(),
		Questions:  questions,
		Session:    agent.SessionInfo{SessionID: "replay", UserID: "replay", VideoID: sc.VideoID},
		Logger:     logger,
	})
	defer m.Close()

	report := &Report{Scenario: sc.Name}
	for i, st := range sc.Steps {
		res := StepResult{Step: i + 1, Label: st.Label()}
		if err := r.step(ctx, m, player, st); err != nil {
			res.Error = err.Error()
		}
		if err := m.WaitIdle(ctx); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		c := m.Context()
		res.State = c.State
		res.PlayerPaused = player.IsPaused()
		res.CurrentTime = c.VideoState.CurrentTime
		for _, msg := range c.Messages {
			res.Messages = append(res.Messages, fmt.Sprintf("%s/%s: %s", msg.Type, msg.State, msg.Message))
		}
		for _, e := range c.Errors {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", e.CommandType, e.Message))
		}
		report.Steps = append(report.Steps, res)
	}

	report.Final = m.Context()
	report.Calls.Pause, report.Calls.ElementPause, report.Calls.PauseEvent, report.Calls.Play = player.Counts()
	return report, nil
}

func (r *Runner) step(ctx context.Context, m *agent.Machine, player *video.SimulatedPlayer, st Step) error {
	switch {
	case st.Wait > 0:
		t := time.NewTimer(st.Wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	case st.Advance != 0:
		player.Advance(st.Advance)
		return nil
	}

	env := *st.Action
	// A scripted play is the learner pressing play on the player itself.
	if env.Type == agent.ActionVideoPlayed {
		if err := player.Play(); err != nil {
			return err
		}
	}
	// Prompt ids are generated at runtime; an empty id targets the pending one.
	if env.ID == "" && (env.Type == agent.ActionAcceptAgent || env.Type == agent.ActionRejectAgent) {
		env.ID = m.Context().AgentState.CurrentUnactivatedID
	}
	if env.Time == 0 && (env.Type == agent.ActionAgentButtonClicked || env.Type == agent.ActionManualPause) {
		env.Time = player.CurrentTime()
	}
	a, err := env.Action()
	if err != nil {
		return err
	}
	return m.Dispatch(a)
}
