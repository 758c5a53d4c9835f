// Package replay drives a coordinator against a simulated player from a
// scripted scenario, for reproducing pause and resume races offline.
package replay

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/agent"
	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/video"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted viewing session.
type Scenario struct {
	Name    string       `yaml:"name"`
	VideoID string       `yaml:"video_id"`
	Player  PlayerScript `yaml:"player"`
	Timing  Timing       `yaml:"timing"`
	Steps   []Step       `yaml:"steps"`
}

// PlayerScript configures the simulated player.
type PlayerScript struct {
	PauseLag           int     `yaml:"pause_lag"`
	IgnoreHandlePause  bool    `yaml:"ignore_handle_pause"`
	IgnoreElementPause bool    `yaml:"ignore_element_pause"`
	IgnorePauseEvent   bool    `yaml:"ignore_pause_event"`
	NoElement          bool    `yaml:"no_element"`
	InterruptedPlays   int     `yaml:"interrupted_plays"`
	CurrentTime        float64 `yaml:"current_time"`
	Detached           bool    `yaml:"detached"`
}

// Timing overrides coordinator timing. Zero values use the defaults.
type Timing struct {
	CountdownSeconds  int           `yaml:"countdown_seconds"`
	CountdownInterval time.Duration `yaml:"countdown_interval"`
	VerifyAttempts    int           `yaml:"verify_attempts"`
	VerifyInterval    time.Duration `yaml:"verify_interval"`
}

// Step is exactly one of: dispatch an action, let time pass, or move the
// playhead.
type Step struct {
	Action  *agent.Envelope `yaml:"action,omitempty"`
	Wait    time.Duration   `yaml:"wait,omitempty"`
	Advance float64         `yaml:"advance,omitempty"`
}

// Label describes the step for reports.
func (s Step) Label() string {
	switch {
	case s.Action != nil:
		return string(s.Action.Type)
	case s.Wait > 0:
		return "wait " + s.Wait.String()
	default:
		return fmt.Sprintf("advance %.1fs", s.Advance)
	}
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("scenario has no steps")
	}
	for i, st := range sc.Steps {
		set := 0
		if st.Action != nil {
			set++
		}
		if st.Wait > 0 {
			set++
		}
		if st.Advance != 0 {
			set++
		}
		if set != 1 {
			return nil, fmt.Errorf("step %d: exactly one of action, wait or advance is required", i+1)
		}
	}
	if sc.VideoID == "" {
		sc.VideoID = "replay"
	}
	return &sc, nil
}

func (p PlayerScript) options() video.SimulatedOptions {
	opts := video.SimulatedOptions{
		PauseLag:           p.PauseLag,
		IgnoreHandlePause:  p.IgnoreHandlePause,
		IgnoreElementPause: p.IgnoreElementPause,
		IgnorePauseEvent:   p.IgnorePauseEvent,
		NoElement:          p.NoElement,
		CurrentTime:        p.CurrentTime,
	}
	for range p.InterruptedPlays {
		opts.PlayErrors = append(opts.PlayErrors, video.ErrPlayInterrupted)
	}
	return opts
}
