// Package quiz provides quiz question content for the coordinator.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Muscled-clients-repo/unpuzzle-mvp-sub002/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrEmptyBank is returned when a bank holds no questions.
var ErrEmptyBank = errors.New("quiz bank has no questions")

// Bank is a fixed, ordered set of questions. Every quiz draws the whole bank in order.
type Bank struct {
	questions []domain.QuizQuestion
}

type bankFile struct {
	Questions []domain.QuizQuestion `yaml:"questions"`
}

var defaultQuestions = []domain.QuizQuestion{
	{
		Question:      "What does the useState hook return?",
		Options:       []string{"Only the current value", "A value and a setter function", "A reducer", "A ref object"},
		CorrectAnswer: 1,
		Explanation:   "useState returns a pair: the current state value and a function to update it.",
	},
	{
		Question:      "When does a useEffect with an empty dependency array run?",
		Options:       []string{"On every render", "Never", "Once after the first render", "Before the first render"},
		CorrectAnswer: 2,
		Explanation:   "An empty dependency array means the effect runs once after the component mounts.",
	},
	{
		Question:      "Which prop helps React identify list items between renders?",
		Options:       []string{"key", "id", "ref", "index"},
		CorrectAnswer: 0,
		Explanation:   "The key prop lets React match list items across renders and keep their state stable.",
	},
}

// NewBank validates questions and returns a bank over copies of them.
func NewBank(questions []domain.QuizQuestion) (*Bank, error) {
	if len(questions) == 0 {
		return nil, ErrEmptyBank
	}
	qs := make([]domain.QuizQuestion, len(questions))
	for i, q := range questions {
		if err := Validate(q); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		qs[i] = q.Clone()
	}
	return &Bank{questions: qs}, nil
}

// DefaultBank returns the built-in three-question bank.
func DefaultBank() *Bank {
	b, err := NewBank(defaultQuestions)
	if err != nil {
		panic(err)
	}
	return b
}

// LoadBank reads a YAML bank of the form {questions: [{question, options, correct_answer, explanation}]}.
func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quiz bank: %w", err)
	}
	return ParseBank(data)
}

// ParseBank decodes a YAML bank.
func ParseBank(data []byte) (*Bank, error) {
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse quiz bank: %w", err)
	}
	return NewBank(f.Questions)
}

// Validate checks that q can be asked and scored.
func Validate(q domain.QuizQuestion) error {
	if q.Question == "" {
		return errors.New("question text is required")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("need at least 2 options, got %d", len(q.Options))
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
		return fmt.Errorf("correct_answer %d out of range", q.CorrectAnswer)
	}
	return nil
}

// Questions returns a copy of the bank in order. The video time is ignored.
func (b *Bank) Questions(_ context.Context, _ float64) ([]domain.QuizQuestion, error) {
	out := make([]domain.QuizQuestion, len(b.questions))
	for i, q := range b.questions {
		out[i] = q.Clone()
	}
	return out, nil
}

// Len returns the number of questions in the bank.
func (b *Bank) Len() int {
	return len(b.questions)
}
