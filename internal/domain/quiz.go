package domain

import "time"

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	Question      string   `json:"question" yaml:"question"`
	Options       []string `json:"options" yaml:"options"`
	CorrectAnswer int      `json:"correct_answer" yaml:"correct_answer"`
	Explanation   string   `json:"explanation" yaml:"explanation"`
}

// Clone returns a deep copy of q.
func (q QuizQuestion) Clone() QuizQuestion {
	q.Options = append([]string(nil), q.Options...)
	return q
}

// IsCorrect reports whether answer matches the correct option.
func (q QuizQuestion) IsCorrect(answer int) bool {
	return answer == q.CorrectAnswer
}

// QuizState is threaded copy-on-write through successive quiz-question messages.
type QuizState struct {
	Questions            []QuizQuestion `json:"questions"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	// UserAnswers is aligned to Questions; nil until answered.
	UserAnswers []*int `json:"user_answers"`
	Score       int    `json:"score"`
	IsComplete  bool   `json:"is_complete"`
}

// NewQuizState starts a quiz over questions.
func NewQuizState(questions []QuizQuestion) *QuizState {
	qs := make([]QuizQuestion, len(questions))
	for i, q := range questions {
		qs[i] = q.Clone()
	}
	return &QuizState{
		Questions:   qs,
		UserAnswers: make([]*int, len(questions)),
	}
}

// Clone returns a deep copy of s.
func (s *QuizState) Clone() *QuizState {
	if s == nil {
		return nil
	}
	out := *s
	out.Questions = make([]QuizQuestion, len(s.Questions))
	for i, q := range s.Questions {
		out.Questions[i] = q.Clone()
	}
	out.UserAnswers = make([]*int, len(s.UserAnswers))
	for i, a := range s.UserAnswers {
		if a != nil {
			v := *a
			out.UserAnswers[i] = &v
		}
	}
	return &out
}

// Current returns the question awaiting an answer.
func (s *QuizState) Current() (QuizQuestion, bool) {
	if s == nil || s.IsComplete || s.CurrentQuestionIndex >= len(s.Questions) {
		return QuizQuestion{}, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

// Answer returns a new state with answer recorded for the current question.
// The receiver is left untouched.
func (s *QuizState) Answer(answer int) (*QuizState, bool) {
	q, ok := s.Current()
	if !ok {
		return s, false
	}
	next := s.Clone()
	v := answer
	next.UserAnswers[s.CurrentQuestionIndex] = &v
	correct := q.IsCorrect(answer)
	if correct {
		next.Score++
	}
	next.CurrentQuestionIndex++
	if next.CurrentQuestionIndex >= len(next.Questions) {
		next.IsComplete = true
	}
	return next, correct
}

// QuizResult is the durable record of a finished quiz.
type QuizResult struct {
	ID             int64     `json:"id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	VideoID        string    `json:"video_id,omitempty"`
	VideoTimestamp float64   `json:"video_timestamp"`
	Score          int       `json:"score"`
	Total          int       `json:"total"`
	Answers        []int     `json:"answers"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Percentage returns the rounded score percentage.
func (r QuizResult) Percentage() int {
	if r.Total == 0 {
		return 0
	}
	return (r.Score*100 + r.Total/2) / r.Total
}
