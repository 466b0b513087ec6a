package revision

import (
	"fmt"

	"github.com/p-n-ai/pai-revise/internal/auth"
	"github.com/p-n-ai/pai-revise/internal/progress"
	"github.com/p-n-ai/pai-revise/internal/questionbank"
)

// State is a session's position in the revision flow.
type State int

const (
	StateSelecting State = iota
	StateActive
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateSelecting:
		return "selecting"
	case StateActive:
		return "active"
	case StateComplete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ResumeMode selects the list a saved question id is looked up in.
type ResumeMode string

const (
	// ResumeBoard looks the id up in the subject's full board list. The
	// advance sequence stays the selected-topic list, so a question outside
	// it is followed by the start of that list.
	ResumeBoard ResumeMode = "board"
	// ResumeFiltered looks the id up in the selected-topic list only.
	ResumeFiltered ResumeMode = "filtered"
)

// ParseResumeMode parses a config value. Empty means ResumeBoard.
func ParseResumeMode(v string) (ResumeMode, error) {
	switch ResumeMode(v) {
	case "", ResumeBoard:
		return ResumeBoard, nil
	case ResumeFiltered:
		return ResumeFiltered, nil
	}
	return "", fmt.Errorf("unknown resume mode %q", v)
}

// Score counts correct and total answers in a session.
type Score struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Session is one user's walk through a subject's filtered questions. It is
// owned by a single goroutine.
type Session struct {
	ID        string
	User      auth.User
	Subject   progress.Subject
	Questions []questionbank.Question
	// Index is the position of Current in Questions, or -1 when a resumed
	// question is not part of the sequence.
	Index           int
	Current         questionbank.Question
	Progress        float64
	Score           Score
	SelectedAnswer  *int
	ShowExplanation bool
	State           State
	Resumed         bool

	tasks taskSet
}

// Answered reports whether the current question has been answered.
func (s *Session) Answered() bool { return s.SelectedAnswer != nil }

func (s *Session) requireActive() error {
	switch s.State {
	case StateActive:
		return nil
	case StateComplete:
		return ErrSessionComplete
	}
	return ErrNotActive
}

// Result is the outcome of a submitted answer.
type Result struct {
	Correct       bool
	CorrectAnswer int
	Explanation   string
	Score         Score
	// Task tracks the asynchronous topic progress merge.
	Task *Task
}
