// Package progress persists per-user subjects, settings, topic progress and
// saved revision sessions.
package progress

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist for the user.
var ErrNotFound = errors.New("not found")

const dbTimeout = 5 * time.Second

// Qualification is the level a subject is studied at.
type Qualification string

const (
	QualificationGCSE   Qualification = "GCSE"
	QualificationALevel Qualification = "A-Level"
)

// ExamBoards lists the boards offered per qualification.
var ExamBoards = map[Qualification][]string{
	QualificationGCSE:   {"AQA", "Edexcel", "OCR", "WJEC"},
	QualificationALevel: {"AQA", "Edexcel", "OCR", "WJEC"},
}

// Subject is a user's configured exam subject with the topics they revise.
type Subject struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Qualification  Qualification `json:"qualification"`
	Name           string        `json:"subject"`
	Board          string        `json:"board"`
	SelectedTopics []string      `json:"selected_topics"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// HasTopic reports whether topic is one of the subject's selected topics.
func (s Subject) HasTopic(topic string) bool {
	for _, t := range s.SelectedTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// Settings holds per-user preferences.
type Settings struct {
	UserID       string     `json:"user_id"`
	MockExamDate *time.Time `json:"mock_exam_date"`
}

// TopicProgress counts answered and correctly answered questions for one topic.
type TopicProgress struct {
	UserID             string    `json:"user_id"`
	SubjectID          string    `json:"subject_id"`
	TopicName          string    `json:"topic_name"`
	CompletedQuestions int       `json:"completed_questions"`
	TotalQuestions     int       `json:"total_questions"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Snapshot is a saved in-progress revision session. One per (user, subject).
type Snapshot struct {
	UserID            string    `json:"user_id"`
	SubjectID         string    `json:"subject_id"`
	CurrentQuestionID string    `json:"current_question_id"`
	Progress          float64   `json:"progress"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Store is the persistence contract for revision progress.
type Store interface {
	// CreateSubject inserts a subject and seeds a zeroed TopicProgress row
	// for each selected topic. ID and timestamps are assigned by the store.
	CreateSubject(ctx context.Context, s Subject) (Subject, error)
	GetSubject(ctx context.Context, userID, subjectID string) (Subject, error)
	// ListSubjects returns the user's subjects, newest first.
	ListSubjects(ctx context.Context, userID string) ([]Subject, error)
	UpdateSelectedTopics(ctx context.Context, userID, subjectID string, topics []string) error
	// DeleteSubject removes a subject with its topic progress and snapshot.
	DeleteSubject(ctx context.Context, userID, subjectID string) error

	// GetSettings returns zero-valued settings when none are stored.
	GetSettings(ctx context.Context, userID string) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	// MergeTopicProgress creates the row if absent, otherwise increments it:
	// total by one, completed by one when correct.
	MergeTopicProgress(ctx context.Context, userID, subjectID, topic string, correct bool) (TopicProgress, error)
	ListTopicProgress(ctx context.Context, userID string) ([]TopicProgress, error)

	// SaveSnapshot overwrites any earlier snapshot for (user, subject).
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, userID, subjectID string) (Snapshot, error)
	DeleteSnapshot(ctx context.Context, userID, subjectID string) error

	Ping(ctx context.Context) error
	Close() error
}
