// Package revision drives a user's walk through a subject's practice
// questions, independent of any transport.
package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-revise/internal/auth"
	"github.com/p-n-ai/pai-revise/internal/progress"
	"github.com/p-n-ai/pai-revise/internal/questionbank"
)

var (
	ErrNoQuestions     = errors.New("no questions available")
	ErrInvalidOption   = errors.New("invalid option")
	ErrAlreadyAnswered = errors.New("question already answered")
	ErrSessionComplete = errors.New("session is complete")
	ErrNotActive       = errors.New("session is not active")
	ErrNotComplete     = errors.New("session is not complete")
)

const (
	saveWaitTimeout = 5 * time.Second
	cleanupTimeout  = 5 * time.Second
)

// ProgressListener is told when a user's topic progress has changed.
type ProgressListener interface {
	ProgressChanged(ctx context.Context, userID string)
}

// EngineConfig holds dependencies for the revision engine.
type EngineConfig struct {
	Bank       *questionbank.Bank
	Store      progress.Store
	Events     EventLogger
	Listener   ProgressListener
	Rand       *rand.Rand // shuffles restarted sessions; seeded from the clock when nil
	ResumeMode ResumeMode // default ResumeBoard
}

// Engine runs revision sessions.
type Engine struct {
	bank       *questionbank.Bank
	store      progress.Store
	events     EventLogger
	listener   ProgressListener
	resumeMode ResumeMode

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates a new revision engine.
func NewEngine(cfg EngineConfig) *Engine {
	bank := cfg.Bank
	if bank == nil {
		bank = &questionbank.Bank{}
	}
	store := cfg.Store
	if store == nil {
		store = progress.NewMemoryStore()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	mode := cfg.ResumeMode
	if mode == "" {
		mode = ResumeBoard
	}
	return &Engine{
		bank:       bank,
		store:      store,
		events:     events,
		listener:   cfg.Listener,
		resumeMode: mode,
		rng:        rng,
	}
}

// ResumeMode returns the configured resume lookup mode.
func (e *Engine) ResumeMode() ResumeMode { return e.resumeMode }

// FilterQuestions returns the bank questions for the subject's board whose
// topic is selected, in bank order. The result is a fresh slice.
func (e *Engine) FilterQuestions(subject progress.Subject) ([]questionbank.Question, error) {
	selected := make(map[string]bool, len(subject.SelectedTopics))
	for _, t := range subject.SelectedTopics {
		selected[t] = true
	}

	var out []questionbank.Question
	for _, q := range e.bank.Questions(subject.Name, subject.Board) {
		if selected[q.Topic] {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", subject.Name, subject.Board, ErrNoQuestions)
	}
	return out, nil
}

// Start begins a session at the first question. shuffle permutes the
// sequence; it is used when restarting a completed session.
func (e *Engine) Start(ctx context.Context, user auth.User, subject progress.Subject, shuffle bool) (*Session, error) {
	qs, err := e.FilterQuestions(subject)
	if err != nil {
		return nil, err
	}
	if shuffle {
		e.shuffle(qs)
	}

	s := newSession(user, subject, qs)
	s.Index = 0
	s.Current = qs[0]

	slog.Info("revision session started",
		"session_id", s.ID,
		"user_id", user.ID,
		"subject_id", subject.ID,
		"questions", len(qs),
		"shuffled", shuffle,
	)
	e.logEvent(ctx, s, EventSessionStarted, map[string]any{
		"questions": len(qs),
		"shuffled":  shuffle,
	})
	return s, nil
}

// Submit records an answer to the current question. The local score is
// updated immediately; the topic progress merge runs asynchronously and its
// outcome is reported through the returned task.
func (e *Engine) Submit(ctx context.Context, s *Session, option int) (Result, error) {
	if err := s.requireActive(); err != nil {
		return Result{}, err
	}
	if s.SelectedAnswer != nil {
		return Result{}, ErrAlreadyAnswered
	}
	q := s.Current
	if option < 0 || option >= len(q.Options) {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidOption, option)
	}

	correct := q.IsCorrect(option)
	s.SelectedAnswer = &option
	s.ShowExplanation = true
	s.Score.Total++
	if correct {
		s.Score.Correct++
	}

	userID, subjectID, topic := s.User.ID, s.Subject.ID, q.Topic
	task := startTask(ctx, "merge_progress", func(ctx context.Context) error {
		row, err := e.store.MergeTopicProgress(ctx, userID, subjectID, topic, correct)
		if err != nil {
			slog.Error("failed to merge topic progress",
				"user_id", userID,
				"subject_id", subjectID,
				"topic", topic,
				"error", err,
			)
			return fmt.Errorf("merge topic progress: %w", err)
		}
		slog.Debug("topic progress merged",
			"user_id", userID,
			"topic", topic,
			"completed", row.CompletedQuestions,
			"total", row.TotalQuestions,
		)
		if e.listener != nil {
			e.listener.ProgressChanged(ctx, userID)
		}
		return nil
	})
	s.tasks.add(task)

	e.logEvent(ctx, s, EventAnswerSubmitted, map[string]any{
		"question_id": q.ID,
		"topic":       q.Topic,
		"correct":     correct,
	})

	return Result{
		Correct:       correct,
		CorrectAnswer: q.CorrectAnswer,
		Explanation:   q.Explanation,
		Score:         s.Score,
		Task:          task,
	}, nil
}

// Advance moves to the question after the current one in the sequence. Past
// the end the session becomes complete and any saved snapshot for the
// subject is cleared in the background.
func (e *Engine) Advance(ctx context.Context, s *Session) error {
	if err := s.requireActive(); err != nil {
		return err
	}

	next := indexOf(s.Questions, s.Current.ID) + 1
	s.SelectedAnswer = nil
	s.ShowExplanation = false

	if next >= len(s.Questions) {
		s.State = StateComplete
		s.Progress = 100
		e.clearSnapshot(ctx, s)

		slog.Info("revision session completed",
			"session_id", s.ID,
			"user_id", s.User.ID,
			"subject_id", s.Subject.ID,
			"correct", s.Score.Correct,
			"total", s.Score.Total,
		)
		e.logEvent(ctx, s, EventSessionCompleted, map[string]any{
			"correct": s.Score.Correct,
			"total":   s.Score.Total,
		})
		return nil
	}

	s.Index = next
	s.Current = s.Questions[next]
	s.Progress = float64(next) / float64(len(s.Questions)) * 100
	return nil
}

// SaveAndExit waits for pending progress writes, stores the current position
// for the subject (overwriting any earlier snapshot) and ends the session.
// On a store failure the session stays active.
func (e *Engine) SaveAndExit(ctx context.Context, s *Session) (progress.Snapshot, error) {
	if err := s.requireActive(); err != nil {
		return progress.Snapshot{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, saveWaitTimeout)
	if err := s.tasks.waitAll(waitCtx); err != nil {
		slog.Warn("pending progress writes still running at save", "session_id", s.ID, "error", err)
	}
	cancel()

	snap := progress.Snapshot{
		UserID:            s.User.ID,
		SubjectID:         s.Subject.ID,
		CurrentQuestionID: s.Current.ID,
		Progress:          s.Progress,
	}
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		slog.Error("failed to save revision session",
			"user_id", s.User.ID,
			"subject_id", s.Subject.ID,
			"error", err,
		)
		return progress.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}

	e.logEvent(ctx, s, EventSessionSaved, map[string]any{
		"question_id": snap.CurrentQuestionID,
		"progress":    snap.Progress,
	})
	e.End(s)
	return snap, nil
}

// Resume restores the saved session for the subject. Without a usable
// snapshot it starts a fresh session; the bool reports whether a snapshot
// was restored.
func (e *Engine) Resume(ctx context.Context, user auth.User, subject progress.Subject) (*Session, bool, error) {
	snap, err := e.store.GetSnapshot(ctx, user.ID, subject.ID)
	if err != nil {
		if !errors.Is(err, progress.ErrNotFound) {
			slog.Warn("failed to load saved session, starting fresh",
				"user_id", user.ID,
				"subject_id", subject.ID,
				"error", err,
			)
		}
		return e.startFresh(ctx, user, subject)
	}

	qs, err := e.FilterQuestions(subject)
	if err != nil {
		return nil, false, err
	}

	lookup := qs
	if e.resumeMode == ResumeBoard {
		lookup = e.bank.Questions(subject.Name, subject.Board)
	}
	pos := indexOf(lookup, snap.CurrentQuestionID)
	if pos < 0 {
		slog.Info("saved question not found, starting fresh",
			"user_id", user.ID,
			"subject_id", subject.ID,
			"question_id", snap.CurrentQuestionID,
			"resume_mode", string(e.resumeMode),
		)
		return e.startFresh(ctx, user, subject)
	}

	s := newSession(user, subject, qs)
	s.Current = lookup[pos]
	s.Index = indexOf(qs, s.Current.ID)
	s.Progress = clampProgress(snap.Progress)
	s.Resumed = true

	slog.Info("revision session resumed",
		"session_id", s.ID,
		"user_id", user.ID,
		"subject_id", subject.ID,
		"question_id", s.Current.ID,
		"in_sequence", s.Index >= 0,
	)
	e.logEvent(ctx, s, EventSessionResumed, map[string]any{
		"question_id": s.Current.ID,
		"progress":    s.Progress,
		"mode":        string(e.resumeMode),
		"in_sequence": s.Index >= 0,
	})
	return s, true, nil
}

// Restart starts a completed session again with a shuffled sequence.
// Progress writes still running for the finished session move to the new
// one, so they are only cancelled when that session ends.
func (e *Engine) Restart(ctx context.Context, s *Session) (*Session, error) {
	if s.State != StateComplete {
		return nil, ErrNotComplete
	}
	next, err := e.Start(ctx, s.User, s.Subject, true)
	if err != nil {
		return nil, err
	}
	s.tasks.handOver(&next.tasks)
	s.State = StateSelecting
	s.SelectedAnswer = nil
	s.ShowExplanation = false
	return next, nil
}

// End returns the session to subject selection and cancels its outstanding
// writes.
func (e *Engine) End(s *Session) {
	if s == nil {
		return
	}
	s.tasks.cancelAll()
	s.State = StateSelecting
	s.SelectedAnswer = nil
	s.ShowExplanation = false
}

func (e *Engine) startFresh(ctx context.Context, user auth.User, subject progress.Subject) (*Session, bool, error) {
	s, err := e.Start(ctx, user, subject, false)
	return s, false, err
}

// clearSnapshot removes the saved position once the subject is finished. It
// is not tied to the session so ending the session does not cancel it.
func (e *Engine) clearSnapshot(ctx context.Context, s *Session) *Task {
	userID, subjectID := s.User.ID, s.Subject.ID
	return startTask(ctx, "clear_snapshot", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
		defer cancel()
		if err := e.store.DeleteSnapshot(ctx, userID, subjectID); err != nil {
			slog.Warn("failed to clear saved session", "user_id", userID, "subject_id", subjectID, "error", err)
			return fmt.Errorf("delete snapshot: %w", err)
		}
		return nil
	})
}

func (e *Engine) shuffle(qs []questionbank.Question) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	e.rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
}

// logEvent records an analytics event in the background. The write is not
// tied to the session, so ending it does not drop the event.
func (e *Engine) logEvent(ctx context.Context, s *Session, eventType string, data map[string]any) {
	event := Event{
		SessionID: s.ID,
		UserID:    s.User.ID,
		SubjectID: s.Subject.ID,
		EventType: eventType,
		Data:      data,
		CreatedAt: time.Now(),
	}
	startTask(ctx, "log_event", func(ctx context.Context) error {
		if err := e.events.LogEvent(ctx, event); err != nil {
			slog.Warn("failed to log event", "type", eventType, "user_id", event.UserID, "error", err)
			return err
		}
		return nil
	})
}

func indexOf(qs []questionbank.Question, id string) int {
	for i, q := range qs {
		if q.ID == id {
			return i
		}
	}
	return -1
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func newSession(user auth.User, subject progress.Subject, qs []questionbank.Question) *Session {
	return &Session{
		ID:        uuid.NewString(),
		User:      user,
		Subject:   subject,
		Questions: qs,
		State:     StateActive,
	}
}
