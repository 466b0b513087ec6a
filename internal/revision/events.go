package revision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const eventTimeout = 5 * time.Second

// Event types logged by the engine.
const (
	EventSessionStarted   = "session_started"
	EventAnswerSubmitted  = "answer_submitted"
	EventSessionCompleted = "session_completed"
	EventSessionSaved     = "session_saved"
	EventSessionResumed   = "session_resumed"
)

// Event is one step of a revision session, kept for analytics.
type Event struct {
	SessionID string
	UserID    string
	SubjectID string
	EventType string
	Data      map[string]any
	CreatedAt time.Time
}

func (e Event) validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event type is required")
	case e.UserID == "":
		return errors.New("event user id is required")
	}
	return nil
}

// EventLogger records session events. Implementations must not block the
// caller for longer than a single store round trip.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopEventLogger drops every event.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(context.Context, Event) error { return nil }

// MemoryEventLogger keeps events in memory. Used by tests and the in-memory
// deployment.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{}
}

func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of everything logged so far, oldest first.
func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// OfType returns the logged events with the given type.
func (l *MemoryEventLogger) OfType(eventType string) []Event {
	return l.filter(func(e Event) bool { return e.EventType == eventType })
}

// ForSession returns the events of one session.
func (l *MemoryEventLogger) ForSession(sessionID string) []Event {
	return l.filter(func(e Event) bool { return e.SessionID == sessionID })
}

func (l *MemoryEventLogger) filter(keep func(Event) bool) []Event {
	var out []Event
	for _, e := range l.Events() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// PostgresEventLogger appends events to revision_events.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

// LogEvent inserts the event. The write outlives ctx's cancellation but not
// eventTimeout.
func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return errors.New("event logger pool is nil")
	}
	if err := event.validate(); err != nil {
		return err
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if event.Data == nil {
		data = []byte("{}")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO revision_events (session_id, user_id, subject_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		event.SessionID,
		event.UserID,
		event.SubjectID,
		event.EventType,
		string(data),
		event.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert revision event: %w", err)
	}

	slog.Debug("revision event logged",
		"type", event.EventType,
		"session_id", event.SessionID,
		"user_id", event.UserID,
	)
	return nil
}
