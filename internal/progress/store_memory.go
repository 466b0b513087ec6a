package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	subjects  map[string]*memSubject
	settings  map[string]Settings
	progress  map[progressKey]*TopicProgress
	snapshots map[snapshotKey]Snapshot
}

type memSubject struct {
	Subject
	seq int64
}

type progressKey struct{ userID, subjectID, topic string }

type snapshotKey struct{ userID, subjectID string }

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects:  make(map[string]*memSubject),
		settings:  make(map[string]Settings),
		progress:  make(map[progressKey]*TopicProgress),
		snapshots: make(map[snapshotKey]Snapshot),
	}
}

func (s *MemoryStore) CreateSubject(_ context.Context, sub Subject) (Subject, error) {
	if sub.UserID == "" {
		return Subject{}, fmt.Errorf("user_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.seq++
	sub.ID = uuid.NewString()
	sub.SelectedTopics = append([]string{}, sub.SelectedTopics...)
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.subjects[sub.ID] = &memSubject{Subject: sub, seq: s.seq}

	for _, topic := range sub.SelectedTopics {
		k := progressKey{sub.UserID, sub.ID, topic}
		if _, ok := s.progress[k]; !ok {
			s.progress[k] = &TopicProgress{UserID: sub.UserID, SubjectID: sub.ID, TopicName: topic, UpdatedAt: now}
		}
	}
	return copySubject(sub), nil
}

func (s *MemoryStore) GetSubject(_ context.Context, userID, subjectID string) (Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subjects[subjectID]
	if !ok || sub.UserID != userID {
		return Subject{}, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	return copySubject(sub.Subject), nil
}

func (s *MemoryStore) ListSubjects(_ context.Context, userID string) ([]Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []*memSubject
	for _, sub := range s.subjects {
		if sub.UserID == userID {
			owned = append(owned, sub)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].seq > owned[j].seq })

	out := make([]Subject, 0, len(owned))
	for _, sub := range owned {
		out = append(out, copySubject(sub.Subject))
	}
	return out, nil
}

func (s *MemoryStore) UpdateSelectedTopics(_ context.Context, userID, subjectID string, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[subjectID]
	if !ok || sub.UserID != userID {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	sub.SelectedTopics = append([]string{}, topics...)
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteSubject(_ context.Context, userID, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[subjectID]
	if !ok || sub.UserID != userID {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	delete(s.subjects, subjectID)
	for k := range s.progress {
		if k.subjectID == subjectID {
			delete(s.progress, k)
		}
	}
	for k := range s.snapshots {
		if k.subjectID == subjectID {
			delete(s.snapshots, k)
		}
	}
	return nil
}

func (s *MemoryStore) GetSettings(_ context.Context, userID string) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[userID]
	if !ok {
		return Settings{UserID: userID}, nil
	}
	return st, nil
}

func (s *MemoryStore) SaveSettings(_ context.Context, st Settings) error {
	if st.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[st.UserID] = st
	return nil
}

func (s *MemoryStore) MergeTopicProgress(_ context.Context, userID, subjectID, topic string, correct bool) (TopicProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[subjectID]
	if !ok || sub.UserID != userID {
		return TopicProgress{}, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}

	k := progressKey{userID, subjectID, topic}
	row, ok := s.progress[k]
	if !ok {
		row = &TopicProgress{UserID: userID, SubjectID: subjectID, TopicName: topic}
		s.progress[k] = row
	}
	row.TotalQuestions++
	if correct {
		row.CompletedQuestions++
	}
	row.UpdatedAt = time.Now().UTC()
	return *row, nil
}

func (s *MemoryStore) ListTopicProgress(_ context.Context, userID string) ([]TopicProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []TopicProgress
	for k, row := range s.progress {
		if k.userID == userID {
			rows = append(rows, *row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SubjectID != rows[j].SubjectID {
			return rows[i].SubjectID < rows[j].SubjectID
		}
		return rows[i].TopicName < rows[j].TopicName
	})
	return rows, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[snap.SubjectID]
	if !ok || sub.UserID != snap.UserID {
		return fmt.Errorf("subject %s: %w", snap.SubjectID, ErrNotFound)
	}
	snap.UpdatedAt = time.Now().UTC()
	s.snapshots[snapshotKey{snap.UserID, snap.SubjectID}] = snap
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, userID, subjectID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[snapshotKey{userID, subjectID}]
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", subjectID, ErrNotFound)
	}
	return snap, nil
}

func (s *MemoryStore) DeleteSnapshot(_ context.Context, userID, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, snapshotKey{userID, subjectID})
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copySubject(sub Subject) Subject {
	sub.SelectedTopics = append([]string{}, sub.SelectedTopics...)
	return sub
}
