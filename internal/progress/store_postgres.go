package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing, migrated pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateSubject(ctx context.Context, sub Subject) (Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if sub.UserID == "" {
		return Subject{}, fmt.Errorf("user_id is required")
	}
	topics := sub.SelectedTopics
	if topics == nil {
		topics = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Subject{}, fmt.Errorf("begin create subject: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO subjects (user_id, qualification, subject, board, selected_topics)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id::text, created_at, updated_at`,
		sub.UserID,
		string(sub.Qualification),
		sub.Name,
		sub.Board,
		topics,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return Subject{}, fmt.Errorf("insert subject: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO topic_progress (user_id, subject_id, topic_name)
		 SELECT $1, $2::uuid, t FROM unnest($3::text[]) AS t
		 ON CONFLICT (user_id, subject_id, topic_name) DO NOTHING`,
		sub.UserID,
		sub.ID,
		topics,
	); err != nil {
		return Subject{}, fmt.Errorf("seed topic progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Subject{}, fmt.Errorf("commit create subject: %w", err)
	}

	sub.SelectedTopics = topics
	return sub, nil
}

func (s *PostgresStore) GetSubject(ctx context.Context, userID, subjectID string) (Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := uuid.Parse(subjectID); err != nil {
		return Subject{}, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, user_id, qualification, subject, board, selected_topics, created_at, updated_at
		 FROM subjects
		 WHERE id = $1::uuid AND user_id = $2`,
		subjectID,
		userID,
	)
	if err != nil {
		return Subject{}, fmt.Errorf("get subject: %w", err)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, scanSubject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
		}
		return Subject{}, fmt.Errorf("get subject: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubjects(ctx context.Context, userID string) ([]Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, user_id, qualification, subject, board, selected_topics, created_at, updated_at
		 FROM subjects
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	subjects, err := pgx.CollectRows(rows, scanSubject)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

func (s *PostgresStore) UpdateSelectedTopics(ctx context.Context, userID, subjectID string, topics []string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := uuid.Parse(subjectID); err != nil {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	if topics == nil {
		topics = []string{}
	}

	cmd, err := s.pool.Exec(ctx,
		`UPDATE subjects
		 SET selected_topics = $3, updated_at = NOW()
		 WHERE id = $1::uuid AND user_id = $2`,
		subjectID,
		userID,
		topics,
	)
	if err != nil {
		return fmt.Errorf("update selected topics: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteSubject(ctx context.Context, userID, subjectID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := uuid.Parse(subjectID); err != nil {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}

	// topic_progress and revision_sessions cascade on delete.
	cmd, err := s.pool.Exec(ctx,
		`DELETE FROM subjects WHERE id = $1::uuid AND user_id = $2`,
		subjectID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetSettings(ctx context.Context, userID string) (Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	st := Settings{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT mock_exam_date FROM user_settings WHERE user_id = $1`,
		userID,
	).Scan(&st.MockExamDate)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Settings{UserID: userID}, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st Settings) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if st.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_settings (user_id, mock_exam_date)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET
		   mock_exam_date = EXCLUDED.mock_exam_date,
		   updated_at = NOW()`,
		st.UserID,
		st.MockExamDate,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) MergeTopicProgress(ctx context.Context, userID, subjectID, topic string, correct bool) (TopicProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := uuid.Parse(subjectID); err != nil {
		return TopicProgress{}, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}

	row := TopicProgress{UserID: userID, SubjectID: subjectID, TopicName: topic}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO topic_progress (user_id, subject_id, topic_name, completed_questions, total_questions)
		 SELECT $1, s.id, $3, $4, 1
		 FROM subjects s
		 WHERE s.id = $2::uuid AND s.user_id = $1
		 ON CONFLICT (user_id, subject_id, topic_name) DO UPDATE SET
		   completed_questions = topic_progress.completed_questions + EXCLUDED.completed_questions,
		   total_questions = topic_progress.total_questions + 1,
		   updated_at = NOW()
		 RETURNING completed_questions, total_questions, updated_at`,
		userID,
		subjectID,
		topic,
		boolToInt(correct),
	).Scan(&row.CompletedQuestions, &row.TotalQuestions, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TopicProgress{}, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
		}
		return TopicProgress{}, fmt.Errorf("merge topic progress: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) ListTopicProgress(ctx context.Context, userID string) ([]TopicProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, subject_id::text, topic_name, completed_questions, total_questions, updated_at
		 FROM topic_progress
		 WHERE user_id = $1
		 ORDER BY subject_id, topic_name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list topic progress: %w", err)
	}
	defer rows.Close()

	var out []TopicProgress
	for rows.Next() {
		var tp TopicProgress
		if err := rows.Scan(
			&tp.UserID,
			&tp.SubjectID,
			&tp.TopicName,
			&tp.CompletedQuestions,
			&tp.TotalQuestions,
			&tp.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan topic progress: %w", err)
		}
		out = append(out, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic progress: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := uuid.Parse(snap.SubjectID); err != nil {
		return fmt.Errorf("subject %s: %w", snap.SubjectID, ErrNotFound)
	}

	cmd, err := s.pool.Exec(ctx,
		`INSERT INTO revision_sessions (user_id, subject_id, current_question_id, progress)
		 SELECT $1, s.id, $3, $4
		 FROM subjects s
		 WHERE s.id = $2::uuid AND s.user_id = $1
		 ON CONFLICT (user_id, subject_id) DO UPDATE SET
		   current_question_id = EXCLUDED.current_question_id,
		   progress = EXCLUDED.progress,
		   updated_at = NOW()`,
		snap.UserID,
		snap.SubjectID,
		snap.CurrentQuestionID,
		snap.Progress,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("subject %s: %w", snap.SubjectID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, userID, subjectID string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := uuid.Parse(subjectID); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", subjectID, ErrNotFound)
	}

	snap := Snapshot{UserID: userID, SubjectID: subjectID}
	err := s.pool.QueryRow(ctx,
		`SELECT current_question_id, progress, updated_at
		 FROM revision_sessions
		 WHERE user_id = $1 AND subject_id = $2::uuid`,
		userID,
		subjectID,
	).Scan(&snap.CurrentQuestionID, &snap.Progress, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, fmt.Errorf("snapshot %s: %w", subjectID, ErrNotFound)
		}
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) DeleteSnapshot(ctx context.Context, userID, subjectID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := uuid.Parse(subjectID); err != nil {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM revision_sessions WHERE user_id = $1 AND subject_id = $2::uuid`,
		userID,
		subjectID,
	); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func scanSubject(row pgx.CollectableRow) (Subject, error) {
	var sub Subject
	var qualification string
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&qualification,
		&sub.Name,
		&sub.Board,
		&sub.SelectedTopics,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	sub.Qualification = Qualification(qualification)
	if sub.SelectedTopics == nil {
		sub.SelectedTopics = []string{}
	}
	return sub, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
