package progress

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

const dateLayout = "2006-01-02"

// SQLiteStore is a single-file Store for local and self-hosted runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under
	// concurrent progress merges.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSubject(ctx context.Context, sub Subject) (Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if sub.UserID == "" {
		return Subject{}, fmt.Errorf("user_id is required")
	}
	if sub.SelectedTopics == nil {
		sub.SelectedTopics = []string{}
	}
	topics, err := json.Marshal(sub.SelectedTopics)
	if err != nil {
		return Subject{}, fmt.Errorf("encode topics: %w", err)
	}

	now := time.Now().UTC()
	sub.ID = uuid.NewString()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Subject{}, fmt.Errorf("begin create subject: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subjects (id, user_id, qualification, subject, board, selected_topics, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, string(sub.Qualification), sub.Name, sub.Board, string(topics),
		now.UnixNano(), now.UnixNano(),
	); err != nil {
		return Subject{}, fmt.Errorf("insert subject: %w", err)
	}

	for _, topic := range sub.SelectedTopics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO topic_progress (user_id, subject_id, topic_name, completed_questions, total_questions, updated_at)
			 VALUES (?, ?, ?, 0, 0, ?)
			 ON CONFLICT (user_id, subject_id, topic_name) DO NOTHING`,
			sub.UserID, sub.ID, topic, now.UnixNano(),
		); err != nil {
			return Subject{}, fmt.Errorf("seed topic progress: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Subject{}, fmt.Errorf("commit create subject: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) GetSubject(ctx context.Context, userID, subjectID string) (Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, qualification, subject, board, selected_topics, created_at, updated_at
		 FROM subjects WHERE id = ? AND user_id = ?`,
		subjectID, userID,
	)
	sub, err := scanSQLiteSubject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subject{}, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
		}
		return Subject{}, fmt.Errorf("get subject: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubjects(ctx context.Context, userID string) ([]Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, qualification, subject, board, selected_topics, created_at, updated_at
		 FROM subjects WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		sub, err := scanSQLiteSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateSelectedTopics(ctx context.Context, userID, subjectID string, topics []string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if topics == nil {
		topics = []string{}
	}
	raw, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE subjects SET selected_topics = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		string(raw), time.Now().UTC().UnixNano(), subjectID, userID,
	)
	if err != nil {
		return fmt.Errorf("update selected topics: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteSubject(ctx context.Context, userID, subjectID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete subject: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM subjects WHERE id = ? AND user_id = ?`, subjectID, userID)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM topic_progress WHERE user_id = ? AND subject_id = ?`, userID, subjectID,
	); err != nil {
		return fmt.Errorf("delete topic progress: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM revision_sessions WHERE user_id = ? AND subject_id = ?`, userID, subjectID,
	); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete subject: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSettings(ctx context.Context, userID string) (Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	st := Settings{UserID: userID}
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT mock_exam_date FROM user_settings WHERE user_id = ?`, userID,
	).Scan(&date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, nil
		}
		return st, fmt.Errorf("get settings: %w", err)
	}
	if date.Valid && date.String != "" {
		d, err := time.Parse(dateLayout, date.String)
		if err != nil {
			return st, fmt.Errorf("parse mock exam date: %w", err)
		}
		st.MockExamDate = &d
	}
	return st, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, st Settings) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if st.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	var date sql.NullString
	if st.MockExamDate != nil {
		date = sql.NullString{String: st.MockExamDate.Format(dateLayout), Valid: true}
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, mock_exam_date, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   mock_exam_date = excluded.mock_exam_date,
		   updated_at = excluded.updated_at`,
		st.UserID, date, time.Now().UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MergeTopicProgress(ctx context.Context, userID, subjectID, topic string, correct bool) (TopicProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TopicProgress{}, fmt.Errorf("begin merge topic progress: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireSubject(ctx, tx, userID, subjectID); err != nil {
		return TopicProgress{}, err
	}

	now := time.Now().UTC()
	row := TopicProgress{UserID: userID, SubjectID: subjectID, TopicName: topic, UpdatedAt: now}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO topic_progress (user_id, subject_id, topic_name, completed_questions, total_questions, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT (user_id, subject_id, topic_name) DO UPDATE SET
		   completed_questions = completed_questions + excluded.completed_questions,
		   total_questions = total_questions + 1,
		   updated_at = excluded.updated_at
		 RETURNING completed_questions, total_questions`,
		userID, subjectID, topic, boolToInt(correct), now.UnixNano(),
	).Scan(&row.CompletedQuestions, &row.TotalQuestions)
	if err != nil {
		return TopicProgress{}, fmt.Errorf("merge topic progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TopicProgress{}, fmt.Errorf("commit merge topic progress: %w", err)
	}
	return row, nil
}

func (s *SQLiteStore) ListTopicProgress(ctx context.Context, userID string) ([]TopicProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, subject_id, topic_name, completed_questions, total_questions, updated_at
		 FROM topic_progress WHERE user_id = ?
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
		var updated int64
		if err := rows.Scan(&tp.UserID, &tp.SubjectID, &tp.TopicName,
			&tp.CompletedQuestions, &tp.TotalQuestions, &updated); err != nil {
			return nil, fmt.Errorf("scan topic progress: %w", err)
		}
		tp.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic progress: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireSubject(ctx, tx, snap.UserID, snap.SubjectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO revision_sessions (user_id, subject_id, current_question_id, progress, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, subject_id) DO UPDATE SET
		   current_question_id = excluded.current_question_id,
		   progress = excluded.progress,
		   updated_at = excluded.updated_at`,
		snap.UserID, snap.SubjectID, snap.CurrentQuestionID, snap.Progress, time.Now().UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, userID, subjectID string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	snap := Snapshot{UserID: userID, SubjectID: subjectID}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT current_question_id, progress, updated_at
		 FROM revision_sessions WHERE user_id = ? AND subject_id = ?`,
		userID, subjectID,
	).Scan(&snap.CurrentQuestionID, &snap.Progress, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, fmt.Errorf("snapshot %s: %w", subjectID, ErrNotFound)
		}
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snap.UpdatedAt = time.Unix(0, updated).UTC()
	return snap, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, userID, subjectID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM revision_sessions WHERE user_id = ? AND subject_id = ?`, userID, subjectID,
	); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSubject(row rowScanner) (Subject, error) {
	var sub Subject
	var qualification, topics string
	var created, updated int64
	if err := row.Scan(&sub.ID, &sub.UserID, &qualification, &sub.Name, &sub.Board,
		&topics, &created, &updated); err != nil {
		return Subject{}, err
	}
	sub.Qualification = Qualification(qualification)
	if err := json.Unmarshal([]byte(topics), &sub.SelectedTopics); err != nil {
		return Subject{}, fmt.Errorf("decode topics: %w", err)
	}
	if sub.SelectedTopics == nil {
		sub.SelectedTopics = []string{}
	}
	sub.CreatedAt = time.Unix(0, created).UTC()
	sub.UpdatedAt = time.Unix(0, updated).UTC()
	return sub, nil
}

func requireSubject(ctx context.Context, tx *sql.Tx, userID, subjectID string) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM subjects WHERE id = ? AND user_id = ?`, subjectID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check subject: %w", err)
	}
	return nil
}
