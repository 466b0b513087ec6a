// Package questionbank loads the static, read-only practice question bank.
//
// The bank is a set of YAML files, one per subject and exam board. Lookups
// by subject and board are case-insensitive.
package questionbank

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownBoard is returned when the bank has no entry for a subject/board pair.
	ErrUnknownBoard = errors.New("unknown subject or exam board")
	// ErrUnknownTopic is returned when a topic is not listed for a subject/board pair.
	ErrUnknownTopic = errors.New("unknown topic")
)

//go:embed banks/*.yaml
var defaultBanks embed.FS

// Bank is the loaded question bank.
type Bank struct {
	boards map[string]*Board
}

// Default returns the bank compiled into the binary.
func Default() (*Bank, error) {
	sub, err := fs.Sub(defaultBanks, "banks")
	if err != nil {
		return nil, fmt.Errorf("opening embedded banks: %w", err)
	}
	return Load(sub)
}

// Load reads every .yaml/.yml file in fsys as a board file.
// Files that fail to parse or validate are skipped with a warning.
func Load(fsys fs.FS) (*Bank, error) {
	b := &Bank{boards: make(map[string]*Board)}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".yaml", ".yml":
			return b.loadFile(fsys, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading question bank: %w", err)
	}

	slog.Info("question bank loaded", "boards", len(b.boards), "questions", b.questionCount())
	return b, nil
}

func (b *Bank) loadFile(fsys fs.FS, p string) error {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Warn("skipping invalid bank YAML", "path", p, "error", err)
		return nil
	}
	if err := ValidateDocument(doc); err != nil {
		slog.Warn("skipping bank file", "path", p, "error", err)
		return nil
	}

	var board Board
	if err := yaml.Unmarshal(data, &board); err != nil {
		slog.Warn("skipping invalid bank YAML", "path", p, "error", err)
		return nil
	}

	k := boardKey(board.Subject, board.Board)
	if _, dup := b.boards[k]; dup {
		slog.Warn("skipping duplicate board", "path", p, "subject", board.Subject, "board", board.Board)
		return nil
	}

	board.Questions = sanitizeQuestions(p, board)
	b.boards[k] = &board
	return nil
}

// sanitizeQuestions drops questions whose answer index is out of range or
// whose id repeats an earlier question.
func sanitizeQuestions(p string, board Board) []Question {
	topics := make(map[string]bool, len(board.Topics))
	for _, t := range board.Topics {
		topics[t] = true
	}

	seen := make(map[string]bool, len(board.Questions))
	kept := make([]Question, 0, len(board.Questions))
	for _, q := range board.Questions {
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			slog.Warn("dropping question with invalid answer index",
				"path", p, "question_id", q.ID, "correct_answer", q.CorrectAnswer, "options", len(q.Options))
			continue
		}
		if seen[q.ID] {
			slog.Warn("dropping duplicate question id", "path", p, "question_id", q.ID)
			continue
		}
		if !topics[q.Topic] {
			slog.Warn("question topic not listed for board", "path", p, "question_id", q.ID, "topic", q.Topic)
		}
		seen[q.ID] = true
		kept = append(kept, q)
	}
	return kept
}

// Board returns the board for a subject/board pair.
func (b *Bank) Board(subject, board string) (*Board, bool) {
	bd, ok := b.boards[boardKey(subject, board)]
	return bd, ok
}

// Topics returns the topic labels for a subject/board pair, in bank order.
func (b *Bank) Topics(subject, board string) []string {
	bd, ok := b.Board(subject, board)
	if !ok {
		return nil
	}
	return bd.Topics
}

// Questions returns every question for a subject/board pair, in bank order.
// The returned slice is shared and must not be modified.
func (b *Bank) Questions(subject, board string) []Question {
	bd, ok := b.Board(subject, board)
	if !ok {
		return nil
	}
	return bd.Questions
}

// TopicInfos returns the topics of a board with per-topic question counts.
func (b *Bank) TopicInfos(subject, board string) ([]TopicInfo, error) {
	bd, ok := b.Board(subject, board)
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", subject, board, ErrUnknownBoard)
	}
	counts := make(map[string]int, len(bd.Topics))
	for _, q := range bd.Questions {
		counts[q.Topic]++
	}
	infos := make([]TopicInfo, 0, len(bd.Topics))
	for _, t := range bd.Topics {
		infos = append(infos, TopicInfo{Name: t, QuestionCount: counts[t]})
	}
	return infos, nil
}

// Boards lists every loaded board ordered by subject then board.
func (b *Bank) Boards() []BoardInfo {
	infos := make([]BoardInfo, 0, len(b.boards))
	for _, bd := range b.boards {
		infos = append(infos, BoardInfo{
			Subject:       bd.Subject,
			Board:         bd.Board,
			Qualification: bd.Qualification,
			TopicCount:    len(bd.Topics),
			QuestionCount: len(bd.Questions),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Subject != infos[j].Subject {
			return infos[i].Subject < infos[j].Subject
		}
		return infos[i].Board < infos[j].Board
	})
	return infos
}

// ValidateTopics checks that every topic is listed for the subject/board pair.
func (b *Bank) ValidateTopics(subject, board string, topics []string) error {
	bd, ok := b.Board(subject, board)
	if !ok {
		return fmt.Errorf("%s/%s: %w", subject, board, ErrUnknownBoard)
	}
	known := make(map[string]bool, len(bd.Topics))
	for _, t := range bd.Topics {
		known[t] = true
	}
	var unknown []string
	for _, t := range topics {
		if !known[t] {
			unknown = append(unknown, t)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, strings.Join(unknown, ", "))
	}
	return nil
}

func (b *Bank) questionCount() int {
	n := 0
	for _, bd := range b.boards {
		n += len(bd.Questions)
	}
	return n
}

func boardKey(subject, board string) string {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(subject)) + "\x00" + fold.String(strings.TrimSpace(board))
}
