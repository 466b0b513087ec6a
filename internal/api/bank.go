package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/p-n-ai/pai-revise/internal/progress"
	"github.com/p-n-ai/pai-revise/internal/questionbank"
)

// ListBoards returns every loaded board and the exam boards offered per
// qualification.
func (h *Handler) ListBoards(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"boards":      h.bank.Boards(),
		"exam_boards": progress.ExamBoards,
	})
}

// GetBoard returns one board's topics with question counts.
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	subject, board := chi.URLParam(r, "subject"), chi.URLParam(r, "board")

	topics, err := h.bank.TopicInfos(subject, board)
	if err != nil {
		if errors.Is(err, questionbank.ErrUnknownBoard) {
			Error(w, http.StatusNotFound, "no questions for this subject and exam board")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load topics")
		return
	}

	bd, _ := h.bank.Board(subject, board)
	JSON(w, http.StatusOK, map[string]any{
		"subject":       bd.Subject,
		"board":         bd.Board,
		"qualification": bd.Qualification,
		"topics":        topics,
	})
}
