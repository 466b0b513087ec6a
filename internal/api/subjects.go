package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-revise/internal/progress"
	"github.com/p-n-ai/pai-revise/internal/questionbank"
)

const errNoTopics = "select at least one topic"

type createSubjectRequest struct {
	Qualification  string   `json:"qualification" validate:"required,oneof=GCSE A-Level"`
	Subject        string   `json:"subject" validate:"required,max=100"`
	Board          string   `json:"board" validate:"required,max=50"`
	SelectedTopics []string `json:"selected_topics" validate:"required,min=1,dive,required"`
}

type updateTopicsRequest struct {
	SelectedTopics []string `json:"selected_topics" validate:"required,min=1,dive,required"`
}

// ListSubjects returns the user's subjects, newest first.
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	subjects, err := h.store.ListSubjects(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list subjects", "user_id", user.ID, "error", err)
		Error(w, http.StatusServiceUnavailable, "could not load your subjects")
		return
	}
	if subjects == nil {
		subjects = []progress.Subject{}
	}
	JSON(w, http.StatusOK, map[string]any{"subjects": subjects})
}

// CreateSubject adds a subject with its selected topics.
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req createSubjectRequest
	if !h.decode(w, r, &req) {
		return
	}

	bd, ok := h.bank.Board(req.Subject, req.Board)
	if !ok {
		Error(w, http.StatusUnprocessableEntity, "no questions for this subject and exam board")
		return
	}
	topics := dedupe(req.SelectedTopics)
	if len(topics) == 0 {
		Error(w, http.StatusBadRequest, errNoTopics)
		return
	}
	if err := h.bank.ValidateTopics(bd.Subject, bd.Board, topics); err != nil {
		writeTopicError(w, err)
		return
	}

	sub, err := h.store.CreateSubject(r.Context(), progress.Subject{
		UserID:         user.ID,
		Qualification:  progress.Qualification(req.Qualification),
		Name:           bd.Subject,
		Board:          bd.Board,
		SelectedTopics: topics,
	})
	if err != nil {
		slog.Error("failed to create subject", "user_id", user.ID, "subject", bd.Subject, "error", err)
		Error(w, http.StatusServiceUnavailable, "could not save the subject")
		return
	}

	h.dashboard.ProgressChanged(r.Context(), user.ID)
	slog.Info("subject created", "user_id", user.ID, "subject_id", sub.ID, "topics", len(topics))
	JSON(w, http.StatusCreated, sub)
}

// UpdateTopics replaces a subject's selected topics.
func (h *Handler) UpdateTopics(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := chi.URLParam(r, "id")

	var req updateTopicsRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := h.store.GetSubject(r.Context(), user.ID, id)
	if err != nil {
		writeStoreError(w, err, "could not load the subject")
		return
	}
	topics := dedupe(req.SelectedTopics)
	if len(topics) == 0 {
		Error(w, http.StatusBadRequest, errNoTopics)
		return
	}
	if err := h.bank.ValidateTopics(sub.Name, sub.Board, topics); err != nil {
		writeTopicError(w, err)
		return
	}

	if err := h.store.UpdateSelectedTopics(r.Context(), user.ID, id, topics); err != nil {
		writeStoreError(w, err, "could not update topics")
		return
	}
	sub.SelectedTopics = topics

	h.dashboard.ProgressChanged(r.Context(), user.ID)
	JSON(w, http.StatusOK, sub)
}

// DeleteSubject removes a subject with its progress and saved session.
func (h *Handler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteSubject(r.Context(), user.ID, id); err != nil {
		writeStoreError(w, err, "could not delete the subject")
		return
	}

	h.dashboard.ProgressChanged(r.Context(), user.ID)
	slog.Info("subject deleted", "user_id", user.ID, "subject_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
			}
			Error(w, http.StatusBadRequest, "invalid fields: "+strings.Join(fields, ", "))
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeTopicError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, questionbank.ErrUnknownTopic):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, questionbank.ErrUnknownBoard):
		Error(w, http.StatusUnprocessableEntity, "no questions for this subject and exam board")
	default:
		Error(w, http.StatusInternalServerError, "could not check topics")
	}
}

func writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, progress.ErrNotFound) {
		Error(w, http.StatusNotFound, "subject not found")
		return
	}
	slog.Error(msg, "error", err)
	Error(w, http.StatusServiceUnavailable, msg)
}

func dedupe(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
