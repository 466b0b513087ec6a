package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-revise/internal/dashboard"
	"github.com/p-n-ai/pai-revise/internal/progress"
)

const dateLayout = "2006-01-02"

type settingsRequest struct {
	MockExamDate *string `json:"mock_exam_date" validate:"omitempty,datetime=2006-01-02"`
}

type settingsResponse struct {
	MockExamDate  *string `json:"mock_exam_date"`
	DaysUntilExam *int    `json:"days_until_exam"`
}

// GetSettings returns the user's mock exam date and countdown.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	settings, err := h.store.GetSettings(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to load settings", "user_id", user.ID, "error", err)
		Error(w, http.StatusServiceUnavailable, "could not load your settings")
		return
	}
	JSON(w, http.StatusOK, newSettingsResponse(settings, time.Now()))
}

// SaveSettings sets or clears the user's mock exam date.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req settingsRequest
	if !h.decode(w, r, &req) {
		return
	}

	settings := progress.Settings{UserID: user.ID}
	if req.MockExamDate != nil && *req.MockExamDate != "" {
		d, err := time.Parse(dateLayout, *req.MockExamDate)
		if err != nil {
			Error(w, http.StatusBadRequest, "mock_exam_date must be YYYY-MM-DD")
			return
		}
		settings.MockExamDate = &d
	}

	if err := h.store.SaveSettings(r.Context(), settings); err != nil {
		slog.Error("failed to save settings", "user_id", user.ID, "error", err)
		Error(w, http.StatusServiceUnavailable, "could not save your settings")
		return
	}

	h.dashboard.ProgressChanged(r.Context(), user.ID)
	JSON(w, http.StatusOK, newSettingsResponse(settings, time.Now()))
}

func newSettingsResponse(s progress.Settings, now time.Time) settingsResponse {
	var resp settingsResponse
	if s.MockExamDate == nil {
		return resp
	}
	date := s.MockExamDate.Format(dateLayout)
	resp.MockExamDate = &date
	if days, ok := dashboard.DaysUntilExam(date, now); ok {
		resp.DaysUntilExam = &days
	}
	return resp
}
