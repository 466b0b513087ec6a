package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/p-n-ai/pai-revise/internal/dashboard"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type dashboardResponse struct {
	dashboard.Summary
	Notice *Notice `json:"notice,omitempty"`
}

// Dashboard returns the user's progress summary. A store failure is reported
// as a notice next to an empty summary.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.dashboard.Summary(r.Context(), currentUser(r))
	resp := dashboardResponse{Summary: sum}
	if err != nil {
		resp.Notice = &Notice{
			Level:   "warning",
			Title:   "Progress unavailable",
			Message: "We could not load your progress. Try again in a moment.",
		}
	}
	JSON(w, http.StatusOK, resp)
}

// ExportDashboard downloads the summary as an XLSX workbook.
func (h *Handler) ExportDashboard(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	sum, err := h.dashboard.Summary(r.Context(), user)
	if err != nil {
		Error(w, http.StatusServiceUnavailable, "could not load your progress")
		return
	}

	var buf bytes.Buffer
	if err := dashboard.ExportXLSX(&buf, sum); err != nil {
		slog.Error("failed to export dashboard", "user_id", user.ID, "error", err)
		Error(w, http.StatusInternalServerError, "could not build the export")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="revision-progress.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
