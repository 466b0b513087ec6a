package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-revise/internal/api"
	"github.com/p-n-ai/pai-revise/internal/auth"
	"github.com/p-n-ai/pai-revise/internal/dashboard"
	"github.com/p-n-ai/pai-revise/internal/progress"
	"github.com/p-n-ai/pai-revise/internal/questionbank"
	"github.com/p-n-ai/pai-revise/internal/revision"
)

const testSecret = "test-secret"

var student = auth.User{ID: "student-1", Email: "student@example.com"}

type testEnv struct {
	srv   *httptest.Server
	store *progress.MemoryStore
	token string
}

func newTestEnv(t *testing.T, checks map[string]api.Checker) *testEnv {
	t.Helper()

	bank, err := questionbank.Default()
	if err != nil {
		t.Fatalf("questionbank.Default() error = %v", err)
	}
	store := progress.NewMemoryStore()
	agg := dashboard.NewAggregator(dashboard.Config{Store: store})
	engine := revision.NewEngine(revision.EngineConfig{Bank: bank, Store: store, Listener: agg})

	verifier, err := auth.NewVerifier(testSecret, "revise")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	issuer, err := auth.NewIssuer(testSecret, "revise", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	token, err := issuer.Issue(student)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Bank:        bank,
		Store:       store,
		Engine:      engine,
		Dashboard:   agg,
		Verifier:    verifier,
		Checks:      checks,
		CORSOrigins: []string{"http://localhost:3000"},
	}))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal() error = %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response error = %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	env.token = ""

	resp := env.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]api.Checker
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all ok", map[string]api.Checker{"store": func(context.Context) error { return nil }}, http.StatusOK},
		{"store down", map[string]api.Checker{
			"store": func(context.Context) error { return errors.New("connection refused") },
			"cache": func(context.Context) error { return nil },
		}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.checks)
			resp := env.do(t, http.MethodGet, "/readyz", nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAPI_RequiresUser(t *testing.T) {
	env := newTestEnv(t, nil)
	env.token = ""

	resp := env.do(t, http.MethodGet, "/api/subjects", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["redirect"] != auth.LoginPath {
		t.Errorf("redirect = %q, want %q", body["redirect"], auth.LoginPath)
	}
}

func TestAPI_Me(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/api/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var u auth.User
	decodeBody(t, resp, &u)
	if u.ID != student.ID {
		t.Errorf("ID = %q, want %q", u.ID, student.ID)
	}
}

func TestAPI_Bank(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/bank/physics/aqa", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Subject string                   `json:"subject"`
		Board   string                   `json:"board"`
		Topics  []questionbank.TopicInfo `json:"topics"`
	}
	decodeBody(t, resp, &body)
	if body.Subject != "Physics" || body.Board != "AQA" {
		t.Errorf("board = %s/%s, want Physics/AQA", body.Subject, body.Board)
	}
	if len(body.Topics) == 0 {
		t.Error("expected topics")
	}

	resp = env.do(t, http.MethodGet, "/api/bank/chemistry/ocr", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown board status = %d, want 404", resp.StatusCode)
	}
}

func TestAPI_CreateSubject(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"valid", map[string]any{
			"qualification": "GCSE", "subject": "physics", "board": "aqa",
			"selected_topics": []string{"Power", "Efficiency", "Power"},
		}, http.StatusCreated},
		{"bad qualification", map[string]any{
			"qualification": "IB", "subject": "Physics", "board": "AQA",
			"selected_topics": []string{"Power"},
		}, http.StatusBadRequest},
		{"no topics", map[string]any{
			"qualification": "GCSE", "subject": "Physics", "board": "AQA",
			"selected_topics": []string{},
		}, http.StatusBadRequest},
		{"blank topics", map[string]any{
			"qualification": "GCSE", "subject": "Physics", "board": "AQA",
			"selected_topics": []string{"   "},
		}, http.StatusBadRequest},
		{"unknown topic", map[string]any{
			"qualification": "GCSE", "subject": "Physics", "board": "AQA",
			"selected_topics": []string{"Quantum gravity"},
		}, http.StatusUnprocessableEntity},
		{"unknown board", map[string]any{
			"qualification": "GCSE", "subject": "Chemistry", "board": "OCR",
			"selected_topics": []string{"Atoms"},
		}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			resp := env.do(t, http.MethodPost, "/api/subjects", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want != http.StatusCreated {
				return
			}

			var sub progress.Subject
			decodeBody(t, resp, &sub)
			if sub.Name != "Physics" || sub.Board != "AQA" {
				t.Errorf("subject = %s/%s, want canonical Physics/AQA", sub.Name, sub.Board)
			}
			if len(sub.SelectedTopics) != 2 {
				t.Errorf("SelectedTopics = %v, want duplicates removed", sub.SelectedTopics)
			}

			rows, err := env.store.ListTopicProgress(context.Background(), student.ID)
			if err != nil {
				t.Fatalf("ListTopicProgress() error = %v", err)
			}
			if len(rows) != 2 {
				t.Errorf("progress rows = %d, want 2", len(rows))
			}
		})
	}
}

func TestAPI_SubjectLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/subjects", map[string]any{
		"qualification": "GCSE", "subject": "Physics", "board": "AQA",
		"selected_topics": []string{"Power"},
	})
	var sub progress.Subject
	decodeBody(t, resp, &sub)

	resp = env.do(t, http.MethodPut, "/api/subjects/"+sub.ID+"/topics", map[string]any{
		"selected_topics": []string{"Power", "Efficiency"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}
	var updated progress.Subject
	decodeBody(t, resp, &updated)
	if !updated.HasTopic("Efficiency") {
		t.Errorf("SelectedTopics = %v, want Efficiency added", updated.SelectedTopics)
	}

	resp = env.do(t, http.MethodPut, "/api/subjects/"+sub.ID+"/topics", map[string]any{
		"selected_topics": []string{" ", "\t"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank topics update status = %d, want 400", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/subjects", nil)
	var list struct {
		Subjects []progress.Subject `json:"subjects"`
	}
	decodeBody(t, resp, &list)
	if len(list.Subjects) != 1 {
		t.Fatalf("subjects = %d, want 1", len(list.Subjects))
	}
	if got := list.Subjects[0].SelectedTopics; len(got) != 2 {
		t.Errorf("SelectedTopics = %v, want the earlier Power and Efficiency", got)
	}

	resp = env.do(t, http.MethodDelete, "/api/subjects/"+sub.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp = env.do(t, http.MethodDelete, "/api/subjects/"+sub.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestAPI_OtherUsersSubjectIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	other, err := env.store.CreateSubject(context.Background(), progress.Subject{
		UserID: "someone-else", Qualification: progress.QualificationGCSE,
		Name: "Physics", Board: "AQA", SelectedTopics: []string{"Power"},
	})
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}

	resp := env.do(t, http.MethodPut, "/api/subjects/"+other.ID+"/topics", map[string]any{
		"selected_topics": []string{"Efficiency"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAPI_Settings(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/settings", nil)
	var got struct {
		MockExamDate  *string `json:"mock_exam_date"`
		DaysUntilExam *int    `json:"days_until_exam"`
	}
	decodeBody(t, resp, &got)
	if got.MockExamDate != nil || got.DaysUntilExam != nil {
		t.Errorf("empty settings = %+v, want nulls", got)
	}

	resp = env.do(t, http.MethodPut, "/api/settings", map[string]any{"mock_exam_date": "2099-06-01"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp, &got)
	if got.MockExamDate == nil || *got.MockExamDate != "2099-06-01" {
		t.Errorf("mock_exam_date = %v, want 2099-06-01", got.MockExamDate)
	}
	if got.DaysUntilExam == nil || *got.DaysUntilExam <= 0 {
		t.Errorf("days_until_exam = %v, want positive", got.DaysUntilExam)
	}

	resp = env.do(t, http.MethodPut, "/api/settings", map[string]any{"mock_exam_date": "01/06/2099"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/settings", map[string]any{"mock_exam_date": nil})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", resp.StatusCode)
	}
	settings, err := env.store.GetSettings(context.Background(), student.ID)
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if settings.MockExamDate != nil {
		t.Errorf("MockExamDate = %v, want cleared", settings.MockExamDate)
	}
}

func TestAPI_Dashboard(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sub, err := env.store.CreateSubject(ctx, progress.Subject{
		UserID: student.ID, Qualification: progress.QualificationGCSE,
		Name: "Physics", Board: "AQA", SelectedTopics: []string{"Power"},
	})
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}
	for _, correct := range []bool{true, false} {
		if _, err := env.store.MergeTopicProgress(ctx, student.ID, sub.ID, "Power", correct); err != nil {
			t.Fatalf("MergeTopicProgress() error = %v", err)
		}
	}

	resp := env.do(t, http.MethodGet, "/api/dashboard", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		OverallPercentage int         `json:"overall_percentage"`
		Notice            *api.Notice `json:"notice"`
	}
	decodeBody(t, resp, &body)
	if body.OverallPercentage != 50 {
		t.Errorf("overall_percentage = %d, want 50", body.OverallPercentage)
	}
	if body.Notice != nil {
		t.Errorf("notice = %+v, want none", body.Notice)
	}

	resp = env.do(t, http.MethodGet, "/api/dashboard/export.xlsx", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d, want 200", resp.StatusCode)
	}
	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatalf("excelize.OpenReader() error = %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex("Topics"); idx < 0 {
		t.Error("export has no Topics sheet")
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/subjects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, env.srv.URL+"/api/subjects", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight error = %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unlisted origin = %q, want empty", got)
	}
}
