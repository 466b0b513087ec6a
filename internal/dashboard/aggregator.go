package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/p-n-ai/pai-revise/internal/auth"
	"github.com/p-n-ai/pai-revise/internal/platform/cache"
	"github.com/p-n-ai/pai-revise/internal/progress"
)

const defaultCacheTTL = 60 * time.Second

// Cache is the subset of the cache client the aggregator uses.
type Cache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// TopicSummary is one topic's progress on the dashboard.
type TopicSummary struct {
	Name       string `json:"name"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
	Mastered   bool   `json:"mastered"`
}

// SubjectSummary is one subject's progress on the dashboard.
type SubjectSummary struct {
	SubjectID     string         `json:"subject_id"`
	Subject       string         `json:"subject"`
	Board         string         `json:"board"`
	Qualification string         `json:"qualification"`
	Percentage    int            `json:"percentage"`
	Mastery       MasteryCount   `json:"mastery"`
	Topics        []TopicSummary `json:"topics"`
}

// Summary is the dashboard for one user.
type Summary struct {
	UserID            string           `json:"user_id"`
	Subjects          []SubjectSummary `json:"subjects"`
	OverallPercentage int              `json:"overall_percentage"`
	Mastery           MasteryCount     `json:"mastery"`
	MockExamDate      string           `json:"mock_exam_date,omitempty"`
	// DaysUntilExam is nil when no future exam date is set.
	DaysUntilExam *int      `json:"days_until_exam"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Config holds dependencies for the aggregator.
type Config struct {
	Store progress.Store
	Cache Cache         // optional
	TTL   time.Duration // cache lifetime (default 60s)
	Now   func() time.Time
}

// Aggregator builds dashboards from the progress store.
type Aggregator struct {
	store progress.Store
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewAggregator creates a dashboard aggregator.
func NewAggregator(cfg Config) *Aggregator {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: cfg.Store, cache: cfg.Cache, ttl: ttl, now: now}
}

// Summary returns the user's dashboard. On a store read failure it returns
// an empty summary together with the error.
func (a *Aggregator) Summary(ctx context.Context, user auth.User) (Summary, error) {
	key := cacheKey(user.ID)

	var sum Summary
	hit := false
	if a.cache != nil {
		var err error
		hit, err = a.cache.GetJSON(ctx, key, &sum)
		if err != nil {
			slog.Warn("dashboard cache read failed", "user_id", user.ID, "error", err)
			hit = false
		}
	}

	if !hit {
		var err error
		sum, err = a.build(ctx, user.ID)
		if err != nil {
			slog.Error("failed to build dashboard", "user_id", user.ID, "error", err)
			return a.empty(user.ID), err
		}
		if a.cache != nil {
			if err := a.cache.SetJSON(ctx, key, sum, a.ttl); err != nil {
				slog.Warn("dashboard cache write failed", "user_id", user.ID, "error", err)
			}
		}
	}

	// The countdown depends on the clock, so it is never served from cache.
	sum.DaysUntilExam = nil
	if days, ok := DaysUntilExam(sum.MockExamDate, a.now()); ok {
		sum.DaysUntilExam = &days
	}
	return sum, nil
}

// ProgressChanged drops the cached dashboard for the user.
func (a *Aggregator) ProgressChanged(ctx context.Context, userID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, cacheKey(userID)); err != nil {
		slog.Warn("dashboard cache invalidation failed", "user_id", userID, "error", err)
	}
}

func (a *Aggregator) build(ctx context.Context, userID string) (Summary, error) {
	subjects, err := a.store.ListSubjects(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("list subjects: %w", err)
	}
	rows, err := a.store.ListTopicProgress(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("list topic progress: %w", err)
	}
	settings, err := a.store.GetSettings(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("get settings: %w", err)
	}

	bySubject := make(map[string][]progress.TopicProgress)
	for _, r := range rows {
		bySubject[r.SubjectID] = append(bySubject[r.SubjectID], r)
	}

	sum := a.empty(userID)
	var all []progress.TopicProgress
	var total int
	for _, sub := range subjects {
		stored := bySubject[sub.ID]
		all = append(all, stored...)
		subRows := withSelectedTopics(sub, stored)

		ss := SubjectSummary{
			SubjectID:     sub.ID,
			Subject:       sub.Name,
			Board:         sub.Board,
			Qualification: string(sub.Qualification),
			Percentage:    SubjectPercentage(stored),
			Mastery:       Mastery(stored),
			Topics:        make([]TopicSummary, 0, len(subRows)),
		}
		for _, r := range subRows {
			ss.Topics = append(ss.Topics, TopicSummary{
				Name:       r.TopicName,
				Completed:  r.CompletedQuestions,
				Total:      r.TotalQuestions,
				Percentage: int(math.Round(TopicPercentage(r))),
				Mastered:   IsMastered(r),
			})
		}
		total += ss.Percentage
		sum.Subjects = append(sum.Subjects, ss)
	}

	if len(sum.Subjects) > 0 {
		sum.OverallPercentage = int(math.Round(float64(total) / float64(len(sum.Subjects))))
	}
	sum.Mastery = Mastery(all)
	if settings.MockExamDate != nil {
		sum.MockExamDate = settings.MockExamDate.Format(time.DateOnly)
	}
	return sum, nil
}

func (a *Aggregator) empty(userID string) Summary {
	return Summary{
		UserID:      userID,
		Subjects:    []SubjectSummary{},
		GeneratedAt: a.now().UTC(),
	}
}

// withSelectedTopics orders a subject's rows by its selected topics and adds
// an empty row for any selected topic that has none yet. Rows for topics no
// longer selected are kept at the end. The empty rows are for display only
// and never count towards percentages or mastery.
func withSelectedTopics(sub progress.Subject, rows []progress.TopicProgress) []progress.TopicProgress {
	byTopic := make(map[string]progress.TopicProgress, len(rows))
	for _, r := range rows {
		byTopic[r.TopicName] = r
	}

	out := make([]progress.TopicProgress, 0, len(sub.SelectedTopics)+len(rows))
	seen := make(map[string]bool, len(sub.SelectedTopics))
	for _, t := range sub.SelectedTopics {
		if seen[t] {
			continue
		}
		seen[t] = true
		r, ok := byTopic[t]
		if !ok {
			r = progress.TopicProgress{UserID: sub.UserID, SubjectID: sub.ID, TopicName: t}
		}
		out = append(out, r)
	}
	for _, r := range rows {
		if !seen[r.TopicName] {
			out = append(out, r)
		}
	}
	return out
}

func cacheKey(userID string) string {
	return cache.Key("dashboard", userID)
}
