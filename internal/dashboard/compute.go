// Package dashboard aggregates topic progress into per-subject percentages,
// mastery counts and the countdown to the user's mock exam.
package dashboard

import (
	"math"
	"strings"
	"time"

	"github.com/p-n-ai/pai-revise/internal/progress"
)

// MasteryThreshold is the completed/total ratio at which a topic is mastered.
const MasteryThreshold = 0.8

// MasteryCount is the number of mastered topics out of all tracked topics.
type MasteryCount struct {
	Mastered int `json:"mastered"`
	Total    int `json:"total"`
}

// TopicPercentage is completed/total*100, or 0 for an untouched topic.
func TopicPercentage(r progress.TopicProgress) float64 {
	if r.TotalQuestions <= 0 {
		return 0
	}
	return float64(r.CompletedQuestions) / float64(r.TotalQuestions) * 100
}

// IsMastered reports whether the topic meets the mastery threshold.
func IsMastered(r progress.TopicProgress) bool {
	if r.TotalQuestions <= 0 {
		return false
	}
	return float64(r.CompletedQuestions)/float64(r.TotalQuestions) >= MasteryThreshold
}

// SubjectPercentage is the rounded mean of the topic percentages.
func SubjectPercentage(rows []progress.TopicProgress) int {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += TopicPercentage(r)
	}
	return int(math.Round(sum / float64(len(rows))))
}

// Mastery counts mastered topics among rows.
func Mastery(rows []progress.TopicProgress) MasteryCount {
	m := MasteryCount{Total: len(rows)}
	for _, r := range rows {
		if IsMastered(r) {
			m.Mastered++
		}
	}
	return m
}

// DaysUntilExam returns the whole days, rounded up, from now until date.
// It reports false for an empty or malformed date and for dates not in the
// future. date is YYYY-MM-DD or RFC 3339; a bare date is taken as midnight in
// now's location.
func DaysUntilExam(date string, now time.Time) (int, bool) {
	date = strings.TrimSpace(date)
	if date == "" {
		return 0, false
	}
	exam, err := time.ParseInLocation(time.DateOnly, date, now.Location())
	if err != nil {
		exam, err = time.Parse(time.RFC3339, date)
		if err != nil {
			return 0, false
		}
	}
	return daysUntil(exam, now)
}

// DaysUntil is DaysUntilExam for an already parsed date.
func DaysUntil(exam *time.Time, now time.Time) (int, bool) {
	if exam == nil {
		return 0, false
	}
	y, m, d := exam.Date()
	return daysUntil(time.Date(y, m, d, 0, 0, 0, 0, now.Location()), now)
}

func daysUntil(exam, now time.Time) (int, bool) {
	diff := exam.Sub(now)
	if diff <= 0 {
		return 0, false
	}
	return int(math.Ceil(diff.Hours() / 24)), true
}
