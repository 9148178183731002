// Package effort scores how many hours a task is likely to take.
package effort

import (
	"math"
	"strings"
)

// Task is the subset of task fields the estimate looks at.
type Task struct {
	Title        string
	Description  string
	Priority     string
	SubtaskCount int
}

const (
	baseHours           = 1.0
	longTitleWords      = 5
	longTitleBonus      = 0.5
	hardKeywordBonus    = 1.0
	wordsPerHour        = 50.0
	maxDescriptionHours = 2.0
	perSubtaskHours     = 0.5
	highPriorityFactor  = 1.2
)

// Estimate returns the effort in whole hours.
func Estimate(t Task) int {
	hours := baseHours

	if len(strings.Fields(t.Title)) > longTitleWords {
		hours += longTitleBonus
	}
	title := strings.ToLower(t.Title)
	if strings.Contains(title, "complex") || strings.Contains(title, "difficult") {
		hours += hardKeywordBonus
	}
	if desc := strings.TrimSpace(t.Description); desc != "" {
		words := float64(len(strings.Fields(desc)))
		hours += math.Min(words/wordsPerHour, maxDescriptionHours)
	}
	if t.SubtaskCount > 0 {
		hours += perSubtaskHours * float64(t.SubtaskCount)
	}
	if strings.EqualFold(strings.TrimSpace(t.Priority), "high") {
		hours *= highPriorityFactor
	}
	return int(math.Round(hours))
}
