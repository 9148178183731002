package tasks

import "testing"

func titles(ts ...string) []Task {
	out := make([]Task, 0, len(ts))
	for i, title := range ts {
		out = append(out, Task{ID: string(rune('a' + i)), Title: title})
	}
	return out
}

func TestMatchTaskByName(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Task
		search     string
		wantTitle  string
		wantTier   MatchTier
		wantCount  int
	}{
		{
			name:       "title contains search",
			candidates: titles("Design store layout", "Hire staff for Q1"),
			search:     "Hire staff",
			wantTitle:  "Hire staff for Q1",
			wantTier:   TierTitleContains,
			wantCount:  1,
		},
		{
			name:       "exact beats contains",
			candidates: titles("Hire staff for Q1", "hire STAFF"),
			search:     "Hire staff",
			wantTitle:  "hire STAFF",
			wantTier:   TierExact,
			wantCount:  1,
		},
		{
			name:       "search contains title",
			candidates: titles("Design store layout", "Hire staff"),
			search:     "the hire staff task please",
			wantTitle:  "Hire staff",
			wantTier:   TierSearchContains,
			wantCount:  1,
		},
		{
			name:       "first in order wins and ambiguity is counted",
			candidates: titles("Hire staff for Q2", "Hire staff for Q1"),
			search:     "hire staff",
			wantTitle:  "Hire staff for Q2",
			wantTier:   TierTitleContains,
			wantCount:  2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, ok := MatchTaskByName(tc.candidates, tc.search)
			if !ok {
				t.Fatalf("MatchTaskByName() ok = false")
			}
			if m.Task.Title != tc.wantTitle || m.Tier != tc.wantTier || m.Candidates != tc.wantCount {
				t.Fatalf("MatchTaskByName() = %q/%s/%d, want %q/%s/%d",
					m.Task.Title, m.Tier, m.Candidates, tc.wantTitle, tc.wantTier, tc.wantCount)
			}
			if m.Ambiguous() != (tc.wantCount > 1) {
				t.Fatalf("Ambiguous() = %v", m.Ambiguous())
			}
		})
	}
}

func TestMatchTaskByNameNoMatch(t *testing.T) {
	if _, ok := MatchTaskByName(titles("Water plants"), "Hire staff"); ok {
		t.Fatalf("MatchTaskByName() ok = true, want false")
	}
	if _, ok := MatchTaskByName(titles("Water plants"), "   "); ok {
		t.Fatalf("MatchTaskByName() with blank name ok = true, want false")
	}
}
