package tasks

import (
	"errors"
	"strings"
)

var ErrAmbiguousTaskName = errors.New("task name matches more than one task")

type MatchTier string

const (
	TierExact          MatchTier = "exact"
	TierTitleContains  MatchTier = "title_contains"
	TierSearchContains MatchTier = "search_contains"
)

// Match is the winner of a name lookup. Candidates counts every task in the winning tier.
type Match struct {
	Task       Task
	Tier       MatchTier
	Candidates int
}

func (m Match) Ambiguous() bool { return m.Candidates > 1 }

// MatchTaskByName picks a task for a free-text name. Tiers are tried in order: exact
// case-insensitive title, title containing the name, name containing the title. Within a tier
// the first task in the given order wins.
func MatchTaskByName(candidates []Task, name string) (Match, bool) {
	search := strings.ToLower(strings.TrimSpace(name))
	if search == "" {
		return Match{}, false
	}
	tiers := []struct {
		tier MatchTier
		fn   func(title string) bool
	}{
		{TierExact, func(title string) bool { return title == search }},
		{TierTitleContains, func(title string) bool { return strings.Contains(title, search) }},
		{TierSearchContains, func(title string) bool { return title != "" && strings.Contains(search, title) }},
	}
	for _, tier := range tiers {
		var m Match
		for _, t := range candidates {
			if !tier.fn(strings.ToLower(strings.TrimSpace(t.Title))) {
				continue
			}
			if m.Candidates == 0 {
				m.Task = t
				m.Tier = tier.tier
			}
			m.Candidates++
		}
		if m.Candidates > 0 {
			return m, true
		}
	}
	return Match{}, false
}
