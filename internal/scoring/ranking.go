package scoring

import (
	"sort"

	"time-attack-quiz/internal/domain"
)

// Rank orders aggregates by raw score, highest first. Ties keep the order
// the aggregates were supplied in and still get distinct sequential ranks.
func Rank(aggregates []domain.GroupAggregate) []domain.RankingEntry {
	entries := make([]domain.RankingEntry, 0, len(aggregates))
	for _, a := range aggregates {
		entries = append(entries, domain.RankingEntry{
			GroupID: a.GroupID,
			Name:    a.Name,
			Score:   a.RawScore,
		})
	}
	return rankEntries(entries)
}

// Standings aggregates and ranks groups in one step.
func Standings(groups []domain.GroupAnswers) ([]domain.GroupAggregate, []domain.RankingEntry) {
	aggregates := AggregateAll(groups)
	return aggregates, Rank(aggregates)
}

func rankEntries(entries []domain.RankingEntry) []domain.RankingEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
