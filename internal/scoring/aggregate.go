// Package scoring derives scores, rankings, history and awards from answer
// snapshots. Every function is pure: callers recompute from the latest
// snapshot on each change instead of maintaining running totals.
package scoring

import "time-attack-quiz/internal/domain"

// Aggregate reduces one group's answers, in submission order, to its score summary.
func Aggregate(group domain.GroupAnswers) domain.GroupAggregate {
	agg := domain.GroupAggregate{
		GroupID: group.GroupID,
		Name:    group.GroupName,
	}
	streak := 0
	for _, a := range group.Answers {
		agg.RawScore += a.ScoreChange
		agg.TotalCount++
		if a.IsCorrect {
			agg.CorrectCount++
			streak++
			if streak > agg.MaxStreak {
				agg.MaxStreak = streak
			}
		} else {
			streak = 0
		}
	}
	agg.DisplayScore = DisplayScore(agg.RawScore)
	if agg.TotalCount > 0 {
		agg.Accuracy = float64(agg.CorrectCount) / float64(agg.TotalCount)
	}
	return agg
}

// AggregateAll aggregates every group, keeping the supplied order.
func AggregateAll(groups []domain.GroupAnswers) []domain.GroupAggregate {
	out := make([]domain.GroupAggregate, 0, len(groups))
	for _, g := range groups {
		out = append(out, Aggregate(g))
	}
	return out
}

// DisplayScore floors a raw score at zero for showing to the group itself.
func DisplayScore(raw int) int {
	if raw < 0 {
		return 0
	}
	return raw
}

// SumScore is the total score delta of answers.
func SumScore(answers []domain.Answer) int {
	total := 0
	for _, a := range answers {
		total += a.ScoreChange
	}
	return total
}
