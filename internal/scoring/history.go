package scoring

import (
	"fmt"
	"time"

	"time-attack-quiz/internal/domain"
)

// History samples the ranking once per whole minute from the start of the
// lobby up to ceil(duration/60) minutes inclusive. A group's score at minute m
// counts the answers recorded at or before start+m minutes.
func History(lobby domain.Lobby, groups []domain.GroupAnswers) []domain.HistorySample {
	if lobby.StartedAt == nil || len(groups) == 0 {
		return []domain.HistorySample{}
	}
	start := *lobby.StartedAt
	minutes := ceilMinutes(lobby.DurationSeconds)

	samples := make([]domain.HistorySample, 0, minutes+1)
	for m := 0; m <= minutes; m++ {
		at := start.Add(time.Duration(m) * time.Minute)
		entries := make([]domain.RankingEntry, 0, len(groups))
		for _, g := range groups {
			entries = append(entries, domain.RankingEntry{
				GroupID: g.GroupID,
				Name:    g.GroupName,
				Score:   scoreAt(g.Answers, at),
			})
		}
		samples = append(samples, domain.HistorySample{
			Minute:  m,
			Label:   fmt.Sprintf("%d:00", m),
			At:      at,
			Ranking: rankEntries(entries),
		})
	}
	return samples
}

func ceilMinutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

// scoreAt sums the answers placed at or before t. Answers without a
// timestamp cannot be placed and are skipped.
func scoreAt(answers []domain.Answer, t time.Time) int {
	total := 0
	for _, a := range answers {
		if a.AnsweredAt.IsZero() || a.AnsweredAt.After(t) {
			continue
		}
		total += a.ScoreChange
	}
	return total
}
