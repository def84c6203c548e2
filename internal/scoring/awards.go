package scoring

import (
	"fmt"
	"sort"
	"time"

	"time-attack-quiz/internal/domain"
)

// LateSurgeFraction is the share of the duration after which answers count
// toward the late surge award.
const LateSurgeFraction = 0.8

// Awards derives every award category over the full answer set. Categories
// are independent; a category with no eligible winner is left out.
// quiz may be the zero value when question content is unavailable.
func Awards(lobby domain.Lobby, groups []domain.GroupAnswers, quiz domain.Quiz) []domain.Award {
	awards := make([]domain.Award, 0, 5)
	if a, ok := FastestCorrect(groups); ok {
		awards = append(awards, a)
	}
	if a, ok := LateSurge(lobby, groups); ok {
		awards = append(awards, a)
	}
	if a, ok := LongestStreak(groups); ok {
		awards = append(awards, a)
	}
	return append(awards, QuestionAwards(QuestionStats(groups, len(quiz.Questions)), quiz)...)
}

// FastestCorrect finds the single correct answer with the lowest answer time.
// The first group in iteration order wins a tie.
func FastestCorrect(groups []domain.GroupAnswers) (domain.Award, bool) {
	var (
		best  *domain.Answer
		owner domain.GroupAnswers
	)
	for _, g := range groups {
		for i := range g.Answers {
			a := &g.Answers[i]
			if !a.IsCorrect {
				continue
			}
			if best == nil || a.AnswerTimeMs < best.AnswerTimeMs {
				best = a
				owner = g
			}
		}
	}
	if best == nil {
		return domain.Award{}, false
	}
	return domain.Award{
		Kind:      domain.AwardFastestCorrect,
		Title:     "Fastest Correct Answer",
		GroupID:   owner.GroupID,
		GroupName: owner.GroupName,
		Value:     float64(best.AnswerTimeMs),
		Detail:    fmt.Sprintf("%.1fs", float64(best.AnswerTimeMs)/1000),
	}, true
}

// LateSurgeStart is the instant from which answers count toward the late surge.
func LateSurgeStart(lobby domain.Lobby) (time.Time, bool) {
	if lobby.StartedAt == nil {
		return time.Time{}, false
	}
	window := time.Duration(float64(lobby.DurationSeconds) * LateSurgeFraction * float64(time.Second))
	return lobby.StartedAt.Add(window), true
}

// LateSurge awards the group that scored the most in the final fifth of the
// game, provided that score is positive.
func LateSurge(lobby domain.Lobby, groups []domain.GroupAnswers) (domain.Award, bool) {
	from, ok := LateSurgeStart(lobby)
	if !ok {
		return domain.Award{}, false
	}
	bestScore := 0
	var winner *domain.GroupAnswers
	for i := range groups {
		score := 0
		for _, a := range groups[i].Answers {
			if a.AnsweredAt.IsZero() || a.AnsweredAt.Before(from) {
				continue
			}
			score += a.ScoreChange
		}
		if winner == nil || score > bestScore {
			winner = &groups[i]
			bestScore = score
		}
	}
	if winner == nil || bestScore <= 0 {
		return domain.Award{}, false
	}
	return domain.Award{
		Kind:      domain.AwardLateSurge,
		Title:     "Last Spurt",
		GroupID:   winner.GroupID,
		GroupName: winner.GroupName,
		Value:     float64(bestScore),
		Detail:    fmt.Sprintf("+%d", bestScore),
	}, true
}

// LongestStreak awards the group with the longest run of correct answers.
// A run of one is not a streak.
func LongestStreak(groups []domain.GroupAnswers) (domain.Award, bool) {
	var best domain.GroupAggregate
	for _, g := range groups {
		agg := Aggregate(g)
		if agg.MaxStreak > best.MaxStreak {
			best = agg
		}
	}
	if best.MaxStreak <= 1 {
		return domain.Award{}, false
	}
	return domain.Award{
		Kind:      domain.AwardLongestStreak,
		Title:     "Longest Streak",
		GroupID:   best.GroupID,
		GroupName: best.Name,
		Value:     float64(best.MaxStreak),
		Detail:    fmt.Sprintf("%d in a row", best.MaxStreak),
	}, true
}

// QuestionStats computes the correct rate per answered question, ordered by
// question index. When questionCount is positive, answers to indices outside
// the question set are ignored.
func QuestionStats(groups []domain.GroupAnswers, questionCount int) []domain.QuestionStat {
	byIndex := make(map[int]*domain.QuestionStat)
	for _, g := range groups {
		for _, a := range g.Answers {
			if a.QuestionIndex < 0 || (questionCount > 0 && a.QuestionIndex >= questionCount) {
				continue
			}
			stat, ok := byIndex[a.QuestionIndex]
			if !ok {
				stat = &domain.QuestionStat{QuestionIndex: a.QuestionIndex}
				byIndex[a.QuestionIndex] = stat
			}
			stat.Total++
			if a.IsCorrect {
				stat.Correct++
			}
		}
	}

	stats := make([]domain.QuestionStat, 0, len(byIndex))
	for _, stat := range byIndex {
		stat.CorrectRate = float64(stat.Correct) / float64(stat.Total)
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].QuestionIndex < stats[j].QuestionIndex
	})
	return stats
}

// QuestionAwards picks the easiest (highest correct rate) and hardest (lowest
// correct rate) questions. Ties go to the lower question index. A single
// answered question is both.
func QuestionAwards(stats []domain.QuestionStat, quiz domain.Quiz) []domain.Award {
	if len(stats) == 0 {
		return nil
	}
	easiest, hardest := stats[0], stats[0]
	for _, s := range stats[1:] {
		if s.CorrectRate > easiest.CorrectRate {
			easiest = s
		}
		if s.CorrectRate < hardest.CorrectRate {
			hardest = s
		}
	}
	return []domain.Award{
		questionAward(domain.AwardEasiestQuestion, "Everyone's Favourite", easiest, quiz),
		questionAward(domain.AwardHardestQuestion, "Toughest Question", hardest, quiz),
	}
}

func questionAward(kind domain.AwardKind, title string, stat domain.QuestionStat, quiz domain.Quiz) domain.Award {
	index := stat.QuestionIndex
	award := domain.Award{
		Kind:          kind,
		Title:         title,
		QuestionIndex: &index,
		Value:         stat.CorrectRate,
		Detail:        fmt.Sprintf("correct rate %.0f%%", stat.CorrectRate*100),
	}
	if quiz.HasQuestion(index) {
		award.Question = quiz.Questions[index].Question
	}
	return award
}
