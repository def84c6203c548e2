package domain

import "time"

// Lobby is one competition instance with its timing and scoring configuration.
type Lobby struct {
	ID              string      `json:"id"`
	Status          LobbyStatus `json:"status"`
	QuizID          string      `json:"quizId"`
	CreatedAt       time.Time   `json:"createdAt"`
	StartedAt       *time.Time  `json:"startedAt"`
	FinishedAt      *time.Time  `json:"finishedAt"`
	DurationSeconds int         `json:"durationSeconds"`
	PointsCorrect   int         `json:"pointsCorrect"`
	PointsIncorrect int         `json:"pointsIncorrect"`
}

// Group is a participating team. Groups are immutable once created.
type Group struct {
	ID        string    `json:"id"`
	LobbyID   string    `json:"lobbyId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Answer is one recorded response. Answers are append-only.
type Answer struct {
	ID             string    `json:"id"`
	GroupID        string    `json:"groupId"`
	QuestionIndex  int       `json:"questionIndex"`
	SelectedAnswer int       `json:"selectedAnswer"`
	CorrectAnswer  int       `json:"correctAnswer"`
	IsCorrect      bool      `json:"isCorrect"`
	AnsweredAt     time.Time `json:"answeredAt"`
	AnswerTimeMs   int64     `json:"answerTimeMs"`
	ScoreChange    int       `json:"scoreChange"`
}

// AnswerSubmission models the scoring signal from clients.
type AnswerSubmission struct {
	QuestionIndex  int   `json:"questionIndex"`
	SelectedAnswer int   `json:"selectedAnswer"`
	AnswerTimeMs   int64 `json:"answerTimeMs"`
}

// GroupAnswers pairs a group with its answers in submission order.
type GroupAnswers struct {
	GroupID   string   `json:"groupId"`
	GroupName string   `json:"groupName"`
	Answers   []Answer `json:"answers"`
}

// GroupAggregate is the derived score summary of one group.
type GroupAggregate struct {
	GroupID      string  `json:"groupId"`
	Name         string  `json:"name"`
	RawScore     int     `json:"rawScore"`
	DisplayScore int     `json:"displayScore"`
	CorrectCount int     `json:"correctCount"`
	TotalCount   int     `json:"totalCount"`
	MaxStreak    int     `json:"maxStreak"`
	Accuracy     float64 `json:"accuracy"`
}

// RankingEntry is a group's position in the ranking. Rank is 1-based and unique.
type RankingEntry struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Rank    int    `json:"rank"`
}

// HistorySample is the ranking as it stood at a whole minute after start.
type HistorySample struct {
	Minute  int            `json:"minute"`
	Label   string         `json:"label"`
	At      time.Time      `json:"at"`
	Ranking []RankingEntry `json:"ranking"`
}

// AwardKind names an award category.
type AwardKind string

const (
	AwardFastestCorrect  AwardKind = "fastest_correct"
	AwardLateSurge       AwardKind = "late_surge"
	AwardLongestStreak   AwardKind = "longest_streak"
	AwardEasiestQuestion AwardKind = "easiest_question"
	AwardHardestQuestion AwardKind = "hardest_question"
)

// Award is a superlative derived from the full answer set of a lobby.
// Group awards fill GroupID/GroupName; question awards fill QuestionIndex.
type Award struct {
	Kind          AwardKind `json:"kind"`
	Title         string    `json:"title"`
	GroupID       string    `json:"groupId,omitempty"`
	GroupName     string    `json:"groupName,omitempty"`
	QuestionIndex *int      `json:"questionIndex,omitempty"`
	Question      string    `json:"question,omitempty"`
	Value         float64   `json:"value"`
	Detail        string    `json:"detail"`
}

// QuestionStat is the correct rate of one question across all groups.
type QuestionStat struct {
	QuestionIndex int     `json:"questionIndex"`
	Correct       int     `json:"correct"`
	Total         int     `json:"total"`
	CorrectRate   float64 `json:"correctRate"`
}

// Question is a multiple-choice question with exactly one correct choice.
type Question struct {
	Question      string   `json:"question" yaml:"question" validate:"required"`
	Choices       []string `json:"choices" yaml:"choices" validate:"min=2,dive,required"`
	CorrectAnswer int      `json:"correctAnswer" yaml:"correctAnswer" validate:"gte=0"`
	RelatedLinks  []string `json:"relatedLinks,omitempty" yaml:"relatedLinks,omitempty" validate:"dive,url"`
}

// Quiz is an ordered question set. Answers refer to questions by index.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions" validate:"dive"`
}

// HasQuestion reports whether index addresses a question of the quiz.
func (q Quiz) HasQuestion(index int) bool {
	return index >= 0 && index < len(q.Questions)
}

// Standings is the live view of a lobby pushed to clients.
type Standings struct {
	Lobby            Lobby            `json:"lobby"`
	RemainingSeconds int              `json:"remainingSeconds"`
	Groups           []GroupAggregate `json:"groups"`
	Ranking          []RankingEntry   `json:"ranking"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Results is the post-game view of a lobby.
type Results struct {
	Lobby         Lobby            `json:"lobby"`
	Groups        []GroupAggregate `json:"groups"`
	Ranking       []RankingEntry   `json:"ranking"`
	History       []HistorySample  `json:"history"`
	Awards        []Award          `json:"awards"`
	QuestionStats []QuestionStat   `json:"questionStats"`
}

// AnswerResult summarizes the outcome of a submission for the answering group.
type AnswerResult struct {
	Answer       Answer `json:"answer"`
	RawScore     int    `json:"rawScore"`
	DisplayScore int    `json:"displayScore"`
}
