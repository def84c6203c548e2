package app

import (
	"context"

	"time-attack-quiz/internal/domain"
)

// Store abstracts the document store holding lobbies, groups and answers
// (in-memory, Redis, SQL, MongoDB).
type Store interface {
	CreateLobby(ctx context.Context, lobby domain.Lobby) error
	GetLobby(ctx context.Context, lobbyID string) (domain.Lobby, error)
	// TransitionLobby replaces the lobby only if its stored status is still from.
	// It returns domain.ErrInvalidTransition when another writer got there first.
	TransitionLobby(ctx context.Context, lobby domain.Lobby, from domain.LobbyStatus) error
	ListLobbies(ctx context.Context, status domain.LobbyStatus) ([]domain.Lobby, error)

	CreateGroup(ctx context.Context, group domain.Group) error
	GetGroup(ctx context.Context, lobbyID, groupID string) (domain.Group, error)
	ListGroups(ctx context.Context, lobbyID string) ([]domain.Group, error)

	// AppendAnswer stores the answer, assigning AnsweredAt, and returns the stored copy.
	// It returns domain.ErrLobbyNotPlaying unless the lobby is playing at the
	// moment of the append, checked atomically with TransitionLobby.
	AppendAnswer(ctx context.Context, lobbyID string, answer domain.Answer) (domain.Answer, error)
	ListAnswers(ctx context.Context, lobbyID, groupID string) ([]domain.Answer, error)
}

// QuizRepository loads question sets (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCatalog lists the available question sets.
type QuizCatalog interface {
	ListQuizzes(ctx context.Context) ([]string, error)
}

// Publisher emits domain events to interested services.
type Publisher interface {
	Publish(eventType string, payload interface{}) error
}

// Metrics records service activity.
type Metrics interface {
	LobbyTransitioned(status domain.LobbyStatus)
	GroupJoined()
	AnswerRecorded(correct bool)
}

type nopMetrics struct{}

func (nopMetrics) LobbyTransitioned(domain.LobbyStatus) {}
func (nopMetrics) GroupJoined()                         {}
func (nopMetrics) AnswerRecorded(bool)                  {}
