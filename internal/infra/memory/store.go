package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"time-attack-quiz/internal/domain"
)

// Store is an in-memory implementation of app.Store.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	lobbies map[string]domain.Lobby
	groups  map[string][]domain.Group
	answers map[string][]domain.Answer
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock allows deterministic answer timestamps in tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		now:     now,
		lobbies: make(map[string]domain.Lobby),
		groups:  make(map[string][]domain.Group),
		answers: make(map[string][]domain.Answer),
	}
}

func (s *Store) CreateLobby(_ context.Context, lobby domain.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobbies[lobby.ID] = lobby
	return nil
}

func (s *Store) GetLobby(_ context.Context, lobbyID string) (domain.Lobby, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobby, ok := s.lobbies[lobbyID]
	if !ok {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	return lobby, nil
}

func (s *Store) TransitionLobby(_ context.Context, lobby domain.Lobby, from domain.LobbyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.lobbies[lobby.ID]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	if current.Status != from {
		return domain.ErrInvalidTransition
	}
	s.lobbies[lobby.ID] = lobby
	return nil
}

func (s *Store) ListLobbies(_ context.Context, status domain.LobbyStatus) ([]domain.Lobby, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Lobby, 0)
	for _, lobby := range s.lobbies {
		if status == "" || lobby.Status == status {
			out = append(out, lobby)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateGroup(_ context.Context, group domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[group.LobbyID]; !ok {
		return domain.ErrLobbyNotFound
	}
	s.groups[group.LobbyID] = append(s.groups[group.LobbyID], group)
	return nil
}

func (s *Store) GetGroup(_ context.Context, lobbyID, groupID string) (domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups[lobbyID] {
		if g.ID == groupID {
			return g, nil
		}
	}
	return domain.Group{}, domain.ErrGroupNotFound
}

func (s *Store) ListGroups(_ context.Context, lobbyID string) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Group{}, s.groups[lobbyID]...), nil
}

// AppendAnswer stamps the answer with the store clock. Timestamps never go
// backwards within a group so submission order and time order agree. The
// lobby must still be playing when the answer is appended.
func (s *Store) AppendAnswer(_ context.Context, lobbyID string, answer domain.Answer) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lobby, ok := s.lobbies[lobbyID]
	if !ok {
		return domain.Answer{}, domain.ErrLobbyNotFound
	}
	if lobby.Status != domain.StatusPlaying {
		return domain.Answer{}, domain.ErrLobbyNotPlaying
	}
	key := answersKey(lobbyID, answer.GroupID)
	existing := s.answers[key]
	answer.AnsweredAt = s.now()
	if n := len(existing); n > 0 && answer.AnsweredAt.Before(existing[n-1].AnsweredAt) {
		answer.AnsweredAt = existing[n-1].AnsweredAt
	}
	s.answers[key] = append(existing, answer)
	return answer, nil
}

func (s *Store) ListAnswers(_ context.Context, lobbyID, groupID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Answer{}, s.answers[answersKey(lobbyID, groupID)]...), nil
}

func answersKey(lobbyID, groupID string) string {
	return lobbyID + "/" + groupID
}
