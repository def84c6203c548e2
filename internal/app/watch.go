package app

import (
	"context"
	"log"
	"sync"

	"time-attack-quiz/internal/domain"
	"time-attack-quiz/internal/realtime"
)

// Watch streams the standings of a lobby. The lobby, its group list and every
// group's answers are watched; any change recomputes the standings from the
// full snapshot. The caller must invoke the returned cancel function.
func (s *LobbyService) Watch(ctx context.Context, lobbyID string) (<-chan domain.Standings, func(), error) {
	if _, err := s.store.GetLobby(ctx, lobbyID); err != nil {
		return nil, nil, err
	}
	lobbies, cancelLobby, err := s.feed.WatchLobby(ctx, lobbyID)
	if err != nil {
		return nil, nil, err
	}
	groupLists, cancelGroups, err := s.feed.WatchGroups(ctx, lobbyID)
	if err != nil {
		cancelLobby()
		return nil, nil, err
	}

	ctx, stop := context.WithCancel(ctx)
	out := make(chan domain.Standings, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)

		var (
			lobby         *domain.Lobby
			groups        []domain.Group
			view          []domain.GroupAnswers
			views         <-chan []domain.GroupAnswers
			cancelAnswers = func() {}
		)
		defer func() { cancelAnswers() }()

		for {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-lobbies:
				if !ok {
					return
				}
				if l != nil {
					lobby = l
				}
			case g, ok := <-groupLists:
				if !ok {
					return
				}
				if views != nil && sameGroups(groups, g) {
					continue
				}
				cancelAnswers()
				groups, view = g, nil
				var werr error
				views, cancelAnswers, werr = realtime.CombineAnswers(ctx, s.feed, lobbyID, g)
				if werr != nil {
					log.Printf("lobby %s: watch answers: %v", lobbyID, werr)
					cancelAnswers = func() {}
					return
				}
				continue
			case v, ok := <-views:
				if !ok {
					return
				}
				view = v
			}
			if lobby == nil || view == nil {
				continue
			}
			if !realtime.Offer(out, s.standings(*lobby, view), ctx.Done()) {
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			cancelLobby()
			cancelGroups()
			<-done
			for range out {
			}
		})
	}
	return out, cancel, nil
}

func sameGroups(a, b []domain.Group) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
