package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"time-attack-quiz/internal/domain"
)

// Store is the part of the document store a Feed reads and appends to.
type Store interface {
	GetLobby(ctx context.Context, lobbyID string) (domain.Lobby, error)
	ListGroups(ctx context.Context, lobbyID string) ([]domain.Group, error)
	ListAnswers(ctx context.Context, lobbyID, groupID string) ([]domain.Answer, error)
	AppendAnswer(ctx context.Context, lobbyID string, answer domain.Answer) (domain.Answer, error)
}

// Feed exposes subscribe/write access to lobbies, groups and answers.
// Every stream starts with the current snapshot and delivers a fresh
// snapshot after each change; readers that fall behind only see the latest.
type Feed struct {
	store  Store
	broker Broker
}

func NewFeed(store Store, broker Broker) *Feed {
	return &Feed{store: store, broker: broker}
}

// WatchLobby streams the lobby. A nil value means the lobby does not exist.
func (f *Feed) WatchLobby(ctx context.Context, lobbyID string) (<-chan *domain.Lobby, func(), error) {
	return watch(ctx, f.broker, LobbyTopic(lobbyID), func(ctx context.Context) (*domain.Lobby, error) {
		lobby, err := f.store.GetLobby(ctx, lobbyID)
		if errors.Is(err, domain.ErrLobbyNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &lobby, nil
	})
}

// WatchGroups streams the groups of a lobby in creation order.
func (f *Feed) WatchGroups(ctx context.Context, lobbyID string) (<-chan []domain.Group, func(), error) {
	return watch(ctx, f.broker, GroupsTopic(lobbyID), func(ctx context.Context) ([]domain.Group, error) {
		return f.store.ListGroups(ctx, lobbyID)
	})
}

// WatchAnswers streams one group's answers in submission order.
func (f *Feed) WatchAnswers(ctx context.Context, lobbyID, groupID string) (<-chan []domain.Answer, func(), error) {
	return watch(ctx, f.broker, AnswersTopic(lobbyID, groupID), func(ctx context.Context) ([]domain.Answer, error) {
		return f.store.ListAnswers(ctx, lobbyID, groupID)
	})
}

// WriteAnswer appends an answer; the store assigns its timestamp.
func (f *Feed) WriteAnswer(ctx context.Context, lobbyID string, answer domain.Answer) (domain.Answer, error) {
	stored, err := f.store.AppendAnswer(ctx, lobbyID, answer)
	if err != nil {
		return domain.Answer{}, err
	}
	f.notify(ctx, AnswersTopic(lobbyID, stored.GroupID))
	return stored, nil
}

// LobbyChanged signals lobby watchers after a lobby write.
func (f *Feed) LobbyChanged(ctx context.Context, lobbyID string) {
	f.notify(ctx, LobbyTopic(lobbyID))
}

// GroupsChanged signals group watchers after a group write.
func (f *Feed) GroupsChanged(ctx context.Context, lobbyID string) {
	f.notify(ctx, GroupsTopic(lobbyID))
}

func (f *Feed) notify(ctx context.Context, topic string) {
	if err := f.broker.Publish(ctx, topic); err != nil {
		log.Printf("realtime: publish %s: %v", topic, err)
	}
}

// watch subscribes to topic and reloads a snapshot on every signal. The
// cancel func waits for the reload loop to stop and closes the channel, so
// nothing is delivered once it returns.
func watch[T any](ctx context.Context, broker Broker, topic string, load func(context.Context) (T, error)) (<-chan T, func(), error) {
	signals, unsubscribe, err := broker.Subscribe(ctx, topic)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	ctx, stop := context.WithCancel(ctx)
	out := make(chan T, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		deliver := func() bool {
			v, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("realtime: load %s: %v", topic, err)
				}
				return ctx.Err() == nil
			}
			return Offer(out, v, ctx.Done())
		}
		if !deliver() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				if !deliver() {
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			unsubscribe()
			<-done
			for range out {
			}
		})
	}
	return out, cancel, nil
}
