// Package realtime turns store writes into push streams: a Broker carries
// change signals per topic, a Feed reloads snapshots on each signal, and a
// Combiner fans per-group answer streams into one lobby-wide view.
package realtime

import (
	"context"
	"sync"
)

// Broker carries change signals. Signals carry no payload; subscribers
// reload the snapshot they care about.
type Broker interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error)
}

// Topic names.
func LobbyTopic(lobbyID string) string {
	return "lobby:" + lobbyID
}

func GroupsTopic(lobbyID string) string {
	return "lobby:" + lobbyID + ":groups"
}

func AnswersTopic(lobbyID, groupID string) string {
	return "lobby:" + lobbyID + ":group:" + groupID + ":answers"
}

// MemoryBroker is an in-process Broker.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[chan struct{}]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every subscriber of topic. A subscriber with a signal
// already pending is skipped; one pending signal covers any number of writes.
func (b *MemoryBroker) Publish(_ context.Context, topic string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.topics[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers for signals on topic. The returned cancel func closes
// the channel and is safe to call more than once.
func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[chan struct{}]struct{})
		b.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	return ch, cancel, nil
}

// Subscribers reports how many subscribers topic has.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Offer delivers v on a channel with capacity one, replacing a value the
// reader has not taken yet. It gives up when done is closed.
func Offer[T any](ch chan T, v T, done <-chan struct{}) bool {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	}
}
