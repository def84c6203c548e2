package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker carries change signals over Redis pub/sub so watchers on one
// instance see writes made by another.
type Broker struct {
	client *redis.Client
	prefix string
}

func NewBroker(client *redis.Client, prefix string) *Broker {
	return &Broker{client: client, prefix: prefix}
}

func (b *Broker) Publish(ctx context.Context, topic string) error {
	if err := b.client.Publish(ctx, b.prefix+topic, "1").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so a publish
// made after Subscribe returns is never missed. Bursts of messages collapse
// into one pending signal.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.prefix+topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	messages := pubsub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}
