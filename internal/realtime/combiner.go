package realtime

import (
	"context"
	"sync"

	"time-attack-quiz/internal/domain"
)

// AnswerWatcher streams one group's answers.
type AnswerWatcher interface {
	WatchAnswers(ctx context.Context, lobbyID, groupID string) (<-chan []domain.Answer, func(), error)
}

type groupUpdate struct {
	groupID string
	answers []domain.Answer
}

// Combiner owns the latest answer list of every group in a lobby. Per-group
// streams send their snapshots to it as messages; the combiner is the only
// writer of its map and re-emits the full combined view after each message.
// Nothing is emitted until every group has delivered its first snapshot, so
// a view never shows a group with answers it has not loaded yet.
type Combiner struct {
	groups  []domain.Group
	answers map[string][]domain.Answer
	pending map[string]struct{}
	updates chan groupUpdate
	out     chan []domain.GroupAnswers
}

// CombineAnswers watches every group's answers and emits the combined view in
// group order. With no groups it emits a single empty view.
func CombineAnswers(ctx context.Context, watcher AnswerWatcher, lobbyID string, groups []domain.Group) (<-chan []domain.GroupAnswers, func(), error) {
	c := &Combiner{
		groups:  append([]domain.Group(nil), groups...),
		answers: make(map[string][]domain.Answer, len(groups)),
		pending: make(map[string]struct{}, len(groups)),
		updates: make(chan groupUpdate),
		out:     make(chan []domain.GroupAnswers, 1),
	}

	for _, g := range c.groups {
		c.pending[g.ID] = struct{}{}
	}

	ctx, stop := context.WithCancel(ctx)
	cancels := make([]func(), 0, len(groups))
	cancelAll := func() {
		for _, cancel := range cancels {
			cancel()
		}
	}

	var forwarders sync.WaitGroup
	for _, g := range c.groups {
		ch, cancel, err := watcher.WatchAnswers(ctx, lobbyID, g.ID)
		if err != nil {
			stop()
			cancelAll()
			forwarders.Wait()
			return nil, nil, err
		}
		cancels = append(cancels, cancel)
		forwarders.Add(1)
		go func(groupID string) {
			defer forwarders.Done()
			for answers := range ch {
				select {
				case c.updates <- groupUpdate{groupID: groupID, answers: answers}:
				case <-ctx.Done():
					return
				}
			}
		}(g.ID)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(c.out)
		c.run(ctx)
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			cancelAll()
			forwarders.Wait()
			<-done
			for range c.out {
			}
		})
	}
	return c.out, cancel, nil
}

func (c *Combiner) run(ctx context.Context) {
	if len(c.groups) == 0 {
		Offer(c.out, []domain.GroupAnswers{}, ctx.Done())
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-c.updates:
			c.answers[u.groupID] = u.answers
			delete(c.pending, u.groupID)
			if len(c.pending) > 0 {
				continue
			}
			if !Offer(c.out, c.view(), ctx.Done()) {
				return
			}
		}
	}
}

// view copies the current state so emitted values are never mutated later.
func (c *Combiner) view() []domain.GroupAnswers {
	view := make([]domain.GroupAnswers, 0, len(c.groups))
	for _, g := range c.groups {
		answers := c.answers[g.ID]
		view = append(view, domain.GroupAnswers{
			GroupID:   g.ID,
			GroupName: g.Name,
			Answers:   append([]domain.Answer{}, answers...),
		})
	}
	return view
}
