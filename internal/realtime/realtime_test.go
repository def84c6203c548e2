package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"time-attack-quiz/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	lobbies map[string]domain.Lobby
	groups  map[string][]domain.Group
	answers map[string][]domain.Answer
	clock   time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lobbies: map[string]domain.Lobby{},
		groups:  map[string][]domain.Group{},
		answers: map[string][]domain.Answer{},
		clock:   time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) GetLobby(_ context.Context, lobbyID string) (domain.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lobby, ok := s.lobbies[lobbyID]
	if !ok {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	return lobby, nil
}

func (s *fakeStore) ListGroups(_ context.Context, lobbyID string) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Group{}, s.groups[lobbyID]...), nil
}

func (s *fakeStore) ListAnswers(_ context.Context, _ string, groupID string) ([]domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Answer{}, s.answers[groupID]...), nil
}

func (s *fakeStore) AppendAnswer(_ context.Context, _ string, answer domain.Answer) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(time.Second)
	answer.AnsweredAt = s.clock
	s.answers[answer.GroupID] = append(s.answers[answer.GroupID], answer)
	return answer, nil
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update")
	}
	var zero T
	return zero
}

func TestMemoryBrokerCoalescesSignals(t *testing.T) {
	broker := NewMemoryBroker()
	ch, cancel, err := broker.Subscribe(context.Background(), "t")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(context.Background(), "t"))
	require.NoError(t, broker.Publish(context.Background(), "t"))
	<-ch
	select {
	case <-ch:
		t.Fatalf("expected pending signals to coalesce")
	default:
	}

	assert.Equal(t, 1, broker.Subscribers("t"))
	cancel()
	cancel()
	assert.Equal(t, 0, broker.Subscribers("t"))
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchLobbyReportsMissingAsNil(t *testing.T) {
	store := newFakeStore()
	feed := NewFeed(store, NewMemoryBroker())

	ch, cancel, err := feed.WatchLobby(context.Background(), "nope")
	require.NoError(t, err)
	defer cancel()
	assert.Nil(t, receive(t, ch))

	store.mu.Lock()
	store.lobbies["nope"] = domain.Lobby{ID: "nope", Status: domain.StatusWaiting}
	store.mu.Unlock()
	feed.LobbyChanged(context.Background(), "nope")

	lobby := receive(t, ch)
	require.NotNil(t, lobby)
	assert.Equal(t, domain.StatusWaiting, lobby.Status)
}

func TestWriteAnswerUpdatesWatchers(t *testing.T) {
	store := newFakeStore()
	feed := NewFeed(store, NewMemoryBroker())
	ctx := context.Background()

	ch, cancel, err := feed.WatchAnswers(ctx, "l1", "g1")
	require.NoError(t, err)
	assert.Empty(t, receive(t, ch))

	stored, err := feed.WriteAnswer(ctx, "l1", domain.Answer{GroupID: "g1", ScoreChange: 5, IsCorrect: true})
	require.NoError(t, err)
	assert.False(t, stored.AnsweredAt.IsZero(), "store assigns the timestamp")

	answers := receive(t, ch)
	require.Len(t, answers, 1)
	assert.Equal(t, 5, answers[0].ScoreChange)

	cancel()
	_, err = feed.WriteAnswer(ctx, "l1", domain.Answer{GroupID: "g1", ScoreChange: -2})
	require.NoError(t, err)
	_, ok := <-ch
	assert.False(t, ok, "no delivery after cancel")
}

func TestCombineAnswersEmitsCombinedView(t *testing.T) {
	store := newFakeStore()
	feed := NewFeed(store, NewMemoryBroker())
	ctx := context.Background()
	groups := []domain.Group{{ID: "g1", Name: "Alpha"}, {ID: "g2", Name: "Beta"}}

	ch, cancel, err := CombineAnswers(ctx, feed, "l1", groups)
	require.NoError(t, err)
	defer cancel()

	_, err = feed.WriteAnswer(ctx, "l1", domain.Answer{GroupID: "g2", ScoreChange: 5, IsCorrect: true})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case view := <-ch:
			require.Len(t, view, 2)
			assert.Equal(t, "g1", view[0].GroupID)
			assert.Equal(t, "Beta", view[1].GroupName)
			if len(view[1].Answers) == 1 {
				assert.Empty(t, view[0].Answers)
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for combined view with the new answer")
		}
	}
}

func TestCombineAnswersWithoutGroups(t *testing.T) {
	feed := NewFeed(newFakeStore(), NewMemoryBroker())
	ch, cancel, err := CombineAnswers(context.Background(), feed, "l1", nil)
	require.NoError(t, err)

	view := receive(t, ch)
	assert.Empty(t, view)
	assert.NotNil(t, view)

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestCombineAnswersCancelStopsGroupWatches(t *testing.T) {
	broker := NewMemoryBroker()
	feed := NewFeed(newFakeStore(), broker)
	groups := []domain.Group{{ID: "g1"}, {ID: "g2"}}

	_, cancel, err := CombineAnswers(context.Background(), feed, "l1", groups)
	require.NoError(t, err)
	assert.Equal(t, 1, broker.Subscribers(AnswersTopic("l1", "g1")))

	cancel()
	assert.Equal(t, 0, broker.Subscribers(AnswersTopic("l1", "g1")))
	assert.Equal(t, 0, broker.Subscribers(AnswersTopic("l1", "g2")))
}

type manualWatcher struct {
	mu    sync.Mutex
	chans map[string]chan []domain.Answer
}

func (w *manualWatcher) WatchAnswers(_ context.Context, _ string, groupID string) (<-chan []domain.Answer, func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan []domain.Answer, 1)
	w.chans[groupID] = ch
	return ch, func() {}, nil
}

func (w *manualWatcher) send(groupID string, answers []domain.Answer) {
	w.mu.Lock()
	ch := w.chans[groupID]
	w.mu.Unlock()
	ch <- answers
}

func TestCombineAnswersWaitsForEveryGroup(t *testing.T) {
	watcher := &manualWatcher{chans: map[string]chan []domain.Answer{}}
	groups := []domain.Group{{ID: "g1", Name: "Alpha"}, {ID: "g2", Name: "Beta"}}

	ch, cancel, err := CombineAnswers(context.Background(), watcher, "l1", groups)
	require.NoError(t, err)
	defer cancel()

	watcher.send("g1", []domain.Answer{{GroupID: "g1", ScoreChange: 5}})
	select {
	case view := <-ch:
		t.Fatalf("expected no view before every group reported, got %+v", view)
	case <-time.After(100 * time.Millisecond):
	}

	watcher.send("g2", []domain.Answer{})
	view := receive(t, ch)
	require.Len(t, view, 2)
	assert.Len(t, view[0].Answers, 1)
	assert.Empty(t, view[1].Answers)

	watcher.send("g2", []domain.Answer{{GroupID: "g2", ScoreChange: -2}})
	view = receive(t, ch)
	assert.Len(t, view[0].Answers, 1)
	assert.Len(t, view[1].Answers, 1)
}
