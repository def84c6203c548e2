package sqlstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"time-attack-quiz/internal/domain"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := OpenSQLite("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))
}

func TestStoreLobbyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t))
	t0 := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

	lobby := domain.Lobby{
		ID: "l1", Status: domain.StatusWaiting, QuizID: "general", CreatedAt: t0,
		DurationSeconds: 600, PointsCorrect: 5, PointsIncorrect: -2,
	}
	require.NoError(t, store.CreateLobby(ctx, lobby))
	require.NoError(t, store.CreateLobby(ctx, domain.Lobby{ID: "l2", Status: domain.StatusWaiting, QuizID: "general", CreatedAt: t0.Add(time.Second)}))

	_, err := store.GetLobby(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrLobbyNotFound), "got %v", err)

	require.NoError(t, lobby.Transition(domain.StatusPlaying, t0.Add(time.Minute)))
	require.NoError(t, store.TransitionLobby(ctx, lobby, domain.StatusWaiting))
	err = store.TransitionLobby(ctx, lobby, domain.StatusWaiting)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "got %v", err)
	err = store.TransitionLobby(ctx, domain.Lobby{ID: "missing"}, domain.StatusWaiting)
	assert.True(t, errors.Is(err, domain.ErrLobbyNotFound), "got %v", err)

	got, err := store.GetLobby(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(t0.Add(time.Minute)))
	assert.Nil(t, got.FinishedAt)
	assert.Equal(t, -2, got.PointsIncorrect)

	playing, err := store.ListLobbies(ctx, domain.StatusPlaying)
	require.NoError(t, err)
	require.Len(t, playing, 1)
	assert.Equal(t, "l1", playing[0].ID)

	all, err := store.ListLobbies(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "l1", all[0].ID)
}

func TestStoreGroupsAndAnswers(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	ticks := []time.Time{t0.Add(2 * time.Second), t0.Add(time.Second)}
	store := NewStoreWithClock(newTestDB(t), func() time.Time {
		next := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return next
	})

	err := store.CreateGroup(ctx, domain.Group{ID: "g1", LobbyID: "l1", Name: "A", CreatedAt: t0})
	assert.True(t, errors.Is(err, domain.ErrLobbyNotFound), "got %v", err)

	require.NoError(t, store.CreateLobby(ctx, domain.Lobby{ID: "l1", Status: domain.StatusPlaying, QuizID: "general", CreatedAt: t0, StartedAt: &t0}))
	require.NoError(t, store.CreateGroup(ctx, domain.Group{ID: "g1", LobbyID: "l1", Name: "A", CreatedAt: t0}))
	require.NoError(t, store.CreateGroup(ctx, domain.Group{ID: "g2", LobbyID: "l1", Name: "B", CreatedAt: t0}))

	groups, err := store.ListGroups(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "g1", groups[0].ID)
	assert.Equal(t, "g2", groups[1].ID)

	_, err = store.GetGroup(ctx, "l1", "g3")
	assert.True(t, errors.Is(err, domain.ErrGroupNotFound), "got %v", err)

	first, err := store.AppendAnswer(ctx, "l1", domain.Answer{ID: "a1", GroupID: "g1", QuestionIndex: 0, IsCorrect: true, ScoreChange: 5, AnswerTimeMs: 1200})
	require.NoError(t, err)
	second, err := store.AppendAnswer(ctx, "l1", domain.Answer{ID: "a2", GroupID: "g1", QuestionIndex: 1, ScoreChange: -2})
	require.NoError(t, err)
	assert.True(t, first.AnsweredAt.Equal(t0.Add(2*time.Second)))
	assert.False(t, second.AnsweredAt.Before(first.AnsweredAt), "timestamps must not go backwards")

	answers, err := store.ListAnswers(ctx, "l1", "g1")
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "a1", answers[0].ID)
	assert.True(t, answers[0].IsCorrect)
	assert.Equal(t, int64(1200), answers[0].AnswerTimeMs)
	assert.Equal(t, -2, answers[1].ScoreChange)

	empty, err := store.ListAnswers(ctx, "l1", "g2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreAppendAnswerRequiresPlayingLobby(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t))
	t0 := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

	_, err := store.AppendAnswer(ctx, "missing", domain.Answer{ID: "a0", GroupID: "g1"})
	assert.True(t, errors.Is(err, domain.ErrLobbyNotFound), "got %v", err)

	lobby := domain.Lobby{ID: "l1", Status: domain.StatusWaiting, QuizID: "general", CreatedAt: t0, DurationSeconds: 600}
	require.NoError(t, store.CreateLobby(ctx, lobby))
	require.NoError(t, store.CreateGroup(ctx, domain.Group{ID: "g1", LobbyID: "l1", Name: "A", CreatedAt: t0}))

	_, err = store.AppendAnswer(ctx, "l1", domain.Answer{ID: "a1", GroupID: "g1"})
	assert.True(t, errors.Is(err, domain.ErrLobbyNotPlaying), "waiting lobby: got %v", err)

	require.NoError(t, lobby.Transition(domain.StatusPlaying, t0))
	require.NoError(t, store.TransitionLobby(ctx, lobby, domain.StatusWaiting))
	_, err = store.AppendAnswer(ctx, "l1", domain.Answer{ID: "a2", GroupID: "g1", ScoreChange: 5})
	require.NoError(t, err)

	require.NoError(t, lobby.Transition(domain.StatusFinished, t0.Add(10*time.Minute)))
	require.NoError(t, store.TransitionLobby(ctx, lobby, domain.StatusPlaying))
	_, err = store.AppendAnswer(ctx, "l1", domain.Answer{ID: "a3", GroupID: "g1", ScoreChange: 5})
	assert.True(t, errors.Is(err, domain.ErrLobbyNotPlaying), "finished lobby: got %v", err)

	answers, err := store.ListAnswers(ctx, "l1", "g1")
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "a2", answers[0].ID)
}
