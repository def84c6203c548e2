package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"time-attack-quiz/internal/app"
	"time-attack-quiz/internal/domain"
	"time-attack-quiz/internal/infra/mongostore"
	pgloader "time-attack-quiz/internal/infra/postgres"
	infraredis "time-attack-quiz/internal/infra/redis"
	"time-attack-quiz/internal/infra/sqlstore"
)

func TestLobbyEndToEndPostgresRedis(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "5432/tcp", "postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable")
	defer pgCleanup()
	redisURL, redisCleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}, "6379/tcp", "redis://%s:%s")
	defer redisCleanup()

	db := sqlstore.OpenPostgres(pgURL)
	defer db.Close()
	if err := sqlstore.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	loader := pgloader.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)
	broker := infraredis.NewBroker(redisClient, "it:")
	service := app.NewLobbyService(sqlstore.NewStore(db), broker, quizRepo)
	defer service.Close()

	ids, err := service.ListQuizzes(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "general" {
		t.Fatalf("expected seeded quiz listed, got %v (%v)", ids, err)
	}

	lobby, err := service.CreateLobby(ctx, app.LobbySettings{QuizID: "general"})
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	alice, err := service.JoinGroup(ctx, lobby.ID, "Alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	bob, err := service.JoinGroup(ctx, lobby.ID, "Bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	updates, cancel, err := service.Watch(ctx, lobby.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if _, err := service.StartLobby(ctx, lobby.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, lobby.ID, bob.ID, domain.AnswerSubmission{QuestionIndex: 0, SelectedAnswer: 1, AnswerTimeMs: 1200}); err != nil {
		t.Fatalf("submit bob: %v", err)
	}
	result, err := service.SubmitAnswer(ctx, lobby.ID, alice.ID, domain.AnswerSubmission{QuestionIndex: 0, SelectedAnswer: 0, AnswerTimeMs: 900})
	if err != nil {
		t.Fatalf("submit alice: %v", err)
	}
	if result.Answer.IsCorrect || result.RawScore != -2 || result.DisplayScore != 0 {
		t.Fatalf("expected wrong answer clamped to zero, got %+v", result)
	}

	deadline := time.After(10 * time.Second)
	for ranked := false; !ranked; {
		select {
		case standings, ok := <-updates:
			if !ok {
				t.Fatalf("standings stream closed")
			}
			ranked = len(standings.Ranking) == 2 && standings.Ranking[0].GroupID == bob.ID && standings.Ranking[0].Score == 5 &&
				standings.Groups[0].TotalCount+standings.Groups[1].TotalCount == 2
		case <-deadline:
			t.Fatalf("timed out waiting for standings with both answers")
		}
	}

	if _, err := service.FinishLobby(ctx, lobby.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	results, err := service.Results(ctx, lobby.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if results.Ranking[0].GroupID != bob.ID || len(results.QuestionStats) != 1 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestMongoStore(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	uri, cleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}, "27017/tcp", "mongodb://%s:%s")
	defer cleanup()

	client, err := mongostore.Connect(ctx, uri)
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	defer client.Disconnect(context.Background())

	store := mongostore.NewStore(client.Database("it_quiz"))
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("indexes: %v", err)
	}

	t0 := time.Now().UTC().Truncate(time.Millisecond)
	lobby := domain.Lobby{ID: "l1", Status: domain.StatusWaiting, QuizID: "general", CreatedAt: t0, DurationSeconds: 600, PointsCorrect: 5, PointsIncorrect: -2}
	if err := store.CreateLobby(ctx, lobby); err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	for _, name := range []string{"A", "B"} {
		if err := store.CreateGroup(ctx, domain.Group{ID: "g" + name, LobbyID: "l1", Name: name, CreatedAt: t0}); err != nil {
			t.Fatalf("create group %s: %v", name, err)
		}
	}
	groups, err := store.ListGroups(ctx, "l1")
	if err != nil || len(groups) != 2 || groups[0].Name != "A" {
		t.Fatalf("expected groups in join order, got %+v (%v)", groups, err)
	}

	if err := lobby.Transition(domain.StatusPlaying, t0); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := store.TransitionLobby(ctx, lobby, domain.StatusWaiting); err != nil {
		t.Fatalf("store transition: %v", err)
	}
	if err := store.TransitionLobby(ctx, lobby, domain.StatusWaiting); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected stale transition rejected, got %v", err)
	}

	for _, change := range []int{5, -2, 5} {
		if _, err := store.AppendAnswer(ctx, "l1", domain.Answer{ID: fmt.Sprintf("a%d", change), GroupID: "gA", ScoreChange: change}); err != nil {
			t.Fatalf("append answer: %v", err)
		}
	}
	answers, err := store.ListAnswers(ctx, "l1", "gA")
	if err != nil || len(answers) != 3 {
		t.Fatalf("expected three answers, got %+v (%v)", answers, err)
	}
	for i := 1; i < len(answers); i++ {
		if answers[i].AnsweredAt.Before(answers[i-1].AnsweredAt) {
			t.Fatalf("answer times went backwards: %+v", answers)
		}
	}

	from := lobby.Status
	if err := lobby.Transition(domain.StatusFinished, t0.Add(10*time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := store.TransitionLobby(ctx, lobby, from); err != nil {
		t.Fatalf("store finish: %v", err)
	}
	if _, err := store.AppendAnswer(ctx, "l1", domain.Answer{ID: "late", GroupID: "gA", ScoreChange: 5}); !errors.Is(err, domain.ErrLobbyNotPlaying) {
		t.Fatalf("expected append after finish rejected, got %v", err)
	}
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest, port, urlFormat string) (string, func()) {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("%s port: %v", req.Image, err)
	}
	return fmt.Sprintf(urlFormat, host, mapped.Port()), func() {
		_ = container.Terminate(ctx)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "general",
		Title: "General knowledge",
		Questions: []domain.Question{
			{
				Question:      "What is 2 + 2?",
				Choices:       []string{"3", "4", "5"},
				CorrectAnswer: 1,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
