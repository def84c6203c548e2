package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"time-attack-quiz/internal/app"
	"time-attack-quiz/internal/config"
	"time-attack-quiz/internal/domain"
	"time-attack-quiz/internal/event"
	"time-attack-quiz/internal/infra/memory"
	"time-attack-quiz/internal/infra/mongostore"
	pgloader "time-attack-quiz/internal/infra/postgres"
	"time-attack-quiz/internal/infra/quizfile"
	infraredis "time-attack-quiz/internal/infra/redis"
	"time-attack-quiz/internal/infra/sqlstore"
	"time-attack-quiz/internal/metrics"
	"time-attack-quiz/internal/realtime"
	"time-attack-quiz/internal/tracing"
	transport "time-attack-quiz/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	tp, err := tracing.NewProvider(cfg.Tracing.Exporter, os.Stdout)
	if err != nil {
		return err
	}
	if tp != nil {
		otel.SetTracerProvider(tp)
		closers = append(closers, func() {
			if err := tracing.Shutdown(context.Background(), tp); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
		})
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
	}

	loader, err := quizLoader(cfg, pool)
	if err != nil {
		return err
	}
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	store, closeStore, err := openStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	var broker realtime.Broker = realtime.NewMemoryBroker()
	if redisClient != nil {
		broker = infraredis.NewBroker(redisClient, "quiz:signal:")
	}

	var publisher app.Publisher = event.LogPublisher{}
	if cfg.AMQP.URL != "" {
		amqpPublisher, err := event.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		closers = append(closers, amqpPublisher.Close)
		publisher = amqpPublisher
	} else {
		log.Printf("amqp not configured, events are logged")
	}

	promMetrics := metrics.NewPrometheus(prometheus.DefaultRegisterer)
	service := app.NewLobbyService(store, broker, quizRepo,
		app.WithPublisher(publisher),
		app.WithMetrics(promMetrics),
		app.WithDefaults(app.LobbyDefaults{
			DurationSeconds: cfg.Lobby.DurationSeconds,
			PointsCorrect:   cfg.Lobby.PointsCorrect,
			PointsIncorrect: cfg.Lobby.PointsIncorrect,
		}),
	)
	defer service.Close()
	if err := service.Restore(ctx); err != nil {
		return err
	}

	router := transport.NewRouter(service, transport.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        promhttp.Handler(),
		Tracker:        promMetrics,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz service on :%s (store %s)", finalPort, cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// quizLoader prefers Postgres, then the question set directory, then the
// built-in sample set.
func quizLoader(cfg config.Config, pool *pgxpool.Pool) (memory.QuizLoader, error) {
	if pool != nil {
		return pgloader.NewQuizLoader(pool), nil
	}
	info, err := os.Stat(cfg.Quiz.Dir)
	switch {
	case err == nil && info.IsDir():
		return quizfile.NewLoader(cfg.Quiz.Dir), nil
	case err == nil:
		return nil, fmt.Errorf("quiz dir %s is not a directory", cfg.Quiz.Dir)
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("quiz dir %s not found, serving the sample question set", cfg.Quiz.Dir)
		return memory.NewStaticQuizLoader(sampleQuizzes()), nil
	}
	return nil, fmt.Errorf("quiz dir: %w", err)
}

func openStore(ctx context.Context, cfg config.Config, redisClient *redis.Client) (app.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		return infraredis.NewStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)), func() {}, nil
	case config.DriverSQL:
		db, err := openSQL(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlstore.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return sqlstore.NewStore(db), func() { _ = db.Close() }, nil
	case config.DriverMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}
		store := mongostore.NewStore(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return store, func() { _ = client.Disconnect(context.Background()) }, nil
	}
	return memory.NewStore(), func() {}, nil
}

// sampleQuizzes provides a minimal question set for local runs without a quiz directory.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"sample": {
			ID:    "sample",
			Title: "Sample",
			Questions: []domain.Question{
				{
					Question:      "What is 2 + 2?",
					Choices:       []string{"3", "4", "5"},
					CorrectAnswer: 1,
				},
				{
					Question:      "Which planet is known as the red planet?",
					Choices:       []string{"Venus", "Mars", "Jupiter"},
					CorrectAnswer: 1,
				},
			},
		},
	}
}
