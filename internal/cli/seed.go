package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"time-attack-quiz/internal/config"
	"time-attack-quiz/internal/domain"
	"time-attack-quiz/internal/infra/memory"
	"time-attack-quiz/internal/infra/postgres"
	"time-attack-quiz/internal/infra/quizfile"
)

// NewSeedCmd imports the question set files of quiz.dir into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Import question set files into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath)
		},
	}
}

func runSeed(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if err := runMigrations(ctx, configPath); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	files := quizfile.NewLoader(cfg.Quiz.Dir)
	target := postgres.NewQuizLoader(pool)
	n, err := seedQuizzes(ctx, files, target)
	if err != nil {
		return err
	}
	log.Printf("seeded %d question sets from %s", n, cfg.Quiz.Dir)
	return nil
}

type quizSource interface {
	memory.QuizLoader
	memory.QuizLister
}

type quizSink interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

func seedQuizzes(ctx context.Context, src quizSource, dst quizSink) (int, error) {
	ids, err := src.ListQuizzes(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		quiz, err := src.LoadQuiz(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", id, err)
		}
		if err := dst.SaveQuiz(ctx, quiz); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
