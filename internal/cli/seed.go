package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/deveshsawant05/QuizZone-sub000/internal/config"
	"github.com/deveshsawant05/QuizZone-sub000/internal/infra/postgres"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

var seedFile string

// NewSeedCmd loads quiz snapshots from a JSON file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load quizzes from a JSON file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, seedFile)
		},
	}
	cmd.Flags().StringVar(&seedFile, "file", "config/quizzes.json", "path to quizzes JSON file")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Postgres.Enabled() {
		return fmt.Errorf("postgres not configured")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	var quizzes []models.QuizSnapshot
	if err := json.Unmarshal(data, &quizzes); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}

	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	store := postgres.NewQuizStore(pool)

	var saved, failed int
	for _, quiz := range quizzes {
		if err := store.SaveQuiz(ctx, quiz); err != nil {
			log.Error().Err(err).Str("quiz_id", quiz.QuizID).Msg("failed to save quiz")
			failed++
			continue
		}
		log.Info().
			Str("quiz_id", quiz.QuizID).
			Int("questions", len(quiz.Questions)).
			Msg("quiz saved")
		saved++
	}

	log.Info().Int("saved", saved).Int("failed", failed).Msg("seed complete")
	if failed > 0 {
		return fmt.Errorf("%d of %d quizzes failed", failed, len(quizzes))
	}
	return nil
}
