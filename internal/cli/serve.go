package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/deveshsawant05/QuizZone-sub000/internal/config"
	"github.com/deveshsawant05/QuizZone-sub000/internal/infra/memory"
	"github.com/deveshsawant05/QuizZone-sub000/internal/infra/postgres"
	rediscodes "github.com/deveshsawant05/QuizZone-sub000/internal/infra/redis"
	"github.com/deveshsawant05/QuizZone-sub000/internal/live"
	"github.com/deveshsawant05/QuizZone-sub000/internal/live/events"
	"github.com/deveshsawant05/QuizZone-sub000/internal/live/gateway"
	"github.com/deveshsawant05/QuizZone-sub000/internal/live/relay"
	"github.com/deveshsawant05/QuizZone-sub000/internal/models"
)

var servePort string

// NewServeCmd builds the subcommand that runs the coordinator.
func NewServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live quiz coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, servePort)
		},
	}
	cmd.Flags().StringVar(&servePort, "port", "", "port to listen on (overrides config)")
	return cmd
}

func runServe(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	port := portFlag
	if port == "" {
		port = cfg.Server.Port
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Quiz content and results: Postgres when configured, in-memory
	// otherwise.
	var (
		loader  live.QuizLoader
		results live.ResultsStore
	)
	if cfg.Postgres.Enabled() {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}

		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		db, err := sql.Open("postgres", cfg.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		loader = postgres.NewQuizStore(pool)
		results = postgres.NewResultsStore(db)
		log.Info().Str("database", cfg.Postgres.Database).Msg("postgres stores ready")
	} else {
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
		results = memory.NewResultsStore()
		log.Info().Msg("postgres not configured, using in-memory stores")
	}
	loader = memory.NewQuizCache(loader, cfg.Live.QuizCacheTTL.Or(10*time.Minute))

	// Room codes: Redis keeps them unique across instances; a single node
	// gets the in-memory allocator.
	var codes live.CodeAllocator
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		alloc := rediscodes.NewCodeAllocator(client, cfg.Redis.CodeTTL.Or(0))
		go alloc.Run(ctx)
		codes = alloc
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis code allocator ready")
	} else {
		codes = memory.NewCodeAllocator()
	}

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	// Every session event reaches the connected clients; the relay adds
	// downstream consumers when configured.
	var sink events.Sink = manager
	if cfg.Relay.URL != "" {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = cfg.Relay.URL
		if cfg.Relay.Stream != "" {
			relayCfg.StreamName = cfg.Relay.Stream
		}
		if cfg.Relay.SubjectPrefix != "" {
			relayCfg.SubjectPrefix = cfg.Relay.SubjectPrefix
		}

		pub, err := relay.NewPublisher(relayCfg)
		if err != nil {
			return fmt.Errorf("connect relay: %w", err)
		}
		defer pub.Close()

		go pub.Run(ctx)
		sink = events.Fanout{manager, pub}
		log.Info().Str("url", cfg.Relay.URL).Str("stream", relayCfg.StreamName).Msg("event relay ready")
	}

	scoring := live.DefaultScoringConfig()
	if cfg.Live.SpeedBonus != nil {
		scoring.SpeedBonus = *cfg.Live.SpeedBonus
	}
	if cfg.Live.ScoreFloor > 0 {
		scoring.FloorFraction = cfg.Live.ScoreFloor
	}

	registry := live.NewRegistry(clockwork.NewRealClock(), sink, codes, results, live.RegistryConfig{
		HostGrace:  cfg.Live.HostGrace.Or(60 * time.Second),
		Retention:  cfg.Live.Retention.Or(15 * time.Minute),
		CodeLength: cfg.Live.CodeLength,
		Scoring:    scoring,
	})
	gw := gateway.NewGateway(registry, gateway.QueryIdentity{}, manager)

	go manager.Start(ctx)

	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	gateway.NewRoomsHandler(registry, loader).RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// End in-flight sessions so final results are archived and room codes
	// released before the stores go away.
	registry.Shutdown(shutdownCtx)

	cancel()
	time.Sleep(1 * time.Second)

	log.Info().Msg("coordinator shutdown complete")
	return nil
}

// sampleQuizzes is the development catalog used when no Postgres is
// configured; production loads quizzes through the seed command instead.
func sampleQuizzes() map[string]models.QuizSnapshot {
	return map[string]models.QuizSnapshot{
		"quiz-general": {
			QuizID: "quiz-general",
			Title:  "General Knowledge Warmup",
			Questions: []models.Question{
				{
					QuestionID: "q1",
					Text:       "Which planet has the most moons?",
					Options: []models.Option{
						{OptionID: "a", Text: "Earth"},
						{OptionID: "b", Text: "Saturn", IsCorrect: true},
						{OptionID: "c", Text: "Mars"},
					},
					TimeLimitSeconds: 20,
					Points:           500,
				},
				{
					QuestionID: "q2",
					Text:       "What year did the first web browser appear?",
					Options: []models.Option{
						{OptionID: "a", Text: "1985"},
						{OptionID: "b", Text: "1990", IsCorrect: true},
						{OptionID: "c", Text: "1995"},
						{OptionID: "d", Text: "2000"},
					},
					TimeLimitSeconds: 30,
					Points:           500,
				},
				{
					QuestionID: "q3",
					Text:       "Which of these is not a programming language?",
					Options: []models.Option{
						{OptionID: "a", Text: "Rust"},
						{OptionID: "b", Text: "Elixir"},
						{OptionID: "c", Text: "Kestrel", IsCorrect: true},
						{OptionID: "d", Text: "Zig"},
					},
					TimeLimitSeconds: 20,
					Points:           300,
				},
			},
		},
	}
}
