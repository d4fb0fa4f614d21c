package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"mathquest/internal/app"
	"mathquest/internal/catalog"
	"mathquest/internal/config"
	"mathquest/internal/domain"
	"mathquest/internal/infra/memory"
	pgstore "mathquest/internal/infra/postgres"
	redisinfra "mathquest/internal/infra/redis"
	"mathquest/internal/lib/slogcustom"
	transport "mathquest/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	logger := slog.New(slogcustom.NewHandler(os.Stdout, slog.LevelInfo))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var (
		store  app.Store
		loader catalog.Loader
	)
	if pool != nil {
		pg := pgstore.NewStore(pool)
		store = pg
		loader = pg
	} else {
		mem := memory.NewStore()
		seedDemoTemplate(mem)
		store = mem
		loader = catalog.NewStaticLoader(demoQuestions())
		logger.Warn("postgres not configured, using in-memory store with demo data")
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var cat catalog.Catalog
	if redisClient != nil {
		cat = redisinfra.NewCatalogCache(redisClient, loader, catalogTTL)
	} else {
		cat = catalog.NewCache(loader, catalogTTL)
	}

	var codes app.CodeIndex
	if redisClient != nil {
		codeTTL := config.TTLDuration(cfg.Redis.CodeTTL, 24*time.Hour)
		codes = redisinfra.NewCodeIndex(redisClient, codeTTL)
	}

	manager := app.NewManager(store, cat, codes, app.Config{
		SnapshotDebounce: config.TTLDuration(cfg.Game.SnapshotDebounce, 2*time.Second),
		DefaultSettings: domain.Settings{
			BasePoints:     cfg.Game.BasePoints,
			ScoreFloor:     cfg.Game.ScoreFloor,
			DeferredWindow: config.TTLDuration(cfg.Game.DeferredWindow, 0),
		},
		Logger: logger,
	})
	wsHandler := transport.NewWSHandler(manager, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting game session server", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Error("session flush failed", "err", err)
	}
	return server.Shutdown(shutdownCtx)
}

// seedDemoTemplate provides a minimal playable template for local runs
// without a database.
func seedDemoTemplate(store *memory.Store) {
	store.SeedTemplate("demo", []domain.QuestionRef{
		{UID: "q-add", Sequence: 0},
		{UID: "q-sqrt", Sequence: 1},
	})
}

func demoQuestions() map[string]domain.Question {
	return map[string]domain.Question{
		"q-add": {
			UID:       "q-add",
			Text:      "What is 2 + 2?",
			TimeLimit: 20 * time.Second,
			Payload: domain.MultipleChoice{
				Options: []string{"3", "4", "5"},
				Correct: []bool{false, true, false},
			},
		},
		"q-sqrt": {
			UID:       "q-sqrt",
			Text:      "Approximate the square root of 2",
			TimeLimit: 30 * time.Second,
			Payload: domain.Numeric{
				Value:     1.414,
				Tolerance: 0.01,
			},
		},
	}
}
