package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/memoraid/memoraid/internal/config"
	"github.com/memoraid/memoraid/internal/domain/alert"
	"github.com/memoraid/memoraid/internal/domain/carelink"
	"github.com/memoraid/memoraid/internal/domain/identity"
	"github.com/memoraid/memoraid/internal/domain/routine"
	"github.com/memoraid/memoraid/internal/domain/tasklog"
	"github.com/memoraid/memoraid/internal/engine"
	"github.com/memoraid/memoraid/internal/platform/auth"
	"github.com/memoraid/memoraid/internal/platform/db"
	"github.com/memoraid/memoraid/internal/platform/middleware"
	"github.com/memoraid/memoraid/internal/platform/push"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "memoraid-server",
		Short: "Caregiver coordination API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(engineCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// engineCmd runs a single engine pass and exits, for cron-style deployments
// where the in-process runner is disabled.
func engineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Run engine passes manually",
	}

	runPass := func(pass string) error {
		logger := newLogger()
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		a := buildApp(pool, logger)
		switch pass {
		case "instantiate":
			n, err := a.engine.EnsureInstancesForDate(ctx, a.clock.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Created %d task instance(s).\n", n)
		case "reminders":
			n, err := a.engine.RunReminderPass(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Sent %d reminder(s).\n", n)
		case "escalations":
			n, err := a.engine.RunMissedPass(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Marked %d task(s) missed.\n", n)
		}
		return nil
	}

	for _, pass := range []struct{ use, short string }{
		{"instantiate", "Create today's task instances"},
		{"reminders", "Send due reminders"},
		{"escalations", "Close expired windows and escalate"},
	} {
		p := pass
		cmd.AddCommand(&cobra.Command{
			Use:   p.use,
			Short: p.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPass(p.use)
			},
		})
	}

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// app bundles the repositories, the push gateway, and the engine wired onto
// one shared pool.
type app struct {
	users      identity.UserRepository
	links      carelink.Repository
	routines   routine.Repository
	tasks      tasklog.Repository
	alerts     alert.Repository
	tokenStore push.TokenStore
	notifier   push.Notifier
	clock      engine.Clock
	engine     *engine.Engine
}

func buildApp(pool *pgxpool.Pool, logger zerolog.Logger) *app {
	a := &app{
		users:      identity.NewUserRepoPG(pool),
		links:      carelink.NewRepoPG(pool),
		routines:   routine.NewRepoPG(pool),
		tasks:      tasklog.NewRepoPG(pool),
		alerts:     alert.NewRepoPG(pool),
		tokenStore: push.NewTokenStorePG(pool),
		clock:      engine.SystemClock{},
	}
	a.notifier = push.NewGateway(a.tokenStore, &push.LogSender{Logger: logger}, logger)
	a.engine = engine.New(a.routines, a.tasks, a.alerts, a.links, a.users,
		a.notifier, a.clock, logger)
	return a
}

func runServer() error {
	logger := newLogger()
	zlog.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Repositories, push gateway, engine. LogSender stands in until a
	// real push transport is configured.
	a := buildApp(pool, logger)

	// Services
	linkSvc := carelink.NewService(a.links)
	routineSvc := routine.NewService(a.routines, a.tasks)
	taskSvc := tasklog.NewService(a.tasks, a.engine)
	alertSvc := alert.NewService(a.alerts, a.links, a.users, a.notifier)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.JWTSecret),
			Issuer:     "memoraid",
		}))
	}

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// Routes
	routine.NewHandler(routineSvc, a.clock.Now).RegisterRoutes(apiV1)
	tasklog.NewHandler(taskSvc, a.clock.Now).RegisterRoutes(apiV1)
	alert.NewHandler(alertSvc).RegisterRoutes(apiV1)
	carelink.NewHandler(linkSvc).RegisterRoutes(apiV1)
	push.NewHandler(a.tokenStore).RegisterRoutes(apiV1)
	engine.NewHandler(a.engine).RegisterRoutes(apiV1)

	// Background runner
	runnerCtx, stopRunner := context.WithCancel(ctx)
	defer stopRunner()
	var runner *engine.Runner
	if cfg.EngineEnabled {
		runner = engine.NewRunner(a.engine, time.Duration(cfg.EngineTickSecs)*time.Second, logger)
		runner.Start(runnerCtx)
	} else {
		logger.Warn().Msg("engine runner disabled by configuration")
	}

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	stopRunner()
	if runner != nil {
		runner.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
