// Package main is the entry point for the wrathbot Discord bot.
//
// Startup order matters: the database pool and migrations come first, then
// the durable job queue, then the birthday scheduler registers its workers
// and reconciles, and only then does the queue start dispatching. The Discord
// session opens before the scheduler so a cold-start reconciliation can
// already deliver through the notifier. A small chi server exposes /health
// for liveness probes.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"wrathbot/internal/birthday"
	"wrathbot/internal/config"
	"wrathbot/internal/db"
	"wrathbot/internal/discord"
	"wrathbot/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("wrathbot starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	users := db.NewUserRepository(pool, pool)
	jobQueue := queue.New(pool, cfg.Queue, logger)

	session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	notifier := discord.NewNotifier(session, cfg.Discord.BirthdayChannelID, logger)
	scheduler := birthday.NewScheduler(users, jobQueue, notifier, logger)

	bot := discord.NewBot(cfg.Discord, users, scheduler, discord.NewGifPicker(cfg.Discord.GifDir), logger)
	bot.Register(session)

	if err := session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	defer session.Close()

	if err := bot.RegisterCommands(session); err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	logger.Info("discord session ready", "guild_id", cfg.Discord.GuildID)

	// Workers and the daily check must be registered (and the cold-start
	// reconciliation finished) before the queue starts dispatching.
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting birthday scheduler: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := jobQueue.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("queue worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runHealthServer(gCtx, pool, cfg.Server.Port, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("wrathbot stopped cleanly")
	return nil
}

// runHealthServer serves /health until ctx is cancelled, then drains.
func runHealthServer(ctx context.Context, pool *pgxpool.Pool, port string, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		pingCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := pool.Ping(pingCtx); err != nil {
			logger.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unhealthy"}`)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("health server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", "error", err)
	}
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
