package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"studyhall/internal/config"
	"studyhall/internal/database"
	"studyhall/internal/email"
	"studyhall/internal/handlers"
	"studyhall/internal/metrics"
	"studyhall/internal/middleware"
	"studyhall/internal/moderation"
	"studyhall/internal/replication"
	"studyhall/internal/replication/mongoremote"
	"studyhall/internal/routing"
	"studyhall/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var _ moderation.Mailer = (*email.Sender)(nil)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log)

	log.Info().Msg("Starting Studyhall moderation server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server stopped")
}

// setupLogging configures the global zerolog logger
func setupLogging(cfg config.LogConfig) {
	switch cfg.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Use pretty console logging in development, JSON in production
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Tracing.Endpoint != "" {
		tp, err := tracing.Init(ctx, tracing.Options{
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
		log.Info().Str("endpoint", cfg.Tracing.Endpoint).Msg("Tracing enabled")
	}

	store, outbox, err := database.Open(ctx, database.Options{
		Backend: cfg.Database.Backend,
		Path:    cfg.Database.Path,
		Mirror:  cfg.Replication.Enabled(),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	log.Info().
		Str("backend", cfg.Database.Backend).
		Str("path", cfg.Database.Path).
		Msg("Database opened")

	if path := cfg.Moderation.SeedUsersPath; path != "" {
		users, err := loadSeedUsers(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to load seed users")
		} else {
			created, err := seedUsers(ctx, store, users, time.Now())
			if err != nil {
				return err
			}
			log.Info().
				Int("count", len(users)).
				Int("created", created).
				Str("file", path).
				Msg("Seed users loaded")
		}
	}

	mailer := email.NewSender(email.Config{
		Host: cfg.SMTP.Host,
		Port: cfg.SMTP.Port,
		User: cfg.SMTP.User,
		Pass: cfg.SMTP.Pass,
		From: cfg.SMTP.From,
	})
	if !mailer.Enabled() {
		log.Info().Msg("SMTP not configured, critical notices stay in-app only")
	}

	svc, err := moderation.NewService(store, moderation.Options{
		PolicyPath: cfg.Moderation.PolicyPath,
		Mailer:     mailer,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// SIGHUP reloads the moderation policy
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := svc.Reload(); err != nil {
					log.Error().Err(err).Msg("Failed to reload moderation policy")
					continue
				}
				log.Info().Msg("Moderation policy reloaded")
			}
		}
	})

	metrics.StartCollector(gctx, statsSource(gctx, svc, outbox), cfg.Server.MetricsInterval)

	if cfg.Replication.Enabled() {
		remote, err := mongoremote.Connect(ctx, cfg.Replication.MongoURI, cfg.Replication.MongoDatabase)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			remote.Close(closeCtx)
		}()

		worker := replication.NewWorker(outbox, remote, replication.WorkerOptions{
			Interval:    cfg.Replication.Interval,
			BatchSize:   cfg.Replication.BatchSize,
			MaxAttempts: cfg.Replication.MaxAttempts,
		})
		g.Go(func() error {
			return worker.Run(gctx)
		})
		log.Info().Str("database", cfg.Replication.MongoDatabase).Msg("Replication to MongoDB enabled")
	}

	rateLimit := middleware.NewDefaultRateLimitConfig()
	rateLimit.StartCleanup(5*time.Minute, gctx.Done())

	handler := routing.SetupRouter(routing.Config{
		Handlers:  handlers.NewHandler(svc, handlers.Config{}),
		Logger:    log.Logger,
		RateLimit: rateLimit,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		log.Info().
			Str("address", "http://localhost:"+cfg.Server.Port).
			Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// statsSource feeds the gauge collector from one moderation snapshot per tick
func statsSource(ctx context.Context, svc *moderation.Service, outbox replication.Outbox) metrics.StatsSource {
	var (
		mu   sync.Mutex
		snap moderation.Stats
		ok   bool
	)

	count := func(pick func(moderation.Stats) int) func() int {
		return func() int {
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				return -1
			}
			return pick(snap)
		}
	}

	src := metrics.StatsSource{
		Refresh: func() {
			st, err := svc.Stats(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to collect moderation stats")
				ok = false
				return
			}
			snap, ok = st, true
		},
		UserCount:           count(func(s moderation.Stats) int { return s.Users }),
		ActiveBanCount:      count(func(s moderation.Stats) int { return s.ActiveBans }),
		PendingEscalations:  count(func(s moderation.Stats) int { return s.PendingEscalations }),
		FlaggedMessageCount: count(func(s moderation.Stats) int { return s.FlaggedMessages }),
		UserCountByRole: func() map[string]int {
			mu.Lock()
			defer mu.Unlock()
			out := make(map[string]int, len(snap.UsersByRole))
			if !ok {
				return out
			}
			for role, n := range snap.UsersByRole {
				out[string(role)] = n
			}
			return out
		},
	}

	if outbox != nil {
		src.OutboxDepth = func() int {
			n, err := outbox.Depth(ctx)
			if err != nil {
				return -1
			}
			return n
		}
	}

	return src
}
