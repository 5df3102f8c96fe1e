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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/blastio/internal/auth"
	"github.com/udisondev/blastio/internal/cache"
	"github.com/udisondev/blastio/internal/config"
	"github.com/udisondev/blastio/internal/db"
	"github.com/udisondev/blastio/internal/match"
	"github.com/udisondev/blastio/internal/matchmaker"
	"github.com/udisondev/blastio/internal/metrics"
	"github.com/udisondev/blastio/internal/relay"
	"github.com/udisondev/blastio/internal/ws"
)

const DefaultConfigPath = "config/server.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := DefaultConfigPath
	if p := os.Getenv("BLASTIO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("blastio server starting", "bind", cfg.BindAddress, "port", cfg.Port, "log_level", cfg.Log.Level)

	reg := metrics.NewRegistry()

	// Cache (required)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	slog.Info("redis connected", "addr", cfg.Redis.Addr)
	sessionCache := cache.New(redisClient, reg)

	// Database (required: ratings feed the matchmaker)
	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	matchRepo := db.NewMatchRepository(database.Pool())
	resultWriter := db.NewResultWriter(matchRepo)

	// Cluster relay (optional; empty URL disables)
	rl, err := relay.Connect(cfg.NATS.URL)
	if err != nil {
		slog.Warn("relay unavailable, running standalone", "url", cfg.NATS.URL, "error", err)
		rl = nil
	}
	defer rl.Close()

	tokens := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	registry := ws.NewRegistry(reg)
	rooms := ws.NewRoomRegistry(reg)
	router := ws.NewRouter(reg)

	matches := match.NewManager(registry, resultWriter, sessionCache, reg)
	matches.SetEventPublisher(rl)
	mm := matchmaker.New(sessionCache, matchRepo, matches, registry, rl, reg)

	server := ws.NewServer(tokens, sessionCache, registry, rooms, router, mm, matches, rl, reg, cfg.SendQueueSize)

	// A session claimed on another node evicts the local connection.
	err = rl.SubscribeSessionClaims(func(userID string) {
		slog.Info("session claimed elsewhere", "user", userID)
		registry.DisconnectUser(userID, "signed in on another server")
	})
	if err != nil {
		return fmt.Errorf("subscribing to session claims: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler: server.Handler(),
	}

	g.Go(func() error {
		slog.Info("starting http server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting matchmaker")
		if err := mm.Run(gctx); err != nil {
			return fmt.Errorf("matchmaker: %w", err)
		}
		return nil
	})

	sampler := metrics.NewSampler(reg)
	g.Go(func() error {
		if err := sampler.Run(gctx); err != nil {
			return fmt.Errorf("metrics sampler: %w", err)
		}
		return nil
	})

	// Room reaper: rooms empty for 10 minutes get dropped.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				closed := rooms.CleanupEmpty(10 * time.Minute)
				for _, roomID := range closed {
					registry.Broadcast(ws.MsgRoomClosed, map[string]string{"roomId": roomID})
				}
				if len(closed) > 0 {
					slog.Debug("cleaned empty rooms", "count", len(closed))
				}
			}
		}
	})

	// Online-set janitor: drop entries idle past 5 minutes, refresh the
	// online-players gauge.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := sessionCache.PruneOnline(gctx, 5*time.Minute); err != nil {
					slog.Warn("pruning online set", "error", err)
				}
				if n, err := sessionCache.OnlineCount(gctx); err == nil {
					reg.OnlinePlayers.Set(float64(n))
					if err := sessionCache.SetServerMetric(gctx, "online_players", n); err != nil {
						slog.Debug("writing server metric", "error", err)
					}
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// newLogger builds the process logger from config: text or JSON
// handler at the configured level.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
