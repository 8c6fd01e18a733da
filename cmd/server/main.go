package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillapp/quill-server/internal/authsession"
	"github.com/quillapp/quill-server/internal/broadcaster"
	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/config"
	"github.com/quillapp/quill-server/internal/db"
	"github.com/quillapp/quill-server/internal/gameloop"
	"github.com/quillapp/quill-server/internal/health"
	"github.com/quillapp/quill-server/internal/httpapi"
	"github.com/quillapp/quill-server/internal/logging"
	"github.com/quillapp/quill-server/internal/ratelimit"
	"github.com/quillapp/quill-server/internal/user"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to database", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logging.Fatal(ctx, "invalid REDIS_URL", zap.Error(err))
	}
	cacheClient, err := cache.NewClient(redisOpts.Addr, redisOpts.Password)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to cache", zap.Error(err))
	}
	defer func() { _ = cacheClient.Close() }()

	users := user.NewRepository(database)

	var sessions authsession.Store
	if cfg.UseRedisSessions {
		sessions = authsession.NewRedisStore(cacheClient, time.Duration(cfg.SessionTTLSeconds)*time.Second)
	} else {
		sessions = authsession.NewInMemoryStore()
		logging.Warn(ctx, "using in-memory session store: sessions never expire and are not shared across processes")
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, cacheClient.Raw())
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	healthHandler := health.NewHandler(cacheClient, database)

	words, err := gameloop.LoadWordlist(cfg.WordlistPath)
	if err != nil {
		logging.Fatal(ctx, "failed to load wordlist", zap.Error(err))
	}

	server := httpapi.NewServer(cfg, cacheClient, database, users, sessions, limiter, healthHandler, words)
	router := server.Router()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}

	broadcaster.Wait()
	logging.Info(ctx, "server exited")
}
