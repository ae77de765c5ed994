package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peersupport-platform/internal/auth"
	"peersupport-platform/internal/calls"
	"peersupport-platform/internal/config"
	"peersupport-platform/internal/docstore"
	"peersupport-platform/internal/httpapi"
	"peersupport-platform/internal/messaging"
	"peersupport-platform/internal/push"
	"peersupport-platform/internal/signaling"
	"peersupport-platform/pkg/logger"
	"peersupport-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store, err := newSessionStore(cfg, rdb)
	if err != nil {
		log.Error("session store init failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	transport, err := newPushTransport(cfg, log)
	if err != nil {
		log.Error("push transport init failed", "err", err)
		os.Exit(1)
	}

	msgs := messaging.NewService(messaging.NewPostgresRepo(db))

	h := httpapi.Handlers{
		Auth:     authManager,
		Calls:    calls.NewService(store, calls.NewMissedCallLogger(msgs, log)),
		Signals:  signaling.NewRelay(store),
		Messages: msgs,
		Push:     push.NewRelay(push.NewPostgresRepo(db), transport, log),
		Slots:    httpapi.NewWatchSlots(rdb, cfg.Watch),
		Log:      log,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver, "push", transport.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// newSessionStore selects the document store backing call sessions and
// signal channels. Redis is the default; memory is for single-process use.
func newSessionStore(cfg config.Config, rdb *redis.Client) (docstore.Store, error) {
	if cfg.Store.Driver == "memory" {
		return docstore.New(docstore.TypeMemory)
	}
	return docstore.New(docstore.TypeRedis,
		docstore.WithRedisClient(rdb),
		docstore.WithKeyPrefix("callstore"),
	)
}

// newPushTransport picks the wake-up delivery path. Without a gateway URL
// the process logs wake-ups instead of sending them, which keeps local
// environments working with no push credentials.
func newPushTransport(cfg config.Config, log *slog.Logger) (push.Transport, error) {
	if cfg.Push.GatewayURL == "" {
		return push.NewLogTransport(log), nil
	}
	return push.NewGatewayTransport(cfg.Push)
}
