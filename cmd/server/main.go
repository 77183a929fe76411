// The server binary runs the proxy gateway: the single network hop
// browsers make toward tenant Acelle endpoints, plus the server-side
// forced-resync operation.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/seventic/acelle-sync/internal/acelle"
	"github.com/seventic/acelle-sync/internal/config"
	"github.com/seventic/acelle-sync/internal/gateway"
	"github.com/seventic/acelle-sync/internal/notify"
	"github.com/seventic/acelle-sync/internal/pkg/logger"
	"github.com/seventic/acelle-sync/internal/repository/postgres"
	syncsvc "github.com/seventic/acelle-sync/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("server: loading config failed", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("server: opening database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		logger.Error("server: database unreachable", "error", err)
		os.Exit(1)
	}
	cancel()

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Warn("server: invalid redis URL, notifications disabled", "error", err)
		} else {
			notifier = notify.NewRedisNotifier(redis.NewClient(opts))
		}
	}

	accounts := postgres.NewAccountRepo(db)
	cache := postgres.NewCacheRepo(db)
	heartbeats := postgres.NewHeartbeatRepo(db)

	// The batch resync runs server-side against Acelle directly; looping
	// back through our own proxy would only add a hop.
	upstream := acelle.NewUpstream(cfg.Gateway, cfg.Sync)
	orchestrator := syncsvc.NewOrchestrator(upstream, nil, nil, accounts, cache, notifier, cfg.Sync.PageSize)

	srv := gateway.NewServer(cfg.Gateway, heartbeats, orchestrator)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server: shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server: listen failed", "error", err)
			os.Exit(1)
		}
	}
}
