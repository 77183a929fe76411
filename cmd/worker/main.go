// The worker binary runs the scheduled sync job: on a fixed interval it
// pulls every active account's campaign statistics through the gateway
// and refreshes the cache store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/seventic/acelle-sync/internal/acelle"
	"github.com/seventic/acelle-sync/internal/availability"
	"github.com/seventic/acelle-sync/internal/config"
	"github.com/seventic/acelle-sync/internal/notify"
	"github.com/seventic/acelle-sync/internal/pkg/distlock"
	"github.com/seventic/acelle-sync/internal/pkg/logger"
	"github.com/seventic/acelle-sync/internal/repository/postgres"
	syncsvc "github.com/seventic/acelle-sync/internal/sync"
	"github.com/seventic/acelle-sync/internal/token"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run a single sync pass and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("worker: loading config failed", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("worker: opening database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Warn("worker: invalid redis URL, notifications disabled", "error", err)
		} else {
			rdb = redis.NewClient(opts)
			notifier = notify.NewRedisNotifier(rdb)
		}
	}

	tokens := token.NewProvider(cfg.Auth)
	go tokens.Start(ctx)

	client := acelle.NewClient(cfg.Gateway, cfg.Sync, tokens)
	monitor := availability.NewMonitor(tokens, client, cfg.Sync.AvailabilityTTL())
	go monitor.Start(ctx)

	accounts := postgres.NewAccountRepo(db)
	cache := postgres.NewCacheRepo(db)
	orchestrator := syncsvc.NewOrchestrator(client, client, monitor, accounts, cache, notifier, cfg.Sync.PageSize)

	// One pass at a time across replicas. The TTL covers a slow full pass;
	// a crashed holder frees the lock by expiry.
	lock := distlock.New(rdb, db, syncsvc.OpID, 2*cfg.Sync.Interval())

	runOnce := func() {
		acquired, err := lock.TryAcquire(ctx)
		if err != nil {
			logger.Error("worker: lock acquisition failed", "error", err)
			return
		}
		if !acquired {
			logger.Info("worker: another replica holds the sync lock, skipping pass")
			return
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				logger.Warn("worker: lock release failed", "error", err)
			}
		}()

		if ok, err := monitor.Ensure(ctx, false); err != nil || !ok {
			logger.Warn("worker: services unavailable, skipping pass", "error", err)
			return
		}
		results, err := orchestrator.SyncAll(ctx)
		if err != nil {
			logger.Error("worker: sync pass failed", "error", err)
			return
		}
		succeeded := 0
		for _, r := range results {
			if r.State == syncsvc.StateSucceeded {
				succeeded++
			}
		}
		logger.Info("worker: sync pass done", "accounts", len(results), "succeeded", succeeded)
	}

	runOnce()
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.Sync.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker: shutting down")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
