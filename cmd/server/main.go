package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"warp2api-go/internal/auth"
	"warp2api-go/internal/config"
	"warp2api-go/internal/constants"
	"warp2api-go/internal/logging"
	mw "warp2api-go/internal/middleware"
	"warp2api-go/internal/monitoring/tracing"
	srv "warp2api-go/internal/server"
	usagestats "warp2api-go/internal/stats"
	"warp2api-go/internal/tokenpool"
	"warp2api-go/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg := config.LoadWithFile(*configPath)
	if *debug {
		cfg.Security.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	log.Infof("Starting Warp2API-Go %s (config: %s)", constants.GetFullVersion(), *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceShutdown, err := tracing.Init(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	pool := tokenpool.New()
	seedPool(pool, cfg)
	pool.LogStatus()

	refresher := auth.NewRefresher(cfg)
	provisioner := auth.NewProvisioner(cfg)

	usage := usagestats.NewUsageStats(buildStatsBackend(ctx, cfg))
	defer func() { _ = usage.Close() }()

	client := upstream.NewClient(cfg)
	orch := upstream.NewOrchestrator(cfg, pool, refresher, provisioner, client)
	facade := upstream.NewFacade(orch, pool, usage)

	// Config hot reload only ever adds credentials to the live pool.
	watcher := config.NewWatcher(*configPath, func(fresh *config.Config) {
		before := pool.Stats().Total
		seedPool(pool, fresh)
		if added := pool.Stats().Total - before; added > 0 {
			log.WithField("added", added).Info("credentials added from reloaded configuration")
			pool.LogStatus()
		}
	})
	if err := watcher.Start(ctx); err != nil {
		log.WithError(err).Warn("config watcher unavailable")
	}

	if cfg.Pool.RecoveryIntervalMinutes > 0 {
		interval := time.Duration(cfg.Pool.RecoveryIntervalMinutes) * time.Minute
		mw.SafeGo("pool-recovery", func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := pool.RecoverFailed(); n > 0 {
						log.WithField("recovered", n).Info("periodic pool recovery")
					}
				}
			}
		})
	}

	engine := srv.BuildEngine(cfg, srv.Dependencies{
		Pool:         pool,
		Orchestrator: orch,
		Facade:       facade,
		Usage:        usage,
		Provisioner:  provisioner,
	})

	httpSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), Handler: engine}
	go func() {
		log.Infof("API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	log.Info("Server stopped")
}

// seedPool loads every configured refresh secret into the pool. Add
// deduplicates, so reseeding after a reload is safe.
func seedPool(pool *tokenpool.Pool, cfg *config.Config) {
	if cfg.Pool.PrimaryPersonalToken != "" {
		pool.Add(cfg.Pool.PrimaryPersonalToken, tokenpool.TierPersonal)
	}
	for _, secret := range cfg.Pool.PersonalTokens {
		pool.Add(secret, tokenpool.TierPersonal)
	}
	for _, secret := range cfg.Pool.SharedTokens {
		pool.Add(secret, tokenpool.TierShared)
	}
	if anon := cfg.EffectiveAnonymousToken(); anon != "" {
		pool.Add(anon, tokenpool.TierAnonymous)
	}
}

// buildStatsBackend prefers redis when configured; any failure degrades to
// the in-memory backend so accounting never blocks startup.
func buildStatsBackend(ctx context.Context, cfg *config.Config) usagestats.Backend {
	if cfg.Redis.Addr == "" {
		return usagestats.NewMemoryBackend()
	}
	backend, err := usagestats.NewRedisBackend(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.WithError(err).Warn("redis stats backend unavailable, falling back to memory")
		return usagestats.NewMemoryBackend()
	}
	log.WithField("addr", cfg.Redis.Addr).Info("usage stats backed by redis")
	return backend
}
