package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/netprobe/internal/cache"
	"github.com/hamed0406/netprobe/internal/config"
	"github.com/hamed0406/netprobe/internal/domain"
	"github.com/hamed0406/netprobe/internal/engine"
	"github.com/hamed0406/netprobe/internal/httpapi"
	apimw "github.com/hamed0406/netprobe/internal/httpapi/middleware"
	"github.com/hamed0406/netprobe/internal/logging"
	"github.com/hamed0406/netprobe/internal/metrics"
	"github.com/hamed0406/netprobe/internal/notify"
	"github.com/hamed0406/netprobe/internal/probe"
	"github.com/hamed0406/netprobe/internal/repo"
	"github.com/hamed0406/netprobe/internal/repo/leveldb"
	"github.com/hamed0406/netprobe/internal/repo/memory"
	"github.com/hamed0406/netprobe/internal/repo/postgres"
	"github.com/hamed0406/netprobe/internal/resolver/doh"
	"github.com/hamed0406/netprobe/internal/resolver/geo"
	"github.com/hamed0406/netprobe/internal/scheduler"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, logging.Options{Level: cfg.LogLevel, Stderr: cfg.LogStderr})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store_open_failed", zap.Error(err))
	}
	defer store.Close()

	if cfg.WatchlistFile != "" {
		seedWatchlist(ctx, cfg.WatchlistFile, store, logger)
	}

	m := metrics.New("")
	eng := engine.New(
		probe.NewDefaultRegistry(probe.Deps{DoH: doh.New(cfg.DoHURL, cfg.DoHTimeout)}),
		cache.New[probe.Key, probe.Result](cfg.CacheTTL),
		logger,
		engine.WithRecorder(m),
		engine.WithTimeouts(kindTimeouts(cfg)),
		engine.WithSingleTimeout(cfg.SingleTimeout),
		engine.WithConcurrency(cfg.BatchConcurrency),
	)

	locators := geo.Chain{}
	if cfg.GeoIPDB != "" {
		mm, err := geo.OpenMaxMind(cfg.GeoIPDB, cfg.GeoIPASNDB)
		if err != nil {
			logger.Warn("geoip_open_failed", zap.String("path", cfg.GeoIPDB), zap.Error(err))
		} else {
			defer mm.Close()
			locators = append(locators, mm)
		}
	}
	locators = append(locators, geo.NewIPAPI(cfg.IPAPIURL, 5*time.Second))

	api := httpapi.NewServer(logger, eng, store, store,
		httpapi.WithGeo(&net.Resolver{}, locators),
		httpapi.WithMetrics(m.Handler()),
		httpapi.WithMaxTargets(cfg.MaxBatchTargets),
	)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	if len(keys.Public) == 0 && len(keys.Admin) == 0 {
		logger.Warn("api_keys_missing", zap.String("hint", "set PUBLIC_API_KEYS and ADMIN_API_KEYS"))
	}

	notifiers := notify.Multi{notify.Log(func(title, text string) {
		logger.Info("alert", zap.String("title", title), zap.String("text", text))
	})}
	if slack := notify.NewSlack(cfg.SlackWebhookURL); slack != nil {
		notifiers = append(notifiers, slack)
	}

	watcher := scheduler.NewWatcher(logger, store, store, eng, scheduler.WatcherConfig{
		Interval:      cfg.CheckInterval,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		Concurrency:   cfg.BatchConcurrency,
	})
	alerter := scheduler.NewAlerter(logger, store, store, notifiers, m, scheduler.AlerterConfig{
		AlertOnRecovery: cfg.AlertOnRecovery,
		Cooldown:        cfg.AlertCooldown,
		CertWarnDays:    cfg.CertWarnDays,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := alerter.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api_stopped", zap.Error(err))
		return
	}
	logger.Info("api_stopped")
}

// openStore prefers Postgres, then a local leveldb directory, then memory.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("store_selected", zap.String("kind", "postgres"))
		return pg, nil
	case cfg.StorePath != "":
		db, err := leveldb.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		logger.Info("store_selected", zap.String("kind", "leveldb"), zap.String("path", cfg.StorePath))
		return db, nil
	}
	logger.Info("store_selected", zap.String("kind", "memory"))
	return memory.New(), nil
}

// seedWatchlist adds the file's targets. Hosts already watched are skipped.
func seedWatchlist(ctx context.Context, path string, ts repo.TargetStore, logger *zap.Logger) {
	wl, err := config.LoadWatchlist(path)
	if err != nil {
		logger.Warn("watchlist_load_failed", zap.String("path", path), zap.Error(err))
		return
	}
	added := 0
	for _, wt := range wl.Targets {
		specs, err := probe.ParseSpecs(strings.Join(wt.Probes, ","))
		if err != nil || len(specs) == 0 {
			logger.Warn("watchlist_bad_target", zap.String("host", wt.Host), zap.Error(err))
			continue
		}
		probes := make([]string, len(specs))
		for i, sp := range specs {
			probes[i] = sp.String()
		}
		t := &domain.Target{Host: strings.ToLower(strings.TrimSpace(wt.Host)), Probes: probes}
		switch err := ts.Add(ctx, t); {
		case errors.Is(err, repo.ErrExists):
		case err != nil:
			logger.Warn("watchlist_add_failed", zap.String("host", wt.Host), zap.Error(err))
		default:
			added++
		}
	}
	logger.Info("watchlist_seeded", zap.String("path", path), zap.Int("targets", len(wl.Targets)), zap.Int("added", added))
}

func kindTimeouts(cfg config.Config) map[probe.Kind]time.Duration {
	out := make(map[probe.Kind]time.Duration)
	for k, d := range cfg.Timeouts() {
		out[probe.Kind(k)] = d
	}
	return out
}
