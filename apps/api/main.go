package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	shardinghandler "github.com/etewiah/property-web-builder-sub002/domains/sharding/be/handler"
	shardingservice "github.com/etewiah/property-web-builder-sub002/domains/sharding/be/service"
	subdomainshandler "github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/handler"
	subdomainsrepo "github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/repo"
	subdomainsservice "github.com/etewiah/property-web-builder-sub002/domains/subdomains/be/service"
	websiteshandler "github.com/etewiah/property-web-builder-sub002/domains/websites/be/handler"
	websitesprov "github.com/etewiah/property-web-builder-sub002/domains/websites/be/provisioning"
	websitesrepo "github.com/etewiah/property-web-builder-sub002/domains/websites/be/repo"
	websitesservice "github.com/etewiah/property-web-builder-sub002/domains/websites/be/service"
	platformlogging "github.com/etewiah/property-web-builder-sub002/platform/go/logging"
	platformmiddleware "github.com/etewiah/property-web-builder-sub002/platform/go/middleware"
	"github.com/etewiah/property-web-builder-sub002/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	AdminDatabaseURL string `env:"ADMIN_DATABASE_URL,required"`
	// ShardDSNs maps logical shard names to DSNs, e.g.
	// "shard1=postgres://...,shard2=postgres://...".
	ShardDSNs    map[string]string `env:"SHARD_DATABASE_URLS,required" envSeparator:"," envKeyValSeparator:"="`
	DefaultShard string            `env:"DEFAULT_SHARD,required"`

	ReservationTTL  time.Duration `env:"SUBDOMAIN_RESERVATION_TTL" envDefault:"10m"`
	PoolMinimum     int64         `env:"SUBDOMAIN_POOL_MINIMUM" envDefault:"25"`
	JanitorInterval time.Duration `env:"POOL_JANITOR_INTERVAL" envDefault:"1m"`

	MailGatewayURL string `env:"MAIL_GATEWAY_URL"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	admin, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.AdminDatabaseURL})
	if err != nil {
		logger.Fatal("init admin pool", zap.Error(err))
	}
	defer persistence.ClosePool(admin)

	if err := persistence.ApplyControlPlaneDDL(ctx, admin); err != nil {
		logger.Fatal("apply control-plane schema", zap.Error(err))
	}

	shards, err := persistence.NewShardRegistry(ctx, cfg.ShardDSNs)
	if err != nil {
		logger.Fatal("init shard registry", zap.Error(err))
	}
	defer shards.Close()

	if !shards.IsConfigured(cfg.DefaultShard) {
		logger.Fatal("default shard is not configured", zap.String("shard", cfg.DefaultShard))
	}
	for _, name := range shards.Names() {
		pool, err := shards.Pool(name)
		if err != nil {
			logger.Fatal("resolve shard pool", zap.String("shard", name), zap.Error(err))
		}
		if err := persistence.ApplyShardSpaceDDL(ctx, pool); err != nil {
			logger.Fatal("apply shard schema", zap.String("shard", name), zap.Error(err))
		}
	}

	subdomainRepo := subdomainsrepo.NewPostgresRepository(admin)
	subdomainService := subdomainsservice.New(subdomainRepo, logger)
	subdomainHTTPHandler := subdomainshandler.New(subdomainService, logger)

	checklists := websitesprov.NewChecklistReader(admin, shards)
	seeder := websitesprov.NewPackSeeder(shards, logger)
	var notifier websitesservice.Notifier
	if cfg.MailGatewayURL != "" {
		notifier = websitesprov.NewMailGatewayNotifier(cfg.MailGatewayURL, logger)
	} else {
		notifier = websitesprov.NewLogNotifier(logger)
	}

	websiteRepo := websitesrepo.NewPostgresRepository(admin)
	websiteService := websitesservice.New(websiteRepo, subdomainService, checklists, seeder, notifier, logger,
		websitesservice.Config{
			DefaultShard:   cfg.DefaultShard,
			ReservationTTL: cfg.ReservationTTL,
		})
	websiteHTTPHandler := websiteshandler.New(websiteService, logger)

	healthChecker := shardingservice.NewHealthChecker(shards, logger)
	shardService := shardingservice.New(admin, shards, healthChecker, logger)
	migrator := shardingservice.NewMigrator(admin, shards, logger)
	shardHTTPHandler := shardinghandler.New(shardService, healthChecker, migrator, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := admin.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := chi.NewRouter()
	subdomainHTTPHandler.Register(apiRouter)
	websiteHTTPHandler.Register(apiRouter)
	shardHTTPHandler.Register(apiRouter)

	rootRouter.Mount("/api/v1", apiRouter)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go runPoolJanitor(janitorCtx, subdomainService, cfg, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// runPoolJanitor periodically reclaims lapsed reservations and tops the pool
// back up to its configured minimum. It runs off the request path so signups
// never pay for replenishment.
func runPoolJanitor(ctx context.Context, pool *subdomainsservice.Service, cfg config, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := pool.ReclaimExpired(ctx); err != nil {
			logger.Warn("reclaim expired reservations", zap.Error(err))
		}
		if _, err := pool.EnsurePoolMinimum(ctx, cfg.PoolMinimum); err != nil {
			logger.Warn("replenish subdomain pool", zap.Error(err))
		}
	}
}
