// Command appmantle runs the platform API server: account lifecycle,
// device sessions, developer credentials, and data exports, with a
// separate health/metrics listener and cron-driven background jobs.
package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/appmantle/appmantle/pkg/api"
	"github.com/appmantle/appmantle/pkg/app"
	"github.com/appmantle/appmantle/pkg/archive"
	"github.com/appmantle/appmantle/pkg/async"
	"github.com/appmantle/appmantle/pkg/audit"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/billing"
	"github.com/appmantle/appmantle/pkg/blob"
	"github.com/appmantle/appmantle/pkg/config"
	"github.com/appmantle/appmantle/pkg/dev"
	"github.com/appmantle/appmantle/pkg/middleware"
	"github.com/appmantle/appmantle/pkg/notify"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/session"
	"github.com/appmantle/appmantle/pkg/store/postgres"
	"github.com/appmantle/appmantle/pkg/user"
)

// version is stamped at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("configuration failed")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := postgres.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, dev cache runs degraded")
		redisClient = nil
	}

	pg := postgres.NewStore(db)
	devStore := postgres.NewCachedDevStore(pg, redisClient, metrics)

	blobs, err := blob.NewS3Store(ctx, cfg.S3)
	if err != nil {
		return err
	}

	auditDB, err := sql.Open("sqlite3", cfg.Observability.AuditDBPath)
	if err != nil {
		return err
	}
	defer auditDB.Close()
	auditLog, err := audit.NewLogger(auditDB)
	if err != nil {
		return err
	}

	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	engine := policy.NewEngine(cfg.Auth.FirstPartyDevID)
	notifier := notify.NewDispatcher(&notify.LogMailer{Logger: logger}, logger, metrics)
	billingProvider := billing.NewLocalProvider(logger)

	exportPool := async.NewWorkerPool(ctx, cfg.Jobs.ExportWorkers, "export",
		5*time.Minute, logger)

	userSvc := user.NewService(pg, devStore, pg, pg, issuer, engine, notifier,
		blobs, billingProvider, logger, metrics)
	sessionSvc := session.NewService(pg, pg, devStore, pg, issuer, engine, logger, metrics)
	devSvc := dev.NewService(devStore, pg, logger, metrics)
	appSvc := app.NewService(pg, pg, devStore, engine, notifier, logger, metrics)
	archiveSvc := archive.NewService(pg, pg, pg, blobs, engine, exportPool, logger, metrics)

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		if redisClient != nil {
			limiter = middleware.NewRedisLimiter(redisClient,
				cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
		} else {
			local := middleware.NewTokenBucketLimiter(
				cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
			local.StartCleanup(ctx, time.Minute)
			limiter = local
		}
	}

	server := api.NewServer(cfg.Server, cfg.RateLimit, api.Deps{
		Users:    userSvc,
		Sessions: sessionSvc,
		Devs:     devSvc,
		Apps:     appSvc,
		Archives: archiveSvc,
		DevStore: devStore,
		Issuer:   issuer,
		Audit:    auditLog,
		Limiter:  limiter,
		Logger:   logger,
		Metrics:  metrics,
	})

	healthSrv := healthServer(cfg, registry, db, redisClient)

	scheduler, err := startJobs(ctx, cfg, sessionSvc, archiveSvc, auditLog, logger)
	if err != nil {
		return err
	}

	if cfg.ConfigFile != "" {
		stop, err := config.WatchOverlay(cfg.ConfigFile, logger)
		if err != nil {
			logger.WithError(err).Warn("config watch disabled")
		} else {
			defer stop()
		}
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(server.Shutdown)
	shutdown.RegisterShutdownFunc(healthSrv.Shutdown)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		scheduler.Stop()
		exportPool.Shutdown(cfg.Server.ShutdownTimeout)
		return nil
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	group, _ := errgroup.WithContext(ctx)
	group.Go(server.Start)
	group.Go(func() error {
		logger.WithField("addr", healthSrv.Addr).Info("health server listening")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}

func healthServer(cfg *config.Config, registry *prometheus.Registry,
	db *sql.DB, redisClient *redis.Client) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient, version)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	return &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
}

func startJobs(ctx context.Context, cfg *config.Config, sessions *session.Service,
	archives *archive.Service, auditLog *audit.Logger,
	logger *observability.Logger) (*cron.Cron, error) {
	scheduler := cron.New()

	_, err := scheduler.AddFunc(cfg.Jobs.SessionCleanupSchedule, func() {
		if err := sessions.CleanupExpired(ctx); err != nil {
			logger.WithError(err).Error("session cleanup failed")
		}
	})
	if err != nil {
		return nil, err
	}

	_, err = scheduler.AddFunc(cfg.Jobs.ArchivePruneSchedule, func() {
		if err := archives.PruneOld(ctx); err != nil {
			logger.WithError(err).Error("archive prune failed")
		}
		if _, err := auditLog.Cleanup(ctx, cfg.Observability.AuditRetentionDays); err != nil {
			logger.WithError(err).Error("audit cleanup failed")
		}
	})
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	return scheduler, nil
}
