// Command appmantle-worker runs the platform's maintenance loops outside
// the API process: expired session reaping, export archive pruning, and
// audit log cleanup. Deployments that scale the API horizontally run one
// worker instead of a scheduler per replica.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/appmantle/appmantle/pkg/archive"
	"github.com/appmantle/appmantle/pkg/audit"
	"github.com/appmantle/appmantle/pkg/blob"
	"github.com/appmantle/appmantle/pkg/config"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/session"
	"github.com/appmantle/appmantle/pkg/store/postgres"
)

func main() {
	sessionInterval := flag.Duration("session-interval", time.Hour, "How often to reap expired sessions")
	archiveInterval := flag.Duration("archive-interval", 24*time.Hour, "How often to prune old export archives")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("configuration failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log, *sessionInterval, *archiveInterval); err != nil {
		log.WithError(err).Fatal("worker exited")
	}
	log.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger,
	sessionInterval, archiveInterval time.Duration) error {
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	pg := postgres.NewStore(db)

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

	engine := policy.NewEngine(cfg.Auth.FirstPartyDevID)
	sessions := session.NewService(pg, pg, pg, pg, nil, engine, logger, metrics)
	archives := archive.NewService(pg, pg, pg, blobs, engine, nil, logger, metrics)

	sessionTick := time.NewTicker(sessionInterval)
	defer sessionTick.Stop()
	archiveTick := time.NewTicker(archiveInterval)
	defer archiveTick.Stop()

	log.WithFields(logrus.Fields{
		"session_interval": sessionInterval.String(),
		"archive_interval": archiveInterval.String(),
	}).Info("worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sessionTick.C:
			if err := sessions.CleanupExpired(ctx); err != nil {
				log.WithError(err).Error("session cleanup failed")
			}
		case <-archiveTick.C:
			if err := archives.PruneOld(ctx); err != nil {
				log.WithError(err).Error("archive prune failed")
			}
			if removed, err := auditLog.Cleanup(ctx, cfg.Observability.AuditRetentionDays); err != nil {
				log.WithError(err).Error("audit cleanup failed")
			} else if removed > 0 {
				log.WithField("removed", removed).Info("audit log trimmed")
			}
		}
	}
}
