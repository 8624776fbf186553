package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"meditrack/m/internal/api"
	"meditrack/m/internal/config"
	"meditrack/m/internal/migrations"
	"meditrack/m/internal/report"
	"meditrack/m/internal/sale"
	"meditrack/m/internal/seed"
	"meditrack/m/internal/service"
	"meditrack/m/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeBlobs, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Error("close store")
		}
		closeBlobs()
	}()

	if err := migrations.Run(ctx, st); err != nil {
		logger.WithError(err).Fatal("run migrations")
	}
	if err := seed.Defaults(ctx, st, logger); err != nil {
		logger.WithError(err).Fatal("seed roles and admin")
	}
	if err := seed.Settings(ctx, st, logger); err != nil {
		logger.WithError(err).Fatal("seed settings")
	}
	if cfg.CatalogCSV != "" {
		if _, err := seed.LoadMedicines(ctx, st, cfg.CatalogCSV, logger); err != nil {
			config.LogError(logger, "main", "main", "load catalog", cfg.CatalogCSV, err)
		}
	}

	svcs := service.New(st, service.Options{Logger: logger, PhoneRegion: cfg.PhoneRegion})
	if _, err := svcs.TrimAuditLogs(ctx, cfg.AuditRetentionDays); err != nil {
		config.LogError(logger, "main", "main", "trim audit logs", cfg.AuditRetentionDays, err)
	}

	handler := api.New(svcs, sale.New(st, svcs, logger), report.New(st, svcs, logger), cfg.Secret, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown server")
		}
	}()

	logger.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "backend": cfg.Backend}).Info("MediTrack server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("server error")
	}
	logger.Info("MediTrack server stopped")
}

// openStore opens the configured backend. The returned func releases the
// snapshot blob store, if any, and must run after the store is closed.
func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Store, func(), error) {
	noop := func() {}
	if cfg.Backend == config.BackendFile {
		st, err := store.OpenFile(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	}

	var (
		blobs store.BlobStore
		done  = noop
	)
	switch cfg.SnapshotBlob {
	case config.BlobsRedis:
		rb, err := store.NewRedisBlobs(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		blobs = rb
		done = func() {
			if err := rb.Close(); err != nil {
				logger.WithError(err).Error("close redis")
			}
		}
	default:
		db, err := store.NewDirBlobs(cfg.SnapshotDir)
		if err != nil {
			return nil, nil, err
		}
		blobs = db
	}

	st, err := store.OpenSnapshot(ctx, blobs, cfg.SnapshotKey, logger)
	if err != nil {
		done()
		return nil, nil, err
	}
	return st, done, nil
}
