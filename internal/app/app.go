package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"mediavault/internal/api"
	"mediavault/internal/catalog"
	"mediavault/internal/config"
	"mediavault/internal/db"
	"mediavault/internal/drive"
	"mediavault/internal/drivesync"
	"mediavault/internal/jobstore"
	"mediavault/internal/logging"
	"mediavault/internal/metrics"
	"mediavault/internal/runtime"
	"mediavault/internal/store"
	"mediavault/internal/ws"
)

// App wires every component together. Nothing in here is a global; the
// constructor builds the full object graph and Run owns its lifecycle.
type App struct {
	cfg config.Config
	log zerolog.Logger

	store   *store.Store
	jobs    jobstore.Store
	hub     *ws.Hub
	mtr     *metrics.Metrics
	rt      *runtime.Runtime
	sync    *drivesync.Engine
	catalog *catalog.Service
	server  *http.Server
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	backend, err := db.ParseBackend(cfg.DBBackend)
	if err != nil {
		return nil, err
	}
	gormDB, err := db.Open(db.Config{
		Backend:     backend,
		SQLitePath:  filepath.Join(cfg.DataDir, "mediavault.db"),
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	st, err := store.New(gormDB)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	jobs, err := jobstore.New(jobstore.Config{
		Backend:       cfg.JobStoreBackend,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("init job store: %w", err)
	}

	client, err := drive.NewS3(ctx, drive.S3Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		ForcePathStyle:  cfg.S3ForcePathStyle,
		Prefix:          cfg.DrivePrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init remote client: %w", err)
	}

	hub := ws.NewHub()
	mtr := metrics.New()

	rt := runtime.New(jobs, hub, mtr, log, runtime.Options{
		TransferPermits: cfg.TransferPermits,
		Retention:       cfg.JobRetention,
	})

	syncEngine := drivesync.New(st, client, mtr, log)

	svc := catalog.New(st, rt, client, syncEngine, mtr, log, catalog.Options{
		MediaRoot:       cfg.MediaRoot,
		CatalogFileName: cfg.CatalogFileName,
		DriveFolder:     cfg.DriveFolder,
		LibraryID:       cfg.LibraryID,
	})

	handler := api.New(api.Dependencies{
		Config:  cfg,
		Store:   st,
		Catalog: svc,
		Runtime: rt,
		Jobs:    jobs,
		Hub:     hub,
		Metrics: mtr,
		Log:     log,
	})

	return &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		jobs:    jobs,
		hub:     hub,
		mtr:     mtr,
		rt:      rt,
		sync:    syncEngine,
		catalog: svc,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until the context is cancelled, then shuts down gracefully.
// A sync flag left set by a previous crash is cleared at startup since no
// sync of ours can be running yet.
func (a *App) Run(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.store.ClearSyncInProgress(startCtx); err != nil {
		a.log.Warn().Err(err).Msg("clear stale sync flag")
	}
	cancel()

	go a.rt.RunCleanup(ctx, a.cfg.JobCleanupInterval)
	go a.sync.RunPeriodic(ctx, a.cfg.CacheSyncInterval, a.cfg.CacheSyncBackoff)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
