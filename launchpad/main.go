package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/overture-labs/overture-go/internal/catalog"
	"github.com/overture-labs/overture-go/internal/domain"
	"github.com/overture-labs/overture-go/internal/executor"
	"github.com/overture-labs/overture-go/internal/platform/auditlog"
	"github.com/overture-labs/overture-go/internal/platform/auth"
	"github.com/overture-labs/overture-go/internal/platform/env"
	"github.com/overture-labs/overture-go/internal/platform/httpserver"
	"github.com/overture-labs/overture-go/internal/platform/objectstore"
	"github.com/overture-labs/overture-go/internal/platform/postgres"
	"github.com/overture-labs/overture-go/internal/registry"
	"github.com/overture-labs/overture-go/internal/repo"
	repopostgres "github.com/overture-labs/overture-go/internal/repo/postgres"
	"github.com/overture-labs/overture-go/internal/storage/runlogs"
)

// lateApplier defers the executor's registry binding until both sides are
// built. Launch never happens before bind, so the pointer is set first.
type lateApplier struct {
	target atomic.Pointer[registry.Registry]
}

func (a *lateApplier) bind(reg *registry.Registry) {
	a.target.Store(reg)
}

func (a *lateApplier) ApplyTransition(ctx context.Context, runID string, to domain.RunStatus, detail string) (domain.RunStatus, error) {
	reg := a.target.Load()
	if reg == nil {
		return "", errors.New("registry not bound")
	}
	return reg.ApplyTransition(ctx, runID, to, detail)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("LAUNCHPAD_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("LAUNCHPAD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	catalogPath := env.String("LAUNCHPAD_CATALOG_PATH", "catalog.yaml")
	archiveEnabled, err := env.Bool("LAUNCHPAD_ARCHIVE_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	runLogsEnabled, err := env.Bool("LAUNCHPAD_RUN_LOGS_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		logger.Error("catalog load failed", "path", catalogPath, "error", err)
		os.Exit(2)
	}

	var db *sql.DB
	var archive repo.RunArchive
	if archiveEnabled {
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		archive = repopostgres.NewRunArchive(db)
	}

	var logStore *runlogs.Store
	var storeCfg objectstore.Config
	var storeClient *minio.Client
	if runLogsEnabled {
		cfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		client, err := objectstore.NewClient(cfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBucket(startupCtx, client, cfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		store, err := runlogs.New(client, cfg.BucketRunLogs)
		if err != nil {
			logger.Error("run log store init failed", "error", err)
			os.Exit(2)
		}
		logStore = store
		storeCfg = cfg
		storeClient = client
	}

	commandRunner, err := executor.NewCommandRunner("")
	if err != nil {
		logger.Error("command runner init failed", "error", err)
		os.Exit(2)
	}

	var logSink executor.LogSink
	if logStore != nil {
		logSink = logStore
	}

	applier := &lateApplier{}
	exec, err := executor.New(logger, applier, logSink, commandRunner, executor.SleepRunner{})
	if err != nil {
		logger.Error("executor init failed", "error", err)
		os.Exit(2)
	}
	for _, kind := range cat.Runners() {
		if !exec.Supports(kind) {
			logger.Error("catalog references unknown runner kind", "kind", kind)
			os.Exit(2)
		}
	}

	reg := registry.New(logger, cat, exec, archive)
	if reg == nil {
		logger.Error("registry init failed")
		os.Exit(2)
	}
	applier.bind(reg)

	authenticator, err := buildAuthenticator(ctx, logger)
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("launchpad"))
	mux.HandleFunc("/readyz", readyzHandler(db, storeClient, storeCfg))

	api := newLaunchpadAPI(logger, reg, cat, db, archive, logStore)
	api.register(mux)

	var handler http.Handler = mux
	if authenticator != nil {
		handler = auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			Authorize:     auth.MethodRoleAuthorizer(),
			Audit:         authDenyAudit(db),
			SkipPrefixes:  []string{"/healthz", "/readyz"},
		}.Wrap(mux)
	}

	cfg := httpserver.Config{
		Service:         "launchpad",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	serveErr := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "launchpad", handler))

	// Drain in-flight runs before exit so every accepted run reaches a
	// terminal status.
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := reg.Close(drainCtx); err != nil {
		logger.Warn("registry close incomplete", "error", err)
	}
	if err := exec.Shutdown(drainCtx); err != nil {
		logger.Warn("executor shutdown incomplete", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Error("server failed", "error", serveErr)
		os.Exit(1)
	}
}

func buildAuthenticator(ctx context.Context, logger *slog.Logger) (auth.Authenticator, error) {
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	switch authCfg.Mode {
	case auth.ModeDisabled:
		logger.Warn("auth disabled, all requests are anonymous")
		return nil, nil
	case auth.ModeDev:
		logger.Warn("auth in dev mode", "subject", authCfg.DevSubject)
		return auth.NewDevAuthenticator(authCfg), nil
	case auth.ModeOIDC:
		return auth.NewOIDCAuthenticator(ctx, authCfg)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", authCfg.Mode)
	}
}

func readyzHandler(db *sql.DB, store *minio.Client, storeCfg objectstore.Config) http.HandlerFunc {
	checks := make([]httpserver.ReadinessCheck, 0, 2)
	if db != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: httpserver.WithTimeout(750*time.Millisecond, func(ctx context.Context) error {
				return db.PingContext(ctx)
			}),
		})
	}
	if store != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: httpserver.WithTimeout(750*time.Millisecond, func(ctx context.Context) error {
				return objectstore.CheckBucket(ctx, store, storeCfg)
			}),
		})
	}
	if len(checks) == 0 {
		return httpserver.Readyz("launchpad")
	}
	return httpserver.ReadyzWithChecks("launchpad", checks...)
}

func authDenyAudit(db *sql.DB) auth.AuditFunc {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return auditlog.InsertAuthDeny(auditCtx, db, "launchpad", event)
	}
}
