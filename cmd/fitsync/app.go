package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	fitsync "github.com/goliatone/go-fitsync"
	"github.com/goliatone/go-fitsync/adapters/gocommand"
	"github.com/goliatone/go-fitsync/adapters/gologger"
	"github.com/goliatone/go-fitsync/config"
	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/httpapi"
	fitsyncmigrations "github.com/goliatone/go-fitsync/migrations"
	"github.com/goliatone/go-fitsync/security"
	sqlstore "github.com/goliatone/go-fitsync/store/sql"
	fsync "github.com/goliatone/go-fitsync/sync"
)

type app struct {
	config        core.Config
	runtime       config.Runtime
	logger        core.Logger
	client        *persistence.Client
	trigger       *fsync.GoroutineTrigger
	scheduler     *fsync.Scheduler
	server        *httpapi.Server
	subscriptions gocommand.Subscriptions
}

func newApp(ctx context.Context, cfg core.Config, runtime config.Runtime, logOutput io.Writer) (*app, error) {
	loggers := gologger.NewSlogProvider(logOutput, runtime.Log.Level, strings.EqualFold(runtime.Log.Format, "text"))
	logger := loggers.GetLogger("fitsync")
	a := &app{config: cfg, runtime: runtime, logger: logger}

	client, err := openPersistence(ctx, runtime.Database)
	if err != nil {
		return nil, err
	}
	a.client = client

	factoryOpts := []sqlstore.FactoryOption{}
	if key := strings.TrimSpace(cfg.Security.TokenKey); key != "" {
		cipher, err := security.NewAppKeyCipherFromString(key,
			security.WithKeyID(cfg.Security.TokenKeyID),
			security.WithVersion(cfg.Security.TokenVersion),
		)
		if err != nil {
			a.Close()
			return nil, core.WrapError(core.KindConfiguration, err, "fitsync: token cipher")
		}
		factoryOpts = append(factoryOpts, sqlstore.WithTokenCipher(cipher))
	}
	if !runtime.Cache.Disabled {
		cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("fitsync: sync record cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithLatestRecordCache(cacheService))
	}
	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := fitsync.BuildRegistry(cfg, fitsync.ProviderRuntime{})
	for _, id := range fitsync.BuiltInProviderIDs() {
		if cause, unavailable := registry.Unavailable(id); unavailable {
			logger.Warn("provider unavailable", "provider_id", id, "error", cause)
		}
	}
	hooks := fitsync.NewExtensionHooks()
	events := hooks.EventSink()

	orchestratorOpts := []fsync.OrchestratorOption{
		fsync.WithObserver(core.NewObserver("fitsync.sync", loggers, nil, nil)),
	}
	serviceOpts := []fitsync.Option{
		fitsync.WithLoggerProvider(loggers),
		fitsync.WithRegistry(registry),
		fitsync.WithStores(stores),
	}
	if events != nil {
		orchestratorOpts = append(orchestratorOpts, fsync.WithEventSink(events))
		serviceOpts = append(serviceOpts, fitsync.WithEventSink(events))
	}
	orchestrator, err := fsync.NewOrchestrator(cfg, registry, stores, orchestratorOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.trigger = fsync.NewGoroutineTrigger(orchestrator, core.NewObserver("fitsync.trigger", loggers, nil, nil), cfg.Transport.RequestTimeout()*4)
	serviceOpts = append(serviceOpts, fitsync.WithSyncTrigger(a.trigger))
	service, err := fitsync.NewService(cfg, serviceOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	facade, err := fitsync.NewFacade(service, orchestrator, stores)
	if err != nil {
		a.Close()
		return nil, err
	}

	adapter := gocommand.NewRegistryAdapter(nil)
	a.subscriptions, err = gocommand.RegisterFacade(adapter, facade)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := adapter.Initialize(); err != nil {
		a.Close()
		return nil, err
	}

	fanOut := fsync.NewFanOut(orchestrator, registry, cfg.Sync.MaxParallelProviders)
	fanOut.Observer = core.NewObserver("fitsync.fanout", loggers, nil, nil)
	a.scheduler, err = fsync.NewScheduler(cfg.Sync.Schedule, fanOut,
		fsync.WithHandshakePurger(service),
		fsync.WithSchedulerObserver(core.NewObserver("fitsync.scheduler", loggers, nil, nil)),
		fsync.WithReportHandler(func(report fsync.FanOutReport) {
			for id, result := range report.Providers {
				logger.Info("provider sync finished",
					"provider_id", id,
					"succeeded", result.Succeeded(),
					"duration_ms", result.Duration.Milliseconds(),
				)
			}
		}),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.server, err = httpapi.New(facade, service.Config(), httpapi.WithLoggerProvider(loggers))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Run starts the scheduler and serves HTTP until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	a.scheduler.Start()
	serveErr := a.server.Start(ctx, a.runtime.Server.Addr)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.runtime.Server.ShutdownTimeout())
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler stop timed out", "error", err)
	}
	a.trigger.Wait()
	return serveErr
}

func (a *app) Close() {
	a.subscriptions.Unsubscribe()
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
}

func openPersistence(ctx context.Context, cfg config.DatabaseConfig) (*persistence.Client, error) {
	driver := cfg.SQLDriver()
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, core.WrapError(core.KindConfiguration, err, "fitsync: open database")
	}
	var dialect schema.Dialect = pgdialect.New()
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
		dialect = sqlitedialect.New()
	}

	client, err := persistence.New(persistenceConfig{cfg: cfg, driver: driver}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, core.WrapError(core.KindPersistenceFailed, err, "fitsync: persistence client")
	}
	if _, err := fitsyncmigrations.RegisterDialect(ctx, driver, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	}); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, core.WrapError(core.KindPersistenceFailed, err, "fitsync: migrate")
	}
	return client, nil
}

type persistenceConfig struct {
	cfg    config.DatabaseConfig
	driver string
}

func (c persistenceConfig) GetDebug() bool { return c.cfg.Debug }

func (c persistenceConfig) GetDriver() string { return c.driver }

func (c persistenceConfig) GetServer() string { return c.cfg.DSN }

func (c persistenceConfig) GetPingTimeout() time.Duration { return c.cfg.PingTimeout() }

func (c persistenceConfig) GetOtelIdentifier() string { return "fitsync" }
