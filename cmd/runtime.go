package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/otherjamesbrown/council-search/config"
	"github.com/otherjamesbrown/council-search/credentials"
	"github.com/otherjamesbrown/council-search/pkg/buildinfo"
	"github.com/otherjamesbrown/council-search/pkg/db"
	"github.com/otherjamesbrown/council-search/pkg/ingest/batch"
	"github.com/otherjamesbrown/council-search/pkg/ingest/events"
	"github.com/otherjamesbrown/council-search/pkg/logging"
	"github.com/otherjamesbrown/council-search/pkg/observability"
	"github.com/otherjamesbrown/council-search/pkg/provider"
	"github.com/otherjamesbrown/council-search/pkg/search"
	"github.com/otherjamesbrown/council-search/pkg/search/index"
	"github.com/otherjamesbrown/council-search/pkg/store"
	"github.com/otherjamesbrown/council-search/pkg/store/postgres"
	"github.com/otherjamesbrown/council-search/pkg/store/sqlite"
)

// Runtime is the wired application: storage, index, services and telemetry.
type Runtime struct {
	Config    *config.Config
	Logger    logging.Logger
	Registry  *prometheus.Registry
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Store     store.Store
	Index     index.SearchIndex
	Search    *search.Service
	Publisher *events.Publisher

	health  func(context.Context) error
	closers []func() error
}

// OpenRuntime opens the configured storage backend and builds the services
// on top of it. The Redis publisher is optional: a connection failure is
// logged and ingestion runs without events.
func OpenRuntime(ctx context.Context, cfg *config.Config, creds *credentials.Store, logger logging.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Tracer:   observability.NewTracer(),
	}
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.Metrics = observability.NewMetrics(rt.Registry)

	var err error
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		err = rt.openPostgres(ctx, creds)
	default:
		err = rt.openSQLite(ctx)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		pub, err := events.NewPublisherFromConfig(ctx, events.PublisherConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Warn("Redis unavailable, ingest events disabled",
				logging.Err(err), logging.F("addr", cfg.Redis.Addr))
		} else {
			rt.Publisher = pub
			rt.closers = append(rt.closers, pub.Close)
		}
	}

	rt.Search = search.NewService(rt.Store, rt.Index, rt.Metrics, rt.Tracer, logger)
	return rt, nil
}

func (rt *Runtime) openSQLite(ctx context.Context) error {
	path, err := rt.Config.SQLitePath()
	if err != nil {
		return err
	}
	if path != sqlite.Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqldb, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	st, err := sqlite.New(ctx, sqldb)
	if err != nil {
		sqldb.Close()
		return err
	}
	idx, err := index.NewSQLite(ctx, sqldb)
	if err != nil {
		sqldb.Close()
		return err
	}

	rt.Store, rt.Index = st, idx
	rt.health = st.Ping
	rt.closers = append(rt.closers, st.Close)
	rt.Logger.Debug("Opened SQLite database", logging.F("path", path))
	return nil
}

func (rt *Runtime) openPostgres(ctx context.Context, creds *credentials.Store) error {
	pool, err := connectPostgres(ctx, rt.Config, creds, rt.Logger)
	if err != nil {
		return err
	}

	status, err := db.GetMigrationStatus(ctx, pool, db.Migrations())
	if err != nil {
		pool.Close()
		return fmt.Errorf("checking migrations: %w", err)
	}
	if n := len(status.Pending); n > 0 {
		pool.Close()
		return fmt.Errorf("%d pending migration(s); run 'council db migrate' first", n)
	}

	if _, err := db.RegisterPoolStatsCollector(rt.Registry, pool, observability.Namespace, buildinfo.ServiceName); err != nil {
		pool.Close()
		return fmt.Errorf("registering pool metrics: %w", err)
	}

	st := postgres.New(pool)
	rt.Store, rt.Index = st, index.NewPostgres(pool)
	rt.health = db.Pinger(pool)
	rt.closers = append(rt.closers, st.Close)
	return nil
}

// Processor builds a batch processor restricted to authorities (all when empty).
func (rt *Runtime) Processor(authorities []string) *batch.Processor {
	return batch.NewProcessor(rt.Store, rt.Index, rt.Publisher, rt.Metrics, rt.Tracer, rt.Logger, batch.ProcessorConfig{
		Concurrency:  rt.Config.Ingest.Concurrency,
		FetchTimeout: rt.Config.Ingest.FetchTimeout,
		Authorities:  authorities,
		ProviderOptions: provider.Options{
			UserAgent: rt.Config.Ingest.UserAgent,
		},
	})
}

// Health checks the storage backend.
func (rt *Runtime) Health(ctx context.Context) error {
	return rt.health(ctx)
}

// Close releases everything opened by OpenRuntime, newest first.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
