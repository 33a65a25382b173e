// Package app wires storage, analysis, and the session aggregator into one
// process-wide service shared by the MCP and HTTP surfaces.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/config"
	"github.com/hpungsan/feedlens/internal/db"
	"github.com/hpungsan/feedlens/internal/delegate"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/metrics"
	"github.com/hpungsan/feedlens/internal/ops"
	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/stats"
)

// redisDialTimeout bounds the startup PING.
const redisDialTimeout = 5 * time.Second

// App holds the singletons of a running feedlens process.
type App struct {
	Config     *config.Config
	Store      kv.Store
	Stats      *stats.Store
	Recorder   *ops.Recorder
	Analyzer   analysis.Analyzer
	Mailbox    *session.Mailbox
	Aggregator *session.Aggregator
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics

	closers []func() error
}

// Open builds an App. database may be nil when cfg selects redis storage.
func Open(ctx context.Context, database *sql.DB, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
	}
	a.Metrics = metrics.New(a.Registry)

	store, closer, err := openStore(ctx, database, cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.Store = store
	a.Stats = stats.New(store)
	a.Recorder = ops.NewRecorder(store, a.Stats, cfg.HistoryLimit)
	a.Analyzer = delegate.NewAnalyzer(cfg, a.Metrics)
	a.Mailbox = session.NewMailbox(0)
	a.Aggregator = session.New(a.Analyzer, a.Recorder, a.Mailbox, a.Metrics, session.OptionsFromConfig(cfg))

	mode := cfg.EffectiveMode()
	if mode != cfg.AnalysisMode {
		log.Printf("app: analysis_mode %q is not usable, running %s", cfg.AnalysisMode, mode)
	}
	return a, nil
}

// Close stops the aggregator and releases storage clients. The SQLite
// handle belongs to the caller.
func (a *App) Close() error {
	a.Aggregator.Close()
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openStore returns the configured store and, for stores the App owns, its
// close function.
func openStore(ctx context.Context, database *sql.DB, cfg *config.Config) (kv.Store, func() error, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		ctx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		defer cancel()
		r, err := kv.NewRedis(ctx, kv.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case config.StorageSQLite, "":
		if database == nil {
			return nil, nil, fmt.Errorf("sqlite storage selected but no database is open")
		}
		db.ConfigurePool(database, cfg)
		return db.NewKV(database), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q (want sqlite or redis)", cfg.Storage)
	}
}
