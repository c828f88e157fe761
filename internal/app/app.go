package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/internal/broadcast"
	"github.com/bl4ck0w1/threatlynx/internal/catalog"
	"github.com/bl4ck0w1/threatlynx/internal/enrichment"
	"github.com/bl4ck0w1/threatlynx/internal/inference"
	"github.com/bl4ck0w1/threatlynx/internal/orchestration"
	"github.com/bl4ck0w1/threatlynx/internal/recon"
	"github.com/bl4ck0w1/threatlynx/internal/server"
	"github.com/bl4ck0w1/threatlynx/internal/storage"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

// App holds the fully wired pipeline for one process.
type App struct {
	Config    *models.Config
	Logger    *logrus.Logger
	Metrics   *utils.MetricsCollector
	Store     storage.Store
	Archive   *storage.Archive
	Hub       *broadcast.Hub
	Catalog   *catalog.Catalog
	Provider  inference.Provider
	Mapper    *enrichment.Mapper
	Sequencer *orchestration.Sequencer
	Service   *orchestration.Service
}

type options struct {
	provider inference.Provider
	recon    orchestration.Recon
	store    storage.Store
	metrics  *utils.MetricsCollector
}

type Option func(*options)

// WithProvider replaces the provider chain built from the inference config.
func WithProvider(p inference.Provider) Option { return func(o *options) { o.provider = p } }

func WithRecon(r orchestration.Recon) Option { return func(o *options) { o.recon = r } }

func WithStore(s storage.Store) Option { return func(o *options) { o.store = s } }

func WithMetrics(m *utils.MetricsCollector) Option { return func(o *options) { o.metrics = m } }

func New(cfg *models.Config, logger *logrus.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Logger: logger, Catalog: catalog.Default()}

	a.Metrics = o.metrics
	if a.Metrics == nil {
		a.Metrics = utils.NewScanMetrics(true)
	}

	a.Store = o.store
	if a.Store == nil {
		store, err := storage.New(cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.Store = store
	}

	if cfg.Storage.ArchiveDir != "" {
		archive, err := storage.NewArchive(cfg.Storage.ArchiveDir, cfg.Storage.Compression, cfg.Storage.Retention, logger)
		if err != nil {
			_ = a.Store.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.Archive = archive
	}

	a.Provider = o.provider
	if a.Provider == nil {
		a.Provider = buildProvider(cfg.Inference, logger, a.Metrics)
	}

	reconRunner := o.recon
	if reconRunner == nil {
		reconRunner = recon.NewDefaultCoordinator(cfg.Recon, logger, a.Metrics)
	}

	a.Hub = broadcast.NewHub(cfg.Server.EventBuffer, logger, a.Metrics)
	analyzer := enrichment.NewAnalyzer(a.Provider, cfg.Inference.Timeout, logger)
	a.Mapper = enrichment.NewMapper(
		enrichment.NewRemoteStrategy(a.Provider, a.Catalog, cfg.Inference.Timeout),
		enrichment.NewKeywordStrategy(),
		cfg.Global.MappingConcurrency,
		logger,
		a.Metrics,
	)

	seqOpts := []orchestration.SequencerOption{orchestration.WithMetrics(a.Metrics)}
	if a.Archive != nil {
		seqOpts = append(seqOpts, orchestration.WithArchive(a.Archive))
	}
	a.Sequencer = orchestration.NewSequencer(a.Store, reconRunner, analyzer, a.Mapper, a.Hub, logger, seqOpts...)
	a.Service = orchestration.NewService(a.Store, a.Sequencer, cfg.Global.MaxConcurrentScans, cfg.Global.ScanTimeout, logger)
	return a, nil
}

// buildProvider returns the HTTP provider wrapped in rate limiting and
// caching, or Unavailable when no endpoint is configured.
func buildProvider(cfg models.InferenceConfig, logger *logrus.Logger, metrics *utils.MetricsCollector) inference.Provider {
	if cfg.Endpoint == "" {
		logger.Warn("No inference endpoint configured; vulnerability analysis will fail and technique mapping will use keyword rules")
		return inference.Unavailable()
	}
	var p inference.Provider = inference.NewHTTPProvider(cfg.Endpoint, cfg.Model, cfg.Timeout, logger, metrics)
	p = inference.NewLimited(p, cfg.RateLimit, cfg.Burst)
	return inference.NewCached(p, cfg.CacheTTL, 0)
}

func (a *App) Server() *server.Server {
	return server.New(a.Config.Server, a.Service, a.Store, a.Hub, a.Catalog, a.Metrics, a.Logger)
}

// Start launches background maintenance that lives as long as ctx.
func (a *App) Start(ctx context.Context) {
	if a.Archive != nil {
		go a.Archive.RunRetention(ctx, 24*time.Hour)
	}
}

// Close waits for running scans up to ctx, then releases the hub and store.
func (a *App) Close(ctx context.Context) error {
	waitErr := a.Service.WaitAll(ctx)
	a.Hub.Close()
	return errors.Join(waitErr, a.Store.Close())
}

func (a *App) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"service":   a.Service.GetStats(),
		"mapper":    a.Mapper.GetStats(),
		"observers": a.Hub.Count(),
	}
	if s, ok := a.Provider.(interface{ GetStats() map[string]interface{} }); ok {
		stats["inference_cache"] = s.GetStats()
	}
	if m, ok := a.Store.(*storage.MemoryStore); ok {
		stats["store"] = m.GetStats()
	}
	if a.Archive != nil {
		if s, err := a.Archive.GetStorageStats(); err == nil {
			stats["archive"] = s
		}
	}
	return stats
}
