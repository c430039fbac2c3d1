// Package app assembles the importer and its optional integrations from a
// config.Config. The API server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/statement-importer/internal/archive"
	"github.com/dvloznov/statement-importer/internal/config"
	infraBQ "github.com/dvloznov/statement-importer/internal/infra/bigquery"
	"github.com/dvloznov/statement-importer/internal/jobs"
	"github.com/dvloznov/statement-importer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/store"
	"github.com/dvloznov/statement-importer/internal/store/postgres"
	"github.com/dvloznov/statement-importer/internal/store/sqlite"
	"github.com/dvloznov/statement-importer/internal/tagging"
)

const jobQueueBuffer = 100

// App holds every long-lived component. Optional fields are nil when the
// integration is not configured.
type App struct {
	Store    store.Store
	Importer *pipeline.Importer
	JobStore *inmemory.Store

	Archiver archive.Archiver
	Queue    *inmemory.Queue

	exporter *infraBQ.Exporter
	closers  []func() error
}

// OpenStore opens Postgres when DATABASE_URL is set and SQLite otherwise.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.UsePostgres() {
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	}
	s, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("OpenStore: %w", err)
	}
	return s, nil
}

// New opens the store, applies migrations and wires the optional
// integrations named in cfg.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	log := logger.FromContext(ctx)

	a := &App{JobStore: inmemory.NewStore()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	s, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	applied, err := s.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("New: migrating store: %w", err)
	}
	if len(applied) > 0 {
		log.Info().Strs("migrations", applied).Msg("Applied store migrations")
	}

	opts := []pipeline.Option{
		pipeline.WithLimits(pipeline.Limits{MaxFileSize: cfg.MaxUploadSize, MaxRows: cfg.MaxImportRows}),
	}

	suggesters, err := buildSuggesters(ctx, cfg, s)
	if err != nil {
		return nil, err
	}
	if len(suggesters) > 0 {
		opts = append(opts, pipeline.WithTagSuggester(suggesters))
	}

	if cfg.GCSBucket != "" {
		arch, err := archive.NewGCSArchiver(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Archiver = arch
		a.closers = append(a.closers, arch.Close)
		log.Info().Str("bucket", cfg.GCSBucket).Msg("Upload archiving enabled")
	}

	if cfg.BigQueryProject != "" {
		exp, err := infraBQ.NewExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		a.exporter = exp
		a.closers = append(a.closers, exp.Close)
		a.Queue = inmemory.NewQueue(jobQueueBuffer, a.JobStore, inmemory.WithWorkers(cfg.JobWorkers))
		opts = append(opts, pipeline.WithCompletionHook(jobs.NewExportNotifier(a.Queue)))
		log.Info().
			Str("project", cfg.BigQueryProject).
			Str("dataset", cfg.BigQueryDataset).
			Msg("BigQuery export enabled")
	}

	a.Importer = pipeline.NewImporter(s, opts...)
	return a, nil
}

func buildSuggesters(ctx context.Context, cfg *config.Config, s store.Store) (tagging.Chain, error) {
	var chain tagging.Chain
	if cfg.TagRulesPath != "" {
		rs, err := tagging.LoadRulesFile(cfg.TagRulesPath)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		rt, err := tagging.NewRuleTagger(rs, s)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		chain = append(chain, rt)
	}
	if cfg.GeminiEnabled {
		gt, err := tagging.NewGeminiTagger(ctx, cfg.GeminiModel, s)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		chain = append(chain, gt)
	}
	return chain, nil
}

// Start runs the export workers when BigQuery export is configured.
func (a *App) Start(ctx context.Context) error {
	if a.Queue == nil {
		return nil
	}
	return a.Queue.Start(ctx, jobs.NewExportHandler(a.Store, a.exporter))
}

// Close stops the workers, waiting for in-flight jobs until ctx expires,
// then releases every client in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping job queue: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
