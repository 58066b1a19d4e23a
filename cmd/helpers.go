package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ziadkadry99/flowtrace/internal/audit"
	"github.com/ziadkadry99/flowtrace/internal/collector"
	"github.com/ziadkadry99/flowtrace/internal/config"
	"github.com/ziadkadry99/flowtrace/internal/correlate"
	"github.com/ziadkadry99/flowtrace/internal/db"
	"github.com/ziadkadry99/flowtrace/internal/llm"
	"github.com/ziadkadry99/flowtrace/internal/logfile"
	"github.com/ziadkadry99/flowtrace/internal/pipeline"
	"github.com/ziadkadry99/flowtrace/internal/privacy"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
	"github.com/ziadkadry99/flowtrace/internal/retention"
	"github.com/ziadkadry99/flowtrace/internal/store"
	"github.com/ziadkadry99/flowtrace/internal/understand"
)

// app holds every component a command may need, built from one config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	stores   []*store.Store
	analysis *db.DB
	registry *prototype.Registry
	audit    *audit.Store
	pipeline *pipeline.Pipeline
}

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `flowtrace init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// openApp loads the config and opens the stores and the analysis database.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	stores, err := store.OpenAll(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	analysisDB, err := db.Open(cfg.AnalysisPath(), db.AnalysisSchema)
	if err != nil {
		store.CloseAll(stores)
		return nil, fmt.Errorf("opening analysis database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		stores:   stores,
		analysis: analysisDB,
		registry: prototype.NewRegistry(analysisDB),
		audit:    audit.NewStore(analysisDB),
	}

	sources := make([]correlate.Source, len(stores))
	retained := make([]retention.Store, len(stores))
	for i, s := range stores {
		sources[i] = s
		retained[i] = s
	}
	corrOpts := []correlate.Option{
		correlate.WithMargin(cfg.Correlation.Margin),
		correlate.WithLogger(logger),
	}
	if len(cfg.Collector.LogGlobs) > 0 {
		corrOpts = append(corrOpts, correlate.WithLogSource(logfile.NewReader(cfg.Collector.LogGlobs)))
	}
	corr := correlate.New(sources, corrOpts...)

	analysis := understand.NewStore(analysisDB)
	mgr, err := retention.New(cfg.Retention, retained,
		retention.WithCorrelator(corr),
		retention.WithAnalysis(analysis),
		retention.WithAudit(a.audit),
		retention.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	genOpts := []prototype.GeneratorOption{
		prototype.WithCorrelator(corr),
		prototype.WithRegistry(a.registry),
		prototype.WithAudit(a.audit),
		prototype.WithSummaryEvents(cfg.Prototype.SummaryEvents),
		prototype.WithMaxTokens(cfg.LLM.MaxTokens),
		prototype.WithLogger(logger),
	}
	if s := a.summarizer(); s != nil {
		genOpts = append(genOpts, prototype.WithSummarizer(s))
	}

	a.pipeline = &pipeline.Pipeline{
		Correlator: corr,
		Engine:     understand.New(cfg.Rules, understand.WithDependencyWindow(cfg.Understanding.DependencyWindow)),
		Analysis:   analysis,
		Generator:  prototype.NewGenerator(cfg.Prototype.Dir, genOpts...),
		Retention:  mgr,
		Audit:      a.audit,
		Logger:     logger,
	}
	return a, nil
}

// summarizer builds the report collaborator. Reports are optional, so a
// provider that cannot be created only produces a warning.
func (a *app) summarizer() *llm.Summarizer {
	if !a.cfg.ReportsEnabled() {
		return nil
	}
	provider, err := llm.NewProvider(string(a.cfg.LLM.Provider), a.cfg.LLM.Model)
	if err != nil {
		a.logger.Warn("reports disabled", "provider", a.cfg.LLM.Provider, "error", err)
		return nil
	}
	if rpm := a.cfg.LLM.RequestsPerMinute; rpm > 0 {
		provider = llm.NewRateLimitedProvider(provider, rpm)
	}
	return llm.NewSummarizer(provider, a.cfg.LLM.Timeout, a.logger)
}

// collectors builds one collector per store, hashing values when enabled.
func (a *app) collectors() (*collector.Set, error) {
	opts := []collector.Option{
		collector.WithBatchSize(a.cfg.Collector.BatchSize),
		collector.WithLogger(a.logger),
	}
	if a.cfg.Privacy.HashValues {
		secret, err := privacy.LoadOrCreateSecret(a.cfg.KeyPath())
		if err != nil {
			return nil, err
		}
		h, err := privacy.NewHasher(secret)
		if err != nil {
			return nil, err
		}
		opts = append(opts, collector.WithHasher(h))
	}
	return collector.NewSet(a.stores, opts...), nil
}

func (a *app) Close() {
	store.CloseAll(a.stores)
	a.analysis.Close()
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
