package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	qcfg "quantbt/internal/config"
	cfgloader "quantbt/internal/config/loader"
	"quantbt/internal/datasource"
	"quantbt/internal/logger"
	"quantbt/internal/report"
	"quantbt/internal/server"
	"quantbt/internal/store"
)

// AppBuilder assembles the application graph. The source and profile hooks
// are overridable so tests can inject fakes without touching the network or
// the filesystem.
type AppBuilder struct {
	cfg *qcfg.Config

	sourcesFn  func(*qcfg.Config) (map[string]datasource.CandleSource, string, error)
	profilesFn func(*qcfg.Config) (*cfgloader.ProfileLoader, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *qcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		sourcesFn:  buildSources,
		profilesFn: loadProfiles,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	candleStore, err := store.NewCandleStore(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("init candle store failed: %w", err)
	}
	runStore, err := store.NewRunStore(cfg.Data.RunsDB)
	if err != nil {
		return nil, fmt.Errorf("init run store failed: %w", err)
	}

	sources, defaultExchange, err := b.sourcesFn(cfg)
	if err != nil {
		return nil, err
	}
	dataSvc, err := datasource.NewService(datasource.ServiceConfig{
		Store:           candleStore,
		Sources:         sources,
		DefaultExchange: defaultExchange,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		MaxBatch:        cfg.Data.MaxBatch,
		MaxConcurrent:   cfg.Data.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("init data service failed: %w", err)
	}

	reportWriter, err := report.NewWriter(cfg.Report.OutputDir, cfg.Report.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("init report writer failed: %w", err)
	}

	profiles, err := b.profilesFn(cfg)
	if err != nil {
		return nil, err
	}

	runSvc, err := server.NewRunService(server.RunServiceConfig{
		Data:      dataSvc,
		Runs:      runStore,
		Reports:   reportWriter,
		Profiles:  profiles,
		Backtest:  cfg.Backtest,
		Optimizer: cfg.Optimizer,
	})
	if err != nil {
		return nil, fmt.Errorf("init run service failed: %w", err)
	}

	httpSrv, err := server.NewHTTPServer(server.HTTPConfig{
		Addr: cfg.Server.HTTPAddr,
		Data: dataSvc,
		Runs: runSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("init http server failed: %w", err)
	}

	return &App{
		cfg:         cfg,
		candleStore: candleStore,
		runStore:    runStore,
		data:        dataSvc,
		runs:        runSvc,
		http:        httpSrv,
	}, nil
}

func buildSources(cfg *qcfg.Config) (map[string]datasource.CandleSource, string, error) {
	sources := make(map[string]datasource.CandleSource)
	for _, src := range cfg.Market.Sources {
		if !src.Enabled {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		switch name {
		case "binance", "binance-futures":
			sources[name] = datasource.NewFuturesSource(src.RESTBaseURL)
		case "binance-spot":
			sources[name] = datasource.NewSpotSource()
		default:
			return nil, "", fmt.Errorf("unknown market source: %s", src.Name)
		}
	}
	if len(sources) == 0 {
		return nil, "", fmt.Errorf("no enabled market sources")
	}
	active := strings.ToLower(strings.TrimSpace(cfg.Market.ResolveActiveSource().Name))
	return sources, active, nil
}

// loadProfiles is optional wiring: a missing profile file only disables
// profile lookups.
func loadProfiles(cfg *qcfg.Config) (*cfgloader.ProfileLoader, error) {
	path := strings.TrimSpace(cfg.Profiles.Path)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warnf("profile file %s not found, profiles disabled", path)
		return nil, nil
	}
	pl, err := cfgloader.NewProfileLoader(path)
	if err != nil {
		return nil, fmt.Errorf("load profiles failed: %w", err)
	}
	return pl, nil
}

func WithSources(fn func(*qcfg.Config) (map[string]datasource.CandleSource, string, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourcesFn = fn
		}
	}
}

func WithProfiles(fn func(*qcfg.Config) (*cfgloader.ProfileLoader, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.profilesFn = fn
		}
	}
}
