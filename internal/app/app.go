package app

import (
	"context"
	"fmt"

	qcfg "quantbt/internal/config"
	"quantbt/internal/datasource"
	"quantbt/internal/logger"
	"quantbt/internal/server"
	"quantbt/internal/store"

	"golang.org/x/sync/errgroup"
)

// App is the application-level orchestrator: load config, wire dependencies,
// run the HTTP server until shutdown.
type App struct {
	cfg *qcfg.Config

	candleStore *store.CandleStore
	runStore    *store.RunStore
	data        *datasource.Service
	runs        *server.RunService
	http        *server.HTTPServer
}

// NewApp builds the application object without starting it.
func NewApp(cfg *qcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	a.data.SetContext(ctx)
	a.runs.SetContext(ctx)

	group.Go(func() error {
		logger.Infof("HTTP server listening on %s", a.cfg.Server.HTTPAddr)
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	err := group.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.candleStore != nil {
		if err := a.candleStore.Close(); err != nil {
			logger.Warnf("closing candle store: %v", err)
		}
	}
	if a.runStore != nil {
		if err := a.runStore.Close(); err != nil {
			logger.Warnf("closing run store: %v", err)
		}
	}
}

// DataService exposes the fetch service (for test harnesses).
func (a *App) DataService() *datasource.Service {
	if a == nil {
		return nil
	}
	return a.data
}

// RunService exposes the run service (for test harnesses).
func (a *App) RunService() *server.RunService {
	if a == nil {
		return nil
	}
	return a.runs
}
