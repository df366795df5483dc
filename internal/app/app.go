package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/lcalzada-xor/cvemap/internal/adapters/history"
	"github.com/lcalzada-xor/cvemap/internal/adapters/source"
	"github.com/lcalzada-xor/cvemap/internal/adapters/source/cisakev"
	"github.com/lcalzada-xor/cvemap/internal/adapters/source/cvedetails"
	"github.com/lcalzada-xor/cvemap/internal/adapters/source/exploitdb"
	"github.com/lcalzada-xor/cvemap/internal/adapters/source/nvd"
	"github.com/lcalzada-xor/cvemap/internal/adapters/source/osv"
	"github.com/lcalzada-xor/cvemap/internal/adapters/storage"
	webserver "github.com/lcalzada-xor/cvemap/internal/adapters/web/server"
	"github.com/lcalzada-xor/cvemap/internal/adapters/web/websocket"
	"github.com/lcalzada-xor/cvemap/internal/config"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
	"github.com/lcalzada-xor/cvemap/internal/core/services/breaker"
	"github.com/lcalzada-xor/cvemap/internal/core/services/labscore"
	"github.com/lcalzada-xor/cvemap/internal/core/services/orchestrator"
	"github.com/lcalzada-xor/cvemap/internal/core/services/ratelimit"
	"github.com/lcalzada-xor/cvemap/internal/core/services/reconcile"
	"github.com/lcalzada-xor/cvemap/internal/core/services/reliability"
	"github.com/lcalzada-xor/cvemap/internal/telemetry"
)

// metadataRichness is the static per-source estimate fed into the metadata
// sub-score: how much structured detail each source typically ships.
var metadataRichness = map[string]float64{
	nvd.Name:        1.0,
	osv.Name:        0.8,
	cisakev.Name:    0.6,
	cvedetails.Name: 0.4,
	exploitdb.Name:  0.3,
}

// Application is the facade wiring configuration, adapters, core services
// and the web server together.
type Application struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Reliability  *reliability.Service
	RecordStore  ports.RecordStore
	History      ports.ReliabilityStore
	WebServer    *webserver.Server
	WSManager    *websocket.WSManager
}

// New creates an Application and bootstraps its components.
func New(cfg *config.Config) (*Application, error) {
	app := &Application{Config: cfg}
	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}
	return app, nil
}

func (app *Application) bootstrap() error {
	telemetry.InitMetrics()
	clk := clock.C

	if err := app.initStorage(); err != nil {
		return err
	}

	// Reliability scoring, seeded with priors and any persisted state.
	app.Reliability = reliability.New(clk, reliability.DefaultConfig())

	limiter := ratelimit.New(clk, ratelimit.BucketConfig{
		Capacity:  app.Config.Burst,
		RefillPer: app.Config.RateLimit,
	}, app.bucketOverrides())

	adapters := app.buildAdapters(clk, limiter)
	for _, a := range adapters {
		app.Reliability.RegisterSource(a.Name(), a.ReliabilityPrior(), metadataRichness[a.Name()])
	}
	app.restoreReliability()

	engine := reconcile.NewEngine(app.Reliability, app.Reliability)

	app.Orchestrator = orchestrator.New(clk, orchestrator.Config{
		HealthTimeout:   app.Config.HealthTimeout,
		DiscoverTimeout: app.Config.DiscoverTimeout,
		CacheTTL:        app.Config.CacheTTL,
		CacheSize:       app.Config.CacheSize,
	}, adapters, app.Reliability, engine)

	app.WSManager = websocket.NewWSManager()
	app.Orchestrator.SetNotifier(app.WSManager)
	app.Orchestrator.SetSampleStore(app.History)

	app.WebServer = webserver.NewServer(app.Config.Addr, app.Orchestrator,
		app.RecordStore, app.Reliability, labscore.NewCalculator(), app.WSManager)

	return nil
}

func (app *Application) initStorage() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(app.Config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init record storage: %w", err)
	}
	app.RecordStore = store

	hist, err := history.NewSQLiteRepository(app.Config.HistoryDBPath)
	if err != nil {
		return fmt.Errorf("failed to init reliability history: %w", err)
	}
	app.History = hist
	return nil
}

// bucketOverrides maps per-source config overrides onto limiter buckets.
func (app *Application) bucketOverrides() map[string]ratelimit.BucketConfig {
	overrides := make(map[string]ratelimit.BucketConfig)
	for name, rate := range app.Config.SourceRates {
		cfg := ratelimit.BucketConfig{Capacity: app.Config.Burst, RefillPer: rate}
		if burst, ok := app.Config.SourceBursts[name]; ok {
			cfg.Capacity = burst
		}
		overrides[name] = cfg
	}
	for name, burst := range app.Config.SourceBursts {
		if _, ok := overrides[name]; !ok {
			overrides[name] = ratelimit.BucketConfig{Capacity: burst, RefillPer: app.Config.RateLimit}
		}
	}
	return overrides
}

// buildAdapters constructs one adapter per source, each with its own
// circuit breaker behind the shared rate limiter.
func (app *Application) buildAdapters(clk clock.Clock, limiter *ratelimit.Limiter) []ports.SourceAdapter {
	client := func(name string) *source.Client {
		brk := breaker.New(clk, app.Config.BreakerThreshold, app.Config.BreakerCooldown)
		return source.NewClient(name, limiter, brk, app.Config.DiscoverTimeout)
	}

	max := app.Config.MaxPerSource
	return []ports.SourceAdapter{
		nvd.New(client(nvd.Name), "", app.Config.NVDAPIKey, max),
		osv.New(client(osv.Name), "", max),
		cisakev.New(client(cisakev.Name), "", max),
		cvedetails.New(client(cvedetails.Name), "", max),
		exploitdb.New(client(exploitdb.Name), "", max),
	}
}

// restoreReliability loads persisted reliability metrics so scores do not
// reset to their priors on restart.
func (app *Application) restoreReliability() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics, err := app.History.LoadMetrics(ctx)
	if err != nil {
		log.Printf("Warning: could not load reliability history: %v", err)
		return
	}
	for _, m := range metrics {
		app.Reliability.Restore(m)
	}
	if len(metrics) > 0 {
		slog.Info("restored reliability metrics", "sources", len(metrics))
	}
}

// sampleRetention bounds the performance sample history kept on disk.
const sampleRetention = 30 * 24 * time.Hour

// Run starts the application and blocks until the context is cancelled or a
// component fails.
func (app *Application) Run(ctx context.Context) error {
	slog.Info("Starting cvemap components...")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		app.persistReliabilityLoop(runCtx, 5*time.Minute)
	}()

	errChan := make(chan error, 1)
	go func() {
		if err := app.WebServer.Run(runCtx); err != nil {
			errChan <- fmt.Errorf("web server error: %w", err)
		}
	}()

	slog.Info("cvemap ready", "addr", app.Config.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Termination signal received")
	case err := <-errChan:
		runErr = err
	}

	// The persist loop's final flush must land before the stores close.
	cancel()
	<-persistDone

	cleanupErr := app.cleanup()
	if runErr != nil {
		return runErr
	}
	return cleanupErr
}

// persistReliabilityLoop periodically flushes reliability metrics to the
// history store and prunes samples past retention. One final flush runs on
// shutdown.
func (app *Application) persistReliabilityLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.persistReliability()
			return
		case <-ticker.C:
			app.persistReliability()
			app.pruneSamples()
		}
	}
}

func (app *Application) persistReliability() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, m := range app.Reliability.Metrics() {
		if err := app.History.SaveMetrics(ctx, m); err != nil {
			log.Printf("Failed to persist reliability metrics for %s: %v", m.Source, err)
		}
	}
}

func (app *Application) pruneSamples() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.History.Prune(ctx, sampleRetention); err != nil {
		log.Printf("Failed to prune performance samples: %v", err)
	}
}

func (app *Application) cleanup() error {
	slog.Info("Cleaning up resources...")

	if app.RecordStore != nil {
		if err := app.RecordStore.Close(); err != nil {
			log.Printf("Error closing record store: %v", err)
		}
	}
	if app.History != nil {
		if err := app.History.Close(); err != nil {
			log.Printf("Error closing history store: %v", err)
		}
	}
	return nil
}
