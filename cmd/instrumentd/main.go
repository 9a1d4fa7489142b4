// Instrument daemon - laboratory instrument control service.
//
// instrumentd exposes a fleet of bench instruments over a REST and
// WebSocket API. Drivers declare their properties once; the daemon adds
// connection management, caching, validation, history and telemetry on
// top.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/instrumentkit/instrument-core/migrations"

	"github.com/instrumentkit/instrument-core/internal/api"
	"github.com/instrumentkit/instrument-core/internal/drivers/scpi"
	"github.com/instrumentkit/instrument-core/internal/history"
	"github.com/instrumentkit/instrument-core/internal/infrastructure/config"
	"github.com/instrumentkit/instrument-core/internal/infrastructure/database"
	"github.com/instrumentkit/instrument-core/internal/infrastructure/logging"
	"github.com/instrumentkit/instrument-core/internal/infrastructure/tsdb"
	"github.com/instrumentkit/instrument-core/internal/instrument"
	"github.com/instrumentkit/instrument-core/internal/registry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// eventBuffer is the per-subscriber event channel depth. Slow consumers
// drop events rather than stall the property pipeline.
const eventBuffer = 64

// pruneInterval is how often expired history rows are deleted.
const pruneInterval = time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting instrument daemon",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Build the driver registry. Registry-wide options flow into every
	// driver it constructs.
	reg := registry.New(
		instrument.WithCachingAllowed(cfg.Instruments.CachingAllowed),
		instrument.WithAutoOpen(cfg.Instruments.AutoOpen),
		instrument.WithLogger(log),
	)
	reg.SetLogger(log)

	if regErr := scpi.Register(reg); regErr != nil {
		reg.RecordLoadingError(scpi.DriverName, regErr)
	}
	log.Info("drivers registered", "drivers", reg.ListDrivers())

	// Connect to InfluxDB (optional)
	var influxClient *tsdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = tsdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Instantiate configured instruments
	drivers, err := buildInstruments(ctx, cfg, reg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing instrument connections")
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if closeErr := reg.CloseAll(closeCtx); closeErr != nil {
			log.Error("error closing instruments", "error", closeErr)
		}
	}()

	// Background workers: history recording, telemetry and pruning
	g, gctx := errgroup.WithContext(ctx)

	repo := history.NewSQLiteRepository(db.DB)
	startRecorders(gctx, g, cfg, repo, drivers, log)
	if influxClient != nil {
		startSinks(gctx, g, influxClient, drivers, log)
	}
	if retention := cfg.HistoryRetention(); retention > 0 {
		g.Go(func() error {
			pruneLoop(gctx, repo, retention, log)
			return nil
		})
	}

	// Start API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Registry: reg,
		History:  repo,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal, then let the workers drain
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if waitErr := g.Wait(); waitErr != nil &&
		!errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
		log.Error("background worker error", "error", waitErr)
	}

	log.Info("instrument daemon stopped")
	return nil
}

// buildInstruments constructs every configured instrument connection.
//
// Per-property caching permissions from the configuration are applied
// before the connection opens. A failed open is logged, not fatal: with
// auto-open enabled the first property access retries it.
//
// Parameters:
//   - ctx: Context for connection attempts
//   - cfg: Application configuration
//   - reg: Driver registry
//   - log: Logger instance
//
// Returns:
//   - []*instrument.Driver: Live driver instances, one per connection
//   - error: Construction failure (unknown driver, bad connection info)
func buildInstruments(ctx context.Context, cfg *config.Config, reg *registry.Registry, log *logging.Logger) ([]*instrument.Driver, error) {
	drivers := make([]*instrument.Driver, 0, len(cfg.Instruments.Connections))
	for _, entry := range cfg.Instruments.Connections {
		d, err := reg.GetDriver(entry.Name, registry.ConnectionInfo{
			Transport: entry.Transport,
			Address:   entry.Address,
			BaseTopic: entry.BaseTopic,
		})
		if err != nil {
			return nil, fmt.Errorf("building instrument %q: %w", entry.Name, err)
		}

		for path, allowed := range entry.CachingPermissions {
			if err := d.SetCachingPath(path, allowed); err != nil {
				return nil, fmt.Errorf("caching override %q.%s: %w", entry.Name, path, err)
			}
		}

		if openErr := d.Open(ctx); openErr != nil {
			log.Warn("instrument connection failed, will retry on access",
				"instrument", entry.Name,
				"transport", entry.Transport,
				"error", openErr,
			)
		} else {
			log.Info("instrument connected",
				"instrument", entry.Name,
				"transport", entry.Transport,
			)
		}

		drivers = append(drivers, d)
	}
	return drivers, nil
}

// startRecorders subscribes a history recorder to every driver's event
// hub.
func startRecorders(ctx context.Context, g *errgroup.Group, cfg *config.Config, repo history.Repository, drivers []*instrument.Driver, log *logging.Logger) {
	opts := []history.RecorderOption{history.WithRecorderLogger(log)}
	if cfg.History.RecordReads {
		opts = append(opts, history.WithReads())
	}

	for _, d := range drivers {
		events, cancel := d.Events().Subscribe(eventBuffer)
		recorder := history.NewRecorder(repo, opts...)
		g.Go(func() error {
			defer cancel()
			return recorder.Run(ctx, events)
		})
	}
}

// startSinks subscribes a telemetry sink to every driver's event hub.
func startSinks(ctx context.Context, g *errgroup.Group, client *tsdb.Client, drivers []*instrument.Driver, log *logging.Logger) {
	for _, d := range drivers {
		events, cancel := d.Events().Subscribe(eventBuffer)
		sink := tsdb.NewSink(client, tsdb.WithSinkLogger(log))
		g.Go(func() error {
			defer cancel()
			sink.Run(ctx, events)
			return nil
		})
	}
}

// pruneLoop deletes expired history rows on a fixed interval until the
// context is cancelled.
func pruneLoop(ctx context.Context, repo *history.SQLiteRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := repo.Prune(pruneCtx, retention)
			cancel()
			if err != nil {
				log.Error("history prune failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("history pruned", "deleted", deleted)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses INSTRUMENTD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INSTRUMENTD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *tsdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
