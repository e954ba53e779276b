// Brewpilot Core - Brewery Automation Engine
//
// This is the main entry point for the Brewpilot Core application.
// Brewpilot runs long-lived brewing processes against Spark device
// services: a phase-driven step engine, an MQTT-backed event cache,
// and a sandboxed scripting runtime, fronted by a REST/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/hopworks/brewpilot-core/migrations"

	"github.com/hopworks/brewpilot-core/internal/api"
	"github.com/hopworks/brewpilot-core/internal/automation"
	"github.com/hopworks/brewpilot-core/internal/eventcache"
	"github.com/hopworks/brewpilot-core/internal/history"
	"github.com/hopworks/brewpilot-core/internal/infrastructure/config"
	"github.com/hopworks/brewpilot-core/internal/infrastructure/database"
	"github.com/hopworks/brewpilot-core/internal/infrastructure/logging"
	"github.com/hopworks/brewpilot-core/internal/infrastructure/mqtt"
	"github.com/hopworks/brewpilot-core/internal/sandbox"
	"github.com/hopworks/brewpilot-core/internal/spark"
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

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
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
	log.Info("starting Brewpilot Core",
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

	// Connect to MQTT broker
	bus, err := mqtt.Connect(cfg.MQTT, cfg.Service.Name)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	bus.SetLogger(log)
	bus.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	bus.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"service", cfg.Service.Name,
	)

	// Start the event cache: subscribes to state and patch topics and
	// keeps the last-known block state for conditions and scripts.
	cache := eventcache.New(bus, cfg.Service.Name, byte(cfg.MQTT.QoS))
	cache.SetLogger(log)
	if cacheErr := cache.Connect(); cacheErr != nil {
		return fmt.Errorf("starting event cache: %w", cacheErr)
	}
	log.Info("event cache subscribed")

	// Device gateway client and script sandbox
	sparkClient := spark.NewClient(cfg.Spark.BaseURL)
	sb := sandbox.New(cache, sparkClient, cfg.SandboxTimeout())
	log.Info("sandbox initialised", "timeout", cfg.SandboxTimeout())

	// Stores and handler registry
	processes := automation.NewSQLiteProcessStore(db.DB)
	tasks := automation.NewSQLiteTaskStore(db.DB)

	registry := automation.NewRegistry(automation.RegistryDeps{
		Cache:   cache,
		Writer:  sparkClient,
		Tasks:   tasks,
		Sandbox: sb,
	})
	if verifyErr := registry.Verify(); verifyErr != nil {
		return fmt.Errorf("verifying handler registry: %w", verifyErr)
	}
	log.Info("handler registry verified")

	// Connect to InfluxDB history (optional). A nil recorder is a
	// working no-op, so degraded telemetry never blocks startup.
	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.Connect(cfg.History, log)
		if err != nil {
			log.Warn("history disabled after connection failure", "error", err)
			recorder = nil
		} else {
			defer func() {
				log.Info("closing history connection")
				recorder.Close()
			}()
			log.Info("history connected",
				"url", cfg.History.URL,
				"org", cfg.History.Org,
				"bucket", cfg.History.Bucket,
			)
		}
	} else {
		log.Info("history disabled")
	}

	// The hub is shared: the API serves WebSocket clients from it and
	// the engine broadcasts active-process snapshots through it.
	hub := api.NewHub(log)
	go hub.Run(ctx)

	engine := automation.NewEngine(processes, tasks, registry, cache, hub, log)
	engine.SetTickInterval(cfg.TickInterval())
	if cfg.Engine.MaxResults > 0 {
		engine.SetMaxResults(cfg.Engine.MaxResults)
	}
	if recorder != nil {
		engine.SetRecorder(recorder)
	}

	// Start API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		ServiceName: cfg.Service.Name,
		Logger:      log,
		Engine:      engine,
		Processes:   processes,
		Tasks:       tasks,
		Recorder:    recorder,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Run the engine loop in the background; it exits with ctx.
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()
	log.Info("engine running", "tick_interval", cfg.TickInterval())

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, bus, recorder); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("Brewpilot Core started")

	// Block until shutdown signal
	<-ctx.Done()
	log.Info("shutdown signal received")

	// Wait for the engine to finish its final tick before the deferred
	// closes tear down its dependencies.
	if engineErr := <-engineDone; engineErr != nil && !errors.Is(engineErr, context.Canceled) {
		log.Error("engine stopped with error", "error", engineErr)
	}

	return nil
}

// getConfigPath returns the configuration file path.
//
// Checks the BREWPILOT_CONFIG environment variable first,
// then falls back to the default path.
func getConfigPath() string {
	if path := os.Getenv("BREWPILOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection
//   - bus: MQTT client
//   - recorder: History recorder (nil when disabled)
//
// Returns:
//   - error: nil if all healthy, or error describing the first failure
func healthCheck(ctx context.Context, db *database.DB, bus *mqtt.Client, recorder *history.Recorder) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := bus.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if recorder != nil {
		if err := recorder.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	return nil
}
