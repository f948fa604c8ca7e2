// Gray Logic Access - access control mediation service
//
// This is the main entry point for the Gray Logic Access service. It sits
// between LPR cameras, face terminals and RFID readers on one side and the
// credential database on the other:
//   - Ingests vendor event notifications and records access decisions
//   - Pushes credential changes to every reachable device (LiveSync)
//   - Streams decisions to WebSocket and MQTT subscribers
//
// For architecture details, see: DESIGN.md
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-access/internal/api"
	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/blob"
	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/debounce"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
	"github.com/nerrad567/gray-logic-access/internal/driver/controlid"
	"github.com/nerrad567/gray-logic-access/internal/driver/dahua"
	"github.com/nerrad567/gray-logic-access/internal/driver/hikvision"
	"github.com/nerrad567/gray-logic-access/internal/event"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/ingest"
	"github.com/nerrad567/gray-logic-access/internal/livesync"
	"github.com/nerrad567/gray-logic-access/internal/realtime"
	"github.com/nerrad567/gray-logic-access/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/access.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Access",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	devices.SetLogger(log.Component("device"))
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	all, err := devices.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	log.Info("device registry initialised", "devices", len(all))

	credentials := credential.NewSQLiteRepository(db.DB)
	events := event.NewSQLiteRepository(db.DB)
	blobs := blob.NewFileStore(cfg.Blob.Root)

	cache := debounce.New(cfg.DebounceWindow(), debounce.WithMaxEntries(cfg.Access.DebounceMaxEntries))
	go cache.Run(ctx)

	drivers := newDriverRegistry(cfg.Drivers)

	// MQTT is optional; a nil client leaves every MQTT hook unset.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	var fanout *realtime.Fanout
	if mqttClient != nil {
		fanout = realtime.New(hub, mqttClient)
	} else {
		fanout = realtime.New(hub, nil)
	}

	ingestDeps := ingest.Deps{
		Parsers:     ingest.NewParserSet(),
		Devices:     devices,
		Credentials: credentials,
		Events:      events,
		Debounce:    cache,
		Blobs:       blobs,
		Publisher:   fanout,
	}
	if influxClient != nil {
		ingestDeps.Metrics = influxClient
	}
	pipeline, err := ingest.New(ingest.Config{FallbackDeviceID: cfg.Access.FallbackDeviceID}, ingestDeps)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}
	pipeline.SetLogger(log.Component("ingest"))
	defer pipeline.Wait()

	resolver := credential.NewResolver(credentials, devices, blobs)
	orchestrator := livesync.New(livesync.Config{
		CallTimeout: cfg.SyncCallTimeout(),
		MaxParallel: cfg.LiveSync.MaxParallel,
	}, resolver, credentials, drivers)
	orchestrator.SetLogger(log.Component("livesync"))
	orchestrator.SetReportBroadcaster(hub)
	if influxClient != nil {
		orchestrator.SetMetrics(influxClient)
	}
	if mqttClient != nil {
		orchestrator.SetReportPublisher(mqttClient)
	}

	trigger := livesync.NewTrigger(ctx, orchestrator)
	trigger.SetLogger(log.Component("livesync"))
	defer trigger.Wait()
	if mqttClient != nil {
		topic := mqtt.Topics{}.AllCredentialChanges()
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), trigger.HandleMessage); subErr != nil {
			return fmt.Errorf("subscribing to credential changes: %w", subErr)
		}
		log.Info("listening for credential changes", "topic", topic)
	}

	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Pipeline: pipeline,
		Events:   events,
		Devices:  devices,
		Drivers:  drivers,
		Sync:     orchestrator,
		Trigger:  trigger,
		Hub:      hub,
		Audit:    audit.NewSQLiteRepository(db.DB),
		DB:       db.DB,
		Debounce: cache,
		Version:  version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if influxClient != nil {
		apiDeps.InfluxDB = influxClient
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. LiveSync trigger and ingestion broadcasts
	// 3. InfluxDB and MQTT (if enabled)
	// 4. Database

	log.Info("Gray Logic Access stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newDriverRegistry builds the vendor drivers around one shared HTTP client
// so per-device rate limits hold across ingestion, LiveSync and diagnostics.
func newDriverRegistry(cfg config.DriversConfig) *driver.Registry {
	client := driver.NewHTTPClient(driver.HTTPConfig{
		RequestRate:        cfg.RequestRate,
		RequestBurst:       cfg.RequestBurst,
		MaxResponseBytes:   cfg.MaxResponseBytes,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	return driver.NewRegistry(
		hikvision.New(client),
		dahua.New(client),
		controlid.New(client),
	)
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
