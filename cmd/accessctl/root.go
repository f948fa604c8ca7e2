package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/blob"
	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
	"github.com/nerrad567/gray-logic-access/internal/driver/controlid"
	"github.com/nerrad567/gray-logic-access/internal/driver/dahua"
	"github.com/nerrad567/gray-logic-access/internal/driver/hikvision"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/livesync"
	"github.com/nerrad567/gray-logic-access/migrations"
)

const defaultConfigPath = "configs/access.yaml"

// deviceLookup resolves the --device flag.
type deviceLookup interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// driverSource picks the vendor driver for a device.
type driverSource interface {
	ForDevice(dev *device.Device) (driver.Driver, error)
}

// syncRunner pushes one credential to its reachable devices.
type syncRunner interface {
	Sync(ctx context.Context, credentialID string) *livesync.Report
}

// auditRecorder stores operator actions.
type auditRecorder interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// environment is everything a subcommand may touch. Tests install their own
// before executing rootCmd.
type environment struct {
	devices deviceLookup
	drivers driverSource
	sync    syncRunner
	audit   auditRecorder
	close   func() error
}

var (
	configPath string
	timeout    time.Duration

	env *environment
)

var rootCmd = &cobra.Command{
	Use:   "accessctl",
	Short: "Diagnostics for Gray Logic Access devices",
	Long: `accessctl reads the service configuration and database and talks to
devices directly. The service does not need to be running.`,
	SilenceUsage:       true,
	PersistentPreRunE:  openEnvironment,
	PersistentPostRunE: closeEnvironment,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "overall time limit for the command")
}

// resolveConfigPath prefers --config, then GRAYLOGIC_CONFIG.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openEnvironment(cmd *cobra.Command, _ []string) error {
	if env != nil {
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return fmt.Errorf("running migrations: %w", err)
	}

	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	credentials := credential.NewSQLiteRepository(db.DB)
	client := driver.NewHTTPClient(driver.HTTPConfig{
		RequestRate:        cfg.Drivers.RequestRate,
		RequestBurst:       cfg.Drivers.RequestBurst,
		MaxResponseBytes:   cfg.Drivers.MaxResponseBytes,
		InsecureSkipVerify: cfg.Drivers.InsecureSkipVerify,
	})
	drivers := driver.NewRegistry(hikvision.New(client), dahua.New(client), controlid.New(client))
	resolver := credential.NewResolver(credentials, devices, blob.NewFileStore(cfg.Blob.Root))
	orchestrator := livesync.New(livesync.Config{
		CallTimeout: cfg.SyncCallTimeout(),
		MaxParallel: cfg.LiveSync.MaxParallel,
	}, resolver, credentials, drivers)

	env = &environment{
		devices: devices,
		drivers: drivers,
		sync:    orchestrator,
		audit:   audit.NewSQLiteRepository(db.DB),
		close:   db.Close,
	}
	return nil
}

func closeEnvironment(*cobra.Command, []string) error {
	if env == nil || env.close == nil {
		return nil
	}
	err := env.close()
	env = nil
	return err
}

// commandContext bounds a subcommand by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// lookupDriver resolves a device ID and its driver.
func lookupDriver(ctx context.Context, deviceID string) (*device.Device, driver.Driver, error) {
	if deviceID == "" {
		return nil, nil, errors.New("--device is required")
	}
	dev, err := env.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, nil, fmt.Errorf("device %s: %w", deviceID, err)
	}
	drv, err := env.drivers.ForDevice(dev)
	if err != nil {
		return nil, nil, err
	}
	return dev, drv, nil
}

// recordAudit stores e as a CLI action by the local user. A failure is
// reported on stderr and does not fail the command.
func recordAudit(cmd *cobra.Command, e audit.Entry) {
	if env.audit == nil {
		return
	}
	e.Source = audit.SourceCLI
	e.Subject = os.Getenv("USER")
	if err := env.audit.Create(context.WithoutCancel(cmd.Context()), &e); err != nil {
		cmd.PrintErrf("warning: recording audit entry: %v\n", err)
	}
}
