package livesync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// DefaultCallTimeout bounds each device call when Config.CallTimeout is unset.
const DefaultCallTimeout = 5 * time.Second

// ReportEventType is the core event name reports are published under.
const ReportEventType = "livesync_completed"

// Logger is the logging interface used by the orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TargetResolver finds what to provision and where.
// It is satisfied by *credential.Resolver.
type TargetResolver interface {
	Resolve(ctx context.Context, credentialID string) (*credential.Target, error)
	ReachableDevices(ctx context.Context, userID string) ([]device.Device, error)
}

// CredentialLister lists a user's credentials.
// It is satisfied by credential.Repository.
type CredentialLister interface {
	ListCredentialsByUser(ctx context.Context, userID string) ([]credential.Credential, error)
}

// DriverSource picks the driver for a device. It is satisfied by
// *driver.Registry.
type DriverSource interface {
	ForDevice(dev *device.Device) (driver.Driver, error)
}

// Metrics records per-device outcomes. It is satisfied by *influxdb.Client.
type Metrics interface {
	RecordSyncResult(deviceID, brand, operation, errorKind string, duration time.Duration)
}

// ReportPublisher announces finished runs. It is satisfied by *mqtt.Client.
type ReportPublisher interface {
	PublishJSON(topic string, v any) error
}

// ReportBroadcaster pushes finished reports to live feed clients. It is
// satisfied by *api.Hub.
type ReportBroadcaster interface {
	BroadcastReport(r *Report)
}

// Config holds orchestrator settings.
type Config struct {
	// CallTimeout bounds every single device call.
	CallTimeout time.Duration

	// MaxParallel caps concurrent device calls per run. 0 means no cap.
	MaxParallel int
}

// Orchestrator fans credential changes out to devices.
type Orchestrator struct {
	cfg         Config
	targets     TargetResolver
	credentials CredentialLister
	drivers     DriverSource

	metrics   Metrics
	publisher ReportPublisher
	feed      ReportBroadcaster
	logger    Logger
	now       func() time.Time
}

// New creates an orchestrator.
func New(cfg Config, targets TargetResolver, credentials CredentialLister, drivers DriverSource) *Orchestrator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Orchestrator{
		cfg:         cfg,
		targets:     targets,
		credentials: credentials,
		drivers:     drivers,
		logger:      noopLogger{},
		now:         time.Now,
	}
}

// SetLogger sets the logger for sync runs.
func (o *Orchestrator) SetLogger(logger Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// SetMetrics enables per-device metric points.
func (o *Orchestrator) SetMetrics(m Metrics) {
	o.metrics = m
}

// SetReportPublisher enables publishing a report after every run.
func (o *Orchestrator) SetReportPublisher(p ReportPublisher) {
	o.publisher = p
}

// SetReportBroadcaster sends every finished report to the live feed.
func (o *Orchestrator) SetReportBroadcaster(b ReportBroadcaster) {
	o.feed = b
}

// Sync provisions credentialID on every device its owner can reach.
//
// Unassigned credentials and owners without access groups produce an empty
// report. The call returns once every device has answered or timed out.
func (o *Orchestrator) Sync(ctx context.Context, credentialID string) *Report {
	report := &Report{CredentialID: credentialID, Operation: OperationUpsert, StartedAt: o.now()}

	target, err := o.targets.Resolve(ctx, credentialID)
	if err != nil {
		report.ResolveError, report.resolveErr = err.Error(), err
		o.logger.Warn("livesync resolution failed", "credential_id", credentialID, "error", err)
		o.finish(report)
		return report
	}

	report.Results = o.fanOut(ctx, target.Devices, OperationUpsert, func(ctx context.Context, drv driver.Driver, dev *device.Device) error {
		return drv.UpsertCredential(ctx, target.Subject, dev)
	})
	o.finish(report)
	return report
}

// Revoke removes subject from every device userID can reach. The caller
// supplies the last known subject because the credential may already be
// deleted or reassigned. An empty userID reaches no devices.
func (o *Orchestrator) Revoke(ctx context.Context, subject credential.Subject, userID string) *Report {
	report := &Report{CredentialID: subject.CredentialID, Operation: OperationDelete, StartedAt: o.now()}
	if userID == "" {
		o.finish(report)
		return report
	}

	devices, err := o.targets.ReachableDevices(ctx, userID)
	if err != nil {
		report.ResolveError, report.resolveErr = err.Error(), err
		o.logger.Warn("livesync resolution failed", "credential_id", subject.CredentialID, "user_id", userID, "error", err)
		o.finish(report)
		return report
	}

	report.Results = o.fanOut(ctx, devices, OperationDelete, func(ctx context.Context, drv driver.Driver, dev *device.Device) error {
		return drv.DeleteCredential(ctx, subject, dev)
	})
	o.finish(report)
	return report
}

// SyncUser syncs every credential userID holds, one run per credential.
// It is used after access group membership changes.
func (o *Orchestrator) SyncUser(ctx context.Context, userID string) ([]*Report, error) {
	creds, err := o.credentials.ListCredentialsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials of %s: %w", userID, err)
	}

	reports := make([]*Report, 0, len(creds))
	for _, c := range creds {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, o.Sync(ctx, c.ID))
	}
	return reports, nil
}

type deviceCall func(ctx context.Context, drv driver.Driver, dev *device.Device) error

// fanOut runs call against every device concurrently. Tasks never return an
// error to the group so one failure cannot cancel the others.
func (o *Orchestrator) fanOut(ctx context.Context, devices []device.Device, op Operation, call deviceCall) []DeviceResult {
	results := make([]DeviceResult, len(devices))

	var g errgroup.Group
	if o.cfg.MaxParallel > 0 {
		g.SetLimit(o.cfg.MaxParallel)
	}
	for i := range devices {
		i := i // per-iteration copy (pre-Go 1.22 loop semantics)
		dev := &devices[i]
		g.Go(func() error {
			results[i] = o.callDevice(ctx, dev, op, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) callDevice(ctx context.Context, dev *device.Device, op Operation, call deviceCall) (res DeviceResult) {
	res = DeviceResult{DeviceID: dev.ID, Brand: dev.Brand}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
	}()

	drv, err := o.drivers.ForDevice(dev)
	if err != nil {
		res.Err = err
		return res
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	// A driver that ignores cancellation is abandoned at the deadline; its
	// goroutine finishes into the buffered channel whenever it returns.
	done := make(chan error, 1)
	go func() { done <- safeCall(cctx, drv, dev, string(op), call) }()
	select {
	case err = <-done:
	case <-cctx.Done():
		err = cctx.Err()
	}
	if err != nil && cctx.Err() != nil {
		err = driver.Wrap(driver.ErrConnection, dev, string(op), fmt.Errorf("no answer within %v: %w", o.cfg.CallTimeout, err))
	}
	res.Err = driver.Wrap(driver.ErrVendorProtocol, dev, string(op), err)
	return res
}

// safeCall turns a panicking driver into an error for this device only.
func safeCall(ctx context.Context, drv driver.Driver, dev *device.Device, op string, call deviceCall) (err error) {
	defer driver.Recover(dev, op, &err)
	return call(ctx, drv, dev)
}

func (o *Orchestrator) finish(report *Report) {
	for _, res := range report.Results {
		kind := driver.KindName(res.Err)
		if o.metrics != nil {
			o.metrics.RecordSyncResult(res.DeviceID, string(res.Brand), string(report.Operation), kind, res.Duration)
		}
		if res.Err != nil {
			o.logger.Warn("livesync device failed",
				"credential_id", report.CredentialID,
				"operation", report.Operation,
				"device_id", res.DeviceID,
				"brand", res.Brand,
				"error_kind", kind,
				"error", res.Err,
			)
		}
	}

	o.logger.Info("livesync completed",
		"credential_id", report.CredentialID,
		"operation", report.Operation,
		"devices", len(report.Results),
		"succeeded", report.Succeeded(),
		"failed", report.Failed(),
	)

	if o.publisher != nil {
		if err := o.publisher.PublishJSON(mqtt.Topics{}.CoreEvent(ReportEventType), report); err != nil {
			o.logger.Debug("livesync report not published", "credential_id", report.CredentialID, "error", err)
		}
	}
	if o.feed != nil {
		o.feed.BroadcastReport(report)
	}
}
