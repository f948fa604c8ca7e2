package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/blob"
	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/debounce"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/event"
)

// UnresolvedDeviceID is recorded on events when no device is registered at
// all and the sender therefore cannot be attributed.
const UnresolvedDeviceID = "unresolved"

const (
	// SnapshotCategory is the blob category recognition pictures go into.
	SnapshotCategory = "snapshots"

	defaultPublishTimeout = 5 * time.Second

	// maxClockSkew bounds how far a device-reported time may drift from the
	// receive time before it is ignored.
	maxClockSkew = time.Hour
)

// Logger is the logging interface used by the pipeline.
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

// DeviceResolver attributes a notification to a registered device.
// It is satisfied by *device.Registry.
type DeviceResolver interface {
	FindByMAC(ctx context.Context, mac string) (*device.Device, bool)
	FindByHost(ctx context.Context, addr string) (*device.Device, bool)
	Fallback(ctx context.Context, preferredID string) (*device.Device, error)
}

// CredentialFinder looks credentials up by exact type and value.
// It is satisfied by credential.Repository.
type CredentialFinder interface {
	FindCredential(ctx context.Context, t credential.Type, value string) (*credential.Credential, error)
}

// EventStore persists access events. It is satisfied by event.Repository.
type EventStore interface {
	Create(ctx context.Context, e *event.AccessEvent) error
}

// Publisher broadcasts persisted events to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, e *event.AccessEvent) error
}

// Metrics records access decisions. It is satisfied by *influxdb.Client.
type Metrics interface {
	RecordAccessDecision(deviceID, decision, accessType string, suppressed bool, at time.Time)
}

// Config holds pipeline settings.
type Config struct {
	// FallbackDeviceID is preferred when a sender cannot be resolved.
	FallbackDeviceID string

	// PublishTimeout bounds each asynchronous broadcast.
	PublishTimeout time.Duration
}

// Deps are the collaborators a Pipeline needs. Blobs, Publisher and Metrics
// are optional.
type Deps struct {
	Parsers     *ParserSet
	Devices     DeviceResolver
	Credentials CredentialFinder
	Events      EventStore
	Debounce    *debounce.Cache
	Blobs       blob.Store
	Publisher   Publisher
	Metrics     Metrics
}

// Pipeline turns inbound device notifications into access events.
//
// Each Handle call is independent; the debounce cache is the only state
// shared between concurrent calls. Broadcasting runs in the background and
// never delays the acknowledgement.
type Pipeline struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	publishing sync.WaitGroup
	logger     Logger
}

// New creates a pipeline. Parsers, Devices, Credentials, Events and Debounce
// are required.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Parsers == nil:
		return nil, errors.New("ingest: parsers required")
	case deps.Devices == nil:
		return nil, errors.New("ingest: device resolver required")
	case deps.Credentials == nil:
		return nil, errors.New("ingest: credential finder required")
	case deps.Events == nil:
		return nil, errors.New("ingest: event store required")
	case deps.Debounce == nil:
		return nil, errors.New("ingest: debounce cache required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Pipeline{cfg: cfg, deps: deps, now: time.Now, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for pipeline operations.
func (p *Pipeline) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Wait blocks until in-flight broadcasts have finished.
func (p *Pipeline) Wait() {
	p.publishing.Wait()
}

// Handle runs one delivery through parse, resolve, debounce, snapshot,
// decide, persist and broadcast, and returns the acknowledgement to send.
func (p *Pipeline) Handle(ctx context.Context, d Delivery) Outcome {
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = p.now()
	}

	parser, responder, ok := p.deps.Parsers.Lookup(d.Brand)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownBrand, d.Brand)
		return Outcome{State: StateRejected, Err: err, Ack: GenericResponder{}.Failure(http.StatusNotFound, err.Error())}
	}

	// Parse
	n, err := parser.Parse(d.ContentType, d.Body)
	if err == nil && CleanIdentifier(n.AccessType, n.DetectedID) == "" {
		err = fmt.Errorf("%w: identifier %q is empty after cleaning", ErrParse, n.DetectedID)
	}
	if err != nil {
		if !errors.Is(err, ErrParse) {
			err = fmt.Errorf("%w: %w", ErrParse, err)
		}
		p.logger.Warn("notification rejected",
			"brand", d.Brand,
			"remote_addr", d.RemoteAddr,
			"content_type", d.ContentType,
			"error", err,
		)
		return Outcome{State: StateRejected, Err: err, Ack: responder.Failure(http.StatusBadRequest, "unparseable notification")}
	}
	identifier := CleanIdentifier(n.AccessType, n.DetectedID)

	// Resolve device
	dev := p.resolveDevice(ctx, d, n)

	// Debounce
	if !p.deps.Debounce.Allow(identifier, d.ReceivedAt) {
		p.logger.Debug("notification suppressed",
			"identifier", identifier,
			"device_id", deviceID(dev),
		)
		p.recordMetric(deviceID(dev), "", n.AccessType, true, d.ReceivedAt)
		return Outcome{State: StateSuppressed, Ack: responder.Success()}
	}

	ev := &event.AccessEvent{
		ID:                 event.NewID(),
		Timestamp:          eventTime(n.OccurredAt, d.ReceivedAt),
		DeviceID:           deviceID(dev),
		Decision:           event.DecisionDeny,
		DetectedIdentifier: &identifier,
		Details:            n.Metadata,
		AccessType:         n.AccessType,
		Direction:          device.DirectionEntry,
	}
	if dev != nil {
		ev.Direction = dev.Direction
	}

	// Snapshot
	ev.SnapshotRef = p.storeSnapshot(ctx, n, ev.DeviceID)

	// Decide
	p.decide(ctx, ev, n.AccessType, identifier)

	// Persist
	if err := p.deps.Events.Create(ctx, ev); err != nil {
		err = fmt.Errorf("%w: %w", ErrPersist, err)
		p.logger.Error("access event lost",
			"error", err,
			"event_id", ev.ID,
			"timestamp", ev.Timestamp,
			"device_id", ev.DeviceID,
			"decision", ev.Decision,
			"access_type", ev.AccessType,
			"direction", ev.Direction,
			"detected_identifier", identifier,
			"credential_id", deref(ev.CredentialID),
			"user_id", deref(ev.UserID),
			"snapshot_ref", deref(ev.SnapshotRef),
			"details", ev.Details,
		)
		return Outcome{State: StateFailed, Err: err, Ack: responder.Failure(http.StatusInternalServerError, "event not stored")}
	}

	p.logger.Info("access event recorded",
		"event_id", ev.ID,
		"device_id", ev.DeviceID,
		"decision", ev.Decision,
		"access_type", ev.AccessType,
	)
	p.recordMetric(ev.DeviceID, string(ev.Decision), ev.AccessType, false, ev.Timestamp)

	// Broadcast
	p.broadcast(ctx, ev)

	return Outcome{State: StatePersisted, Event: ev, Ack: responder.Success()}
}

// resolveDevice tries the hardware address, then the sender address, then
// the fallback device. It never fails; nil means no device exists at all.
func (p *Pipeline) resolveDevice(ctx context.Context, d Delivery, n *Notification) *device.Device {
	if n.DeviceIdentifier != "" {
		if dev, ok := p.deps.Devices.FindByMAC(ctx, n.DeviceIdentifier); ok {
			return dev
		}
	}
	if d.RemoteAddr != "" {
		if dev, ok := p.deps.Devices.FindByHost(ctx, d.RemoteAddr); ok {
			return dev
		}
	}

	dev, err := p.deps.Devices.Fallback(ctx, p.cfg.FallbackDeviceID)
	if err != nil {
		p.logger.Warn("device resolution failed, no device to attribute event to",
			"device_identifier", n.DeviceIdentifier,
			"remote_addr", d.RemoteAddr,
			"error", err,
		)
		return nil
	}
	p.logger.Warn("device resolution ambiguous",
		"device_identifier", n.DeviceIdentifier,
		"remote_addr", d.RemoteAddr,
		"fallback_device_id", dev.ID,
	)
	return dev
}

func (p *Pipeline) storeSnapshot(ctx context.Context, n *Notification, devID string) *string {
	if len(n.Image) == 0 || p.deps.Blobs == nil {
		return nil
	}

	name := n.ImageName
	if name == "" {
		name = "snapshot.jpg"
	}
	ref, err := p.deps.Blobs.Store(ctx, n.Image, name, n.ImageContentType, SnapshotCategory)
	if err != nil {
		p.logger.Warn("snapshot not stored",
			"device_id", devID,
			"bytes", len(n.Image),
			"error", err,
		)
		return nil
	}
	return &ref
}

func (p *Pipeline) decide(ctx context.Context, ev *event.AccessEvent, t credential.Type, identifier string) {
	cred, err := p.deps.Credentials.FindCredential(ctx, t, identifier)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			p.logger.Warn("credential lookup failed, denying",
				"identifier", identifier,
				"error", err,
			)
		}
		return
	}

	ev.Decision = event.DecisionGrant
	id := cred.ID
	ev.CredentialID = &id
	if cred.UserID != nil {
		uid := *cred.UserID
		ev.UserID = &uid
	}
}

// broadcast publishes ev in the background. The request context is detached
// so an early acknowledgement does not cancel the broadcast.
func (p *Pipeline) broadcast(ctx context.Context, ev *event.AccessEvent) {
	if p.deps.Publisher == nil {
		return
	}

	snapshot := *ev
	p.publishing.Add(1)
	go func() {
		defer p.publishing.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("publisher panicked", "event_id", snapshot.ID, "panic", r)
			}
		}()

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
		defer cancel()
		if err := p.deps.Publisher.Publish(pctx, &snapshot); err != nil {
			p.logger.Warn("event broadcast failed", "event_id", snapshot.ID, "error", err)
		}
	}()
}

func (p *Pipeline) recordMetric(devID, decision string, t credential.Type, suppressed bool, at time.Time) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.RecordAccessDecision(devID, decision, string(t), suppressed, at)
}

// eventTime prefers the device-reported time unless it is missing or
// implausibly far from the receive time.
func eventTime(occurred, received time.Time) time.Time {
	if occurred.IsZero() {
		return received
	}
	if skew := occurred.Sub(received); skew > maxClockSkew || skew < -maxClockSkew {
		return received
	}
	return occurred
}

func deviceID(dev *device.Device) string {
	if dev == nil {
		return UnresolvedDeviceID
	}
	return dev.ID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
