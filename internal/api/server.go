package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/driver"
	"github.com/nerrad567/gray-logic-access/internal/event"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/ingest"
	"github.com/nerrad567/gray-logic-access/internal/livesync"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// imageFetchTimeout bounds a proxied image download from a device.
const imageFetchTimeout = 5 * time.Second

// Ingestor runs device notifications through the ingestion pipeline.
// It is satisfied by *ingest.Pipeline.
type Ingestor interface {
	Handle(ctx context.Context, d ingest.Delivery) ingest.Outcome
}

// EventReader reads stored access events. It is satisfied by event.Repository.
type EventReader interface {
	Get(ctx context.Context, id string) (*event.AccessEvent, error)
	List(ctx context.Context, f event.Filter) ([]event.AccessEvent, error)
}

// DeviceLookup finds devices by ID. It is satisfied by *device.Registry.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
}

// DriverSource picks the driver for a device. It is satisfied by
// *driver.Registry.
type DriverSource interface {
	ForDevice(dev *device.Device) (driver.Driver, error)
}

// SyncRunner runs a LiveSync and waits for the report. It is satisfied by
// *livesync.Orchestrator.
type SyncRunner interface {
	Sync(ctx context.Context, credentialID string) *livesync.Report
	SyncUser(ctx context.Context, userID string) ([]*livesync.Report, error)
}

// SyncEnqueuer starts a LiveSync in the background. It is satisfied by
// *livesync.Trigger.
type SyncEnqueuer interface {
	Enqueue(credentialID string)
}

// AuditTrail records operator actions against devices. It is satisfied by
// *audit.SQLiteRepository.
type AuditTrail interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, f audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is an optional dependency reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Pipeline Ingestor
	Events   EventReader
	Devices  DeviceLookup
	Drivers  DriverSource
	Sync     SyncRunner
	Trigger  SyncEnqueuer

	// Hub is shared with the realtime publisher. When nil the server
	// creates its own.
	Hub *Hub

	// Audit is optional. When nil, diagnostics are only logged and
	// GET /audit answers 404.
	Audit AuditTrail

	// Optional collaborators reported by /health and /metrics.
	DB       *sql.DB
	MQTT     HealthChecker
	InfluxDB HealthChecker
	Debounce interface{ Len() int }

	Version string
}

// Server is the HTTP API server for Gray Logic Access.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	deps    Deps
	tickets *ticketStore

	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
	startTime   time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, pipeline, events, devices, drivers, sync)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("ingestion pipeline is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("event reader is required")
	case deps.Devices == nil:
		return nil, fmt.Errorf("device lookup is required")
	case deps.Drivers == nil:
		return nil, fmt.Errorf("driver source is required")
	case deps.Sync == nil:
		return nil, fmt.Errorf("sync runner is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		deps:      deps,
		tickets:   newTicketStore(),
		startTime: time.Now(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	return s, nil
}

// Hub returns the WebSocket hub, creating it if Start has not run yet.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Handler returns the fully wired router without starting a listener.
func (s *Server) Handler() http.Handler {
	s.Hub()
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for background goroutines (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	hub := s.Hub()
	if !s.externalHub {
		go hub.Run(srvCtx)
	}
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
