package device

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
)

// Logger is the logging interface used by the registry.
// It is satisfied by logging.Logger.
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

// Registry is the cached catalogue of devices.
//
// Ingestion resolves the sender of every push notification through the
// registry, so lookups are served from memory. The cache is filled by
// RefreshCache (or lazily on first use) and kept current by the mutating
// methods. Callers always receive copies.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	repo Repository

	mu     sync.RWMutex
	cache  map[string]*Device
	byMAC  map[string]string
	loaded bool

	logger Logger
}

// NewRegistry creates a registry over repo. Call RefreshCache at startup.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		byMAC:  make(map[string]string),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for registry operations.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every device from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	r.byMAC = make(map[string]string, len(devices))
	for i := range devices {
		r.putLocked(&devices[i])
	}
	r.loaded = true

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.RefreshCache(ctx)
}

func (r *Registry) putLocked(d *Device) {
	if old, ok := r.cache[d.ID]; ok && old.MAC != nil {
		delete(r.byMAC, *old.MAC)
	}
	r.cache[d.ID] = d.DeepCopy()
	if d.MAC != nil {
		r.byMAC[*d.MAC] = d.ID
	}
}

// GetDevice returns a device by ID.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	// Created by another process since the last refresh.
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.putLocked(d)
	r.mu.Unlock()
	return d, nil
}

// ListDevices returns all devices ordered by name, then ID.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.mu.RUnlock()

	SortByName(devices)
	return devices, nil
}

// FindByMAC returns the device with the given hardware address in any
// common notation.
func (r *Registry) FindByMAC(ctx context.Context, mac string) (*Device, bool) {
	normalised, ok := NormalizeMAC(mac)
	if !ok || r.ensureLoaded(ctx) != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byMAC[normalised]
	if !ok {
		return nil, false
	}
	return r.cache[id].DeepCopy(), true
}

// FindByHost returns the device whose configured host equals addr.
// addr may carry a port ("10.0.0.5:51234"), as http.Request.RemoteAddr does.
// When several devices share a host the first by name wins.
func (r *Registry) FindByHost(ctx context.Context, addr string) (*Device, bool) {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if host == "" {
		return nil, false
	}

	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, false
	}
	for i := range devices {
		if strings.EqualFold(devices[i].Host, host) {
			return &devices[i], true
		}
	}
	return nil, false
}

// Fallback returns the device used when a notification cannot be attributed:
// preferredID when it exists, otherwise the first registered device by name.
func (r *Registry) Fallback(ctx context.Context, preferredID string) (*Device, error) {
	if preferredID != "" {
		if d, err := r.GetDevice(ctx, preferredID); err == nil {
			return d, nil
		}
		r.logger.Warn("configured fallback device missing", "device_id", preferredID)
	}

	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return &devices[0], nil
}

// CreateDevice validates and stores a new device.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.mu.Lock()
	r.putLocked(d)
	r.mu.Unlock()

	r.logger.Info("device created", "id", d.ID, "name", d.Name, "brand", d.Brand)
	return nil
}

// UpdateDevice validates and stores changes to an existing device.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.mu.Lock()
	r.putLocked(d)
	r.mu.Unlock()

	r.logger.Info("device updated", "id", d.ID, "name", d.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	if old, ok := r.cache[id]; ok {
		if old.MAC != nil {
			delete(r.byMAC, *old.MAC)
		}
		delete(r.cache, id)
	}
	r.mu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SortByName orders devices by name, then ID, for stable output.
func SortByName(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
}
