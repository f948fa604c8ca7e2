package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Debounce      DebounceMetrics `json:"debounce"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains live feed hub statistics.
type WSMetrics struct {
	ConnectedClients int   `json:"connected_clients"`
	FramesDropped    int64 `json:"frames_dropped"`
}

// DebounceMetrics reports the size of the recognition debounce cache.
type DebounceMetrics struct {
	Entries int `json:"entries"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total   int            `json:"total"`
	ByBrand map[string]int `json:"by_brand"`
	ByKind  map[string]int `json:"by_kind"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns system metrics for basic monitoring.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.deps.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.Hub().ClientCount(),
			FramesDropped:    s.Hub().Dropped(),
		},
		Devices: DeviceMetrics{
			ByBrand: make(map[string]int),
			ByKind:  make(map[string]int),
		},
	}

	if s.deps.Debounce != nil {
		metrics.Debounce.Entries = s.deps.Debounce.Len()
	}

	if devices, err := s.deps.Devices.ListDevices(r.Context()); err == nil {
		metrics.Devices.Total = len(devices)
		for _, d := range devices {
			metrics.Devices.ByBrand[string(d.Brand)]++
			metrics.Devices.ByKind[string(d.Kind)]++
		}
	} else {
		s.logger.Warn("device stats unavailable", "error", err)
	}

	if s.deps.DB != nil {
		dbStats := s.deps.DB.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
