package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/fleetlink/internal/aggregator"
	"github.com/nerrad567/fleetlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetlink/internal/realtime"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Realtime      realtime.Stats    `json:"realtime"`
	MQTT          mqtt.Stats        `json:"mqtt"`
	Aggregator    *aggregator.Stats `json:"aggregator,omitempty"`
	Devices       DeviceMetrics     `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DeviceMetrics contains device store statistics.
type DeviceMetrics struct {
	Total int `json:"total"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Realtime: s.hub.Stats(),
		Devices:  DeviceMetrics{Total: s.store.Len()},
	}

	if s.mqtt != nil {
		metrics.MQTT = s.mqtt.Stats()
	}

	if s.aggregator != nil {
		stats := s.aggregator.Stats()
		metrics.Aggregator = &stats
	}

	writeJSON(w, http.StatusOK, metrics)
}
