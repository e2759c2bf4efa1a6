package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const pingTimeout = 2 * time.Second

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse represents a comprehensive health check response
type HealthCheckResponse struct {
	Status        HealthStatus           `json:"status"`
	Timestamp     string                 `json:"timestamp"`
	EngineVersion string                 `json:"engine_version"`
	GitCommit     string                 `json:"git_commit,omitempty"`
	BuildTime     string                 `json:"build_time,omitempty"`
	Uptime        string                 `json:"uptime"`
	Checks        map[string]HealthCheck `json:"checks"`
	System        SystemInfo             `json:"system"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	MemoryTotal   uint64 `json:"memory_total_bytes"`
	MemorySys     uint64 `json:"memory_sys_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
}

// MetricsResponse represents basic runtime metrics
type MetricsResponse struct {
	Timestamp     string     `json:"timestamp"`
	EngineVersion string     `json:"engine_version"`
	Uptime        string     `json:"uptime"`
	System        SystemInfo `json:"system"`
	LiveClients   int        `json:"live_clients"`
	TableVersions int        `json:"table_versions"`
	RequestID     string     `json:"request_id,omitempty"`
}

// handleHealthCheck provides comprehensive health check endpoint
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	start := time.Now()

	checks := map[string]HealthCheck{
		"games":    s.checkGamesHealth(),
		"database": s.checkDatabaseHealth(r.Context()),
	}
	overallStatus := HealthStatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overallStatus = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overallStatus == HealthStatusHealthy:
			overallStatus = HealthStatusDegraded
		}
	}

	response := HealthCheckResponse{
		Status:        overallStatus,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EngineVersion: EngineVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		Uptime:        time.Since(s.startTime).String(),
		Checks:        checks,
		System:        getSystemInfo(),
		RequestID:     requestID,
	}

	statusCode := http.StatusOK
	if overallStatus == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	s.securityLogger.LogAuditEvent(requestID, "health_check", "system", string(overallStatus), map[string]any{
		"duration":    time.Since(start),
		"checks":      len(checks),
		"status_code": statusCode,
	})

	s.writeJSON(w, statusCode, response)
}

// handleMetrics provides basic runtime metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	response := MetricsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EngineVersion: EngineVersion,
		Uptime:        time.Since(s.startTime).String(),
		System:        getSystemInfo(),
		TableVersions: len(s.resolver.Catalog().Versions),
		RequestID:     middleware.GetReqID(r.Context()),
	}
	if s.hub != nil {
		response.LiveClients = s.hub.Clients()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleReadiness reports ready once the store answers and games are loaded
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	ready := true
	message := "Ready"
	if db := s.checkDatabaseHealth(r.Context()); db.Status != HealthStatusHealthy {
		ready = false
		message = db.Message
	} else if len(s.resolver.Specs()) == 0 {
		ready = false
		message = "No games available"
	}

	response := map[string]any{
		"ready":          ready,
		"message":        message,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"engine_version": EngineVersion,
		"request_id":     requestID,
	}

	statusCode := http.StatusOK
	outcome := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		outcome = "not_ready"
	}
	s.securityLogger.LogAuditEvent(requestID, "readiness_check", "system", outcome, map[string]any{
		"message": message,
	})

	s.writeJSON(w, statusCode, response)
}

// handleLiveness provides liveness probe endpoint
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"alive":          true,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"engine_version": EngineVersion,
		"uptime":         time.Since(s.startTime).String(),
		"request_id":     middleware.GetReqID(r.Context()),
	})
}

// checkGamesHealth checks that the catalog serves every registered game
func (s *Server) checkGamesHealth() HealthCheck {
	start := time.Now()

	specs := s.resolver.Specs()
	status := HealthStatusHealthy
	message := fmt.Sprintf("%d games available, tables %s", len(specs), s.resolver.Catalog().Current)
	if len(specs) == 0 {
		status = HealthStatusUnhealthy
		message = "No games available"
	}

	return HealthCheck{
		Status:      status,
		Message:     message,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Duration:    time.Since(start).String(),
	}
}

// checkDatabaseHealth pings the store
func (s *Server) checkDatabaseHealth(ctx context.Context) HealthCheck {
	start := time.Now()

	status := HealthStatusHealthy
	message := "Database connection healthy"
	if s.store == nil {
		status = HealthStatusUnhealthy
		message = "Database not initialized"
	} else {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			status = HealthStatusUnhealthy
			message = "Database ping failed"
			s.logger.WithError(err).Warn("database_ping_failed")
		}
	}

	return HealthCheck{
		Status:      status,
		Message:     message,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Duration:    time.Since(start).String(),
	}
}

// getSystemInfo collects system information
func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		MemoryAlloc:   m.Alloc,
		MemoryTotal:   m.TotalAlloc,
		MemorySys:     m.Sys,
		GCCycles:      m.NumGC,
	}
}
