package services

import (
	"context"
	"log/slog"
	"time"

	"keyforge/internal/store"
)

// HealthStatus is the health check response payload.
type HealthStatus struct {
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	BuildID   string `json:"build_id"`
}

// HealthService reports service liveness and store connectivity.
type HealthService struct {
	store   *store.Store
	version VersionInfo
	logger  *slog.Logger
}

// NewHealthService creates a new health service.
func NewHealthService(st *store.Store, version VersionInfo, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		store:   st,
		version: version,
		logger:  logger.With(slog.String("service", "health")),
	}
}

// HealthCheck pings the store. The response always reports success; a store
// that cannot be reached degrades the status rather than failing the check,
// so load balancers can distinguish "down" from "up but storage-impaired".
func (s *HealthService) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Success:   true,
		Status:    "online",
		Message:   "key management API is running",
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "store ping failed", slog.String("error", err.Error()))
		status.Status = "degraded"
		status.Message = "key store is unreachable"
	}
	return status
}

// Version returns build information.
func (s *HealthService) Version() VersionInfo {
	return s.version
}
