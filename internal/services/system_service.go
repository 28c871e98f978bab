package services

import (
	"context"
	"errors"
	"time"

	"github.com/tegaki-forms/api/internal/domain"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemHealthReport aggregates dependency probes for the readiness endpoint.
type SystemHealthReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
	Checks      map[string]domain.SystemHealthCheck
}

// HealthCheckFunc probes one dependency.
type HealthCheckFunc func(ctx context.Context) error

// SystemService provides health reports and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	Checks map[string]HealthCheckFunc
	Clock  func() time.Time
	Build  BuildInfo
}

type systemService struct {
	checks map[string]HealthCheckFunc
	clock  func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the system utility service.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		checks: deps.Checks,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	now := s.clock()
	report := SystemHealthReport{
		Version:     s.build.Version,
		CommitSHA:   s.build.CommitSHA,
		Environment: s.build.Environment,
		Uptime:      now.Sub(s.build.StartedAt),
		GeneratedAt: now,
		Checks:      make(map[string]domain.SystemHealthCheck, len(s.checks)),
	}

	for name, check := range s.checks {
		started := s.clock()
		err := check(ctx)
		entry := domain.SystemHealthCheck{
			Status:    domain.HealthStatusOK,
			Latency:   s.clock().Sub(started),
			CheckedAt: started,
		}
		if err != nil {
			entry.Status = domain.HealthStatusDegraded
			entry.Error = err.Error()
		}
		report.Checks[name] = entry
	}

	report.Status = deriveStatus(report.Checks)
	return report, nil
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
