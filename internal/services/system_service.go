package services

import (
	"cmp"
	"context"
	"errors"
	"time"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/repositories"
)

// BuildInfo is reported on every health response.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Clock  func() time.Time
	Build  BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health: deps.Health,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// Liveness never touches dependencies.
func (s *systemService) Liveness(context.Context) domain.SystemHealthReport {
	return s.stamp(domain.SystemHealthReport{Status: domain.HealthStatusOK})
}

// Readiness runs the dependency probes. A report without a status gets the worst
// status among its checks.
func (s *systemService) Readiness(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.health.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}
	if report.Status == "" {
		report.Status = domain.HealthStatusOK
		for _, check := range report.Checks {
			report.Status = domain.WorseHealth(report.Status, check.Status)
		}
	}
	return s.stamp(report), nil
}

// stamp fills build metadata, uptime and timestamps the probes left empty.
func (s *systemService) stamp(report domain.SystemHealthReport) domain.SystemHealthReport {
	now := s.now()
	report.GeneratedAt = cmp.Or(report.GeneratedAt.UTC(), now)
	report.Version = cmp.Or(report.Version, s.build.Version)
	report.CommitSHA = cmp.Or(report.CommitSHA, s.build.CommitSHA)
	report.Environment = cmp.Or(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	return report
}
