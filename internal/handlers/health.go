package handlers

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/requestctx"
	"github.com/shopsite/fulfillment/internal/services"
)

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service that probes dependencies for readiness.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata reported when no system service is wired.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the clock.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the health endpoints.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type healthResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime"`
	GeneratedAt string                        `json:"generatedAt"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details,omitempty"`
}

// Healthz reports process liveness without probing dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	var report domain.SystemHealthReport
	if h.system != nil {
		report = h.system.Liveness(r.Context())
	} else {
		now := h.clock().UTC()
		report = domain.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     h.build.Version,
			CommitSHA:   h.build.CommitSHA,
			Environment: h.build.Environment,
			Uptime:      now.Sub(h.build.StartedAt),
			GeneratedAt: now,
		}
	}
	writeJSONResponse(w, http.StatusOK, h.buildResponse(report))
}

// Readyz probes dependencies. Degraded dependencies still report ready; an error
// status or a failed probe answers 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	ctx := r.Context()
	report, err := h.system.Readiness(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("readiness probe failed", zap.Error(err))
		now := h.clock().UTC()
		response := h.buildResponse(domain.SystemHealthReport{Status: domain.HealthStatusError, GeneratedAt: now})
		response.Details = []string{err.Error()}
		writeJSONResponse(w, http.StatusServiceUnavailable, response)
		return
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, h.buildResponse(report))
}

func (h *HealthHandlers) buildResponse(report domain.SystemHealthReport) healthResponse {
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = h.clock()
	}
	response := healthResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		GeneratedAt: generated.UTC().Format(time.RFC3339),
	}
	if len(report.Checks) == 0 {
		return response
	}

	response.Checks = make(map[string]healthCheckPayload, len(report.Checks))
	for _, name := range slices.Sorted(maps.Keys(report.Checks)) {
		check := report.Checks[name]
		payload := healthCheckPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
		if !check.CheckedAt.IsZero() {
			payload.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
		}
		response.Checks[name] = payload
		if check.Status != domain.HealthStatusOK && check.Error != "" {
			response.Details = append(response.Details, fmt.Sprintf("%s: %s", name, check.Error))
		}
	}
	return response
}
