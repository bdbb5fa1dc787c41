package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/services"
)

type readyzBody struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status    string `json:"status"`
		LatencyMS int64  `json:"latencyMs"`
	} `json:"checks"`
	Details []string `json:"details"`
}

func TestHealthzWithoutSystemServiceUsesBuildInfo(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(30 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, domain.HealthStatusOK, body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "abc123", body["commitSha"])
	assert.Equal(t, "30s", body["uptime"])
}

func TestHealthzUsesLiveness(t *testing.T) {
	svc := &stubSystemService{liveness: domain.SystemHealthReport{Status: domain.HealthStatusOK, Environment: "staging"}}

	rr := httptest.NewRecorder()
	NewHealthHandlers(WithHealthSystemService(svc)).Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "staging", decodeBody(t, rr)["environment"])
}

func TestReadyz(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	tests := []struct {
		name        string
		svc         *stubSystemService
		wantCode    int
		wantStatus  string
		wantDetails []string
		wantLatency map[string]int64
	}{
		{
			name: "all ok",
			svc: &stubSystemService{readiness: domain.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
				},
			}},
			wantCode:    http.StatusOK,
			wantStatus:  domain.HealthStatusOK,
			wantLatency: map[string]int64{"postgres": 10},
		},
		{
			name: "degraded stays ready",
			svc: &stubSystemService{readiness: domain.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"events": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
				},
			}},
			wantCode:    http.StatusOK,
			wantStatus:  domain.HealthStatusDegraded,
			wantDetails: []string{"events: publish failed"},
		},
		{
			name: "critical check fails",
			svc: &stubSystemService{readiness: domain.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusError, Error: "connection refused"},
				},
			}},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusError,
			wantDetails: []string{"postgres: connection refused"},
		},
		{
			name:        "probe error",
			svc:         &stubSystemService{err: errors.New("health repository unavailable")},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  domain.HealthStatusError,
			wantDetails: []string{"health repository unavailable"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(WithHealthSystemService(tc.svc), WithHealthClock(func() time.Time { return now }))

			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, tc.wantCode, rr.Code)
			var body readyzBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.wantStatus, body.Status)
			assert.Equal(t, tc.wantDetails, body.Details)
			for name, latency := range tc.wantLatency {
				assert.Equal(t, latency, body.Checks[name].LatencyMS, name)
			}
		})
	}
}
