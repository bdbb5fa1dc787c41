package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	domain "github.com/shopsite/fulfillment/internal/domain"
)

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func respondWith(code int) RouteRegistrar {
	return func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) })
	}
}

func TestNewRouterMountsHealthAndGroups(t *testing.T) {
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			liveness: domain.SystemHealthReport{Status: domain.HealthStatusOK},
			readiness: domain.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{"postgres": {Status: domain.HealthStatusOK}},
			},
		}),
		WithHealthClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
	)
	router := NewRouter(
		WithHealthHandlers(health),
		WithOrderRoutes(respondWith(http.StatusAccepted)),
		WithBasePath("/v2"),
	)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
		code   string
	}{
		{name: "liveness", method: http.MethodGet, path: "/healthz", want: http.StatusOK},
		{name: "readiness", method: http.MethodGet, path: "/readyz", want: http.StatusOK},
		{name: "wired group", method: http.MethodGet, path: "/v2/orders/ping", want: http.StatusAccepted},
		{name: "unwired group", method: http.MethodGet, path: "/v2/merchant/orders", want: http.StatusNotImplemented, code: "not_implemented"},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/orders/ping", want: http.StatusNotFound, code: errorNotFoundCode},
		{name: "wrong method", method: http.MethodPost, path: "/healthz", want: http.StatusMethodNotAllowed, code: "method_not_allowed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(router, tc.method, tc.path)
			assert.Equal(t, tc.want, rr.Code)
			if tc.code != "" {
				assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
				assert.Equal(t, tc.code, decodeBody(t, rr)["error"])
			}
		})
	}
}

func TestNewRouterGroupGuardsRunInOrder(t *testing.T) {
	var trail []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trail = append(trail, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewRouter(
		WithMiddlewares(mark("global")),
		WithAdminRoutes(respondWith(http.StatusNoContent), mark("auth"), nil, mark("identity")),
	)

	rr := serve(router, http.MethodGet, "/api/v1/admin/ping")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"global", "auth", "identity"}, trail)
}

func TestCombineRegistrarsSkipsNil(t *testing.T) {
	b := func(r chi.Router) {
		r.Get("/b", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}
	router := NewRouter(WithMerchantRoutes(CombineRegistrars(respondWith(http.StatusAccepted), nil, b)))

	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodGet, "/api/v1/merchant/ping").Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/api/v1/merchant/b").Code)
}
