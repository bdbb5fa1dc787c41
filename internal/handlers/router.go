package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shopsite/fulfillment/internal/platform/httpx"
)

// RouteRegistrar adds routes to a mounted group.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// API groups in mount order. Each is guarded by its own middleware chain.
const (
	groupOrders   = "/orders"
	groupMerchant = "/merchant"
	groupAdmin    = "/admin"
)

var mountOrder = []string{groupOrders, groupMerchant, groupAdmin}

type routeGroup struct {
	register RouteRegistrar
	guards   []middlewareFunc
}

type routerConfig struct {
	basePath string
	timeout  time.Duration
	global   []middlewareFunc
	health   *HealthHandlers
	groups   map[string]routeGroup
}

type Option func(*routerConfig)

// NewRouter builds the HTTP surface: request ids and the global middleware,
// /healthz and /readyz at the root, and the order groups under the API prefix.
// Groups without routes answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		timeout:  defaultTimeout,
		groups:   make(map[string]routeGroup, len(mountOrder)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	useAll(r, cfg.global)
	if cfg.timeout > 0 {
		r.Use(middleware.Timeout(cfg.timeout))
	}
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, path := range mountOrder {
			group := cfg.groups[path]
			api.Route(path, func(sub chi.Router) {
				useAll(sub, group.guards)
				if group.register == nil {
					notImplemented(sub, strings.TrimPrefix(path, "/"))
					return
				}
				group.register(sub)
			})
		}
	})
	return r
}

func useAll(r chi.Router, mws []middlewareFunc) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func routeNotFound(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("%s is not supported on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
}

func notImplemented(r chi.Router, name string) {
	apiErr := httpx.NewError("not_implemented", name+" routes are not available", http.StatusNotImplemented)
	handler := func(w http.ResponseWriter, req *http.Request) { httpx.WriteError(req.Context(), w, apiErr) }
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}

func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		if path = strings.TrimSpace(path); path != "" {
			cfg.basePath = path
		}
	}
}

// WithRequestTimeout bounds every request. Zero disables the timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) { cfg.timeout = d }
}

// WithMiddlewares runs mw on every request, health checks included.
func WithMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithOrderRoutes mounts customer order routes behind guards.
func WithOrderRoutes(reg RouteRegistrar, guards ...middlewareFunc) Option {
	return withGroup(groupOrders, reg, guards)
}

// WithMerchantRoutes mounts merchant-scoped routes behind guards.
func WithMerchantRoutes(reg RouteRegistrar, guards ...middlewareFunc) Option {
	return withGroup(groupMerchant, reg, guards)
}

// WithAdminRoutes mounts back-office routes behind guards.
func WithAdminRoutes(reg RouteRegistrar, guards ...middlewareFunc) Option {
	return withGroup(groupAdmin, reg, guards)
}

func withGroup(path string, reg RouteRegistrar, guards []middlewareFunc) Option {
	return func(cfg *routerConfig) {
		cfg.groups[path] = routeGroup{register: reg, guards: guards}
	}
}

// CombineRegistrars mounts several registrars on one group; nil entries are skipped.
func CombineRegistrars(registrars ...RouteRegistrar) RouteRegistrar {
	return func(r chi.Router) {
		for _, register := range registrars {
			if register != nil {
				register(r)
			}
		}
	}
}
