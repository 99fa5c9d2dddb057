package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"pricetrail.io/internal/audit"
	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/catalog"
	"pricetrail.io/internal/obs"
	"pricetrail.io/internal/permissions"
	"pricetrail.io/internal/stream"
)

const serviceName = "pricetrail-api"

// ReadyProbe checks readiness by pinging the database; nil means in-memory mode.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the domain components behind the HTTP surface.
type Services struct {
	Auth        *auth.Service
	Permissions *permissions.Resolver
	Admin       *permissions.Admin
	Catalog     *catalog.Service
	Trail       *audit.Trail
	Changes     stream.Subscriber
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        Services
	logger     *zap.Logger
	validate   *validator.Validate

	rateBurst      int
	ratePerSec     int
	allowedOrigins []string
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithAllowedOrigins lists CORS origins in addition to localhost.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.allowedOrigins = append(a.allowedOrigins, origins...) }
}

// WithLogger sets the access and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l.Named("http")
		}
	}
}

func New(rp ReadyProbe, version string, svc Services, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		logger:     zap.NewNop(),
		validate:   validator.New(),
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// auth provider
	a.mux.HandleFunc("/v1/auth/signup", a.handleSignUp)
	a.mux.HandleFunc("/v1/auth/signin", a.handleSignIn)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/signout", a.handleSignOut)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/events", a.handleAuthEvents)
	a.mux.HandleFunc("/v1/me/permissions", a.handleMyPermissions)

	// catalog
	a.mux.HandleFunc("/v1/products", a.handleProducts)
	a.mux.HandleFunc("/v1/products/", a.handleProductResource)
	a.mux.HandleFunc("/v1/dashboard", a.handleDashboard)

	// administration
	a.mux.HandleFunc("/v1/audit", a.handleAudit)
	a.mux.HandleFunc("/v1/audit/performers", a.handleAuditPerformers)
	a.mux.HandleFunc("/v1/audit/export", a.handleAuditExport)
	a.mux.HandleFunc("/v1/admin/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/admin/permissions/", a.handlePermissionResource)

	// realtime
	a.mux.HandleFunc("/v1/changes", a.handleChanges)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.allowedOrigins...)
	h = SecurityHeaders(h)
	h = AccessLog(h, a.logger)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
