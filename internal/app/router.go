package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/brightpath-edu/brightpath-auth/internal/audit/http"
	"github.com/brightpath-edu/brightpath-auth/internal/auth"
	"github.com/brightpath-edu/brightpath-auth/internal/observability"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *auth.Handler
	AuthMiddleware auth.Middleware
	AuditHandler   *audithttp.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	params.AuthHandler.MountRoutes(r)

	if params.AuditHandler != nil {
		r.Group(func(gr chi.Router) {
			gr.Use(params.AuthMiddleware.RequireAuth)
			gr.Use(params.AuthMiddleware.RequireRole(auth.RoleAdmin))
			params.AuditHandler.MountRoutes(gr)
		})
	}

	return r
}
