package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/licensegate/api/controllers"
	"github.com/angelmondragon/licensegate/api/middleware"
	"github.com/angelmondragon/licensegate/internal/activation"
	"github.com/angelmondragon/licensegate/internal/artifacts"
	"github.com/angelmondragon/licensegate/internal/heartbeat"
	"github.com/angelmondragon/licensegate/pkg/config"
	"github.com/angelmondragon/licensegate/pkg/db"
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/angelmondragon/licensegate/pkg/redis"
)

// Dependencies are the values NewRouter wires into handlers. Redis and
// Metrics are optional.
type Dependencies struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         db.Pinger
	Redis      *redis.Client
	Metrics    prometheus.Gatherer
	Activation activation.Service
	Heartbeat  heartbeat.Service
	Artifacts  artifacts.Service
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)
	r.NotFound(controllers.NotFound())
	r.MethodNotAllowed(controllers.MethodNotAllowed())

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	activationLimit := func(next http.Handler) http.Handler { return next }
	if deps.Redis != nil {
		activationLimit = middleware.ActivationRateLimit(middleware.RateLimitPolicy{
			Name:      "activation",
			Window:    cfg.RateLimit.ActivationWindow,
			IPLimit:   cfg.RateLimit.ActivationIPLimit,
			KeyLimit:  cfg.RateLimit.ActivationKeyLimit,
			KeySecret: []byte(cfg.Credential.Secret),
		}, deps.Redis, logg)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(activationLimit).Post("/validate", controllers.Validate(deps.Activation, logg))
		r.Post("/heartbeat", controllers.Heartbeat(deps.Heartbeat, logg))
		r.Post("/get-code", controllers.GetCode(deps.Artifacts, logg))

		for _, path := range []string{"/validate", "/heartbeat", "/get-code"} {
			r.Options(path, controllers.Preflight())
		}
	})

	if cfg.Metrics.Enabled && deps.Metrics != nil {
		r.Method(http.MethodGet, cfg.Metrics.Path, promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	return r
}
