package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/licensegate/api/responses"
	"github.com/angelmondragon/licensegate/pkg/config"
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/angelmondragon/licensegate/pkg/types"
)

const (
	envHeader          = "X-Licensegate-Env"
	readinessTimeout   = 2 * time.Second
	dependencyOK       = "ok"
	dependencyDegraded = "unavailable"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteJSON(w, http.StatusOK, types.HealthBody{Status: "live", Env: cfg.App.Env})
	}
}

// HealthReady pings every dependency. Nil pingers are skipped so optional
// dependencies such as redis do not fail readiness when unconfigured.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)

		status := http.StatusOK
		body := types.HealthBody{Status: "ready", Env: cfg.App.Env, Checks: map[string]string{}}
		for _, name := range names {
			p := deps[name]
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body.Status = "degraded"
				body.Checks[name] = dependencyDegraded
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{"dependency": name, "error": err.Error()}), "health.dependency_failed")
				}
				continue
			}
			body.Checks[name] = dependencyOK
		}

		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteJSON(w, status, body)
	}
}
