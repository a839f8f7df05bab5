package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/licensegate/api/responses"
	"github.com/angelmondragon/licensegate/api/validators"
	pkgerrors "github.com/angelmondragon/licensegate/pkg/errors"
	"github.com/angelmondragon/licensegate/pkg/licensekey"
	"github.com/angelmondragon/licensegate/pkg/logger"
)

type fixedWindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy throttles a surface per client IP and per presented
// license key. Keys are fingerprinted before they reach redis.
type RateLimitPolicy struct {
	Name      string
	Window    time.Duration
	IPLimit   int
	KeyLimit  int
	KeySecret []byte
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && (p.IPLimit > 0 || p.KeyLimit > 0)
}

func (p RateLimitPolicy) name() string {
	if p.Name == "" {
		return "activation"
	}
	return p.Name
}

// ActivationRateLimit counts attempts in fixed windows. When the limiter is
// unreachable requests pass through and a warning is logged.
func ActivationRateLimit(policy RateLimitPolicy, limiter fixedWindowLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if ip := ClientIP(r); policy.IPLimit > 0 && ip != "" {
				if !check(ctx, w, limiter, logg, policy, "ip", ip, policy.IPLimit) {
					return
				}
			}

			if policy.KeyLimit > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, validators.MaxBodyBytes+1))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				if key := extractLicenseKey(body); key != "" {
					fp := licensekey.Fingerprint(key, policy.KeySecret)
					if !check(ctx, w, limiter, logg, policy, "key", fp, policy.KeyLimit) {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func check(ctx context.Context, w http.ResponseWriter, limiter fixedWindowLimiter, logg *logger.Logger, policy RateLimitPolicy, scope, subject string, limit int) bool {
	allowed, count, err := limiter.FixedWindowAllow(ctx, policy.name()+":"+scope+":"+subject, int64(limit), policy.Window)
	if err != nil {
		if logg != nil {
			logg.Warn(logg.WithFields(ctx, map[string]any{
				"scope":  scope,
				"policy": policy.name(),
				"error":  err.Error(),
			}), "rate_limit.unavailable")
		}
		return true
	}
	if allowed {
		return true
	}

	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"scope":          scope,
			"subject":        subject,
			"policy":         policy.name(),
			"attempts":       count,
			"limit":          limit,
			"window_seconds": int(policy.Window.Seconds()),
		}), "rate_limit.blocked")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "Too many attempts"))
	return false
}

func extractLicenseKey(payload []byte) string {
	var body struct {
		LicenseKey string `json:"licenseKey"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return licensekey.Normalize(body.LicenseKey)
}
