// Package heartbeat renews credentials for devices that are still entitled.
// Renewal never allocates device slots and never writes to the store.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/licensegate/internal/store"
	"github.com/angelmondragon/licensegate/pkg/credential"
	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/google/uuid"
)

const operation = "renew"

type Reason string

const (
	ReasonMissingToken       Reason = "MISSING_TOKEN"
	ReasonInvalidToken       Reason = "INVALID_TOKEN"
	ReasonTokenExpired       Reason = "TOKEN_EXPIRED"
	ReasonLicenseNotFound    Reason = "LICENSE_NOT_FOUND"
	ReasonLicenseDeactivated Reason = "LICENSE_DEACTIVATED"
	ReasonLicenseExpired     Reason = "LICENSE_EXPIRED"
	ReasonDeviceBlocked      Reason = "DEVICE_BLOCKED"
)

// Result carries either a refusal reason or the renewed credential.
type Result struct {
	Reason     Reason
	Credential string
	ExpiresAt  time.Time
}

func (r Result) Valid() bool { return r.Reason == "" }

type gateway interface {
	FindLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindDevice(ctx context.Context, licenseID uuid.UUID, hwid string) (*models.Device, error)
}

type codec interface {
	Decode(raw string) (credential.Credential, error)
	Issue(licenseID uuid.UUID, hwid string, now time.Time) (string, credential.Credential, error)
}

type outcomeMetrics interface {
	Observe(operation, outcome string, elapsed time.Duration)
}

type Service interface {
	Renew(ctx context.Context, raw string) (Result, error)
}

type ServiceParams struct {
	Store   gateway
	Issuer  codec
	Metrics outcomeMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	store   gateway
	issuer  codec
	metrics outcomeMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("license store required")
	}
	if params.Issuer == nil {
		return nil, fmt.Errorf("credential issuer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		store:   params.Store,
		issuer:  params.Issuer,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

func (s *service) Renew(ctx context.Context, raw string) (result Result, err error) {
	started := time.Now()
	defer func() {
		if s.metrics != nil && err == nil {
			s.metrics.Observe(operation, string(result.Reason), time.Since(started))
		}
	}()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{Reason: ReasonMissingToken}, nil
	}

	cred, err := s.issuer.Decode(raw)
	if err != nil {
		s.logg.Debug(s.logg.WithField(ctx, "error", err.Error()), "heartbeat.decode_failed")
		return Result{Reason: ReasonInvalidToken}, nil
	}

	now := s.now()
	if cred.IsExpired(now) {
		return Result{Reason: ReasonTokenExpired}, nil
	}

	ctx = s.logg.WithLicenseID(ctx, cred.LicenseID.String())
	ctx = s.logg.WithHWID(ctx, cred.HWID)

	license, err := s.store.FindLicenseByID(ctx, cred.LicenseID)
	if errors.Is(err, store.ErrNotFound) {
		return s.rejected(ctx, ReasonLicenseNotFound), nil
	}
	if err != nil {
		return Result{}, store.Failure(err, "lookup license")
	}
	if !license.IsActive {
		return s.rejected(ctx, ReasonLicenseDeactivated), nil
	}
	if license.ExpiredAt(now) {
		return s.rejected(ctx, ReasonLicenseExpired), nil
	}

	// A device that was never recorded is treated as not blocked.
	device, err := s.store.FindDevice(ctx, cred.LicenseID, cred.HWID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Result{}, store.Failure(err, "lookup device")
	case device.IsBlocked:
		return s.rejected(ctx, ReasonDeviceBlocked), nil
	}

	token, fresh, err := s.issuer.Issue(cred.LicenseID, cred.HWID, now)
	if err != nil {
		return Result{}, fmt.Errorf("issue credential: %w", err)
	}
	return Result{Credential: token, ExpiresAt: fresh.ExpiresAt}, nil
}

func (s *service) rejected(ctx context.Context, reason Reason) Result {
	s.logg.Info(s.logg.WithField(ctx, "reason", string(reason)), "heartbeat.rejected")
	return Result{Reason: reason}
}
