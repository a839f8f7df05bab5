package activation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/licensegate/internal/store"
	"github.com/angelmondragon/licensegate/internal/usage"
	"github.com/angelmondragon/licensegate/pkg/credential"
	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/angelmondragon/licensegate/pkg/enums"
	"github.com/angelmondragon/licensegate/pkg/licensekey"
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/google/uuid"
)

const operation = "activate"

type gateway interface {
	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	ClaimDevice(ctx context.Context, req store.ClaimRequest) (store.ClaimResult, error)
}

type credentialIssuer interface {
	Issue(licenseID uuid.UUID, hwid string, now time.Time) (string, credential.Credential, error)
}

type usageRecorder interface {
	Record(ctx context.Context, ev usage.Event)
}

type outcomeMetrics interface {
	Observe(operation, outcome string, elapsed time.Duration)
}

// Service binds devices to licenses.
type Service interface {
	Activate(ctx context.Context, req Request) (Result, error)
}

type ServiceParams struct {
	Store   gateway
	Issuer  credentialIssuer
	Usage   usageRecorder
	Metrics outcomeMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	store   gateway
	issuer  credentialIssuer
	usage   usageRecorder
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
	if params.Usage == nil {
		return nil, fmt.Errorf("usage recorder required")
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
		usage:   params.Usage,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Activate runs the checks in a fixed order; the first failing check decides
// the outcome.
func (s *service) Activate(ctx context.Context, req Request) (result Result, err error) {
	started := time.Now()
	defer func() {
		if s.metrics != nil && err == nil {
			s.metrics.Observe(operation, string(result.Reason), time.Since(started))
		}
	}()

	hwid := strings.TrimSpace(req.HWID)
	key := licensekey.Normalize(req.LicenseKey)
	if key == "" || hwid == "" {
		return reject(ReasonMissingFields, nil), nil
	}

	now := s.now()
	ctx = s.logg.WithHWID(ctx, hwid)

	license, err := s.store.FindLicenseByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		s.record(ctx, req, nil, hwid, enums.UsageActionInvalidKey, map[string]any{"key": strings.TrimSpace(req.LicenseKey)}, now)
		return s.rejected(ctx, reject(ReasonInvalidKey, nil)), nil
	}
	if err != nil {
		return Result{}, store.Failure(err, "lookup license")
	}

	ctx = s.logg.WithLicenseID(ctx, license.ID.String())
	licenseID := license.ID

	if !license.IsActive {
		s.record(ctx, req, &licenseID, hwid, enums.UsageActionDeactivated, nil, now)
		return s.rejected(ctx, reject(ReasonDeactivated, nil)), nil
	}
	if license.ExpiredAt(now) {
		s.record(ctx, req, &licenseID, hwid, enums.UsageActionExpired, nil, now)
		return s.rejected(ctx, reject(ReasonExpired, nil)), nil
	}

	claim, err := s.store.ClaimDevice(ctx, store.ClaimRequest{
		LicenseID:  license.ID,
		HWID:       hwid,
		DeviceInfo: req.DeviceInfo,
		At:         now,
	})
	if err != nil {
		return Result{}, store.Failure(err, "claim device")
	}

	switch claim.Outcome {
	case store.ClaimBlocked:
		s.record(ctx, req, &licenseID, hwid, enums.UsageActionBlockedDevice, nil, now)
		return s.rejected(ctx, reject(ReasonBlockedDevice, nil)), nil
	case store.ClaimLimitReached:
		details := map[string]any{"limit": claim.MaxDevices, "count": claim.ActiveDevices}
		s.record(ctx, req, &licenseID, hwid, enums.UsageActionDeviceLimit, details, now)
		return s.rejected(ctx, reject(ReasonDeviceLimit, details)), nil
	case store.ClaimKnownDevice, store.ClaimNewDevice:
	default:
		return Result{}, store.Failure(fmt.Errorf("unexpected claim outcome %d", claim.Outcome), "claim device")
	}

	token, cred, err := s.issuer.Issue(license.ID, hwid, now)
	if err != nil {
		return Result{}, fmt.Errorf("issue credential: %w", err)
	}

	action, actionErr := enums.ParseUsageAction(req.Action)
	if actionErr != nil {
		action = enums.UsageActionValidate
	}
	s.record(ctx, req, &licenseID, hwid, action, nil, now)

	s.logg.Info(s.logg.WithField(ctx, "new_device", claim.Outcome == store.ClaimNewDevice), "activation.granted")

	return Result{
		LicenseID:           license.ID,
		UserName:            license.UserName,
		LicenseExpiresAt:    license.ExpiresAt,
		Credential:          token,
		CredentialExpiresAt: cred.ExpiresAt,
		NewDevice:           claim.Outcome == store.ClaimNewDevice,
	}, nil
}

func (s *service) record(ctx context.Context, req Request, licenseID *uuid.UUID, hwid string, action enums.UsageAction, details map[string]any, at time.Time) {
	s.usage.Record(ctx, usage.Event{
		LicenseID: licenseID,
		HWID:      hwid,
		Action:    action,
		Details:   details,
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
		At:        at,
	})
}

func (s *service) rejected(ctx context.Context, res Result) Result {
	s.logg.Info(s.logg.WithField(ctx, "reason", string(res.Reason)), "activation.rejected")
	return res
}

func reject(reason Reason, details map[string]any) Result {
	return Result{Reason: reason, Details: details}
}
