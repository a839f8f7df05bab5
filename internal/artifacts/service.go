// Package artifacts releases protected module payloads to holders of a live
// credential.
package artifacts

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
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/google/uuid"
)

const operation = "fetch"

type Reason string

const (
	ReasonMissingFields    Reason = "MISSING_FIELDS"
	ReasonInvalidToken     Reason = "INVALID_TOKEN"
	ReasonTokenExpired     Reason = "TOKEN_EXPIRED"
	ReasonLicenseInvalid   Reason = "LICENSE_INVALID"
	ReasonDeviceBlocked    Reason = "DEVICE_BLOCKED"
	ReasonArtifactNotFound Reason = "ARTIFACT_NOT_FOUND"
)

type Request struct {
	Token     string
	Module    string
	ClientIP  string
	UserAgent string
}

type Result struct {
	Reason  Reason
	Module  string
	Version string
	Content []byte
}

func (r Result) Granted() bool { return r.Reason == "" }

type gateway interface {
	FindLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindDevice(ctx context.Context, licenseID uuid.UUID, hwid string) (*models.Device, error)
	FindActiveArtifact(ctx context.Context, moduleName string) (*models.Artifact, error)
}

type decoder interface {
	Decode(raw string) (credential.Credential, error)
}

type usageRecorder interface {
	Record(ctx context.Context, ev usage.Event)
}

type outcomeMetrics interface {
	Observe(operation, outcome string, elapsed time.Duration)
}

type Service interface {
	Fetch(ctx context.Context, req Request) (Result, error)
}

type ServiceParams struct {
	Store   gateway
	Decoder decoder
	Usage   usageRecorder
	Metrics outcomeMetrics
	Logger  *logger.Logger
	Now     func() time.Time
	// CheckDeviceBlock refuses blocked devices the way renewal does. Off by
	// default: a blocked device keeps fetching until its credential lapses.
	CheckDeviceBlock bool
}

type service struct {
	store            gateway
	decoder          decoder
	usage            usageRecorder
	metrics          outcomeMetrics
	logg             *logger.Logger
	now              func() time.Time
	checkDeviceBlock bool
}

func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("artifact store required")
	}
	if params.Decoder == nil {
		return nil, fmt.Errorf("credential decoder required")
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
		store:            params.Store,
		decoder:          params.Decoder,
		usage:            params.Usage,
		metrics:          params.Metrics,
		logg:             params.Logger,
		now:              now,
		checkDeviceBlock: params.CheckDeviceBlock,
	}, nil
}

// Fetch returns the active version of req.Module. License expiry is not
// consulted here; the credential window bounds access instead.
func (s *service) Fetch(ctx context.Context, req Request) (result Result, err error) {
	started := time.Now()
	defer func() {
		if s.metrics != nil && err == nil {
			s.metrics.Observe(operation, string(result.Reason), time.Since(started))
		}
	}()

	raw := strings.TrimSpace(req.Token)
	module := strings.TrimSpace(req.Module)
	if raw == "" || module == "" {
		return Result{Reason: ReasonMissingFields}, nil
	}

	cred, err := s.decoder.Decode(raw)
	if err != nil {
		return Result{Reason: ReasonInvalidToken}, nil
	}
	now := s.now()
	if cred.IsExpired(now) {
		return Result{Reason: ReasonTokenExpired}, nil
	}

	ctx = s.logg.WithLicenseID(ctx, cred.LicenseID.String())
	ctx = s.logg.WithHWID(ctx, cred.HWID)
	ctx = s.logg.WithField(ctx, "module", module)

	license, err := s.store.FindLicenseByID(ctx, cred.LicenseID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.rejected(ctx, ReasonLicenseInvalid), nil
	case err != nil:
		return Result{}, store.Failure(err, "lookup license")
	case !license.IsActive:
		return s.rejected(ctx, ReasonLicenseInvalid), nil
	}

	if s.checkDeviceBlock {
		device, err := s.store.FindDevice(ctx, cred.LicenseID, cred.HWID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return Result{}, store.Failure(err, "lookup device")
		case device.IsBlocked:
			return s.rejected(ctx, ReasonDeviceBlocked), nil
		}
	}

	artifact, err := s.store.FindActiveArtifact(ctx, module)
	if errors.Is(err, store.ErrNotFound) {
		return s.rejected(ctx, ReasonArtifactNotFound), nil
	}
	if err != nil {
		return Result{}, store.Failure(err, "lookup artifact")
	}

	licenseID := cred.LicenseID
	s.usage.Record(ctx, usage.Event{
		LicenseID: &licenseID,
		HWID:      cred.HWID,
		Action:    enums.UsageActionLoadModule,
		Details:   map[string]any{"module": artifact.ModuleName, "version": artifact.Version},
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
		At:        now,
	})

	return Result{
		Module:  artifact.ModuleName,
		Version: artifact.Version,
		Content: artifact.CodeContent,
	}, nil
}

func (s *service) rejected(ctx context.Context, reason Reason) Result {
	s.logg.Info(s.logg.WithField(ctx, "reason", string(reason)), "artifacts.rejected")
	return Result{Reason: reason}
}
