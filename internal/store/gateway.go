// Package store is the only package that touches the licensing tables.
package store

import (
	"context"
	"time"

	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = gorm.ErrRecordNotFound

// ClaimOutcome is the result of an atomic device claim.
type ClaimOutcome int

const (
	// ClaimKnownDevice: the hwid was already bound and is not blocked. No slot is consumed.
	ClaimKnownDevice ClaimOutcome = iota + 1
	// ClaimNewDevice: a free slot was reserved for the hwid.
	ClaimNewDevice
	// ClaimBlocked: the hwid is bound and blocked.
	ClaimBlocked
	// ClaimLimitReached: the hwid is new and every slot is taken.
	ClaimLimitReached
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimKnownDevice:
		return "known_device"
	case ClaimNewDevice:
		return "new_device"
	case ClaimBlocked:
		return "blocked"
	case ClaimLimitReached:
		return "limit_reached"
	}
	return "unknown"
}

type ClaimRequest struct {
	LicenseID  uuid.UUID
	HWID       string
	DeviceInfo map[string]any
	At         time.Time
}

type ClaimResult struct {
	Outcome ClaimOutcome
	Device  *models.Device
	// ActiveDevices counts non-blocked devices; for a new device it includes
	// the one just inserted.
	ActiveDevices int64
	MaxDevices    int
}

// Gateway is the persistence surface used by the authorization services.
type Gateway interface {
	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	FindLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindDevice(ctx context.Context, licenseID uuid.UUID, hwid string) (*models.Device, error)
	// ClaimDevice checks the device and, when it is new, counts and reserves a
	// slot as one atomic step with respect to other claims on the license.
	// A granted claim also stamps licenses.last_used_at.
	ClaimDevice(ctx context.Context, req ClaimRequest) (ClaimResult, error)
	FindActiveArtifact(ctx context.Context, moduleName string) (*models.Artifact, error)
	InsertUsageEvent(ctx context.Context, event *models.UsageEvent) error
}

// Admin is the out-of-band management surface used by licensectl.
type Admin interface {
	CreateLicense(ctx context.Context, license *models.License) error
	SetLicenseActive(ctx context.Context, id uuid.UUID, active bool) error
	SetLicenseExpiry(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error
	SetMaxDevices(ctx context.Context, id uuid.UUID, maxDevices int) error
	SetDeviceBlocked(ctx context.Context, licenseID uuid.UUID, hwid string, blocked bool) error
	ListDevices(ctx context.Context, licenseID uuid.UUID) ([]models.Device, error)
	ListUsageEvents(ctx context.Context, licenseID uuid.UUID, limit int) ([]models.UsageEvent, error)
	PublishArtifact(ctx context.Context, moduleName, version string, content []byte) (*models.Artifact, error)
}
