package store

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/licensegate/pkg/db"
	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/angelmondragon/licensegate/pkg/licensekey"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultTimeout = 5 * time.Second

// Repository implements Gateway and Admin on top of gorm.
type Repository struct {
	client  *db.Client
	timeout time.Duration
}

var (
	_ Gateway = (*Repository)(nil)
	_ Admin   = (*Repository)(nil)
)

// NewRepository binds the repository to client. Every call is bounded by
// timeout; non-positive values use DefaultTimeout.
func NewRepository(client *db.Client, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Repository{client: client, timeout: timeout}
}

func (r *Repository) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.client.DB().WithContext(ctx), cancel
}

func (r *Repository) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	conn, cancel := r.conn(ctx)
	defer cancel()

	var license models.License
	if err := conn.Where("license_key = ?", licensekey.Normalize(key)).First(&license).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *Repository) FindLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	conn, cancel := r.conn(ctx)
	defer cancel()

	var license models.License
	if err := conn.Where("id = ?", id).First(&license).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *Repository) FindDevice(ctx context.Context, licenseID uuid.UUID, hwid string) (*models.Device, error) {
	conn, cancel := r.conn(ctx)
	defer cancel()

	var device models.Device
	if err := conn.Where("license_id = ? AND hwid = ?", licenseID, hwid).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// ClaimDevice runs in one transaction holding a row lock on the license, so
// concurrent claims on the same license serialise on Postgres. SQLite has a
// single writer and ignores the locking clause. A granted claim also stamps
// licenses.last_used_at inside the same transaction.
func (r *Repository) ClaimDevice(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var result ClaimResult
	err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		var license models.License
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", req.LicenseID).
			First(&license).Error; err != nil {
			return err
		}
		result.MaxDevices = license.MaxDevices

		var device models.Device
		err := tx.Where("license_id = ? AND hwid = ?", req.LicenseID, req.HWID).First(&device).Error
		switch {
		case err == nil:
			result.Device = &device
			if device.IsBlocked {
				result.Outcome = ClaimBlocked
				return nil
			}
			if err := tx.Model(&models.Device{}).
				Where("id = ?", device.ID).
				Update("last_seen_at", req.At).Error; err != nil {
				return err
			}
			device.LastSeenAt = req.At
			if err := touchLicense(tx, license.ID, req.At); err != nil {
				return err
			}
			result.Outcome = ClaimKnownDevice
			result.ActiveDevices, err = countActiveDevices(tx, req.LicenseID)
			return err
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		active, err := countActiveDevices(tx, req.LicenseID)
		if err != nil {
			return err
		}
		result.ActiveDevices = active
		if active >= int64(license.MaxDevices) {
			result.Outcome = ClaimLimitReached
			return nil
		}

		device = models.Device{
			LicenseID:   req.LicenseID,
			HWID:        req.HWID,
			DeviceInfo:  req.DeviceInfo,
			FirstSeenAt: req.At,
			LastSeenAt:  req.At,
		}
		if err := tx.Create(&device).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.License{}).
			Where("id = ?", license.ID).
			Updates(map[string]any{"devices_used": active + 1, "last_used_at": req.At}).Error; err != nil {
			return err
		}

		result.Outcome = ClaimNewDevice
		result.Device = &device
		result.ActiveDevices = active + 1
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return result, nil
}

func countActiveDevices(tx *gorm.DB, licenseID uuid.UUID) (int64, error) {
	var active int64
	err := tx.Model(&models.Device{}).
		Where("license_id = ? AND is_blocked = ?", licenseID, false).
		Count(&active).Error
	return active, err
}

func touchLicense(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return tx.Model(&models.License{}).Where("id = ?", id).Update("last_used_at", at).Error
}

func (r *Repository) FindActiveArtifact(ctx context.Context, moduleName string) (*models.Artifact, error) {
	conn, cancel := r.conn(ctx)
	defer cancel()

	var artifact models.Artifact
	if err := conn.
		Where("module_name = ? AND is_active = ?", moduleName, true).
		Order("created_at DESC").
		First(&artifact).Error; err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (r *Repository) InsertUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	conn, cancel := r.conn(ctx)
	defer cancel()

	return conn.Create(event).Error
}
