package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/licensegate/pkg/db"
	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/angelmondragon/licensegate/pkg/licensekey"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicateKey is returned when a license key is already taken.
	ErrDuplicateKey = errors.New("license key already exists")
	// ErrDeviceLimit is returned when unblocking a device would exceed max_devices.
	ErrDeviceLimit = errors.New("device limit reached")
)

func (r *Repository) CreateLicense(ctx context.Context, license *models.License) error {
	if license == nil {
		return fmt.Errorf("license is required")
	}
	license.LicenseKey = licensekey.Normalize(license.LicenseKey)
	if license.LicenseKey == "" {
		return fmt.Errorf("license key is required")
	}
	if license.MaxDevices < 0 {
		return fmt.Errorf("max devices must not be negative")
	}

	conn, cancel := r.conn(ctx)
	defer cancel()

	if err := conn.Create(license).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *Repository) SetLicenseActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.updateLicense(ctx, id, "is_active", active)
}

func (r *Repository) SetLicenseExpiry(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	return r.updateLicense(ctx, id, "expires_at", expiresAt)
}

func (r *Repository) SetMaxDevices(ctx context.Context, id uuid.UUID, maxDevices int) error {
	if maxDevices < 0 {
		return fmt.Errorf("max devices must not be negative")
	}
	return r.updateLicense(ctx, id, "max_devices", maxDevices)
}

func (r *Repository) updateLicense(ctx context.Context, id uuid.UUID, column string, value any) error {
	conn, cancel := r.conn(ctx)
	defer cancel()

	res := conn.Model(&models.License{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeviceBlocked flips the block flag and re-syncs devices_used with the
// number of non-blocked devices. It takes the same license row lock as
// ClaimDevice; unblocking is refused with ErrDeviceLimit when the license has
// no free slot.
func (r *Repository) SetDeviceBlocked(ctx context.Context, licenseID uuid.UUID, hwid string, blocked bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.client.WithTx(ctx, func(tx *gorm.DB) error {
		var license models.License
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", licenseID).
			First(&license).Error; err != nil {
			return err
		}

		var device models.Device
		if err := tx.Where("license_id = ? AND hwid = ?", licenseID, hwid).First(&device).Error; err != nil {
			return err
		}

		active, err := countActiveDevices(tx, licenseID)
		if err != nil {
			return err
		}
		if !blocked && device.IsBlocked && active >= int64(license.MaxDevices) {
			return ErrDeviceLimit
		}

		if err := tx.Model(&models.Device{}).
			Where("id = ?", device.ID).
			Update("is_blocked", blocked).Error; err != nil {
			return err
		}

		switch {
		case blocked && !device.IsBlocked:
			active--
		case !blocked && device.IsBlocked:
			active++
		}
		return tx.Model(&models.License{}).Where("id = ?", licenseID).Update("devices_used", active).Error
	})
}

func (r *Repository) ListDevices(ctx context.Context, licenseID uuid.UUID) ([]models.Device, error) {
	conn, cancel := r.conn(ctx)
	defer cancel()

	var rows []models.Device
	if err := conn.Where("license_id = ?", licenseID).Order("first_seen_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) ListUsageEvents(ctx context.Context, licenseID uuid.UUID, limit int) ([]models.UsageEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	conn, cancel := r.conn(ctx)
	defer cancel()

	var rows []models.UsageEvent
	if err := conn.Where("license_id = ?", licenseID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PublishArtifact stores a new active version of moduleName and retires the
// previously active one.
func (r *Repository) PublishArtifact(ctx context.Context, moduleName, version string, content []byte) (*models.Artifact, error) {
	moduleName = strings.TrimSpace(moduleName)
	version = strings.TrimSpace(version)
	if moduleName == "" || version == "" {
		return nil, fmt.Errorf("module name and version are required")
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("artifact content is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	artifact := &models.Artifact{
		ModuleName:  moduleName,
		Version:     version,
		CodeContent: content,
		IsActive:    true,
	}
	err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.Artifact{}).
			Where("module_name = ? AND is_active = ?", moduleName, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(artifact).Error
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}
