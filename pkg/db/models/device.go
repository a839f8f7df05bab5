package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device is a hardware id bound to a license by a successful activation.
type Device struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	LicenseID   uuid.UUID      `gorm:"column:license_id;type:uuid;not null;uniqueIndex:authorized_devices_license_hwid_key,priority:1"`
	HWID        string         `gorm:"column:hwid;not null;uniqueIndex:authorized_devices_license_hwid_key,priority:2"`
	IsBlocked   bool           `gorm:"column:is_blocked;not null"`
	DeviceInfo  map[string]any `gorm:"column:device_info;type:jsonb;serializer:json"`
	FirstSeenAt time.Time      `gorm:"column:first_seen_at;not null"`
	LastSeenAt  time.Time      `gorm:"column:last_seen_at;not null"`
}

func (Device) TableName() string { return "authorized_devices" }

func (d *Device) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
