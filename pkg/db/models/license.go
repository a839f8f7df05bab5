package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// License is a purchasable entitlement identified by a unique key and capped
// by a device ceiling.
type License struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	LicenseKey  string     `gorm:"column:license_key;not null;uniqueIndex:licenses_license_key_key"`
	UserName    string     `gorm:"column:user_name;not null;default:''"`
	IsActive    bool       `gorm:"column:is_active;not null"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	MaxDevices  int        `gorm:"column:max_devices;not null"`
	DevicesUsed int        `gorm:"column:devices_used;not null;default:0"`
	LastUsedAt  *time.Time `gorm:"column:last_used_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (License) TableName() string { return "licenses" }

func (l *License) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// ExpiredAt reports whether the license has a set expiry strictly before now.
func (l License) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}
