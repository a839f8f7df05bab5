package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/licensegate/pkg/enums"
)

// UsageEvent is an append-only audit record. LicenseID is nil when the
// presented key matched no license.
type UsageEvent struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	LicenseID *uuid.UUID        `gorm:"column:license_id;type:uuid;index"`
	HWID      string            `gorm:"column:hwid"`
	Action    enums.UsageAction `gorm:"column:action;not null"`
	Details   map[string]any    `gorm:"column:details;type:jsonb;serializer:json"`
	IPAddress string            `gorm:"column:ip_address"`
	UserAgent string            `gorm:"column:user_agent"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
}

func (UsageEvent) TableName() string { return "usage_logs" }

func (e *UsageEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
