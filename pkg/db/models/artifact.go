package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Artifact is one version of a protected module payload. Only one version
// per module name is active at a time.
type Artifact struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ModuleName  string    `gorm:"column:module_name;not null;uniqueIndex:protected_code_active_module_key,where:is_active = true"`
	Version     string    `gorm:"column:version;not null"`
	CodeContent []byte    `gorm:"column:code_content;not null"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Artifact) TableName() string { return "protected_code" }

func (a *Artifact) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
