package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting is a persisted key/value pair: schedule switches ("feature.*" -> bool) and the
// submission window state ("window.state" -> object).
type SystemSetting struct {
	Key         string         `gorm:"primaryKey;type:varchar(120)"`
	Value       datatypes.JSON `gorm:"not null"`
	Description string         `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime;index"`
}

func (SystemSetting) TableName() string { return "system_settings" }
