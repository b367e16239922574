package models

import "time"

// SystemSetting persists installation-wide values that should survive restarts.
// The administrative singleton lives here under AdminStateSettingKey.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminStateSettingKey is the system setting holding the encoded AdminState.
const AdminStateSettingKey = "sponsor.admin_state"
