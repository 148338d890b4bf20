package models

import "time"

// Setting is a key/value row for configuration changed at runtime. Security
// toggles use keys of the form "security.<flag>.enabled".
type Setting struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"uniqueIndex"`
	Value     string    `json:"value" gorm:"type:text"`
	Type      string    `json:"type"`     // bool, int, string, json
	Category  string    `json:"category"` // security, system
	UpdatedAt time.Time `json:"updated_at"`
}
