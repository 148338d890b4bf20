package models

import (
	"time"
)

// SecurityRuleSet stores an operator-supplied signature pack. Content is the
// YAML pack document; packs are applied to the live catalog at start-up and
// on upload.
type SecurityRuleSet struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UUID        string    `json:"uuid" gorm:"uniqueIndex"`
	Name        string    `json:"name" gorm:"uniqueIndex"`
	Signatures  int       `json:"signatures"`
	HashCount   int       `json:"hash_count"`
	UpdatedBy   string    `json:"updated_by"`
	LastUpdated time.Time `json:"last_updated"`
	Content     string    `json:"content" gorm:"type:text"`
}
