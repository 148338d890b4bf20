package models

import (
	"time"
)

// SecurityAudit records administrative changes to the security posture.
type SecurityAudit struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"` // block_origin, unblock_origin, update_flags, lockdown ...
	Target    string    `json:"target"`
	Details   string    `json:"details" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}
