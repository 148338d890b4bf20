package models

import (
	"time"
)

// SecurityDecision stores a verdict taken by a pipeline stage, the upload
// scanner or an administrator so it can be audited after the in-memory event
// log has rotated.
type SecurityDecision struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	Source    string    `json:"source" gorm:"index"` // reputation, rate-limit, pattern, csrf, file-scan, admin ...
	Action    string    `json:"action"`              // deny, flag, block-origin, quarantined ...
	Outcome   string    `json:"outcome" gorm:"index"`
	Severity  string    `json:"severity"`
	IP        string    `json:"ip" gorm:"index"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	RequestID string    `json:"request_id"`
	Details   string    `json:"details" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
