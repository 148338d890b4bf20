package models

import "time"

// BlockedOrigin persists the reputation block set so blocks survive a
// restart. Rows are removed on unblock.
type BlockedOrigin struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Origin       string    `json:"origin" gorm:"uniqueIndex"`
	Reason       string    `json:"reason"`
	Severity     string    `json:"severity"`
	AttemptCount int       `json:"attempt_count"`
	Labels       string    `json:"labels" gorm:"type:text"` // comma separated, most recent last
	BlockedBy    string    `json:"blocked_by"`              // "system" or the admin's email
	BlockedAt    time.Time `json:"blocked_at"`
}
