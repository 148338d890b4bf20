package models

import "time"

// ScanRecord is the persisted result of one upload scan.
type ScanRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ScanID     string    `json:"scan_id" gorm:"uniqueIndex"`
	Origin     string    `json:"origin" gorm:"index"`
	Filename   string    `json:"filename"`
	MIMEType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Clean      bool      `json:"clean"`
	Severity   string    `json:"severity"`
	Action     string    `json:"action"`                    // clean, quarantined, deleted, failed
	Findings   string    `json:"findings" gorm:"type:text"` // JSON array of signature summaries
	SHA256     string    `json:"sha256"`
	BLAKE2b    string    `json:"blake2b"`
	MD5        string    `json:"md5"`
	HashMatch  string    `json:"hash_match,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ScannedAt  time.Time `json:"scanned_at" gorm:"index"`
}

// QuarantineRecord indexes a file moved into the quarantine store. The
// forensic JSON report on disk remains the primary evidence.
type QuarantineRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ScanID         string    `json:"scan_id" gorm:"uniqueIndex"`
	Origin         string    `json:"origin" gorm:"index"`
	Filename       string    `json:"filename"`
	MIMEType       string    `json:"mime_type"`
	Size           int64     `json:"size"`
	Severity       string    `json:"severity"`
	OriginalPath   string    `json:"original_path"`
	QuarantinePath string    `json:"quarantine_path"`
	ReportPath     string    `json:"report_path"`
	Findings       string    `json:"findings" gorm:"type:text"`
	QuarantinedAt  time.Time `json:"quarantined_at" gorm:"index"`
}
